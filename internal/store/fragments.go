package store

import (
	"os"
	"sort"
	"strings"
	"time"

	"storyloom/internal/fault"
	"storyloom/internal/ids"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// readFragmentFile loads and normalizes one fragment file.
func (s *Store) readFragmentFile(op, path string) (*types.Fragment, error) {
	f := &types.Fragment{}
	if err := readJSON(path, f); err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fault.Internal(op, err)
	}
	f.Normalize()
	return f, nil
}

// resolveFragment walks the lineage leaf→root. A tombstone anywhere on the
// walk hides the id. Returns the fragment and the branch that owns the
// visible copy.
func (s *Store) resolveFragment(op, storyID, fragmentID string, lineage []types.Branch) (*types.Fragment, string, error) {
	for _, b := range lineage {
		if fileExists(s.tombstonePath(storyID, b.ID, fragmentID)) {
			return nil, "", fault.NotFound(op, fragmentID)
		}
		f, err := s.readFragmentFile(op, s.fragmentPath(storyID, b.ID, fragmentID))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", err
		}
		return f, b.ID, nil
	}
	return nil, "", fault.NotFound(op, fragmentID)
}

// GetFragment resolves a fragment on the active branch view.
func (s *Store) GetFragment(storyID, fragmentID string) (*types.Fragment, error) {
	const op = "store.GetFragment"

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	f, _, err := s.resolveFragment(op, storyID, fragmentID, lineage)
	return f, err
}

// ResolveFragment additionally reports which branch owns the visible copy.
func (s *Store) ResolveFragment(storyID, fragmentID string) (*types.Fragment, string, error) {
	const op = "store.ResolveFragment"

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, "", err
	}
	return s.resolveFragment(op, storyID, fragmentID, lineage)
}

// visibleIDs computes the merged id set of a lineage: every fragment file in
// any branch minus ids hidden by a nearer tombstone. The returned map gives
// the owning branch per id.
func (s *Store) visibleIDs(op, storyID string, lineage []types.Branch) (map[string]string, error) {
	visible := map[string]string{}
	hidden := map[string]bool{}

	for _, b := range lineage {
		entries, err := os.ReadDir(s.fragmentsDir(storyID, b.ID))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fault.Internal(op, err)
		}

		// Tombstones in this overlay shadow everything further up, but not
		// ids already resolved nearer the leaf.
		for _, e := range entries {
			name := e.Name()
			if !strings.HasSuffix(name, tombstoneExt) {
				continue
			}
			id := strings.TrimSuffix(name, tombstoneExt)
			if _, ok := visible[id]; !ok {
				hidden[id] = true
			}
		}
		for _, e := range entries {
			name := e.Name()
			if !strings.HasSuffix(name, fragmentExt) {
				continue
			}
			id := strings.TrimSuffix(name, fragmentExt)
			if hidden[id] {
				continue
			}
			if _, ok := visible[id]; ok {
				continue
			}
			visible[id] = b.ID
		}
	}
	return visible, nil
}

// ListOptions filters ListFragments.
type ListOptions struct {
	// Type restricts to one fragment type ("" = all).
	Type types.FragmentType
	// IncludeArchived includes archived fragments.
	IncludeArchived bool
}

// ListFragments returns the active branch's merged fragment view: its
// overlay plus everything inherited and not tombstoned. Sorted by order,
// then creation time, then id.
func (s *Store) ListFragments(storyID string, opts ListOptions) ([]*types.Fragment, error) {
	const op = "store.ListFragments"
	timer := logging.StartTimer(logging.CategoryStore, "ListFragments")
	defer timer.StopWithThreshold(250 * time.Millisecond)

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	visible, err := s.visibleIDs(op, storyID, lineage)
	if err != nil {
		return nil, err
	}

	prefix := ""
	if opts.Type != "" {
		prefix = types.PrefixFor(opts.Type)
		if prefix == "" {
			return nil, fault.InvalidArgument(op, "unknown fragment type: "+string(opts.Type))
		}
		prefix += "-"
	}

	out := make([]*types.Fragment, 0, len(visible))
	for id, branchID := range visible {
		if prefix != "" && !strings.HasPrefix(id, prefix) {
			continue
		}
		f, err := s.readFragmentFile(op, s.fragmentPath(storyID, branchID, id))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if opts.Type != "" && f.Type != opts.Type {
			continue
		}
		if !opts.IncludeArchived && f.Archived {
			continue
		}
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// validateFragment checks the invariants every write must hold.
func validateFragment(op string, f *types.Fragment) error {
	if f.Type == "" {
		return fault.InvalidArgument(op, "fragment type is empty")
	}
	if types.PrefixFor(f.Type) == "" {
		return fault.InvalidArgument(op, "unknown fragment type: "+string(f.Type))
	}
	if len(f.Description) > types.MaxDescriptionLen {
		return fault.InvalidArgument(op, "description exceeds 250 characters")
	}
	if f.Placement != "" && f.Placement != types.PlacementSystem && f.Placement != types.PlacementUser {
		return fault.InvalidArgument(op, "placement must be system or user")
	}
	return nil
}

// CreateFragment writes a new fragment to the active branch overlay. An id
// is generated from the type prefix when absent; a supplied id must have the
// matching prefix and must not exist anywhere on the lineage.
func (s *Store) CreateFragment(storyID string, f *types.Fragment) (*types.Fragment, error) {
	const op = "store.CreateFragment"
	timer := logging.StartTimer(logging.CategoryStore, "CreateFragment")
	defer timer.Stop()

	if err := validateFragment(op, f); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	active := lineage[0]

	prefix := types.PrefixFor(f.Type)
	if f.ID == "" {
		f.ID = ids.Pronounceable(prefix)
	} else {
		if !strings.HasPrefix(f.ID, prefix+"-") {
			return nil, fault.InvalidArgument(op, "id prefix does not match type "+string(f.Type))
		}
		if _, _, err := s.resolveFragment(op, storyID, f.ID, lineage); err == nil {
			return nil, fault.Conflict(op, f.ID, "fragment id already exists")
		}
		// A tombstoned id may be reused; the new overlay file shadows it.
		os.Remove(s.tombstonePath(storyID, active.ID, f.ID))
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	f.Version = 1
	f.Versions = []types.VersionSnapshot{}
	f.Archived = false
	f.Tags = normalizeTags(f.Tags)
	f.Normalize()

	if err := writeJSONAtomic(s.fragmentPath(storyID, active.ID, f.ID), f); err != nil {
		return nil, fault.Internal(op, err)
	}
	if err := s.indexFragment(op, storyID, active.ID, nil, f); err != nil {
		return nil, err
	}

	logging.Store("Created fragment %s (%s) in story %s", f.ID, f.Type, storyID)
	return f, nil
}

// UpdateFragment persists the given fragment state onto the active branch
// overlay (copy-up). Version semantics belong to UpdateVersioned; this is
// the raw write used by tag/ref/meta/flag mutations.
func (s *Store) UpdateFragment(storyID string, f *types.Fragment) (*types.Fragment, error) {
	const op = "store.UpdateFragment"

	if err := validateFragment(op, f); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(storyID)
	defer unlock()

	return s.updateFragmentLocked(op, storyID, f)
}

// updateFragmentLocked is UpdateFragment without lock acquisition, for
// callers already inside the story's critical section.
func (s *Store) updateFragmentLocked(op, storyID string, f *types.Fragment) (*types.Fragment, error) {
	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	active := lineage[0]

	prev, _, err := s.resolveFragment(op, storyID, f.ID, lineage)
	if err != nil {
		return nil, err
	}

	f.UpdatedAt = time.Now().UTC()
	f.Tags = normalizeTags(f.Tags)
	f.Normalize()

	if err := writeJSONAtomic(s.fragmentPath(storyID, active.ID, f.ID), f); err != nil {
		return nil, fault.Internal(op, err)
	}
	if err := s.indexFragment(op, storyID, active.ID, prev, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ArchiveFragment flips archived on. The prose chain is not touched; callers
// reconcile active variations themselves.
func (s *Store) ArchiveFragment(storyID, fragmentID string) (*types.Fragment, error) {
	return s.setArchived("store.ArchiveFragment", storyID, fragmentID, true)
}

// RestoreFragment flips archived off.
func (s *Store) RestoreFragment(storyID, fragmentID string) (*types.Fragment, error) {
	return s.setArchived("store.RestoreFragment", storyID, fragmentID, false)
}

func (s *Store) setArchived(op, storyID, fragmentID string, archived bool) (*types.Fragment, error) {
	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	f, _, err := s.resolveFragment(op, storyID, fragmentID, lineage)
	if err != nil {
		return nil, err
	}
	if f.Archived == archived {
		return f, nil
	}
	f.Archived = archived
	return s.updateFragmentLocked(op, storyID, f)
}

// DeleteFragment hard-deletes an archived fragment from the active branch:
// the overlay file is removed and, when the id is inherited from an
// ancestor, a tombstone hides it. Deleting a live fragment is a Conflict.
func (s *Store) DeleteFragment(storyID, fragmentID string) error {
	const op = "store.DeleteFragment"

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return err
	}
	active := lineage[0]

	f, _, err := s.resolveFragment(op, storyID, fragmentID, lineage)
	if err != nil {
		return err
	}
	if !f.Archived {
		return fault.Conflict(op, fragmentID, "fragment must be archived before delete")
	}

	if err := os.Remove(s.fragmentPath(storyID, active.ID, fragmentID)); err != nil && !os.IsNotExist(err) {
		return fault.Internal(op, err)
	}

	inherited := false
	for _, b := range lineage[1:] {
		if fileExists(s.fragmentPath(storyID, b.ID, fragmentID)) {
			inherited = true
			break
		}
	}
	if inherited {
		tomb := map[string]string{"deletedAt": time.Now().UTC().Format(time.RFC3339)}
		if err := writeJSONAtomic(s.tombstonePath(storyID, active.ID, fragmentID), tomb); err != nil {
			return fault.Internal(op, err)
		}
	}

	if err := s.unindexFragment(op, storyID, active.ID, f); err != nil {
		return err
	}

	logging.Store("Deleted fragment %s from story %s (tombstone=%v)", fragmentID, storyID, inherited)
	return nil
}

// normalizeTags lowercases, trims, and dedupes while preserving order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
