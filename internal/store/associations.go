package store

import (
	"os"
	"sort"
	"strings"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// Associations holds the two inverted indexes of one branch view. The
// fragment's own tags/refs fields stay authoritative; the indexes are a
// rebuildable acceleration structure.
type Associations struct {
	TagIndex map[string][]string `json:"tagIndex"`
	RefIndex map[string][]string `json:"refIndex"`
}

func newAssociations() *Associations {
	return &Associations{
		TagIndex: map[string][]string{},
		RefIndex: map[string][]string{},
	}
}

func (a *Associations) normalize() {
	if a.TagIndex == nil {
		a.TagIndex = map[string][]string{}
	}
	if a.RefIndex == nil {
		a.RefIndex = map[string][]string{}
	}
}

func addToIndex(index map[string][]string, key, id string) {
	for _, existing := range index[key] {
		if existing == id {
			return
		}
	}
	index[key] = append(index[key], id)
	sort.Strings(index[key])
}

func removeFromIndex(index map[string][]string, key, id string) {
	entries := index[key]
	for i, existing := range entries {
		if existing == id {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(index, key)
		return
	}
	index[key] = entries
}

func (s *Store) loadAssociations(op, storyID, branchID string) (*Associations, error) {
	a := &Associations{}
	if err := readJSON(s.associationsPath(storyID, branchID), a); err != nil {
		if os.IsNotExist(err) {
			return newAssociations(), nil
		}
		return nil, fault.Internal(op, err)
	}
	a.normalize()
	return a, nil
}

func (s *Store) saveAssociations(op, storyID, branchID string, a *Associations) error {
	if err := writeJSONAtomic(s.associationsPath(storyID, branchID), a); err != nil {
		return fault.Internal(op, err)
	}
	return nil
}

// indexFragment applies the tag/ref delta between prev (nil on create) and
// next to the branch's indexes. Called from every fragment write while the
// story lock is held.
func (s *Store) indexFragment(op, storyID, branchID string, prev, next *types.Fragment) error {
	a, err := s.loadAssociations(op, storyID, branchID)
	if err != nil {
		return err
	}

	if prev != nil {
		for _, tag := range prev.Tags {
			if !next.HasTag(tag) {
				removeFromIndex(a.TagIndex, tag, prev.ID)
			}
		}
		for _, ref := range prev.Refs {
			if !next.HasRef(ref) {
				removeFromIndex(a.RefIndex, ref, prev.ID)
			}
		}
	}
	for _, tag := range next.Tags {
		addToIndex(a.TagIndex, tag, next.ID)
	}
	for _, ref := range next.Refs {
		addToIndex(a.RefIndex, ref, next.ID)
	}

	return s.saveAssociations(op, storyID, branchID, a)
}

// unindexFragment removes every entry a deleted fragment contributed.
func (s *Store) unindexFragment(op, storyID, branchID string, f *types.Fragment) error {
	a, err := s.loadAssociations(op, storyID, branchID)
	if err != nil {
		return err
	}
	for _, tag := range f.Tags {
		removeFromIndex(a.TagIndex, tag, f.ID)
	}
	for _, ref := range f.Refs {
		removeFromIndex(a.RefIndex, ref, f.ID)
	}
	return s.saveAssociations(op, storyID, branchID, a)
}

// NormalizeTag applies the canonical tag form: lowercase, trimmed.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// AddTag adds a tag to a fragment and the index. Duplicate adds are no-ops.
func (s *Store) AddTag(storyID, fragmentID, tag string) (*types.Fragment, error) {
	const op = "store.AddTag"

	tag = NormalizeTag(tag)
	if tag == "" {
		return nil, fault.InvalidArgument(op, "tag is empty")
	}

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
	if f.HasTag(tag) {
		return f, nil
	}
	f.Tags = append(f.Tags, tag)
	return s.updateFragmentLocked(op, storyID, f)
}

// RemoveTag removes a tag from a fragment and the index. Removing an absent
// tag is a no-op.
func (s *Store) RemoveTag(storyID, fragmentID, tag string) (*types.Fragment, error) {
	const op = "store.RemoveTag"

	tag = NormalizeTag(tag)

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
	if !f.HasTag(tag) {
		return f, nil
	}
	kept := f.Tags[:0]
	for _, t := range f.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	f.Tags = kept
	return s.updateFragmentLocked(op, storyID, f)
}

// AddRef records a reference from one fragment to another. The target does
// not have to exist (refs are advisory); a self-reference is rejected.
func (s *Store) AddRef(storyID, fromID, toID string) (*types.Fragment, error) {
	const op = "store.AddRef"

	if toID == "" {
		return nil, fault.InvalidArgument(op, "ref target is empty")
	}
	if fromID == toID {
		return nil, fault.InvalidArgument(op, "fragment cannot reference itself")
	}

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	f, _, err := s.resolveFragment(op, storyID, fromID, lineage)
	if err != nil {
		return nil, err
	}
	if f.HasRef(toID) {
		return f, nil
	}
	f.Refs = append(f.Refs, toID)
	return s.updateFragmentLocked(op, storyID, f)
}

// RemoveRef drops a reference. Removing an absent ref is a no-op.
func (s *Store) RemoveRef(storyID, fromID, toID string) (*types.Fragment, error) {
	const op = "store.RemoveRef"

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	f, _, err := s.resolveFragment(op, storyID, fromID, lineage)
	if err != nil {
		return nil, err
	}
	if !f.HasRef(toID) {
		return f, nil
	}
	kept := f.Refs[:0]
	for _, r := range f.Refs {
		if r != toID {
			kept = append(kept, r)
		}
	}
	f.Refs = kept
	return s.updateFragmentLocked(op, storyID, f)
}

// GetBackRefs returns the ids of fragments referencing the target, per the
// active branch's index.
func (s *Store) GetBackRefs(storyID, targetID string) ([]string, error) {
	const op = "store.GetBackRefs"

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	a, err := s.loadAssociations(op, storyID, lineage[0].ID)
	if err != nil {
		return nil, err
	}
	return append([]string{}, a.RefIndex[targetID]...), nil
}

// FragmentsByTag returns the ids carrying a tag on the active branch.
func (s *Store) FragmentsByTag(storyID, tag string) ([]string, error) {
	const op = "store.FragmentsByTag"

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	a, err := s.loadAssociations(op, storyID, lineage[0].ID)
	if err != nil {
		return nil, err
	}
	return append([]string{}, a.TagIndex[NormalizeTag(tag)]...), nil
}

// Associations returns a copy of the active branch's index pair.
func (s *Store) Associations(storyID string) (*Associations, error) {
	const op = "store.Associations"

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	return s.loadAssociations(op, storyID, lineage[0].ID)
}

// RebuildAssociations regenerates both indexes from a full fragment listing.
// Used after structural imports or when an index is suspected stale.
func (s *Store) RebuildAssociations(storyID string) error {
	const op = "store.RebuildAssociations"
	timer := logging.StartTimer(logging.CategoryAssoc, "RebuildAssociations")
	defer timer.Stop()

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return err
	}
	visible, err := s.visibleIDs(op, storyID, lineage)
	if err != nil {
		return err
	}

	a := newAssociations()
	for id, branchID := range visible {
		f, err := s.readFragmentFile(op, s.fragmentPath(storyID, branchID, id))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, tag := range f.Tags {
			addToIndex(a.TagIndex, tag, f.ID)
		}
		for _, ref := range f.Refs {
			addToIndex(a.RefIndex, ref, f.ID)
		}
	}

	if err := s.saveAssociations(op, storyID, lineage[0].ID, a); err != nil {
		return err
	}
	logging.Assoc("Rebuilt associations for story %s: %d tags, %d ref targets", storyID, len(a.TagIndex), len(a.RefIndex))
	return nil
}
