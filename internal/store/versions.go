package store

import (
	"fmt"
	"time"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// FieldsPatch carries the three versioned fields of UpdateVersioned. Nil
// means "leave unchanged".
type FieldsPatch struct {
	Name        *string
	Description *string
	Content     *string
}

func (p FieldsPatch) changes(f *types.Fragment) bool {
	if p.Name != nil && *p.Name != f.Name {
		return true
	}
	if p.Description != nil && *p.Description != f.Description {
		return true
	}
	if p.Content != nil && *p.Content != f.Content {
		return true
	}
	return false
}

// appendSnapshot records the fragment's pre-mutation state and enforces the
// history cap, dropping oldest snapshots first.
func (s *Store) appendSnapshot(f *types.Fragment, reason string) {
	f.Versions = append(f.Versions, types.VersionSnapshot{
		Version:     f.Version,
		Name:        f.Name,
		Description: f.Description,
		Content:     f.Content,
		CreatedAt:   time.Now().UTC(),
		Reason:      reason,
	})
	if over := len(f.Versions) - s.maxVersions; over > 0 {
		f.Versions = append([]types.VersionSnapshot{}, f.Versions[over:]...)
	}
}

// UpdateVersioned applies a patch to the versioned fields. If anything
// actually changed, the pre-state is snapshotted and version bumps; an
// identical patch is a plain touch.
func (s *Store) UpdateVersioned(storyID, fragmentID string, patch FieldsPatch, reason string) (*types.Fragment, error) {
	return s.UpdateWith(storyID, fragmentID, reason, func(*types.Fragment) (FieldsPatch, error) {
		return patch, nil
	})
}

// UpdateWith resolves the fragment under the story's write lock and applies
// the patch fn computes from its current state, so a validation and the write
// it protects form one critical section. fn must not mutate the fragment it
// is handed; an error from fn aborts the update unchanged.
func (s *Store) UpdateWith(storyID, fragmentID, reason string, fn func(*types.Fragment) (FieldsPatch, error)) (*types.Fragment, error) {
	const op = "store.UpdateVersioned"
	timer := logging.StartTimer(logging.CategoryStore, "UpdateVersioned")
	defer timer.Stop()

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

	patch, err := fn(f)
	if err != nil {
		return nil, err
	}
	if patch.Description != nil && len(*patch.Description) > types.MaxDescriptionLen {
		return nil, fault.InvalidArgument(op, "description exceeds 250 characters")
	}

	if patch.changes(f) {
		s.appendSnapshot(f, reason)
		f.Version++
		if patch.Name != nil {
			f.Name = *patch.Name
		}
		if patch.Description != nil {
			f.Description = *patch.Description
		}
		if patch.Content != nil {
			f.Content = *patch.Content
		}
		logging.StoreDebug("Fragment %s versioned update → v%d (%q)", fragmentID, f.Version, reason)
	}

	return s.updateFragmentLocked(op, storyID, f)
}

// RevertToVersion restores the versioned fields from a snapshot. version 0
// targets the latest prior snapshot. The current state is snapshotted first
// with reason "revert-to-{n}", so a revert is itself revertible.
func (s *Store) RevertToVersion(storyID, fragmentID string, version int) (*types.Fragment, error) {
	const op = "store.RevertToVersion"

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
	if len(f.Versions) == 0 {
		return nil, fault.NotFound(op, fmt.Sprintf("%s has no version history", fragmentID))
	}

	var target *types.VersionSnapshot
	if version == 0 {
		target = &f.Versions[len(f.Versions)-1]
	} else {
		for i := range f.Versions {
			if f.Versions[i].Version == version {
				target = &f.Versions[i]
				break
			}
		}
		if target == nil {
			return nil, fault.NotFound(op, fmt.Sprintf("%s@v%d", fragmentID, version))
		}
	}
	snap := *target

	s.appendSnapshot(f, fmt.Sprintf("revert-to-%d", snap.Version))
	f.Version++
	f.Name = snap.Name
	f.Description = snap.Description
	f.Content = snap.Content

	logging.Store("Reverted fragment %s to v%d (now v%d)", fragmentID, snap.Version, f.Version)
	return s.updateFragmentLocked(op, storyID, f)
}

// ListVersions returns the fragment's snapshot history, oldest first.
func (s *Store) ListVersions(storyID, fragmentID string) ([]types.VersionSnapshot, error) {
	f, err := s.GetFragment(storyID, fragmentID)
	if err != nil {
		return nil, err
	}
	return f.Versions, nil
}

// GetVersion returns a single snapshot by version number.
func (s *Store) GetVersion(storyID, fragmentID string, version int) (*types.VersionSnapshot, error) {
	const op = "store.GetVersion"

	f, err := s.GetFragment(storyID, fragmentID)
	if err != nil {
		return nil, err
	}
	for i := range f.Versions {
		if f.Versions[i].Version == version {
			snap := f.Versions[i]
			return &snap, nil
		}
	}
	return nil, fault.NotFound(op, fmt.Sprintf("%s@v%d", fragmentID, version))
}
