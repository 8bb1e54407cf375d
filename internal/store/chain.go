package store

import (
	"os"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

func (s *Store) loadChain(op, storyID, branchID string) ([]types.ChainSection, error) {
	var chain []types.ChainSection
	if err := readJSON(s.chainPath(storyID, branchID), &chain); err != nil {
		if os.IsNotExist(err) {
			return []types.ChainSection{}, nil
		}
		return nil, fault.Internal(op, err)
	}
	return chain, nil
}

func (s *Store) saveChain(op, storyID, branchID string, chain []types.ChainSection) error {
	if err := writeJSONAtomic(s.chainPath(storyID, branchID), chain); err != nil {
		return fault.Internal(op, err)
	}
	return nil
}

// GetChain returns the active branch's prose chain.
func (s *Store) GetChain(storyID string) ([]types.ChainSection, error) {
	const op = "store.GetChain"

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	return s.loadChain(op, storyID, lineage[0].ID)
}

// chainFragment resolves a fragment that is about to enter the chain.
func (s *Store) chainFragment(op, storyID, fragmentID string, lineage []types.Branch) (*types.Fragment, error) {
	f, _, err := s.resolveFragment(op, storyID, fragmentID, lineage)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// AddSection appends a new single-variation section. The fragment must be
// prose or marker and not already in the chain.
func (s *Store) AddSection(storyID, fragmentID string) (int, error) {
	const op = "store.AddSection"

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return -1, err
	}
	active := lineage[0].ID

	f, err := s.chainFragment(op, storyID, fragmentID, lineage)
	if err != nil {
		return -1, err
	}
	if f.Type != types.TypeProse && f.Type != types.TypeMarker {
		return -1, fault.InvalidArgument(op, "only prose and marker fragments enter the chain")
	}

	chain, err := s.loadChain(op, storyID, active)
	if err != nil {
		return -1, err
	}
	if types.FindSection(chain, fragmentID) >= 0 {
		return -1, fault.Conflict(op, fragmentID, "fragment already in the chain")
	}

	chain = append(chain, types.ChainSection{
		ProseFragments: []string{fragmentID},
		Active:         fragmentID,
	})
	if err := s.saveChain(op, storyID, active, chain); err != nil {
		return -1, err
	}
	logging.Chain("Story %s: section %d added with %s", storyID, len(chain)-1, fragmentID)
	return len(chain) - 1, nil
}

// AddVariation appends a prose fragment to an existing section and makes it
// the active variation. Marker sections take no variations.
func (s *Store) AddVariation(storyID string, sectionIndex int, fragmentID string) error {
	const op = "store.AddVariation"

	unlock := s.locks.lock(storyID)
	defer unlock()

	return s.addVariationLocked(op, storyID, sectionIndex, fragmentID)
}

func (s *Store) addVariationLocked(op, storyID string, sectionIndex int, fragmentID string) error {
	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return err
	}
	active := lineage[0].ID

	f, err := s.chainFragment(op, storyID, fragmentID, lineage)
	if err != nil {
		return err
	}
	if f.Type != types.TypeProse {
		return fault.InvalidArgument(op, "variations must be prose fragments")
	}

	chain, err := s.loadChain(op, storyID, active)
	if err != nil {
		return err
	}
	if sectionIndex < 0 || sectionIndex >= len(chain) {
		return fault.InvalidArgument(op, "section index out of range")
	}
	section := &chain[sectionIndex]
	if section.Contains(fragmentID) {
		return fault.Conflict(op, fragmentID, "variation already in the section")
	}
	for _, id := range section.ProseFragments {
		existing, err := s.chainFragment(op, storyID, id, lineage)
		if err == nil && existing.Type == types.TypeMarker {
			return fault.InvalidArgument(op, "marker sections take no variations")
		}
	}

	section.ProseFragments = append(section.ProseFragments, fragmentID)
	section.Active = fragmentID

	if err := s.saveChain(op, storyID, active, chain); err != nil {
		return err
	}
	logging.Chain("Story %s: section %d gained variation %s", storyID, sectionIndex, fragmentID)
	return nil
}

// AddVariationOf finds the section containing existingID and appends newID
// as its active variation, in one critical section. When existingID is in no
// section, a new section is appended instead. Returns the section index.
func (s *Store) AddVariationOf(storyID, existingID, newID string) (int, error) {
	const op = "store.AddVariationOf"

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return -1, err
	}
	active := lineage[0].ID

	chain, err := s.loadChain(op, storyID, active)
	if err != nil {
		return -1, err
	}

	idx := types.FindSection(chain, existingID)
	if idx < 0 {
		f, err := s.chainFragment(op, storyID, newID, lineage)
		if err != nil {
			return -1, err
		}
		if f.Type != types.TypeProse && f.Type != types.TypeMarker {
			return -1, fault.InvalidArgument(op, "only prose and marker fragments enter the chain")
		}
		chain = append(chain, types.ChainSection{ProseFragments: []string{newID}, Active: newID})
		if err := s.saveChain(op, storyID, active, chain); err != nil {
			return -1, err
		}
		return len(chain) - 1, nil
	}

	if err := s.addVariationLocked(op, storyID, idx, newID); err != nil {
		return -1, err
	}
	return idx, nil
}

// SwitchActive selects which variation of a section is active. The id must
// be a member of the section and must not be archived.
func (s *Store) SwitchActive(storyID string, sectionIndex int, fragmentID string) error {
	const op = "store.SwitchActive"

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return err
	}
	active := lineage[0].ID

	chain, err := s.loadChain(op, storyID, active)
	if err != nil {
		return err
	}
	if sectionIndex < 0 || sectionIndex >= len(chain) {
		return fault.InvalidArgument(op, "section index out of range")
	}
	if !chain[sectionIndex].Contains(fragmentID) {
		return fault.Conflict(op, fragmentID, "variation not in the section")
	}

	f, err := s.chainFragment(op, storyID, fragmentID, lineage)
	if err != nil {
		return err
	}
	if f.Archived {
		return fault.Conflict(op, fragmentID, "archived variation cannot be active")
	}

	chain[sectionIndex].Active = fragmentID
	if err := s.saveChain(op, storyID, active, chain); err != nil {
		return err
	}
	logging.Chain("Story %s: section %d active → %s", storyID, sectionIndex, fragmentID)
	return nil
}

// ReorderChain permutes sections. order must be a permutation of [0..n).
func (s *Store) ReorderChain(storyID string, order []int) error {
	const op = "store.ReorderChain"

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return err
	}
	active := lineage[0].ID

	chain, err := s.loadChain(op, storyID, active)
	if err != nil {
		return err
	}
	if len(order) != len(chain) {
		return fault.InvalidArgument(op, "order length does not match section count")
	}
	seen := make([]bool, len(chain))
	for _, idx := range order {
		if idx < 0 || idx >= len(chain) || seen[idx] {
			return fault.InvalidArgument(op, "order is not a permutation of section indices")
		}
		seen[idx] = true
	}

	next := make([]types.ChainSection, len(chain))
	for pos, idx := range order {
		next[pos] = chain[idx]
	}
	if err := s.saveChain(op, storyID, active, next); err != nil {
		return err
	}
	logging.Chain("Story %s: chain reordered (%d sections)", storyID, len(next))
	return nil
}

// RemoveSection drops a section and returns its variation ids so the caller
// can archive them. Later sections shift down.
func (s *Store) RemoveSection(storyID string, sectionIndex int) ([]string, error) {
	const op = "store.RemoveSection"

	unlock := s.locks.lock(storyID)
	defer unlock()

	_, lineage, err := s.activeLineage(op, storyID)
	if err != nil {
		return nil, err
	}
	active := lineage[0].ID

	chain, err := s.loadChain(op, storyID, active)
	if err != nil {
		return nil, err
	}
	if sectionIndex < 0 || sectionIndex >= len(chain) {
		return nil, fault.InvalidArgument(op, "section index out of range")
	}

	removed := append([]string{}, chain[sectionIndex].ProseFragments...)
	chain = append(chain[:sectionIndex], chain[sectionIndex+1:]...)
	if err := s.saveChain(op, storyID, active, chain); err != nil {
		return nil, err
	}
	logging.Chain("Story %s: removed section %d (%d variations)", storyID, sectionIndex, len(removed))
	return removed, nil
}

// FindSectionIndex returns the index of the first section containing the
// fragment, or -1.
func (s *Store) FindSectionIndex(storyID, fragmentID string) (int, error) {
	chain, err := s.GetChain(storyID)
	if err != nil {
		return -1, err
	}
	return types.FindSection(chain, fragmentID), nil
}
