package store

import (
	"os"
	"strings"
	"time"

	"storyloom/internal/fault"
	"storyloom/internal/ids"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

func (s *Store) loadBranchState(op, storyID string) (*types.BranchState, error) {
	state := &types.BranchState{}
	if err := readJSON(s.branchesPath(storyID), state); err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFound(op, storyID)
		}
		return nil, fault.Internal(op, err)
	}
	return state, nil
}

func (s *Store) saveBranchState(op, storyID string, state *types.BranchState) error {
	if err := writeJSONAtomic(s.branchesPath(storyID), state); err != nil {
		return fault.Internal(op, err)
	}
	return nil
}

// ListBranches returns the story's branch registry.
func (s *Store) ListBranches(storyID string) (*types.BranchState, error) {
	return s.loadBranchState("store.ListBranches", storyID)
}

// ActiveBranch returns the currently active branch.
func (s *Store) ActiveBranch(storyID string) (types.Branch, error) {
	const op = "store.ActiveBranch"
	state, err := s.loadBranchState(op, storyID)
	if err != nil {
		return types.Branch{}, err
	}
	b, ok := state.Find(state.ActiveBranchID)
	if !ok {
		return types.Branch{}, fault.Internalf(op, "active branch %s missing from registry", state.ActiveBranchID)
	}
	return b, nil
}

// ContentRootFor returns the overlay directory of a branch.
func (s *Store) ContentRootFor(storyID, branchID string) (string, error) {
	const op = "store.ContentRootFor"
	state, err := s.loadBranchState(op, storyID)
	if err != nil {
		return "", err
	}
	if _, ok := state.Find(branchID); !ok {
		return "", fault.NotFound(op, branchID)
	}
	return s.contentRoot(storyID, branchID), nil
}

// CreateBranch forks a new branch off parentID. The fork inherits the
// parent's prose chain truncated after forkAfterIndex and starts with an
// empty overlay; fragments copy up lazily on first write. The new branch is
// not switched to.
func (s *Store) CreateBranch(storyID, name, parentID string, forkAfterIndex int) (*types.Branch, error) {
	const op = "store.CreateBranch"
	timer := logging.StartTimer(logging.CategoryBranch, "CreateBranch")
	defer timer.Stop()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fault.InvalidArgument(op, "branch name is empty")
	}

	unlock := s.locks.lock(storyID)
	defer unlock()

	state, err := s.loadBranchState(op, storyID)
	if err != nil {
		return nil, err
	}
	if _, ok := state.Find(parentID); !ok {
		return nil, fault.NotFound(op, parentID)
	}

	parentChain, err := s.loadChain(op, storyID, parentID)
	if err != nil {
		return nil, err
	}
	if forkAfterIndex < types.RootForkIndex || forkAfterIndex >= len(parentChain) {
		return nil, fault.InvalidArgument(op, "forkAfterIndex out of range")
	}

	branch := types.Branch{
		ID:             ids.NewBranchID(),
		Name:           name,
		ParentID:       parentID,
		ForkAfterIndex: forkAfterIndex,
		CreatedAt:      time.Now().UTC(),
	}

	// Inherited chain prefix: sections [0..forkAfterIndex].
	inherited := types.CloneChain(parentChain[:forkAfterIndex+1])
	if err := writeJSONAtomic(s.chainPath(storyID, branch.ID), inherited); err != nil {
		return nil, fault.Internal(op, err)
	}

	// The association index starts as a copy of the parent's view; fragment
	// visibility is unaffected by the fork point.
	assoc, err := s.loadAssociations(op, storyID, parentID)
	if err != nil {
		return nil, err
	}
	if err := s.saveAssociations(op, storyID, branch.ID, assoc); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.fragmentsDir(storyID, branch.ID), 0755); err != nil {
		return nil, fault.Internal(op, err)
	}

	state.Branches = append(state.Branches, branch)
	if err := s.saveBranchState(op, storyID, state); err != nil {
		return nil, err
	}

	logging.Branch("Forked branch %s (%q) off %s after section %d", branch.ID, name, parentID, forkAfterIndex)
	return &branch, nil
}

// SwitchBranch makes branchID the active branch.
func (s *Store) SwitchBranch(storyID, branchID string) error {
	const op = "store.SwitchBranch"

	unlock := s.locks.lock(storyID)
	defer unlock()

	state, err := s.loadBranchState(op, storyID)
	if err != nil {
		return err
	}
	if _, ok := state.Find(branchID); !ok {
		return fault.NotFound(op, branchID)
	}
	if state.ActiveBranchID == branchID {
		return nil
	}
	state.ActiveBranchID = branchID
	if err := s.saveBranchState(op, storyID, state); err != nil {
		return err
	}
	logging.Branch("Switched story %s to branch %s", storyID, branchID)
	return nil
}

// DeleteBranch removes a branch and its overlay. The active branch and
// branches with children cannot be deleted.
func (s *Store) DeleteBranch(storyID, branchID string) error {
	const op = "store.DeleteBranch"

	unlock := s.locks.lock(storyID)
	defer unlock()

	state, err := s.loadBranchState(op, storyID)
	if err != nil {
		return err
	}
	if _, ok := state.Find(branchID); !ok {
		return fault.NotFound(op, branchID)
	}
	if state.ActiveBranchID == branchID {
		return fault.Conflict(op, branchID, "cannot delete the active branch")
	}
	if kids := state.Children(branchID); len(kids) > 0 {
		return fault.Conflict(op, branchID, "branch has child branches")
	}

	kept := state.Branches[:0]
	for _, b := range state.Branches {
		if b.ID != branchID {
			kept = append(kept, b)
		}
	}
	state.Branches = kept
	if err := s.saveBranchState(op, storyID, state); err != nil {
		return err
	}
	if err := os.RemoveAll(s.contentRoot(storyID, branchID)); err != nil {
		return fault.Internal(op, err)
	}
	logging.Branch("Deleted branch %s from story %s", branchID, storyID)
	return nil
}
