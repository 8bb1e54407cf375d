package store

import (
	"os"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// Store is the file-backed persistence layer. One Store serves every story
// under its data root. All mutations go through the per-story write lock;
// reads are lock-free against atomically renamed files.
type Store struct {
	root        string
	maxVersions int
	locks       *lockTable
}

// Options tunes store behavior.
type Options struct {
	// MaxVersionHistory caps a fragment's versions slice. Zero means the
	// default of 64.
	MaxVersionHistory int
}

// New opens (creating if needed) a store rooted at dataDir.
func New(dataDir string, opts Options) (*Store, error) {
	if dataDir == "" {
		return nil, fault.InvalidArgument("store.New", "data directory is empty")
	}
	maxVersions := opts.MaxVersionHistory
	if maxVersions <= 0 {
		maxVersions = 64
	}

	s := &Store{
		root:        dataDir,
		maxVersions: maxVersions,
		locks:       newLockTable(),
	}
	if err := os.MkdirAll(s.storiesDir(), 0755); err != nil {
		return nil, fault.Internal("store.New", err)
	}

	logging.Store("Store opened at %s (version cap %d)", dataDir, maxVersions)
	return s, nil
}

// Root returns the data directory.
func (s *Store) Root() string { return s.root }

// Lock acquires the story's exclusive write lock for callers that need a
// multi-operation critical section (the pipeline's find-then-add-variation,
// librarian persistence). Returns the unlock func.
func (s *Store) Lock(storyID string) func() {
	return s.locks.lock(storyID)
}

// storyExists is a cheap existence probe used before composite operations.
func (s *Store) storyExists(storyID string) bool {
	return fileExists(s.metaPath(storyID))
}

// requireStory maps a missing story to NotFound.
func (s *Store) requireStory(op, storyID string) error {
	if !s.storyExists(storyID) {
		return fault.NotFound(op, storyID)
	}
	return nil
}

// activeLineage loads the branch registry and returns the active branch's
// chain leaf→root.
func (s *Store) activeLineage(op, storyID string) (*types.BranchState, []types.Branch, error) {
	state, err := s.loadBranchState(op, storyID)
	if err != nil {
		return nil, nil, err
	}
	lineage := state.Lineage(state.ActiveBranchID)
	if len(lineage) == 0 {
		return nil, nil, fault.Internalf(op, "story %s has no active branch", storyID)
	}
	return state, lineage, nil
}
