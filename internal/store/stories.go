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

// CreateStory provisions a new story workspace: meta, the root branch with
// its content root, an empty prose chain, and idle librarian state.
func (s *Store) CreateStory(name, description string) (*types.StoryMeta, error) {
	const op = "store.CreateStory"
	timer := logging.StartTimer(logging.CategoryStore, "CreateStory")
	defer timer.Stop()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fault.InvalidArgument(op, "story name is empty")
	}

	now := time.Now().UTC()
	meta := &types.StoryMeta{
		ID:          ids.NewStoryID(),
		Name:        name,
		Description: description,
		Settings:    types.DefaultSettings(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	root := types.Branch{
		ID:             ids.NewBranchID(),
		Name:           "main",
		ForkAfterIndex: types.RootForkIndex,
		CreatedAt:      now,
	}
	branches := &types.BranchState{
		Branches:       []types.Branch{root},
		ActiveBranchID: root.ID,
	}

	if err := writeJSONAtomic(s.metaPath(meta.ID), meta); err != nil {
		return nil, fault.Internal(op, err)
	}
	if err := writeJSONAtomic(s.branchesPath(meta.ID), branches); err != nil {
		return nil, fault.Internal(op, err)
	}
	if err := writeJSONAtomic(s.chainPath(meta.ID, root.ID), []types.ChainSection{}); err != nil {
		return nil, fault.Internal(op, err)
	}
	if err := writeJSONAtomic(s.associationsPath(meta.ID, root.ID), newAssociations()); err != nil {
		return nil, fault.Internal(op, err)
	}
	if err := os.MkdirAll(s.fragmentsDir(meta.ID, root.ID), 0755); err != nil {
		return nil, fault.Internal(op, err)
	}
	state := &types.LibrarianState{RunStatus: types.RunIdle}
	if err := writeJSONAtomic(s.librarianStatePath(meta.ID), state); err != nil {
		return nil, fault.Internal(op, err)
	}

	logging.Store("Created story %s (%q) with root branch %s", meta.ID, name, root.ID)
	return meta, nil
}

// GetStory loads story meta with normalized settings.
func (s *Store) GetStory(storyID string) (*types.StoryMeta, error) {
	const op = "store.GetStory"

	meta := &types.StoryMeta{}
	if err := readJSON(s.metaPath(storyID), meta); err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFound(op, storyID)
		}
		return nil, fault.Internal(op, err)
	}
	meta.Settings.Normalize()
	return meta, nil
}

// ListStories loads every story's meta, most recently updated first.
func (s *Store) ListStories() ([]*types.StoryMeta, error) {
	const op = "store.ListStories"

	entries, err := os.ReadDir(s.storiesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.StoryMeta{}, nil
		}
		return nil, fault.Internal(op, err)
	}

	out := make([]*types.StoryMeta, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.GetStory(e.Name())
		if err != nil {
			// A half-created or foreign directory is skipped, not fatal.
			logging.StoreWarn("Skipping unreadable story dir %s: %v", e.Name(), err)
			continue
		}
		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateStory applies mutate to the story meta under the story lock and
// persists the result. UpdatedAt is touched; settings are re-normalized.
func (s *Store) UpdateStory(storyID string, mutate func(*types.StoryMeta) error) (*types.StoryMeta, error) {
	const op = "store.UpdateStory"

	unlock := s.locks.lock(storyID)
	defer unlock()

	meta, err := s.GetStory(storyID)
	if err != nil {
		return nil, err
	}
	if err := mutate(meta); err != nil {
		return nil, err
	}
	if strings.TrimSpace(meta.Name) == "" {
		return nil, fault.InvalidArgument(op, "story name is empty")
	}
	meta.Settings.Normalize()
	meta.UpdatedAt = time.Now().UTC()

	if err := writeJSONAtomic(s.metaPath(storyID), meta); err != nil {
		return nil, fault.Internal(op, err)
	}
	return meta, nil
}

// TouchStory bumps UpdatedAt without other changes.
func (s *Store) TouchStory(storyID string) error {
	_, err := s.UpdateStory(storyID, func(*types.StoryMeta) error { return nil })
	return err
}

// DeleteStory removes the whole story workspace.
func (s *Store) DeleteStory(storyID string) error {
	const op = "store.DeleteStory"

	unlock := s.locks.lock(storyID)
	defer unlock()

	if err := s.requireStory(op, storyID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.storyDir(storyID)); err != nil {
		return fault.Internal(op, err)
	}
	logging.Store("Deleted story %s", storyID)
	return nil
}

// =============================================================================
// FOLDERS
// =============================================================================

type foldersFile struct {
	Folders []types.Folder `json:"folders"`
}

func (s *Store) loadFolders(op string) (*foldersFile, error) {
	ff := &foldersFile{}
	if err := readJSON(s.foldersPath(), ff); err != nil {
		if os.IsNotExist(err) {
			return &foldersFile{Folders: []types.Folder{}}, nil
		}
		return nil, fault.Internal(op, err)
	}
	if ff.Folders == nil {
		ff.Folders = []types.Folder{}
	}
	return ff, nil
}

// ListFolders returns all folders, oldest first.
func (s *Store) ListFolders() ([]types.Folder, error) {
	const op = "store.ListFolders"
	ff, err := s.loadFolders(op)
	if err != nil {
		return nil, err
	}
	sort.Slice(ff.Folders, func(i, j int) bool {
		if !ff.Folders[i].CreatedAt.Equal(ff.Folders[j].CreatedAt) {
			return ff.Folders[i].CreatedAt.Before(ff.Folders[j].CreatedAt)
		}
		return ff.Folders[i].ID < ff.Folders[j].ID
	})
	return ff.Folders, nil
}

// CreateFolder adds a folder; parentID must name an existing folder or be
// empty.
func (s *Store) CreateFolder(name, parentID string) (*types.Folder, error) {
	const op = "store.CreateFolder"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fault.InvalidArgument(op, "folder name is empty")
	}

	ff, err := s.loadFolders(op)
	if err != nil {
		return nil, err
	}
	if parentID != "" {
		found := false
		for _, f := range ff.Folders {
			if f.ID == parentID {
				found = true
				break
			}
		}
		if !found {
			return nil, fault.NotFound(op, parentID)
		}
	}

	folder := types.Folder{
		ID:        ids.NewFolderID(),
		Name:      name,
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
	}
	ff.Folders = append(ff.Folders, folder)
	if err := writeJSONAtomic(s.foldersPath(), ff); err != nil {
		return nil, fault.Internal(op, err)
	}
	return &folder, nil
}

// RenameFolder changes a folder's name.
func (s *Store) RenameFolder(folderID, name string) (*types.Folder, error) {
	const op = "store.RenameFolder"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fault.InvalidArgument(op, "folder name is empty")
	}

	ff, err := s.loadFolders(op)
	if err != nil {
		return nil, err
	}
	for i := range ff.Folders {
		if ff.Folders[i].ID == folderID {
			ff.Folders[i].Name = name
			if err := writeJSONAtomic(s.foldersPath(), ff); err != nil {
				return nil, fault.Internal(op, err)
			}
			return &ff.Folders[i], nil
		}
	}
	return nil, fault.NotFound(op, folderID)
}

// DeleteFolder removes a folder. Stories keep their folderId; it is advisory
// and simply dangles until reassigned. Child folders are re-parented to the
// deleted folder's parent.
func (s *Store) DeleteFolder(folderID string) error {
	const op = "store.DeleteFolder"

	ff, err := s.loadFolders(op)
	if err != nil {
		return err
	}

	idx := -1
	for i, f := range ff.Folders {
		if f.ID == folderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fault.NotFound(op, folderID)
	}

	parent := ff.Folders[idx].ParentID
	ff.Folders = append(ff.Folders[:idx], ff.Folders[idx+1:]...)
	for i := range ff.Folders {
		if ff.Folders[i].ParentID == folderID {
			ff.Folders[i].ParentID = parent
		}
	}
	if err := writeJSONAtomic(s.foldersPath(), ff); err != nil {
		return fault.Internal(op, err)
	}
	return nil
}

// MoveStory assigns a story to a folder ("" clears the assignment).
func (s *Store) MoveStory(storyID, folderID string) error {
	const op = "store.MoveStory"

	if folderID != "" {
		ff, err := s.loadFolders(op)
		if err != nil {
			return err
		}
		found := false
		for _, f := range ff.Folders {
			if f.ID == folderID {
				found = true
				break
			}
		}
		if !found {
			return fault.NotFound(op, folderID)
		}
	}

	_, err := s.UpdateStory(storyID, func(meta *types.StoryMeta) error {
		meta.FolderID = folderID
		return nil
	})
	return err
}
