package store

import "path/filepath"

// =============================================================================
// ON-DISK LAYOUT
// =============================================================================
//
// stories/<storyId>/
//   meta.json
//   branches.json
//   content/<branchId>/
//     fragments/<fragmentId>.json  (+ tombstones <fragmentId>.tomb)
//     associations.json
//     prose-chain.json
//   librarian/
//     state.json
//     analyses/<analysisId>.json
//     chat.json
//   generation-logs/<logId>.json
// folders.json

const (
	tombstoneExt = ".tomb"
	fragmentExt  = ".json"
)

func (s *Store) storiesDir() string {
	return filepath.Join(s.root, "stories")
}

func (s *Store) storyDir(storyID string) string {
	return filepath.Join(s.storiesDir(), storyID)
}

func (s *Store) metaPath(storyID string) string {
	return filepath.Join(s.storyDir(storyID), "meta.json")
}

func (s *Store) branchesPath(storyID string) string {
	return filepath.Join(s.storyDir(storyID), "branches.json")
}

func (s *Store) contentRoot(storyID, branchID string) string {
	return filepath.Join(s.storyDir(storyID), "content", branchID)
}

func (s *Store) fragmentsDir(storyID, branchID string) string {
	return filepath.Join(s.contentRoot(storyID, branchID), "fragments")
}

func (s *Store) fragmentPath(storyID, branchID, fragmentID string) string {
	return filepath.Join(s.fragmentsDir(storyID, branchID), fragmentID+fragmentExt)
}

func (s *Store) tombstonePath(storyID, branchID, fragmentID string) string {
	return filepath.Join(s.fragmentsDir(storyID, branchID), fragmentID+tombstoneExt)
}

func (s *Store) associationsPath(storyID, branchID string) string {
	return filepath.Join(s.contentRoot(storyID, branchID), "associations.json")
}

func (s *Store) chainPath(storyID, branchID string) string {
	return filepath.Join(s.contentRoot(storyID, branchID), "prose-chain.json")
}

func (s *Store) librarianDir(storyID string) string {
	return filepath.Join(s.storyDir(storyID), "librarian")
}

func (s *Store) librarianStatePath(storyID string) string {
	return filepath.Join(s.librarianDir(storyID), "state.json")
}

func (s *Store) analysesDir(storyID string) string {
	return filepath.Join(s.librarianDir(storyID), "analyses")
}

func (s *Store) analysisPath(storyID, analysisID string) string {
	return filepath.Join(s.analysesDir(storyID), analysisID+".json")
}

func (s *Store) chatPath(storyID string) string {
	return filepath.Join(s.librarianDir(storyID), "chat.json")
}

func (s *Store) genLogDir(storyID string) string {
	return filepath.Join(s.storyDir(storyID), "generation-logs")
}

func (s *Store) genLogPath(storyID, logID string) string {
	return filepath.Join(s.genLogDir(storyID), logID+".json")
}

func (s *Store) foldersPath() string {
	return filepath.Join(s.root, "folders.json")
}
