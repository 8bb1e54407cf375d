package store

import (
	"os"
	"sort"
	"strings"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// LoadLibrarianState reads the story's librarian state; a missing file is an
// idle state, not an error.
func (s *Store) LoadLibrarianState(storyID string) (*types.LibrarianState, error) {
	const op = "store.LoadLibrarianState"

	state := &types.LibrarianState{}
	if err := readJSON(s.librarianStatePath(storyID), state); err != nil {
		if os.IsNotExist(err) {
			if err := s.requireStory(op, storyID); err != nil {
				return nil, err
			}
			return &types.LibrarianState{RunStatus: types.RunIdle}, nil
		}
		return nil, fault.Internal(op, err)
	}
	if state.RunStatus == "" {
		state.RunStatus = types.RunIdle
	}
	return state, nil
}

// SaveLibrarianState persists the librarian state.
func (s *Store) SaveLibrarianState(storyID string, state *types.LibrarianState) error {
	const op = "store.SaveLibrarianState"
	if err := writeJSONAtomic(s.librarianStatePath(storyID), state); err != nil {
		return fault.Internal(op, err)
	}
	return nil
}

// SaveAnalysis persists one librarian run result.
func (s *Store) SaveAnalysis(storyID string, a *types.Analysis) error {
	const op = "store.SaveAnalysis"

	if a.ID == "" {
		return fault.InvalidArgument(op, "analysis id is empty")
	}
	if err := writeJSONAtomic(s.analysisPath(storyID, a.ID), a); err != nil {
		return fault.Internal(op, err)
	}
	logging.LibrarianDebug("Saved analysis %s for story %s", a.ID, storyID)
	return nil
}

// GetAnalysis loads one analysis.
func (s *Store) GetAnalysis(storyID, analysisID string) (*types.Analysis, error) {
	const op = "store.GetAnalysis"

	a := &types.Analysis{}
	if err := readJSON(s.analysisPath(storyID, analysisID), a); err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFound(op, analysisID)
		}
		return nil, fault.Internal(op, err)
	}
	return a, nil
}

// UpdateAnalysis applies mutate to one analysis under the story lock.
func (s *Store) UpdateAnalysis(storyID, analysisID string, mutate func(*types.Analysis) error) (*types.Analysis, error) {
	unlock := s.locks.lock(storyID)
	defer unlock()

	a, err := s.GetAnalysis(storyID, analysisID)
	if err != nil {
		return nil, err
	}
	if err := mutate(a); err != nil {
		return nil, err
	}
	if err := s.SaveAnalysis(storyID, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnalyses returns all analyses, oldest first.
func (s *Store) ListAnalyses(storyID string) ([]*types.Analysis, error) {
	const op = "store.ListAnalyses"

	if err := s.requireStory(op, storyID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.analysesDir(storyID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.Analysis{}, nil
		}
		return nil, fault.Internal(op, err)
	}

	out := make([]*types.Analysis, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		a, err := s.GetAnalysis(storyID, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			logging.LibrarianDebug("Skipping unreadable analysis %s: %v", e.Name(), err)
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// LatestAnalysis returns the most recent analysis, or NotFound.
func (s *Store) LatestAnalysis(storyID string) (*types.Analysis, error) {
	const op = "store.LatestAnalysis"

	all, err := s.ListAnalyses(storyID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fault.NotFound(op, storyID+" has no analyses")
	}
	return all[len(all)-1], nil
}

// AppendChatMessage appends one turn to the librarian chat transcript.
func (s *Store) AppendChatMessage(storyID string, msg types.ChatMessage) error {
	const op = "store.AppendChatMessage"

	unlock := s.locks.lock(storyID)
	defer unlock()

	transcript, err := s.loadChatLocked(op, storyID)
	if err != nil {
		return err
	}
	transcript = append(transcript, msg)
	if err := writeJSONAtomic(s.chatPath(storyID), transcript); err != nil {
		return fault.Internal(op, err)
	}
	return nil
}

// LoadChat returns the librarian chat transcript.
func (s *Store) LoadChat(storyID string) ([]types.ChatMessage, error) {
	return s.loadChatLocked("store.LoadChat", storyID)
}

func (s *Store) loadChatLocked(op, storyID string) ([]types.ChatMessage, error) {
	var transcript []types.ChatMessage
	if err := readJSON(s.chatPath(storyID), &transcript); err != nil {
		if os.IsNotExist(err) {
			if err := s.requireStory(op, storyID); err != nil {
				return nil, err
			}
			return []types.ChatMessage{}, nil
		}
		return nil, fault.Internal(op, err)
	}
	return transcript, nil
}
