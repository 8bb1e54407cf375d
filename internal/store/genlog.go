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

// AppendGenerationRecord persists one generation log entry. The log is
// append-only; records are never mutated after this write.
func (s *Store) AppendGenerationRecord(storyID string, rec *types.GenerationRecord) error {
	const op = "store.AppendGenerationRecord"

	if err := s.requireStory(op, storyID); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = ids.NewLogID()
	}
	rec.StoryID = storyID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := writeJSONAtomic(s.genLogPath(storyID, rec.ID), rec); err != nil {
		return fault.Internal(op, err)
	}
	logging.StoreDebug("Appended generation record %s for story %s", rec.ID, storyID)
	return nil
}

// GetGenerationRecord loads one log entry.
func (s *Store) GetGenerationRecord(storyID, logID string) (*types.GenerationRecord, error) {
	const op = "store.GetGenerationRecord"

	rec := &types.GenerationRecord{}
	if err := readJSON(s.genLogPath(storyID, logID), rec); err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFound(op, logID)
		}
		return nil, fault.Internal(op, err)
	}
	return rec, nil
}

// ListGenerationRecords returns log entries newest first. limit > 0 keeps
// only the most recent entries.
func (s *Store) ListGenerationRecords(storyID string, limit int) ([]*types.GenerationRecord, error) {
	const op = "store.ListGenerationRecords"

	if err := s.requireStory(op, storyID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.genLogDir(storyID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.GenerationRecord{}, nil
		}
		return nil, fault.Internal(op, err)
	}

	out := make([]*types.GenerationRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec := &types.GenerationRecord{}
		if err := readJSON(s.genLogPath(storyID, strings.TrimSuffix(e.Name(), ".json")), rec); err != nil {
			logging.StoreWarn("Skipping unreadable generation record %s: %v", e.Name(), err)
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
