package store

import (
	"testing"

	"storyloom/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	return s
}

func mkStory(t *testing.T, s *Store) *types.StoryMeta {
	t.Helper()
	meta, err := s.CreateStory("The Harbor Winters", "a long winter by the sea")
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	return meta
}

func mkFragment(t *testing.T, s *Store, storyID string, typ types.FragmentType, name, content string) *types.Fragment {
	t.Helper()
	f, err := s.CreateFragment(storyID, &types.Fragment{
		Type:    typ,
		Name:    name,
		Content: content,
	})
	if err != nil {
		t.Fatalf("CreateFragment(%s %q): %v", typ, name, err)
	}
	return f
}

func strptr(s string) *string { return &s }
