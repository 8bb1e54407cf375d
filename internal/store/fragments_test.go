package store

import (
	"strings"
	"testing"
	"time"

	"storyloom/internal/fault"
	"storyloom/internal/ids"
	"storyloom/internal/types"
)

func TestCreateFragmentGeneratesID(t *testing.T) {
	s := newTestStore(t)
	meta := mkStory(t, s)

	f := mkFragment(t, s, meta.ID, types.TypeCharacter, "Mira", "Harbor pilot.")

	if !strings.HasPrefix(f.ID, "ch-") || !ids.IsPronounceable(f.ID) {
		t.Errorf("id = %q, want pronounceable ch- id", f.ID)
	}
	if f.Version != 1 || len(f.Versions) != 0 || f.Archived {
		t.Errorf("fresh fragment not normalized: %+v", f)
	}
	if f.CreatedAt.IsZero() || !f.CreatedAt.Equal(f.UpdatedAt) {
		t.Errorf("timestamps: created=%v updated=%v", f.CreatedAt, f.UpdatedAt)
	}

	got, err := s.GetFragment(meta.ID, f.ID)
	if err != nil {
		t.Fatalf("GetFragment: %v", err)
	}
	if got.Name != "Mira" || got.Content != "Harbor pilot." {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestCreateFragmentValidation(t *testing.T) {
	s := newTestStore(t)
	meta := mkStory(t, s)

	t.Run("unknown type", func(t *testing.T) {
		_, err := s.CreateFragment(meta.ID, &types.Fragment{Type: "sonnet"})
		if fault.CodeOf(err) != fault.CodeInvalidArgument {
			t.Errorf("CodeOf = %v, want InvalidArgument", fault.CodeOf(err))
		}
	})

	t.Run("oversize description", func(t *testing.T) {
		_, err := s.CreateFragment(meta.ID, &types.Fragment{
			Type:        types.TypeKnowledge,
			Description: strings.Repeat("x", types.MaxDescriptionLen+1),
		})
		if fault.CodeOf(err) != fault.CodeInvalidArgument {
			t.Errorf("CodeOf = %v, want InvalidArgument", fault.CodeOf(err))
		}
	})

	t.Run("mismatched prefix", func(t *testing.T) {
		_, err := s.CreateFragment(meta.ID, &types.Fragment{ID: "kn-bakuro", Type: types.TypeProse})
		if fault.CodeOf(err) != fault.CodeInvalidArgument {
			t.Errorf("CodeOf = %v, want InvalidArgument", fault.CodeOf(err))
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := s.CreateFragment(meta.ID, &types.Fragment{ID: "ch-dafune", Type: types.TypeCharacter, Name: "A"})
		if err != nil {
			t.Fatalf("first create: %v", err)
		}
		_, err = s.CreateFragment(meta.ID, &types.Fragment{ID: "ch-dafune", Type: types.TypeCharacter, Name: "B"})
		if fault.CodeOf(err) != fault.CodeConflict {
			t.Errorf("CodeOf = %v, want Conflict", fault.CodeOf(err))
		}
	})

	t.Run("tags normalized", func(t *testing.T) {
		f, err := s.CreateFragment(meta.ID, &types.Fragment{
			Type: types.TypeKnowledge,
			Tags: []string{"  Winter ", "winter", "HARBOR"},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if len(f.Tags) != 2 || f.Tags[0] != "winter" || f.Tags[1] != "harbor" {
			t.Errorf("Tags = %v, want [winter harbor]", f.Tags)
		}
	})
}

func TestListFragmentsFilters(t *testing.T) {
	s := newTestStore(t)
	meta := mkStory(t, s)

	mkFragment(t, s, meta.ID, types.TypeCharacter, "Mira", "")
	mkFragment(t, s, meta.ID, types.TypeKnowledge, "Pact", "")
	archived := mkFragment(t, s, meta.ID, types.TypeKnowledge, "Old Pact", "")
	if _, err := s.ArchiveFragment(meta.ID, archived.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	all, err := s.ListFragments(meta.ID, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("default list = %d fragments, want 2 (archived hidden)", len(all))
	}

	knowledge, err := s.ListFragments(meta.ID, ListOptions{Type: types.TypeKnowledge, IncludeArchived: true})
	if err != nil {
		t.Fatalf("List knowledge: %v", err)
	}
	if len(knowledge) != 2 {
		t.Errorf("knowledge list = %d, want 2", len(knowledge))
	}
	for _, f := range knowledge {
		if f.Type != types.TypeKnowledge {
			t.Errorf("type filter leaked %s", f.Type)
		}
	}

	if _, err := s.ListFragments(meta.ID, ListOptions{Type: "sonnet"}); fault.CodeOf(err) != fault.CodeInvalidArgument {
		t.Errorf("unknown type filter: CodeOf = %v, want InvalidArgument", fault.CodeOf(err))
	}
}

func TestUpdateVersionedSnapshots(t *testing.T) {
	s := newTestStore(t)
	meta := mkStory(t, s)
	f := mkFragment(t, s, meta.ID, types.TypeProse, "Opening", "The first draft.")

	got, err := s.UpdateVersioned(meta.ID, f.ID, FieldsPatch{Content: strptr("The second draft.")}, "edit")
	if err != nil {
		t.Fatalf("UpdateVersioned: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if len(got.Versions) != 1 {
		t.Fatalf("Versions len = %d, want 1", len(got.Versions))
	}
	snap := got.Versions[0]
	if snap.Version != 1 || snap.Content != "The first draft." || snap.Reason != "edit" {
		t.Errorf("snapshot = %+v, want pre-state v1", snap)
	}

	// Identical patch: plain touch, no bump.
	before := got.UpdatedAt
	time.Sleep(5 * time.Millisecond)
	same, err := s.UpdateVersioned(meta.ID, f.ID, FieldsPatch{Content: strptr("The second draft.")}, "noop")
	if err != nil {
		t.Fatalf("identical patch: %v", err)
	}
	if same.Version != 2 || len(same.Versions) != 1 {
		t.Errorf("identical patch bumped: v%d len %d", same.Version, len(same.Versions))
	}
	if !same.UpdatedAt.After(before) {
		t.Error("identical patch should still touch updatedAt")
	}

	// Name-only change bumps too.
	named, err := s.UpdateVersioned(meta.ID, f.ID, FieldsPatch{Name: strptr("Opening, Revised")}, "")
	if err != nil {
		t.Fatalf("name patch: %v", err)
	}
	if named.Version != 3 || len(named.Versions) != 2 {
		t.Errorf("name patch: v%d len %d, want v3 len 2", named.Version, len(named.Versions))
	}
}

func TestUpdateWithRunsInsideWriteLock(t *testing.T) {
	s := newTestStore(t)
	meta := mkStory(t, s)
	f := mkFragment(t, s, meta.ID, types.TypeKnowledge, "Tides", "first")

	entered := make(chan struct{})
	release := make(chan struct{})
	slowDone := make(chan error, 1)
	go func() {
		_, err := s.UpdateWith(meta.ID, f.ID, "slow edit", func(*types.Fragment) (FieldsPatch, error) {
			close(entered)
			<-release
			return FieldsPatch{Content: strptr("second")}, nil
		})
		slowDone <- err
	}()
	<-entered

	var seen string
	raceDone := make(chan error, 1)
	go func() {
		_, err := s.UpdateWith(meta.ID, f.ID, "later edit", func(cur *types.Fragment) (FieldsPatch, error) {
			seen = cur.Content
			return FieldsPatch{Content: strptr("third")}, nil
		})
		raceDone <- err
	}()

	// The second update must wait for the first to commit.
	select {
	case err := <-raceDone:
		t.Fatalf("second update ran while the first held the lock: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := <-raceDone; err != nil {
		t.Fatalf("second update: %v", err)
	}
	if seen != "second" {
		t.Errorf("second update observed %q, want committed %q", seen, "second")
	}

	final, err := s.GetFragment(meta.ID, f.ID)
	if err != nil {
		t.Fatalf("GetFragment: %v", err)
	}
	if final.Content != "third" || final.Version != 3 {
		t.Errorf("final = %q v%d, want %q v3", final.Content, final.Version, "third")
	}
}

func TestUpdateWithErrorAborts(t *testing.T) {
	s := newTestStore(t)
	meta := mkStory(t, s)
	f := mkFragment(t, s, meta.ID, types.TypeKnowledge, "Tides", "original")

	_, err := s.UpdateWith(meta.ID, f.ID, "guarded", func(*types.Fragment) (FieldsPatch, error) {
		return FieldsPatch{}, fault.Protected("test", f.ID, "fragment is locked")
	})
	if fault.CodeOf(err) != fault.CodeProtected {
		t.Fatalf("CodeOf = %v, want Protected", fault.CodeOf(err))
	}

	after, _ := s.GetFragment(meta.ID, f.ID)
	if after.Content != "original" || after.Version != 1 {
		t.Errorf("aborted update mutated fragment: %q v%d", after.Content, after.Version)
	}
}

func TestVersionHistoryCap(t *testing.T) {
	s, err := New(t.TempDir(), Options{MaxVersionHistory: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	meta := mkStory(t, s)
	f := mkFragment(t, s, meta.ID, types.TypeProse, "Opening", "v1")

	for i := 2; i <= 6; i++ {
		if _, err := s.UpdateVersioned(meta.ID, f.ID, FieldsPatch{Content: strptr("v" + string(rune('0'+i)))}, ""); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	got, _ := s.GetFragment(meta.ID, f.ID)
	if got.Version != 6 {
		t.Errorf("Version = %d, want 6", got.Version)
	}
	if len(got.Versions) != 3 {
		t.Fatalf("Versions len = %d, want capped 3", len(got.Versions))
	}
	if got.Versions[0].Version != 3 || got.Versions[2].Version != 5 {
		t.Errorf("kept snapshots %d..%d, want 3..5", got.Versions[0].Version, got.Versions[2].Version)
	}
}

func TestRevertToVersion(t *testing.T) {
	s := newTestStore(t)
	meta := mkStory(t, s)
	f := mkFragment(t, s, meta.ID, types.TypeProse, "Opening", "alpha")

	if _, err := s.UpdateVersioned(meta.ID, f.ID, FieldsPatch{Content: strptr("beta")}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateVersioned(meta.ID, f.ID, FieldsPatch{Content: strptr("gamma")}, ""); err != nil {
		t.Fatal(err)
	}

	// Explicit target.
	got, err := s.RevertToVersion(meta.ID, f.ID, 1)
	if err != nil {
		t.Fatalf("RevertToVersion: %v", err)
	}
	if got.Content != "alpha" || got.Version != 4 {
		t.Errorf("revert = v%d %q, want v4 alpha", got.Version, got.Content)
	}
	last := got.Versions[len(got.Versions)-1]
	if last.Content != "gamma" || last.Reason != "revert-to-1" {
		t.Errorf("pre-revert snapshot = %+v", last)
	}

	// Omitted target: latest prior snapshot (the gamma state).
	got, err = s.RevertToVersion(meta.ID, f.ID, 0)
	if err != nil {
		t.Fatalf("revert latest: %v", err)
	}
	if got.Content != "gamma" || got.Version != 5 {
		t.Errorf("revert latest = v%d %q, want v5 gamma", got.Version, got.Content)
	}

	if _, err := s.RevertToVersion(meta.ID, f.ID, 99); !fault.IsNotFound(err) {
		t.Errorf("missing version: want NotFound, got %v", err)
	}

	fresh := mkFragment(t, s, meta.ID, types.TypeProse, "Fresh", "no history")
	if _, err := s.RevertToVersion(meta.ID, fresh.ID, 0); !fault.IsNotFound(err) {
		t.Errorf("no history: want NotFound, got %v", err)
	}
}

func TestArchiveRestoreDelete(t *testing.T) {
	s := newTestStore(t)
	meta := mkStory(t, s)
	f := mkFragment(t, s, meta.ID, types.TypeKnowledge, "Pact", "")

	// Live delete is blocked.
	if err := s.DeleteFragment(meta.ID, f.ID); fault.CodeOf(err) != fault.CodeConflict {
		t.Errorf("live delete: CodeOf = %v, want Conflict", fault.CodeOf(err))
	}

	archived, err := s.ArchiveFragment(meta.ID, f.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if !archived.Archived {
		t.Error("Archived should be true")
	}
	// Archive does not bump version.
	if archived.Version != 1 || len(archived.Versions) != 0 {
		t.Errorf("archive changed version: v%d len %d", archived.Version, len(archived.Versions))
	}

	restored, err := s.RestoreFragment(meta.ID, f.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Archived {
		t.Error("Archived should be false after restore")
	}

	if _, err := s.ArchiveFragment(meta.ID, f.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFragment(meta.ID, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetFragment(meta.ID, f.ID); !fault.IsNotFound(err) {
		t.Errorf("after delete: want NotFound, got %v", err)
	}
}
