package librarian

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storyloom/internal/store"
	"storyloom/internal/types"
)

type fakeAnalyst struct {
	mu    sync.Mutex
	runs  int
	delay time.Duration
	err   error
	out   types.Analysis
}

func (f *fakeAnalyst) Analyze(ctx context.Context, storyID string) (*types.Analysis, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := f.out
	return &out, nil
}

func (f *fakeAnalyst) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func newTestScheduler(t *testing.T, analyst Analyst, debounce time.Duration) (*Scheduler, *store.Store, string) {
	t.Helper()
	st, err := store.New(t.TempDir(), store.Options{})
	require.NoError(t, err)
	meta, err := st.CreateStory("Tidewater", "")
	require.NoError(t, err)
	s := NewScheduler(st, analyst, Options{Debounce: debounce})
	t.Cleanup(s.Close)
	return s, st, meta.ID
}

func addPassage(t *testing.T, st *store.Store, storyID, content string) *types.Fragment {
	t.Helper()
	f, err := st.CreateFragment(storyID, &types.Fragment{Type: types.TypeProse, Name: "p", Content: content})
	require.NoError(t, err)
	_, err = st.AddSection(storyID, f.ID)
	require.NoError(t, err)
	return f
}

func TestDebounceCoalescesTriggers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	analyst := &fakeAnalyst{out: types.Analysis{Summary: "so far"}}
	s, st, storyID := newTestScheduler(t, analyst, 50*time.Millisecond)
	addPassage(t, st, storyID, "One.")

	// Three rapid saves coalesce into one run.
	s.Trigger(storyID, nil)
	s.Trigger(storyID, nil)
	s.Trigger(storyID, nil)

	state, err := st.LoadLibrarianState(storyID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, state.Observed())

	require.Eventually(t, func() bool {
		state, err := st.LoadLibrarianState(storyID)
		return err == nil && state.Observed() == string(types.RunIdle) && state.LastRunAt != nil
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, analyst.count())

	analyses, err := st.ListAnalyses(storyID)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, "so far", analyses[0].Summary)
	assert.Equal(t, 1, analyses[0].ChainLength)
}

func TestTriggerDuringRunRequeues(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	analyst := &fakeAnalyst{delay: 100 * time.Millisecond, out: types.Analysis{Summary: "s"}}
	s, st, storyID := newTestScheduler(t, analyst, 10*time.Millisecond)
	addPassage(t, st, storyID, "One.")

	s.Trigger(storyID, nil)
	require.Eventually(t, func() bool {
		state, err := st.LoadLibrarianState(storyID)
		return err == nil && state.RunStatus == types.RunRunning
	}, 2*time.Second, 5*time.Millisecond)

	// A save lands while the run is in flight.
	s.Trigger(storyID, nil)

	require.Eventually(t, func() bool {
		return analyst.count() == 2
	}, 3*time.Second, 10*time.Millisecond, "pending flag re-queues a second run")
}

func TestRunErrorRecorded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	analyst := &fakeAnalyst{err: errors.New("model unreachable")}
	s, st, storyID := newTestScheduler(t, analyst, 10*time.Millisecond)
	addPassage(t, st, storyID, "One.")

	s.Trigger(storyID, nil)
	require.Eventually(t, func() bool {
		state, err := st.LoadLibrarianState(storyID)
		return err == nil && state.RunStatus == types.RunError
	}, 2*time.Second, 10*time.Millisecond)

	state, err := st.LoadLibrarianState(storyID)
	require.NoError(t, err)
	assert.Contains(t, state.LastError, "model unreachable")

	// Error state stays re-triggerable.
	analyst.mu.Lock()
	analyst.err = nil
	analyst.mu.Unlock()
	s.Trigger(storyID, nil)
	require.Eventually(t, func() bool {
		state, err := st.LoadLibrarianState(storyID)
		return err == nil && state.RunStatus == types.RunIdle && state.LastError == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAnnotationsWrittenWithoutVersionBump(t *testing.T) {
	s, st, storyID := newTestScheduler(t, nil, time.Hour)
	f := addPassage(t, st, storyID, "The ice came in October.")

	analyst := &fakeAnalyst{out: types.Analysis{
		Summary:     "s",
		Annotations: []types.Annotation{{FragmentID: f.ID, Note: "strong opening"}},
	}}
	s.analyst = analyst

	_, err := s.RunNow(context.Background(), storyID)
	require.NoError(t, err)

	after, err := st.GetFragment(storyID, f.ID)
	require.NoError(t, err)
	notes, ok := types.GetStringSlice(after.Meta, types.MetaAnnotations)
	require.True(t, ok)
	assert.Equal(t, []string{"strong opening"}, notes)
	assert.Equal(t, f.Version, after.Version, "annotation write takes no version snapshot")
}

func TestAcceptSuggestion(t *testing.T) {
	s, st, storyID := newTestScheduler(t, &fakeAnalyst{out: types.Analysis{
		Summary: "s",
		KnowledgeSuggestions: []types.KnowledgeSuggestion{
			{Title: "The Lighthouse", Content: "Automated in 1969.", Tags: []string{"landmark"}},
		},
	}}, time.Hour)
	addPassage(t, st, storyID, "One.")

	analysis, err := s.RunNow(context.Background(), storyID)
	require.NoError(t, err)

	created, err := AcceptSuggestion(st, storyID, analysis.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TypeKnowledge, created.Type)
	assert.Equal(t, "The Lighthouse", created.Name)
	assert.Equal(t, "librarian", created.Meta[types.MetaSource])

	after, err := st.GetAnalysis(storyID, analysis.ID)
	require.NoError(t, err)
	assert.True(t, after.KnowledgeSuggestions[0].Accepted)
	assert.Equal(t, created.ID, after.KnowledgeSuggestions[0].CreatedFragmentID)

	// Double accept is a conflict.
	_, err = AcceptSuggestion(st, storyID, analysis.ID, 0)
	require.Error(t, err)

	// Out-of-range index.
	_, err = AcceptSuggestion(st, storyID, analysis.ID, 7)
	require.Error(t, err)
}

func TestParseAnalysisFences(t *testing.T) {
	text := "```json\n{\"summary\":\"a cold season\",\"directions\":[\"slow down\"]," +
		"\"knowledgeSuggestions\":[{\"title\":\"T\",\"content\":\"C\",\"tags\":[\"x\"]}]," +
		"\"annotations\":[{\"fragmentId\":\"pr-bokura\",\"note\":\"n\"}]}\n```"

	analysis, err := parseAnalysis(text)
	require.NoError(t, err)
	assert.Equal(t, "a cold season", analysis.Summary)
	assert.Equal(t, []string{"slow down"}, analysis.Directions)
	require.Len(t, analysis.KnowledgeSuggestions, 1)
	require.Len(t, analysis.Annotations, 1)
	assert.Equal(t, "pr-bokura", analysis.Annotations[0].FragmentID)

	_, err = parseAnalysis("not json at all")
	require.Error(t, err)
}
