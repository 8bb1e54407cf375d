package pipeline

import (
	stdctx "context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	loomctx "storyloom/internal/context"
	"storyloom/internal/fault"
	"storyloom/internal/llm"
	"storyloom/internal/plugins"
	"storyloom/internal/prompts"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

type triggerSpy struct {
	mu       sync.Mutex
	storyIDs []string
}

func (s *triggerSpy) Trigger(storyID string, _ *types.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storyIDs = append(s.storyIDs, storyID)
}

func (s *triggerSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.storyIDs)
}

type fixture struct {
	pipeline *Pipeline
	store    *store.Store
	mock     *llm.MockProvider
	spy      *triggerSpy
	storyID  string
}

func newFixture(t *testing.T, host *plugins.Host, scripts ...[]types.StreamEvent) *fixture {
	t.Helper()

	st, err := store.New(t.TempDir(), store.Options{})
	require.NoError(t, err)
	meta, err := st.CreateStory("Tidewater", "")
	require.NoError(t, err)

	reg, err := prompts.NewRegistry()
	require.NoError(t, err)

	mock := llm.NewMock("prov-mock", "mock", scripts...)
	providers, err := llm.NewRegistry(filepath.Join(t.TempDir(), "config.json"), llm.Options{
		Factory: func(types.ProviderConfig) (types.Provider, error) { return mock, nil },
	})
	require.NoError(t, err)
	_, err = providers.Add(types.ProviderConfig{Name: "mock", Kind: types.ProviderKindMock, DefaultModel: "mock-1"})
	require.NoError(t, err)

	spy := &triggerSpy{}
	p := New(st, loomctx.NewBuilder(st, reg, loomctx.Limits{}), host, providers, spy, nil, Options{})
	return &fixture{pipeline: p, store: st, mock: mock, spy: spy, storyID: meta.ID}
}

func collect(t *testing.T, ch <-chan types.StreamEvent) []types.StreamEvent {
	t.Helper()
	var events []types.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func textOf(events []types.StreamEvent) string {
	out := ""
	for _, ev := range events {
		if ev.Type == types.EventText {
			out += ev.Text
		}
	}
	return out
}

func TestGenerateFreshAppendsChain(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	fx := newFixture(t, nil, []types.StreamEvent{
		types.TextEvent("The ice came "),
		types.TextEvent("in October."),
		types.DoneEvent(types.FinishStop, &types.Usage{InputTokens: 10, OutputTokens: 5}),
	})

	ch, err := fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "Scene one.", Mode: types.ModeGenerate, SaveResult: true,
	})
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, "The ice came in October.", textOf(events))
	last := events[len(events)-1]
	assert.Equal(t, types.EventDone, last.Type)
	assert.Equal(t, types.FinishStop, last.FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 5, last.Usage.OutputTokens)

	prose, err := fx.store.ListFragments(fx.storyID, store.ListOptions{Type: types.TypeProse})
	require.NoError(t, err)
	require.Len(t, prose, 1)
	assert.Equal(t, "Scene one.", prose[0].Meta[types.MetaGeneratedFrom])
	assert.Equal(t, "generate", prose[0].Meta[types.MetaGenerationMode])

	chain, err := fx.store.GetChain(fx.storyID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, prose[0].ID, chain[0].Active)

	recs, err := fx.store.ListGenerationRecords(fx.storyID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, prose[0].ID, recs[0].FragmentID)
	assert.Equal(t, 1, recs[0].StepCount)
	assert.False(t, recs[0].StepsExceeded)

	assert.Equal(t, 1, fx.spy.count(), "librarian triggered once")
}

func TestRegenerateAddsVariation(t *testing.T) {
	fx := newFixture(t, nil, []types.StreamEvent{
		types.TextEvent("A colder retelling."),
		types.DoneEvent(types.FinishStop, nil),
	})

	src, err := fx.store.CreateFragment(fx.storyID, &types.Fragment{
		Type: types.TypeProse, Name: "Opening", Content: "It was cold.", Tags: []string{"opening"},
	})
	require.NoError(t, err)
	_, err = fx.store.AddSection(fx.storyID, src.ID)
	require.NoError(t, err)

	ch, err := fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "Try again.", Mode: types.ModeRegenerate,
		FragmentID: src.ID, SaveResult: true,
	})
	require.NoError(t, err)
	collect(t, ch)

	chain, err := fx.store.GetChain(fx.storyID)
	require.NoError(t, err)
	require.Len(t, chain, 1, "variation added to the existing section")
	require.Len(t, chain[0].ProseFragments, 2)

	newID := chain[0].Active
	assert.NotEqual(t, src.ID, newID)

	created, err := fx.store.GetFragment(fx.storyID, newID)
	require.NoError(t, err)
	assert.Equal(t, "Opening", created.Name, "name inherited")
	assert.Equal(t, []string{"opening"}, created.Tags)
	assert.Equal(t, src.ID, created.Meta[types.MetaVariationOf])
	assert.Equal(t, src.ID, created.Meta[types.MetaPreviousFragmentID])
}

func TestGenerateToolLoop(t *testing.T) {
	fx := newFixture(t, nil,
		[]types.StreamEvent{
			{Type: types.EventToolCall, ToolCall: &types.ToolCall{ID: "c1", Name: "searchFragmentsByType", Input: map[string]interface{}{"type": "character"}}},
			types.DoneEvent(types.FinishToolUse, nil),
		},
		[]types.StreamEvent{
			types.TextEvent("Mara watched the harbor."),
			types.DoneEvent(types.FinishStop, nil),
		},
	)
	_, err := fx.store.CreateFragment(fx.storyID, &types.Fragment{Type: types.TypeCharacter, Name: "Mara", Content: "Pilot."})
	require.NoError(t, err)

	ch, err := fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "Continue.", SaveResult: true,
	})
	require.NoError(t, err)
	events := collect(t, ch)

	var sawCall, sawResult bool
	for _, ev := range events {
		if ev.Type == types.EventToolCall {
			sawCall = true
		}
		if ev.Type == types.EventToolResult {
			sawResult = true
			assert.Empty(t, ev.ToolResult.Error)
		}
	}
	assert.True(t, sawCall)
	assert.True(t, sawResult)

	// The second model call carries the assistant tool call and the tool
	// result back to the provider.
	reqs := fx.mock.Requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Messages
	var sawAssistantCall, sawToolMsg bool
	for _, m := range second {
		if m.Role == types.RoleAssistant && len(m.ToolCalls) == 1 {
			sawAssistantCall = true
		}
		if m.Role == types.RoleTool && m.ToolResult != nil {
			sawToolMsg = true
		}
	}
	assert.True(t, sawAssistantCall)
	assert.True(t, sawToolMsg)

	recs, err := fx.store.ListGenerationRecords(fx.storyID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].StepCount)
	require.Len(t, recs[0].ToolCalls, 1)
	assert.Equal(t, "searchFragmentsByType", recs[0].ToolCalls[0].Call.Name)
}

func TestGenerateStepsExceeded(t *testing.T) {
	fx := newFixture(t, nil, []types.StreamEvent{
		{Type: types.EventToolCall, ToolCall: &types.ToolCall{ID: "c1", Name: "searchFragmentsByType", Input: map[string]interface{}{"type": "character"}}},
		types.DoneEvent(types.FinishToolUse, nil),
	})
	_, err := fx.store.UpdateStory(fx.storyID, func(m *types.StoryMeta) error {
		m.Settings.MaxSteps = 1
		return nil
	})
	require.NoError(t, err)

	ch, err := fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "Continue.", SaveResult: true,
	})
	require.NoError(t, err)
	collect(t, ch)

	assert.Equal(t, 1, fx.mock.Calls(), "no new step past the cap")
	recs, err := fx.store.ListGenerationRecords(fx.storyID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].StepsExceeded)
	assert.Equal(t, types.FinishToolUse, recs[0].FinishReason)
}

func TestGenerateNoSaveIsReadOnly(t *testing.T) {
	fx := newFixture(t, nil, []types.StreamEvent{
		types.TextEvent("Ephemeral."),
		types.DoneEvent(types.FinishStop, nil),
	})

	ch, err := fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "Sketch something.", SaveResult: false,
	})
	require.NoError(t, err)
	events := collect(t, ch)
	assert.Equal(t, "Ephemeral.", textOf(events))
	for _, ev := range events {
		switch ev.Type {
		case types.EventText, types.EventDone:
		default:
			t.Errorf("non-text event %s forwarded on read-only run", ev.Type)
		}
	}

	prose, err := fx.store.ListFragments(fx.storyID, store.ListOptions{Type: types.TypeProse})
	require.NoError(t, err)
	assert.Empty(t, prose)
	recs, err := fx.store.ListGenerationRecords(fx.storyID, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 0, fx.spy.count())
}

func TestGenerateNoSaveBlocksMutatingTools(t *testing.T) {
	fx := newFixture(t, nil,
		[]types.StreamEvent{
			{Type: types.EventToolCall, ToolCall: &types.ToolCall{
				ID: "c1", Name: "createFragment",
				Input: map[string]interface{}{"type": "knowledge", "name": "Leak", "content": "should not land"},
			}},
			types.DoneEvent(types.FinishToolUse, nil),
		},
		[]types.StreamEvent{
			types.TextEvent("Nothing written."),
			types.DoneEvent(types.FinishStop, nil),
		},
	)

	ch, err := fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "Sketch something.", SaveResult: false,
	})
	require.NoError(t, err)
	events := collect(t, ch)

	for _, ev := range events {
		switch ev.Type {
		case types.EventText, types.EventDone:
		default:
			t.Errorf("non-text event %s forwarded on read-only run", ev.Type)
		}
	}

	knowledge, err := fx.store.ListFragments(fx.storyID, store.ListOptions{Type: types.TypeKnowledge})
	require.NoError(t, err)
	assert.Empty(t, knowledge, "mutating tool executed on read-only run")

	// The model still hears about the refusal so the loop can recover.
	reqs := fx.mock.Requests()
	require.Len(t, reqs, 2)
	var toolMsg *types.ToolResult
	for _, m := range reqs[1].Messages {
		if m.Role == types.RoleTool && m.ToolResult != nil {
			toolMsg = m.ToolResult
		}
	}
	require.NotNil(t, toolMsg)
	assert.NotEmpty(t, toolMsg.Error)
}

func TestGenerateValidation(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.pipeline.Generate(stdctx.Background(), Request{StoryID: fx.storyID, Input: "   "})
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))

	_, err = fx.pipeline.Generate(stdctx.Background(), Request{StoryID: fx.storyID, Input: "x", Mode: "remix"})
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))

	_, err = fx.pipeline.Generate(stdctx.Background(), Request{StoryID: fx.storyID, Input: "x", Mode: types.ModeRegenerate})
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))

	_, err = fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "x", Mode: types.ModeRegenerate, FragmentID: "pr-mizzing",
	})
	assert.True(t, fault.IsNotFound(err))

	_, err = fx.pipeline.Generate(stdctx.Background(), Request{StoryID: "story-none", Input: "x"})
	assert.True(t, fault.IsNotFound(err))
}

func TestGenerateProviderErrorNoPersist(t *testing.T) {
	fx := newFixture(t, nil, []types.StreamEvent{
		types.TextEvent("Half a thought"),
		types.ErrorEvent(fault.Unavailable("llm", assert.AnError)),
	})

	ch, err := fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "Continue.", SaveResult: true,
	})
	require.NoError(t, err)
	events := collect(t, ch)

	last := events[len(events)-1]
	assert.Equal(t, types.EventError, last.Type)

	prose, err := fx.store.ListFragments(fx.storyID, store.ListOptions{Type: types.TypeProse})
	require.NoError(t, err)
	assert.Empty(t, prose, "mid-stream failure persists nothing")
}

func TestGenerateCallerCancelStillPersists(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	fx := newFixture(t, nil, []types.StreamEvent{
		types.TextEvent("One."),
		types.TextEvent("Two."),
		types.DoneEvent(types.FinishStop, nil),
	})

	ctx, cancel := stdctx.WithCancel(stdctx.Background())
	ch, err := fx.pipeline.Generate(ctx, Request{
		StoryID: fx.storyID, Input: "Scene.", SaveResult: true,
	})
	require.NoError(t, err)

	// The caller walks away immediately.
	cancel()
	for range ch {
	}

	require.Eventually(t, func() bool {
		prose, err := fx.store.ListFragments(fx.storyID, store.ListOptions{Type: types.TypeProse})
		return err == nil && len(prose) == 1
	}, 2*time.Second, 10*time.Millisecond, "accumulator runs to natural end")
}

func TestGeneratePluginHooks(t *testing.T) {
	host := plugins.NewHost()
	require.NoError(t, host.Register(&rewritePlugin{}))

	fx := newFixture(t, host, []types.StreamEvent{
		types.TextEvent("draft"),
		types.DoneEvent(types.FinishStop, nil),
	})

	ch, err := fx.pipeline.Generate(stdctx.Background(), Request{
		StoryID: fx.storyID, Input: "Scene.", SaveResult: true,
	})
	require.NoError(t, err)
	collect(t, ch)

	prose, err := fx.store.ListFragments(fx.storyID, store.ListOptions{Type: types.TypeProse})
	require.NoError(t, err)
	require.Len(t, prose, 1)
	assert.Equal(t, "draft [reviewed]", prose[0].Content, "afterGeneration mutation persisted")
}

type rewritePlugin struct{}

func (r *rewritePlugin) Name() string { return "reviewer" }

func (r *rewritePlugin) AfterGeneration(_ stdctx.Context, result *plugins.GenerationResult) error {
	result.Text += " [reviewed]"
	return nil
}
