package llm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storyloom/internal/config"
	"storyloom/internal/types"
)

func newTestRegistry(t *testing.T, opts Options) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if opts.Factory == nil {
		opts.Factory = func(cfg types.ProviderConfig) (types.Provider, error) {
			return NewMock(cfg.ID, cfg.Name), nil
		}
	}
	r, err := NewRegistry(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, path
}

func TestRegistryAddResolve(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	added, err := r.Add(types.ProviderConfig{Name: "main", Kind: types.ProviderKindMock, DefaultModel: "mock-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, added.ID, r.DefaultID(), "first provider becomes default")

	p, model, err := r.Resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, added.ID, p.ID())
	assert.Equal(t, "mock-1", model)

	// Story model override wins over the provider default.
	_, model, err = r.Resolve("", "mock-2")
	require.NoError(t, err)
	assert.Equal(t, "mock-2", model)
}

func TestRegistryResolveStoryOverride(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	first, err := r.Add(types.ProviderConfig{Name: "a", Kind: types.ProviderKindMock, DefaultModel: "m-a"})
	require.NoError(t, err)
	second, err := r.Add(types.ProviderConfig{Name: "b", Kind: types.ProviderKindMock, DefaultModel: "m-b"})
	require.NoError(t, err)

	p, _, err := r.Resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, p.ID(), "default provider without a story override")

	p, model, err := r.Resolve(second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, p.ID())
	assert.Equal(t, "m-b", model)
}

func TestRegistryResolveEmpty(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, _, err := r.Resolve("", "")
	assert.Error(t, err)
}

func TestRegistryRemoveClearsDefault(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	added, err := r.Add(types.ProviderConfig{Name: "x", Kind: types.ProviderKindMock, DefaultModel: "m"})
	require.NoError(t, err)

	require.NoError(t, r.Remove(added.ID))
	assert.Empty(t, r.DefaultID())
	assert.Empty(t, r.List())
	assert.Error(t, r.Remove(added.ID))
}

func TestRegistrySetDefault(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, err := r.Add(types.ProviderConfig{Name: "a", Kind: types.ProviderKindMock, DefaultModel: "m"})
	require.NoError(t, err)
	b, err := r.Add(types.ProviderConfig{Name: "b", Kind: types.ProviderKindMock, DefaultModel: "m"})
	require.NoError(t, err)

	require.NoError(t, r.SetDefault(b.ID))
	assert.Equal(t, b.ID, r.DefaultID())
	assert.Error(t, r.SetDefault("prov-missing"))
}

func TestRegistryHotReload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	r, path := newTestRegistry(t, Options{Watch: true, Debounce: 20 * time.Millisecond})
	require.Empty(t, r.List())

	// Another process rewrites the registry file.
	require.NoError(t, config.SaveProviders(path, &types.ProvidersFile{
		Providers:         []types.ProviderConfig{{ID: "prov-ext", Name: "ext", Kind: types.ProviderKindMock, DefaultModel: "m"}},
		DefaultProviderID: "prov-ext",
	}))

	require.Eventually(t, func() bool {
		return len(r.List()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "prov-ext", r.DefaultID())

	require.NoError(t, r.Close())
}

func TestMockProviderScripts(t *testing.T) {
	m := NewMock("prov-1", "mock",
		[]types.StreamEvent{
			{Type: types.EventToolCall, ToolCall: &types.ToolCall{ID: "c1", Name: "getFragment"}},
			types.DoneEvent(types.FinishToolUse, nil),
		},
		[]types.StreamEvent{
			types.TextEvent("hello"),
			types.DoneEvent(types.FinishStop, nil),
		},
	)

	ch, err := m.Stream(context.Background(), types.Request{Model: "m"})
	require.NoError(t, err)
	var events []types.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, types.EventToolCall, events[0].Type)

	ch, err = m.Stream(context.Background(), types.Request{Model: "m"})
	require.NoError(t, err)
	events = events[:0]
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "hello", events[0].Text)
	assert.Equal(t, 2, m.Calls())
}

func TestGeminiSchemaConversion(t *testing.T) {
	schema := toGenaiSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tag": map[string]interface{}{"type": "string", "description": "a tag"},
			"ids": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []interface{}{"tag"},
	})

	require.NotNil(t, schema)
	assert.EqualValues(t, "OBJECT", schema.Type)
	require.Contains(t, schema.Properties, "tag")
	assert.EqualValues(t, "STRING", schema.Properties["tag"].Type)
	require.Contains(t, schema.Properties, "ids")
	require.NotNil(t, schema.Properties["ids"].Items)
	assert.Equal(t, []string{"tag"}, schema.Required)
}

func TestBuildContentsToolLoop(t *testing.T) {
	contents, system := buildContents([]types.Message{
		{Role: types.RoleSystem, Content: "You are a writer."},
		{Role: types.RoleSystem, Content: "Keep it cold."},
		{Role: types.RoleUser, Content: "Continue the story."},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "getFragment", Input: map[string]interface{}{"id": "ch-mara"}}}},
		{Role: types.RoleTool, ToolResult: &types.ToolResult{ID: "c1", Name: "getFragment", Result: map[string]interface{}{"name": "Mara"}}},
	})

	require.NotNil(t, system)
	assert.Contains(t, system.Parts[0].Text, "You are a writer.")
	assert.Contains(t, system.Parts[0].Text, "Keep it cold.")

	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "getFragment", contents[2].Parts[0].FunctionResponse.Name)
}
