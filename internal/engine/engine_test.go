package engine

import (
	stdctx "context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storyloom/internal/config"
	"storyloom/internal/pipeline"
	"storyloom/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Librarian.Enabled = false
	cfg.Providers.WatchReload = false

	e, err := New(cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineAssembles(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	e := newTestEngine(t)
	assert.NotNil(t, e.Store)
	assert.NotNil(t, e.Pipeline)
	assert.NotNil(t, e.Librarian)
	assert.NotNil(t, e.Providers)
	assert.Nil(t, e.Metrics, "metrics off by default")

	require.NoError(t, e.Close())
}

func TestEngineGenerateWithMockProvider(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Providers.Add(types.ProviderConfig{
		Name: "mock", Kind: types.ProviderKindMock, DefaultModel: "mock-1",
	})
	require.NoError(t, err)

	meta, err := e.Store.CreateStory("Tidewater", "")
	require.NoError(t, err)

	ch, err := e.Pipeline.Generate(stdctx.Background(), pipeline.Request{
		StoryID: meta.ID, Input: "Scene one.", SaveResult: false,
	})
	require.NoError(t, err)

	var last types.StreamEvent
	for ev := range ch {
		last = ev
	}
	assert.Equal(t, types.EventDone, last.Type)
}

func TestEngineMetricsOptIn(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Librarian.Enabled = false
	cfg.Providers.WatchReload = false

	e, err := New(cfg, Options{Metrics: true})
	require.NoError(t, err)
	defer e.Close()

	require.NotNil(t, e.Metrics)
	_, err = e.Metrics.Registry.Gather()
	assert.NoError(t, err)
}
