// Package pipeline runs generation requests end to end: context build, plugin
// hooks, the provider stream with its tool loop, the tee that persists results
// while the caller consumes bytes, the prose-chain update, and the generation
// log entry.
package pipeline

import (
	"time"

	loomctx "storyloom/internal/context"
	"storyloom/internal/llm"
	"storyloom/internal/observability"
	"storyloom/internal/plugins"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

// Notifier is how the pipeline nudges the librarian after a save. Triggers
// are fire-and-forget.
type Notifier interface {
	Trigger(storyID string, fragment *types.Fragment)
}

// Options tunes the pipeline.
type Options struct {
	// MaxSteps caps tool-loop steps when the story does not override it.
	MaxSteps int

	// QueueSize is the caller event channel buffer.
	QueueSize int

	// RequestTimeout bounds one full generation run (0 = no bound).
	RequestTimeout time.Duration
}

const (
	defaultMaxSteps  = 10
	defaultQueueSize = 64
)

// Pipeline is the generation engine core.
type Pipeline struct {
	store     *store.Store
	builder   *loomctx.Builder
	plugins   *plugins.Host
	providers *llm.Registry
	librarian Notifier
	metrics   *observability.Recorder
	opts      Options
}

// New wires a pipeline. librarian and metrics may be nil.
func New(st *store.Store, builder *loomctx.Builder, host *plugins.Host,
	providers *llm.Registry, librarian Notifier,
	metrics *observability.Recorder, opts Options) *Pipeline {

	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if host == nil {
		host = plugins.NewHost()
	}
	return &Pipeline{
		store:     st,
		builder:   builder,
		plugins:   host,
		providers: providers,
		librarian: librarian,
		metrics:   metrics,
		opts:      opts,
	}
}
