// Package engine assembles the full backend from config: store, prompts,
// context builder, plugin host, provider registry, librarian and pipeline.
// Embedders (the CLI, an HTTP layer) construct one Engine and talk to its
// components directly.
package engine

import (
	"context"
	"path/filepath"

	"storyloom/internal/config"
	loomctx "storyloom/internal/context"
	"storyloom/internal/librarian"
	"storyloom/internal/llm"
	"storyloom/internal/logging"
	"storyloom/internal/observability"
	"storyloom/internal/pipeline"
	"storyloom/internal/plugins"
	"storyloom/internal/prompts"
	"storyloom/internal/store"
)

// Options tunes engine assembly beyond config.
type Options struct {
	// Plugins to register at startup, in order.
	Plugins []plugins.Plugin

	// Metrics enables the Prometheus-backed recorder.
	Metrics bool
}

// Engine is the assembled backend.
type Engine struct {
	Config    *config.Config
	Store     *store.Store
	Prompts   *prompts.Registry
	Builder   *loomctx.Builder
	Plugins   *plugins.Host
	Providers *llm.Registry
	Analyst   *librarian.LLMAnalyst
	Librarian *librarian.Scheduler
	Pipeline  *pipeline.Pipeline
	Metrics   *observability.Setup
}

// New wires the backend. The caller owns Close.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DataDir, store.Options{MaxVersionHistory: cfg.Versioning.MaxVersionHistory})
	if err != nil {
		return nil, err
	}

	promptReg, err := prompts.NewRegistry()
	if err != nil {
		return nil, err
	}
	if cfg.PluginDir != "" {
		if n, err := promptReg.LoadDirectory(filepath.Join(cfg.PluginDir, "prompts")); err != nil {
			logging.ConfigDebug("Prompt overrides not loaded: %v", err)
		} else if n > 0 {
			logging.Config("Loaded %d prompt overrides from %s", n, cfg.PluginDir)
		}
	}

	host := plugins.NewHost()
	for _, p := range opts.Plugins {
		if err := host.Register(p); err != nil {
			return nil, err
		}
	}

	providers, err := llm.NewRegistry(cfg.ProvidersPath(), llm.Options{
		GeminiAPIKey: cfg.Providers.GeminiAPIKey,
		Watch:        cfg.Providers.WatchReload,
	})
	if err != nil {
		return nil, err
	}

	var metrics *observability.Setup
	if opts.Metrics {
		metrics, err = observability.NewPrometheus()
		if err != nil {
			providers.Close()
			return nil, err
		}
	}
	var recorder *observability.Recorder
	if metrics != nil {
		recorder = metrics.Recorder
	}

	builder := loomctx.NewBuilder(st, promptReg, loomctx.Limits{
		MaxCharacters: cfg.Context.MaxCharacters,
		MaxGuidelines: cfg.Context.MaxGuidelines,
		MaxKnowledge:  cfg.Context.MaxKnowledge,
	})

	analyst := librarian.NewLLMAnalyst(st, promptReg, providers)
	scheduler := librarian.NewScheduler(st, analyst, librarian.Options{
		Debounce:   cfg.GetDebounce(),
		RunTimeout: cfg.GetRunTimeout(),
		Metrics:    recorder,
	})

	var notifier pipeline.Notifier
	if cfg.Librarian.Enabled {
		notifier = scheduler
	}

	pipe := pipeline.New(st, builder, host, providers, notifier, recorder, pipeline.Options{
		MaxSteps:       cfg.Generation.DefaultMaxSteps,
		QueueSize:      cfg.Generation.StreamQueueSize,
		RequestTimeout: cfg.GetRequestTimeout(),
	})

	logging.Boot("Engine ready: data=%s providers=%d librarian=%v",
		cfg.DataDir, len(providers.List()), cfg.Librarian.Enabled)

	return &Engine{
		Config:    cfg,
		Store:     st,
		Prompts:   promptReg,
		Builder:   builder,
		Plugins:   host,
		Providers: providers,
		Analyst:   analyst,
		Librarian: scheduler,
		Pipeline:  pipe,
		Metrics:   metrics,
	}, nil
}

// Close drains background work and releases resources.
func (e *Engine) Close() error {
	e.Librarian.Close()
	err := e.Providers.Close()
	if e.Metrics != nil {
		if serr := e.Metrics.Shutdown(context.Background()); err == nil {
			err = serr
		}
	}
	return err
}
