// Package llm resolves stories to model providers. It owns the provider
// registry file (DATA_DIR/config.json), builds SDK-backed provider instances
// on demand, and hot-reloads the registry when the file changes on disk.
package llm

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"storyloom/internal/config"
	"storyloom/internal/fault"
	"storyloom/internal/ids"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// Factory builds a provider instance from a registry entry. Tests install
// their own to inject mocks.
type Factory func(cfg types.ProviderConfig) (types.Provider, error)

// Options tunes the registry.
type Options struct {
	// GeminiAPIKey is the fallback key for gemini entries stored without one.
	GeminiAPIKey string

	// Watch enables fsnotify hot-reload of the registry file.
	Watch bool

	// Debounce coalesces bursts of file events. Defaults to 500ms.
	Debounce time.Duration

	// Factory overrides provider construction (tests).
	Factory Factory
}

// Registry is the runtime provider registry.
type Registry struct {
	path string
	opts Options

	mu    sync.RWMutex
	pf    *types.ProvidersFile
	cache map[string]types.Provider

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRegistry loads the registry file (missing file = empty registry) and
// optionally starts watching it.
func NewRegistry(path string, opts Options) (*Registry, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	pf, err := config.LoadProviders(path)
	if err != nil {
		return nil, fault.Internal("llm.NewRegistry", err)
	}

	r := &Registry{
		path:  path,
		opts:  opts,
		pf:    pf,
		cache: make(map[string]types.Provider),
	}

	if opts.Watch {
		if err := r.startWatch(); err != nil {
			logging.LLM("Provider registry watch disabled: %v", err)
		}
	}
	logging.LLMDebug("Provider registry loaded: %d providers, default=%s", len(pf.Providers), pf.DefaultProviderID)
	return r, nil
}

// List returns the registered provider configs.
func (r *Registry) List() []types.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.ProviderConfig(nil), r.pf.Providers...)
}

// DefaultID returns the configured default provider id.
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pf.DefaultProviderID
}

// Add registers a provider config, assigning an id when absent, and persists
// the registry. The first provider added becomes the default.
func (r *Registry) Add(cfg types.ProviderConfig) (types.ProviderConfig, error) {
	const op = "llm.Registry.Add"
	if cfg.Kind == "" {
		return cfg, fault.InvalidArgument(op, "provider kind is required")
	}
	if cfg.ID == "" {
		cfg.ID = ids.NewProviderID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pf.Providers {
		if p.ID == cfg.ID {
			return cfg, fault.Conflict(op, cfg.ID, "provider already registered")
		}
	}
	r.pf.Providers = append(r.pf.Providers, cfg)
	if r.pf.DefaultProviderID == "" {
		r.pf.DefaultProviderID = cfg.ID
	}
	if err := config.SaveProviders(r.path, r.pf); err != nil {
		return cfg, fault.Internal(op, err)
	}
	logging.LLM("Provider registered: %s (%s)", cfg.ID, cfg.Kind)
	return cfg, nil
}

// Remove deletes a provider, clearing the default if it pointed at it.
func (r *Registry) Remove(id string) error {
	const op = "llm.Registry.Remove"
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, p := range r.pf.Providers {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fault.NotFound(op, id)
	}
	r.pf.Providers = append(r.pf.Providers[:idx], r.pf.Providers[idx+1:]...)
	if r.pf.DefaultProviderID == id {
		r.pf.DefaultProviderID = ""
	}
	delete(r.cache, id)
	if err := config.SaveProviders(r.path, r.pf); err != nil {
		return fault.Internal(op, err)
	}
	return nil
}

// SetDefault marks a provider as the registry default.
func (r *Registry) SetDefault(id string) error {
	const op = "llm.Registry.SetDefault"
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for _, p := range r.pf.Providers {
		if p.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fault.NotFound(op, id)
	}
	r.pf.DefaultProviderID = id
	if err := config.SaveProviders(r.path, r.pf); err != nil {
		return fault.Internal(op, err)
	}
	return nil
}

// Resolve picks the provider and model for a story: the story's explicit
// provider id wins, then the registry default, then a sole entry. The model
// is the story's override or the provider's default.
func (r *Registry) Resolve(storyProviderID, storyModel string) (types.Provider, string, error) {
	const op = "llm.Registry.Resolve"

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := config.ResolveProvider(r.pf, storyProviderID)
	if !ok {
		return nil, "", fault.NotFound(op, storyProviderID)
	}

	model := storyModel
	if model == "" {
		model = cfg.DefaultModel
	}
	if model == "" {
		return nil, "", fault.InvalidArgument(op, "no model configured for provider "+cfg.ID)
	}

	if p, ok := r.cache[cfg.ID]; ok {
		return p, model, nil
	}
	p, err := r.build(cfg)
	if err != nil {
		return nil, "", err
	}
	r.cache[cfg.ID] = p
	return p, model, nil
}

func (r *Registry) build(cfg types.ProviderConfig) (types.Provider, error) {
	const op = "llm.Registry.build"
	if r.opts.Factory != nil {
		return r.opts.Factory(cfg)
	}
	switch cfg.Kind {
	case types.ProviderKindGemini:
		if cfg.APIKey == "" {
			cfg.APIKey = r.opts.GeminiAPIKey
		}
		return NewGemini(cfg)
	case types.ProviderKindMock:
		return NewMock(cfg.ID, cfg.Name), nil
	default:
		return nil, fault.InvalidArgument(op, "unknown provider kind: "+cfg.Kind)
	}
}

// Reload re-reads the registry file and drops cached provider instances.
func (r *Registry) Reload() error {
	pf, err := config.LoadProviders(r.path)
	if err != nil {
		return fault.Internal("llm.Registry.Reload", err)
	}
	r.mu.Lock()
	r.pf = pf
	r.cache = make(map[string]types.Provider)
	r.mu.Unlock()
	logging.LLM("Provider registry reloaded: %d providers", len(pf.Providers))
	return nil
}

// startWatch watches the registry file's directory and reloads after a quiet
// period. Watching the directory rather than the file survives the atomic
// rename writes SaveProviders performs.
func (r *Registry) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return err
	}

	r.watcher = watcher
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go func() {
		defer close(r.doneCh)
		var timer *time.Timer
		var fire <-chan time.Time
		base := filepath.Base(r.path)

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(r.opts.Debounce)
					fire = timer.C
				} else {
					timer.Reset(r.opts.Debounce)
				}
			case <-fire:
				timer = nil
				fire = nil
				if err := r.Reload(); err != nil {
					logging.LLM("Provider registry reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.LLM("Provider registry watch error: %v", err)
			case <-r.stopCh:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.stopCh)
	err := r.watcher.Close()
	<-r.doneCh
	r.watcher = nil
	return err
}
