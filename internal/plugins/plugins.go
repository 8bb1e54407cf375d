// Package plugins hosts in-process extensions. A plugin registers once at
// startup and may implement any subset of the capability interfaces: hooks
// around context building and generation, extra tools, and extra fragment
// types. There is no discovery mechanism; the embedder constructs plugins and
// hands them to the host.
package plugins

import (
	"context"
	"sync"

	loomctx "storyloom/internal/context"
	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/tools"
	"storyloom/internal/types"
)

// Plugin is the minimal contract. Capabilities are optional interfaces
// checked at registration.
type Plugin interface {
	Name() string
}

// ContextHook transforms the gathered context state before assembly.
// Returning an error aborts the generation request.
type ContextHook interface {
	BeforeContext(ctx context.Context, state *loomctx.State) (*loomctx.State, error)
}

// GenerationHook transforms the assembled message list before the provider
// call. Returning an error aborts the generation request.
type GenerationHook interface {
	BeforeGeneration(ctx context.Context, messages []types.Message) ([]types.Message, error)
}

// GenerationResult is what post-generation hooks see and may mutate before
// the text is persisted.
type GenerationResult struct {
	Text       string
	FragmentID string
	ToolCalls  []types.ToolCallRecord
}

// PostGenerationHook runs after the stream completes and before the fragment
// is saved. Errors are logged and swallowed; the mutated Text is persisted.
type PostGenerationHook interface {
	AfterGeneration(ctx context.Context, result *GenerationResult) error
}

// SaveHook runs after the fragment is persisted. Fire-and-forget: errors are
// logged and never affect the request.
type SaveHook interface {
	AfterSave(ctx context.Context, storyID string, fragment *types.Fragment)
}

// ToolProvider contributes tools to every generation in a story. Contributed
// tools may shadow built-ins by name (last registered wins).
type ToolProvider interface {
	Tools(storyID string) []*tools.Tool
}

// TypeRegistration declares a plugin-defined fragment type.
type TypeRegistration struct {
	Type   types.FragmentType
	Prefix string
}

// TypeProvider contributes fragment types with their own id prefixes.
type TypeProvider interface {
	FragmentTypes() []TypeRegistration
}

// Host holds registered plugins and runs the hook chains in registration
// order.
type Host struct {
	mu      sync.RWMutex
	plugins []Plugin
	byName  map[string]Plugin
}

// NewHost creates an empty plugin host.
func NewHost() *Host {
	return &Host{byName: make(map[string]Plugin)}
}

// Register adds a plugin. Duplicate names are rejected. Type registrations
// happen immediately; a prefix collision with a core type fails registration.
func (h *Host) Register(p Plugin) error {
	const op = "plugins.Register"
	name := p.Name()
	if name == "" {
		return fault.InvalidArgument(op, "plugin name is empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byName[name]; exists {
		return fault.Conflict(op, name, "plugin already registered")
	}

	if tp, ok := p.(TypeProvider); ok {
		for _, reg := range tp.FragmentTypes() {
			if !types.RegisterFragmentType(reg.Type, reg.Prefix) {
				return fault.Conflict(op, string(reg.Type), "fragment type or prefix already registered")
			}
			logging.Plugins("Plugin %s registered fragment type %s (prefix %s)", name, reg.Type, reg.Prefix)
		}
	}

	h.plugins = append(h.plugins, p)
	h.byName[name] = p
	logging.Plugins("Registered plugin: %s", name)
	return nil
}

// Names lists registered plugins in registration order.
func (h *Host) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.plugins))
	for i, p := range h.plugins {
		out[i] = p.Name()
	}
	return out
}

// snapshot returns the plugin list without holding the lock during hook runs.
func (h *Host) snapshot() []Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Plugin(nil), h.plugins...)
}

// RunBeforeContext chains ContextHook plugins. The first error aborts.
func (h *Host) RunBeforeContext(ctx context.Context, state *loomctx.State) (*loomctx.State, error) {
	for _, p := range h.snapshot() {
		hook, ok := p.(ContextHook)
		if !ok {
			continue
		}
		next, err := hook.BeforeContext(ctx, state)
		if err != nil {
			logging.PluginsWarn("Plugin %s beforeContext failed: %v", p.Name(), err)
			return nil, fault.Wrap("plugins.BeforeContext", err)
		}
		if next != nil {
			state = next
		}
	}
	return state, nil
}

// RunBeforeGeneration chains GenerationHook plugins. The first error aborts.
func (h *Host) RunBeforeGeneration(ctx context.Context, messages []types.Message) ([]types.Message, error) {
	for _, p := range h.snapshot() {
		hook, ok := p.(GenerationHook)
		if !ok {
			continue
		}
		next, err := hook.BeforeGeneration(ctx, messages)
		if err != nil {
			logging.PluginsWarn("Plugin %s beforeGeneration failed: %v", p.Name(), err)
			return nil, fault.Wrap("plugins.BeforeGeneration", err)
		}
		if next != nil {
			messages = next
		}
	}
	return messages, nil
}

// RunAfterGeneration chains PostGenerationHook plugins. Errors are logged and
// swallowed; the chain continues.
func (h *Host) RunAfterGeneration(ctx context.Context, result *GenerationResult) {
	for _, p := range h.snapshot() {
		hook, ok := p.(PostGenerationHook)
		if !ok {
			continue
		}
		if err := hook.AfterGeneration(ctx, result); err != nil {
			logging.PluginsWarn("Plugin %s afterGeneration failed (ignored): %v", p.Name(), err)
		}
	}
}

// RunAfterSave notifies SaveHook plugins. Panics are contained so a broken
// plugin cannot take down the pipeline.
func (h *Host) RunAfterSave(ctx context.Context, storyID string, fragment *types.Fragment) {
	for _, p := range h.snapshot() {
		hook, ok := p.(SaveHook)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.PluginsWarn("Plugin %s afterSave panicked (ignored): %v", p.Name(), r)
				}
			}()
			hook.AfterSave(ctx, storyID, fragment)
		}()
	}
}

// CollectTools gathers plugin-contributed tools for a story, in registration
// order.
func (h *Host) CollectTools(storyID string) []*tools.Tool {
	var out []*tools.Tool
	for _, p := range h.snapshot() {
		tp, ok := p.(ToolProvider)
		if !ok {
			continue
		}
		contributed := tp.Tools(storyID)
		logging.PluginsDebug("Plugin %s contributed %d tools", p.Name(), len(contributed))
		out = append(out, contributed...)
	}
	return out
}
