package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// Registry holds the tools offered to one generation request. Registration
// order is preserved for the advertised definitions; a same-name registration
// replaces the earlier tool (last registered wins) with a warning, which is
// how plugin tools may deliberately shadow built-ins.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. A name collision replaces the existing tool.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		logging.ToolsWarn("Tool %s re-registered; later registration shadows the earlier one", tool.Name)
	} else {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool

	logging.ToolsDebug("Registered tool: %s (mutating=%v)", tool.Name, tool.Mutating)
	return nil
}

// RegisterAll registers a batch, stopping at the first invalid tool.
func (r *Registry) RegisterAll(tools []*Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions renders every tool as a provider-facing definition, in
// registration order.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

// Execute runs one tool call and converts the outcome into a ToolResult.
// Execution errors never escape as Go errors: the model receives a
// structured {error, code} result so the generation stream survives a failed
// call.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()
	res := types.ToolResult{ID: call.ID, Name: call.Name}

	tool := r.Get(call.Name)
	if tool == nil {
		res.Error = fmt.Sprintf("unknown tool: %s", call.Name)
		res.Result = errorResult(fault.CodeNotFound, res.Error)
		return res
	}

	if err := validateArgs(tool, call.Input); err != nil {
		res.Error = err.Error()
		res.Result = errorResult(fault.CodeInvalidArgument, res.Error)
		return res
	}

	logging.ToolsDebug("Executing tool %s", call.Name)
	out, err := tool.Execute(ctx, call.Input)
	elapsed := time.Since(start)

	if err != nil {
		code := fault.CodeOf(err)
		res.Error = err.Error()
		res.Result = errorResult(code, err.Error())
		logging.Tools("Tool %s failed after %v: %v", call.Name, elapsed, err)
		return res
	}

	res.Result = out
	logging.ToolsDebug("Tool %s completed in %v", call.Name, elapsed)
	return res
}

// ExecuteReadOnly runs one tool call but refuses mutating tools with a
// structured Protected result, for runs that must not write anything.
func (r *Registry) ExecuteReadOnly(ctx context.Context, call types.ToolCall) types.ToolResult {
	if tool := r.Get(call.Name); tool != nil && tool.Mutating {
		res := types.ToolResult{ID: call.ID, Name: call.Name}
		res.Error = fmt.Sprintf("tool %s is unavailable on a read-only run", call.Name)
		res.Result = errorResult(fault.CodeProtected, res.Error)
		logging.Tools("Blocked mutating tool %s on read-only run", call.Name)
		return res
	}
	return r.Execute(ctx, call)
}

// errorResult is the structured error object echoed to the model.
func errorResult(code fault.Code, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": message,
		"code":  string(code),
	}
}

// validateArgs checks required arguments before execution.
func validateArgs(tool *Tool, args map[string]interface{}) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingArg, required)
		}
	}
	return nil
}
