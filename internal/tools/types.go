// Package tools defines the LLM-callable tool surface: a thread-safe
// registry, the built-in fragment toolset, and the write guard that protects
// locked fragments and frozen sections from AI writers.
package tools

import (
	"context"
	"errors"
)

// Sentinel errors for registry operations.
var (
	ErrToolNameEmpty  = errors.New("tool name is empty")
	ErrToolExecuteNil = errors.New("tool has no execute function")
	ErrToolNotFound   = errors.New("tool not found")
	ErrMissingArg     = errors.New("missing required argument")
)

// Property describes one parameter in a tool's JSON schema.
type Property struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Enum        []string       `json:"enum,omitempty"`
	Items       *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes array element schemas.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines a tool's expected arguments.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc runs a tool. The result must be JSON-marshalable; it is echoed
// back to the model verbatim.
type ExecuteFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is one LLM-callable operation.
type Tool struct {
	Name        string
	Description string

	// Mutating tools pass through the write guard and are logged to the
	// audit trail.
	Mutating bool

	Execute ExecuteFunc
	Schema  Schema
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// InputSchema renders the schema as the generic JSON-schema object providers
// advertise to the model.
func (t *Tool) InputSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(t.Schema.Properties))
	for name, p := range t.Schema.Properties {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			enum := make([]interface{}, len(p.Enum))
			for i, e := range p.Enum {
				enum[i] = e
			}
			prop["enum"] = enum
		}
		if p.Items != nil {
			prop["items"] = map[string]interface{}{"type": p.Items.Type}
		}
		props[name] = prop
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(t.Schema.Required) > 0 {
		required := make([]interface{}, len(t.Schema.Required))
		for i, r := range t.Schema.Required {
			required[i] = r
		}
		schema["required"] = required
	}
	return schema
}
