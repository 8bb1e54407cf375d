package types

import "context"

// =============================================================================
// PROVIDER - THE MODEL-FACING INTERFACE
// =============================================================================

// ToolDefinition describes one tool offered to the model. InputSchema is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Tool choice policies for a request.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// Request is one streaming model call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  string
	MaxTokens   int
	Temperature float64
}

// Provider streams one model call at a time. The returned channel is closed
// after a terminal event (done or error). Cancelling the context stops the
// call; the provider still closes the channel.
type Provider interface {
	// ID returns the stable provider id (prov-...).
	ID() string
	// Name returns the human-readable provider name.
	Name() string
	// Stream opens a model call and emits events until a terminal event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// ProviderConfig is one persisted provider entry.
type ProviderConfig struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	APIKey       string   `json:"apiKey,omitempty"`
	BaseURL      string   `json:"baseURL,omitempty"`
	DefaultModel string   `json:"defaultModel,omitempty"`
	Models       []string `json:"models,omitempty"`
}

// Provider kinds the core knows how to construct.
const (
	ProviderKindGemini = "gemini"
	ProviderKindMock   = "mock"
)

// ProvidersFile is the on-disk provider registry.
type ProvidersFile struct {
	Providers         []ProviderConfig `json:"providers"`
	DefaultProviderID string           `json:"defaultProviderId,omitempty"`
}
