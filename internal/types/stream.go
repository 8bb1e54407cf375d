package types

// =============================================================================
// STREAM EVENTS - THE GENERATION WIRE FORMAT
// =============================================================================

// EventType discriminates stream events.
type EventType string

const (
	EventText                EventType = "text"
	EventReasoning           EventType = "reasoning"
	EventToolCall            EventType = "tool-call"
	EventToolResult          EventType = "tool-result"
	EventPrewriterText       EventType = "prewriter-text"
	EventPrewriterDirections EventType = "prewriter-directions"
	EventPhase               EventType = "phase"
	EventError               EventType = "error"
	EventDone                EventType = "done"
)

// Generation phases reported through EventPhase.
const (
	PhaseContext    = "context"
	PhasePrewriter  = "prewriter"
	PhaseGenerating = "generating"
	PhaseTools      = "tools"
	PhaseSaving     = "saving"
)

// ToolCall is a model request to invoke one tool.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolResult is the outcome of one tool call, echoed back to the model.
type ToolResult struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Usage is the provider-reported token accounting of one call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Finish reasons carried on the done event.
const (
	FinishStop          = "stop"
	FinishToolUse       = "tool-use"
	FinishLength        = "length"
	FinishCancelled     = "cancelled"
	FinishStepsExceeded = "steps-exceeded"
	FinishError         = "error"
)

// StreamEvent is one unit of generation output. Text-bearing events carry
// Text; tool events carry ToolCall/ToolResult; done carries FinishReason and
// optionally Usage; error carries Err (process-internal, never serialized).
type StreamEvent struct {
	Type         EventType   `json:"type"`
	Text         string      `json:"text,omitempty"`
	ToolCall     *ToolCall   `json:"toolCall,omitempty"`
	ToolResult   *ToolResult `json:"toolResult,omitempty"`
	FinishReason string      `json:"finishReason,omitempty"`
	Usage        *Usage      `json:"usage,omitempty"`
	Err          error       `json:"-"`
}

// TextEvent builds a text event.
func TextEvent(s string) StreamEvent { return StreamEvent{Type: EventText, Text: s} }

// PhaseEvent builds a phase transition event.
func PhaseEvent(phase string) StreamEvent { return StreamEvent{Type: EventPhase, Text: phase} }

// ErrorEvent builds an error event.
func ErrorEvent(err error) StreamEvent {
	ev := StreamEvent{Type: EventError, Err: err}
	if err != nil {
		ev.Text = err.Error()
	}
	return ev
}

// DoneEvent builds a terminal done event.
func DoneEvent(reason string, usage *Usage) StreamEvent {
	return StreamEvent{Type: EventDone, FinishReason: reason, Usage: usage}
}
