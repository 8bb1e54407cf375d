package types

import "time"

// =============================================================================
// GENERATION LOG
// =============================================================================

// GenerateMode selects how a generation run is framed.
type GenerateMode string

const (
	ModeGenerate   GenerateMode = "generate"
	ModeRegenerate GenerateMode = "regenerate"
	ModeRefine     GenerateMode = "refine"
)

// ToolCallRecord captures one executed tool call for the log.
type ToolCallRecord struct {
	Call       ToolCall    `json:"call"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

// GenerationRecord is one append-only generation log entry: the full request
// context, every step's tool traffic, and the outcome.
type GenerationRecord struct {
	ID            string           `json:"id"`
	StoryID       string           `json:"storyId"`
	BranchID      string           `json:"branchId"`
	Mode          GenerateMode     `json:"mode"`
	Input         string           `json:"input,omitempty"`
	Messages      []Message        `json:"messages"`
	ToolCalls     []ToolCallRecord `json:"toolCalls,omitempty"`
	Text          string           `json:"text"`
	FragmentID    string           `json:"fragmentId,omitempty"`
	ProviderID    string           `json:"providerId"`
	Model         string           `json:"model"`
	StepCount     int              `json:"stepCount"`
	StepsExceeded bool             `json:"stepsExceeded"`
	FinishReason  string           `json:"finishReason"`
	DurationMs    int64            `json:"durationMs"`
	TokenEstimate int              `json:"tokenEstimate,omitempty"`
	Usage         *Usage           `json:"usage,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}
