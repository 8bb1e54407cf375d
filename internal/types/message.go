package types

// =============================================================================
// MESSAGES - MODEL CONVERSATION UNITS
// =============================================================================

// Role is the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Source tags label which context block produced a message. They never reach
// the provider; they exist for logs and debugging.
const (
	TagInstructions    = "instructions"
	TagSystemFragments = "system-fragments"
	TagSummary         = "summary"
	TagCharacters      = "characters"
	TagGuidelines      = "guidelines"
	TagKnowledge       = "knowledge"
	TagProse           = "prose"
	TagDirections      = "directions"
	TagInput           = "input"
)

// Message is one turn of the assembled model conversation. Tool-loop turns
// additionally carry the structured calls (assistant) or result (tool) so
// providers can render them in their native wire shape.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	SourceTag  string      `json:"sourceTag,omitempty"`
	ToolCalls  []ToolCall  `json:"toolCalls,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}
