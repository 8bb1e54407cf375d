package types

import "time"

// =============================================================================
// LIBRARIAN - ANALYSIS ARTIFACTS AND RUN STATE
// =============================================================================

// RunStatus is the librarian's persisted run state for one story.
type RunStatus string

const (
	RunIdle    RunStatus = "idle"
	RunRunning RunStatus = "running"
	RunError   RunStatus = "error"
)

// StatusQueued is the derived observable state: idle with a pending request.
// It is never persisted.
const StatusQueued = "queued"

// LibrarianState is persisted per story under librarian/state.json.
type LibrarianState struct {
	RunStatus      RunStatus  `json:"runStatus"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastDurationMs int64      `json:"lastDurationMs,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	QueuedSince    *time.Time `json:"queuedSince,omitempty"`
}

// Observed returns the externally visible status, deriving queued from an
// idle state with a pending request.
func (s LibrarianState) Observed() string {
	if s.RunStatus == RunIdle && s.QueuedSince != nil {
		return StatusQueued
	}
	return string(s.RunStatus)
}

// KnowledgeSuggestion is a librarian-proposed knowledge fragment. Accepting
// it creates the fragment and records the id.
type KnowledgeSuggestion struct {
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	Tags              []string `json:"tags,omitempty"`
	Accepted          bool     `json:"accepted"`
	CreatedFragmentID string   `json:"createdFragmentId,omitempty"`
}

// Annotation is a librarian note attached to one fragment.
type Annotation struct {
	FragmentID string `json:"fragmentId"`
	Note       string `json:"note"`
}

// Analysis is one librarian run result, persisted under librarian/analyses/.
type Analysis struct {
	ID                   string                `json:"id"`
	CreatedAt            time.Time             `json:"createdAt"`
	Summary              string                `json:"summary"`
	Directions           []string              `json:"directions,omitempty"`
	KnowledgeSuggestions []KnowledgeSuggestion `json:"knowledgeSuggestions,omitempty"`
	Annotations          []Annotation          `json:"annotations,omitempty"`
	ChainLength          int                   `json:"chainLength"`
	LastFragmentID       string                `json:"lastFragmentId,omitempty"`
}

// ChatMessage is one turn of the librarian chat transcript.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
