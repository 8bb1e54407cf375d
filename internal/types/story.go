package types

import "time"

// =============================================================================
// STORY & FOLDERS
// =============================================================================

// Settings is the per-story knob set consumed by the context builder, the
// generation pipeline, and the librarian.
type Settings struct {
	OutputFormat           string            `json:"outputFormat,omitempty"`
	EnabledPlugins         []string          `json:"enabledPlugins,omitempty"`
	SummarizationThreshold int               `json:"summarizationThreshold,omitempty"`
	MaxSteps               int               `json:"maxSteps,omitempty"`
	ProviderID             string            `json:"providerId,omitempty"`
	Model                  string            `json:"model,omitempty"`
	ContextOrderMode       string            `json:"contextOrderMode,omitempty"`
	FragmentOrder          []string          `json:"fragmentOrder,omitempty"`
	AgentPrompts           map[string]string `json:"agentPrompts,omitempty"`
}

// Context order modes. Advanced mode lets settings.FragmentOrder override
// the default ordering inside the user-role context blocks.
const (
	OrderDefault  = "default"
	OrderAdvanced = "advanced"
)

// DefaultSettings returns the settings a fresh story starts with.
func DefaultSettings() Settings {
	return Settings{
		OutputFormat:           "novel",
		SummarizationThreshold: 20,
		MaxSteps:               10,
		ContextOrderMode:       OrderDefault,
	}
}

// Normalize fills zero-valued settings with defaults so stories written by
// older builds keep working.
func (s *Settings) Normalize() {
	if s.OutputFormat == "" {
		s.OutputFormat = "novel"
	}
	if s.SummarizationThreshold <= 0 {
		s.SummarizationThreshold = 20
	}
	if s.MaxSteps <= 0 {
		s.MaxSteps = 10
	}
	if s.ContextOrderMode == "" {
		s.ContextOrderMode = OrderDefault
	}
}

// StoryMeta is the root document of one story workspace.
type StoryMeta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	FolderID    string    `json:"folderId,omitempty"`
	Settings    Settings  `json:"settings"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Folder groups stories in the picker. Folders nest by parent id.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
