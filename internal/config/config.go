package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all storyloom server configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Data root. Every story workspace lives under here.
	DataDir string `yaml:"data_dir"`

	// Plugin directory (optional; empty disables plugin loading).
	PluginDir string `yaml:"plugin_dir"`

	// Provider registry settings
	Providers ProvidersConfig `yaml:"providers"`

	// Generation pipeline settings
	Generation GenerationConfig `yaml:"generation"`

	// Context builder settings
	Context ContextConfig `yaml:"context"`

	// Librarian background analysis
	Librarian LibrarianConfig `yaml:"librarian"`

	// Version history
	Versioning VersioningConfig `yaml:"versioning"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProvidersConfig configures the model provider registry.
type ProvidersConfig struct {
	// File is the registry path relative to DataDir (or absolute).
	File string `yaml:"file"`

	// GeminiAPIKey fills providers whose config carries no key.
	GeminiAPIKey string `yaml:"gemini_api_key"`

	// WatchReload enables hot-reload of the registry file.
	WatchReload bool `yaml:"watch_reload"`

	// RequestTimeout bounds one streaming model call.
	RequestTimeout string `yaml:"request_timeout"`
}

// GenerationConfig configures the generation pipeline.
type GenerationConfig struct {
	// DefaultMaxSteps caps the tool loop when story settings don't.
	DefaultMaxSteps int `yaml:"default_max_steps"`

	// StreamQueueSize bounds the per-consumer event queue.
	StreamQueueSize int `yaml:"stream_queue_size"`
}

// ContextConfig configures shortlist sizes for the context builder.
type ContextConfig struct {
	MaxCharacters int `yaml:"max_characters"`
	MaxGuidelines int `yaml:"max_guidelines"`
	MaxKnowledge  int `yaml:"max_knowledge"`
}

// LibrarianConfig configures background analysis.
type LibrarianConfig struct {
	Enabled bool `yaml:"enabled"`

	// Debounce is the quiet period after a save before a run starts.
	Debounce string `yaml:"debounce"`

	// RunTimeout bounds one analysis run.
	RunTimeout string `yaml:"run_timeout"`
}

// VersioningConfig configures fragment version history.
type VersioningConfig struct {
	// MaxVersionHistory caps versions[] per fragment; oldest drop first.
	MaxVersionHistory int `yaml:"max_version_history"`
}

// LoggingConfig configures the category logger.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	Dir        string          `yaml:"dir"`   // relative to DataDir unless absolute
	Console    bool            `yaml:"console"`
	Audit      bool            `yaml:"audit"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "storyloom",
		Version: "0.4.0",

		DataDir:   "./data",
		PluginDir: "",

		Providers: ProvidersConfig{
			File:           "config.json",
			WatchReload:    true,
			RequestTimeout: "300s",
		},

		Generation: GenerationConfig{
			DefaultMaxSteps: 10,
			StreamQueueSize: 256,
		},

		Context: ContextConfig{
			MaxCharacters: 6,
			MaxGuidelines: 4,
			MaxKnowledge:  8,
		},

		Librarian: LibrarianConfig{
			Enabled:    true,
			Debounce:   "5s",
			RunTimeout: "120s",
		},

		Versioning: VersioningConfig{
			MaxVersionHistory: 64,
		},

		Logging: LoggingConfig{
			Level:   "info",
			Dir:     "logs",
			Console: false,
			Audit:   true,
		},
	}
}

// Load loads configuration from a YAML file, merging it over defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if dir := os.Getenv("PLUGIN_DIR"); dir != "" {
		c.PluginDir = dir
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Providers.GeminiAPIKey = key
	}
	if level := os.Getenv("LOOM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ProvidersPath resolves the provider registry file against DataDir.
func (c *Config) ProvidersPath() string {
	if filepath.IsAbs(c.Providers.File) {
		return c.Providers.File
	}
	return filepath.Join(c.DataDir, c.Providers.File)
}

// LogDir resolves the log directory against DataDir.
func (c *Config) LogDir() string {
	if filepath.IsAbs(c.Logging.Dir) {
		return c.Logging.Dir
	}
	return filepath.Join(c.DataDir, c.Logging.Dir)
}

// GetDebounce returns the librarian debounce as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Librarian.Debounce)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetRunTimeout returns the librarian run timeout as a duration.
func (c *Config) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Librarian.RunTimeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// GetRequestTimeout returns the model request timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Providers.RequestTimeout)
	if err != nil || d <= 0 {
		return 300 * time.Second
	}
	return d
}

// ValidLogLevels lists accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir not configured (set data_dir or DATA_DIR)")
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}

	if c.Generation.DefaultMaxSteps < 1 {
		return fmt.Errorf("generation.default_max_steps must be >= 1, got %d", c.Generation.DefaultMaxSteps)
	}
	if c.Generation.StreamQueueSize < 1 {
		return fmt.Errorf("generation.stream_queue_size must be >= 1, got %d", c.Generation.StreamQueueSize)
	}
	if c.Versioning.MaxVersionHistory < 1 {
		return fmt.Errorf("versioning.max_version_history must be >= 1, got %d", c.Versioning.MaxVersionHistory)
	}
	if c.Context.MaxCharacters < 0 || c.Context.MaxGuidelines < 0 || c.Context.MaxKnowledge < 0 {
		return fmt.Errorf("context shortlist sizes must be >= 0")
	}

	return nil
}
