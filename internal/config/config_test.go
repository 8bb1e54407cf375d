package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 10, cfg.Generation.DefaultMaxSteps)
	assert.Equal(t, 64, cfg.Versioning.MaxVersionHistory)
	assert.Equal(t, 6, cfg.Context.MaxCharacters)
	assert.Equal(t, 4, cfg.Context.MaxGuidelines)
	assert.Equal(t, 8, cfg.Context.MaxKnowledge)
	assert.Equal(t, 5*time.Second, cfg.GetDebounce())
	assert.True(t, cfg.Librarian.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Generation.StreamQueueSize, cfg.Generation.StreamQueueSize)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	yaml := `
data_dir: /srv/loom
librarian:
  debounce: 2s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/loom", cfg.DataDir)
	assert.Equal(t, 2*time.Second, cfg.GetDebounce())
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep defaults.
	assert.Equal(t, 10, cfg.Generation.DefaultMaxSteps)
	assert.Equal(t, "config.json", cfg.Providers.File)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("DATA_DIR overrides data dir", func(t *testing.T) {
		t.Setenv("DATA_DIR", "/mnt/stories")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/mnt/stories", cfg.DataDir)
	})

	t.Run("PLUGIN_DIR overrides plugin dir", func(t *testing.T) {
		t.Setenv("PLUGIN_DIR", "/opt/loom/plugins")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/opt/loom/plugins", cfg.PluginDir)
	})

	t.Run("GEMINI_API_KEY fills provider key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "g-key", cfg.Providers.GeminiAPIKey)
	})

	t.Run("LOOM_LOG_LEVEL overrides level", func(t *testing.T) {
		t.Setenv("LOOM_LOG_LEVEL", "debug")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("empty env leaves config alone", func(t *testing.T) {
		t.Setenv("DATA_DIR", "")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "./data", cfg.DataDir)
	})
}

func TestValidate(t *testing.T) {
	t.Run("empty data dir", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero max steps", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Generation.DefaultMaxSteps = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero version cap", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Versioning.MaxVersionHistory = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative shortlist", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Context.MaxKnowledge = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestDurationGettersFallBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Librarian.Debounce = "not-a-duration"
	cfg.Librarian.RunTimeout = "-3s"
	cfg.Providers.RequestTimeout = ""

	assert.Equal(t, 5*time.Second, cfg.GetDebounce())
	assert.Equal(t, 120*time.Second, cfg.GetRunTimeout())
	assert.Equal(t, 300*time.Second, cfg.GetRequestTimeout())
}

func TestPathResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/srv/loom"

	assert.Equal(t, filepath.Join("/srv/loom", "config.json"), cfg.ProvidersPath())
	assert.Equal(t, filepath.Join("/srv/loom", "logs"), cfg.LogDir())

	cfg.Providers.File = "/etc/loom/providers.json"
	cfg.Logging.Dir = "/var/log/loom"
	assert.Equal(t, "/etc/loom/providers.json", cfg.ProvidersPath())
	assert.Equal(t, "/var/log/loom", cfg.LogDir())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "loom.yaml")

	cfg := DefaultConfig()
	cfg.DataDir = "/srv/loom"
	cfg.Context.MaxKnowledge = 12
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/loom", got.DataDir)
	assert.Equal(t, 12, got.Context.MaxKnowledge)
}
