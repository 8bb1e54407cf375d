package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyloom/internal/types"
)

func TestEmbeddedDefaults(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for _, agent := range []string{AgentWriter, AgentLibrarian, AgentLibrarianChat} {
		instr, ok := r.Instruction(agent)
		assert.True(t, ok, "missing embedded instruction for %s", agent)
		assert.NotEmpty(t, instr)
	}
	assert.Contains(t, r.Agents(), AgentWriter)
}

func TestStoryOverrideWins(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	settings := types.Settings{
		AgentPrompts: map[string]string{AgentWriter: "Write everything in second person."},
	}
	assert.Equal(t, "Write everything in second person.", r.For(AgentWriter, settings))

	// Blank override falls back to the registry.
	settings.AgentPrompts[AgentWriter] = "   "
	base, _ := r.Instruction(AgentWriter)
	assert.Equal(t, base, r.For(AgentWriter, settings))
}

func TestLoadDirectoryOverrides(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	dir := t.TempDir()
	corpus := `agents:
  - name: writer
    instruction: Overridden writer instruction.
  - name: editor
    instruction: A brand new agent.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "override.yaml"), []byte(corpus), 0644))

	n, err := r.LoadDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	instr, _ := r.Instruction(AgentWriter)
	assert.Equal(t, "Overridden writer instruction.", instr)
	instr, ok := r.Instruction("editor")
	assert.True(t, ok)
	assert.Equal(t, "A brand new agent.", instr)
}

func TestLoadDirectoryMissingIsNoop(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	n, err := r.LoadDirectory(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
