// Package prompts holds the base instructions of every agent. Defaults are
// baked into the binary with go:embed; a directory of YAML files can override
// them at startup, and a story's settings.agentPrompts override both per
// request.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// Agent names the core ships instructions for.
const (
	AgentWriter        = "writer"
	AgentLibrarian     = "librarian"
	AgentLibrarianChat = "librarian-chat"
)

// corpusFile is the YAML shape of one instruction file.
type corpusFile struct {
	Agents []struct {
		Name        string `yaml:"name"`
		Instruction string `yaml:"instruction"`
	} `yaml:"agents"`
}

//go:embed defaults
var embeddedDefaults embed.FS

// Registry maps agent names to their base instructions.
type Registry struct {
	mu           sync.RWMutex
	instructions map[string]string
}

// NewRegistry loads the embedded default corpus.
func NewRegistry() (*Registry, error) {
	r := &Registry{instructions: make(map[string]string)}

	err := fs.WalkDir(embeddedDefaults, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		data, err := embeddedDefaults.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded corpus %s: %w", path, err)
		}
		_, err = r.mergeCorpus(path, data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded instruction corpus: %w", err)
	}

	logging.ConfigDebug("Loaded %d embedded agent instructions", len(r.instructions))
	return r, nil
}

// LoadDirectory merges YAML override files over the current instructions.
// Returns the number of agents overridden. A missing directory is a no-op.
func (r *Registry) LoadDirectory(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}

	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		merged, err := r.mergeCorpus(path, data)
		if err != nil {
			logging.Get(logging.CategoryConfig).Warn("Skipping instruction file %s: %v", path, err)
			return nil
		}
		count += merged
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to walk instruction directory %s: %w", dir, err)
	}
	if count > 0 {
		logging.Config("Loaded instruction overrides from %s", dir)
	}
	return count, nil
}

func (r *Registry) mergeCorpus(path string, data []byte) (int, error) {
	var cf corpusFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := 0
	for _, a := range cf.Agents {
		name := strings.TrimSpace(a.Name)
		if name == "" || strings.TrimSpace(a.Instruction) == "" {
			continue
		}
		r.instructions[name] = strings.TrimSpace(a.Instruction)
		merged++
	}
	return merged, nil
}

// Set installs or replaces one agent's instruction at runtime.
func (r *Registry) Set(agent, instruction string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructions[agent] = instruction
}

// Instruction returns the registered base instruction for an agent.
func (r *Registry) Instruction(agent string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.instructions[agent]
	return s, ok
}

// For resolves the effective instruction for an agent under the given story
// settings: the story's agentPrompts override wins over the registry.
func (r *Registry) For(agent string, settings types.Settings) string {
	if override, ok := settings.AgentPrompts[agent]; ok && strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override)
	}
	s, _ := r.Instruction(agent)
	return s
}

// Agents lists the registered agent names, sorted.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instructions))
	for name := range r.instructions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
