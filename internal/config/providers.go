package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"storyloom/internal/types"
)

// ============================================================================
// Provider registry file (DATA_DIR/config.json)
// ============================================================================

// LoadProviders loads the provider registry. A missing file yields an empty
// registry, not an error.
func LoadProviders(path string) (*types.ProvidersFile, error) {
	pf := &types.ProvidersFile{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pf, nil
		}
		return nil, fmt.Errorf("failed to read provider registry: %w", err)
	}

	if err := json.Unmarshal(data, pf); err != nil {
		return nil, fmt.Errorf("failed to parse provider registry: %w", err)
	}

	return pf, nil
}

// SaveProviders writes the provider registry atomically (tmp then rename) so
// a concurrent hot-reload never sees a torn file.
func SaveProviders(path string, pf *types.ProvidersFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal provider registry: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write provider registry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace provider registry: %w", err)
	}

	return nil
}

// ResolveProvider picks the provider config for a story. Priority: the
// story's explicit providerId, then the registry default, then the sole
// entry if only one exists.
func ResolveProvider(pf *types.ProvidersFile, storyProviderID string) (types.ProviderConfig, bool) {
	find := func(id string) (types.ProviderConfig, bool) {
		for _, p := range pf.Providers {
			if p.ID == id {
				return p, true
			}
		}
		return types.ProviderConfig{}, false
	}

	if storyProviderID != "" {
		if p, ok := find(storyProviderID); ok {
			return p, true
		}
	}
	if pf.DefaultProviderID != "" {
		if p, ok := find(pf.DefaultProviderID); ok {
			return p, true
		}
	}
	if len(pf.Providers) == 1 {
		return pf.Providers[0], true
	}
	return types.ProviderConfig{}, false
}
