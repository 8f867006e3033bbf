package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"murmur/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
// Provider presets that were added after the file was written are merged in
// so a stale settings file never drops a known provider.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return domain.Settings{}, err
	}

	var cfg domain.Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, err
	}

	defaults := DefaultSettings()
	if cfg.Providers == nil {
		cfg.Providers = map[string]domain.ProviderConfig{}
	}
	for id, preset := range defaults.Providers {
		if _, ok := cfg.Providers[id]; !ok {
			cfg.Providers[id] = preset
		}
	}
	if cfg.ActiveProvider == "" {
		cfg.ActiveProvider = defaults.ActiveProvider
	}

	return cfg, nil
}

// Save writes settings as indented JSON and creates parent directories.
// The file carries API keys, so it is written with owner-only permissions.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o600)
}
