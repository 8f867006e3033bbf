package config

import (
	"os"
	"path/filepath"
	"testing"

	"murmur/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.ActiveProvider != "groq" {
		t.Fatalf("active provider = %q, want groq", cfg.ActiveProvider)
	}
	if _, ok := cfg.Providers["openai"]; !ok {
		t.Fatal("expected openai provider preset")
	}
	if cfg.Active().BaseURL == "" {
		t.Fatal("expected non-empty base URL for active provider")
	}
	if cfg.Active().APIKey != "" {
		t.Fatal("presets must not ship an API key")
	}
	if !cfg.HistoryEnabled {
		t.Fatal("history should be enabled by default")
	}
	if cfg.Prompt.Enabled {
		t.Fatal("post-processing should be disabled by default")
	}
	if cfg.Prompt.Prompt == "" {
		t.Fatal("expected a default prompt text")
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ActiveProvider != "groq" {
		t.Fatalf("active provider = %q, want groq", got.ActiveProvider)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := DefaultSettings()
	want.ActiveProvider = "openai"
	provider := want.Providers["openai"]
	provider.APIKey = "sk-test"
	want.Providers["openai"] = provider
	want.Prompt = domain.PromptSettings{Enabled: true, Prompt: "rewrite formally"}
	want.HistoryEnabled = false

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ActiveProvider != "openai" {
		t.Fatalf("active provider = %q, want openai", got.ActiveProvider)
	}
	if got.Providers["openai"].APIKey != "sk-test" {
		t.Fatalf("api key = %q, want sk-test", got.Providers["openai"].APIKey)
	}
	if got.Prompt != want.Prompt {
		t.Fatalf("prompt = %+v, want %+v", got.Prompt, want.Prompt)
	}
	if got.HistoryEnabled {
		t.Fatal("history toggle should persist as disabled")
	}
}

// TestJSONStoreSaveUsesOwnerOnlyPermissions checks API keys are not world-readable.
func TestJSONStoreSaveUsesOwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewJSONStore(path)

	if err := store.Save(DefaultSettings()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

// TestJSONStoreLoadMergesNewProviderPresets checks stale files gain new presets.
func TestJSONStoreLoadMergesNewProviderPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	legacy := `{"activeProvider":"groq","providers":{"groq":{"apiKey":"k","baseUrl":"https://api.groq.com/openai/v1","model":"whisper-large-v3"}}}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := got.Providers["openai"]; !ok {
		t.Fatal("expected openai preset merged into legacy settings")
	}
	if got.Providers["groq"].APIKey != "k" {
		t.Fatalf("existing key lost: %+v", got.Providers["groq"])
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}
