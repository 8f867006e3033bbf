package bootstrap

import (
	"fmt"
	"strings"

	"murmur/internal/domain"
)

var providerCatalog = []domain.ProviderOption{
	{
		ID:          "groq",
		Name:        "Groq",
		BaseURL:     "https://api.groq.com/openai/v1",
		Models:      []string{"whisper-large-v3", "whisper-large-v3-turbo"},
		ChatModels:  []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"},
		KeyURL:      "https://console.groq.com/keys",
		Description: "Fast hosted Whisper with generous free tier.",
	},
	{
		ID:          "openai",
		Name:        "OpenAI",
		BaseURL:     "https://api.openai.com/v1",
		Models:      []string{"whisper-1", "gpt-4o-mini-transcribe"},
		ChatModels:  []string{"gpt-4o-mini", "gpt-4o"},
		KeyURL:      "https://platform.openai.com/api-keys",
		Description: "OpenAI hosted transcription and chat models.",
	},
}

// GetProviderOptions returns built-in provider presets for the settings UI,
// annotated with the configured and active state from saved settings.
func (a *App) GetProviderOptions() []domain.ProviderOption {
	providers := make([]domain.ProviderOption, len(providerCatalog))
	copy(providers, providerCatalog)

	settings, err := a.Store.Load()
	if err != nil {
		return providers
	}
	for i := range providers {
		if cfg, ok := settings.Providers[providers[i].ID]; ok {
			providers[i].Configured = strings.TrimSpace(cfg.APIKey) != ""
		}
		providers[i].Active = providers[i].ID == settings.ActiveProvider
	}
	return providers
}

// SelectProvider makes the given provider the active one, seeding its
// preset configuration when it has never been configured.
func (a *App) SelectProvider(providerID string) (domain.Settings, error) {
	id := strings.TrimSpace(providerID)
	if id == "" {
		return domain.Settings{}, fmt.Errorf("provider id is required")
	}

	option, found := getProviderOptionByID(id)
	if !found {
		return domain.Settings{}, fmt.Errorf("unknown provider id: %s", id)
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	if settings.Providers == nil {
		settings.Providers = map[string]domain.ProviderConfig{}
	}
	if _, ok := settings.Providers[id]; !ok {
		settings.Providers[id] = domain.ProviderConfig{
			BaseURL:   option.BaseURL,
			Model:     option.Models[0],
			ChatModel: option.ChatModels[0],
		}
	}
	settings.ActiveProvider = id

	if err := a.Store.Save(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return settings, nil
}

func getProviderOptionByID(id string) (domain.ProviderOption, bool) {
	for _, option := range providerCatalog {
		if option.ID == id {
			return option, true
		}
	}
	return domain.ProviderOption{}, false
}
