package config

import "murmur/internal/domain"

// DefaultPrompt is the post-processing system prompt used until the user
// customizes it.
const DefaultPrompt = "Clean up the following dictated text. Fix punctuation and " +
	"capitalization, remove filler words, and keep the original meaning. " +
	"Return only the cleaned text."

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		ActiveProvider: "groq",
		Providers: map[string]domain.ProviderConfig{
			"groq": {
				BaseURL:   "https://api.groq.com/openai/v1",
				Model:     "whisper-large-v3",
				ChatModel: "llama-3.3-70b-versatile",
			},
			"openai": {
				BaseURL:   "https://api.openai.com/v1",
				Model:     "whisper-1",
				ChatModel: "gpt-4o-mini",
			},
		},
		Shortcut: "CmdOrCtrl+Shift+Space",
		Prompt: domain.PromptSettings{
			Enabled: false,
			Prompt:  DefaultPrompt,
		},
		HistoryEnabled: true,
	}
}
