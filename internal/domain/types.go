package domain

import "time"

// SessionState tracks the lifecycle of a single dictation session.
type SessionState string

const (
	SessionIdle           SessionState = "idle"
	SessionRecording      SessionState = "recording"
	SessionStopping       SessionState = "stopping"
	SessionTranscribing   SessionState = "transcribing"
	SessionPostProcessing SessionState = "postprocessing"
	SessionComplete       SessionState = "complete"
	SessionCancelled      SessionState = "cancelled"
	SessionFailed         SessionState = "failed"
)

// Session stores the current session identity and lifecycle status.
type Session struct {
	ID              string       `json:"id"`
	StartedAt       time.Time    `json:"startedAt"`
	State           SessionState `json:"state"`
	CancelRequested bool         `json:"cancelRequested"`
}

// TranscriptionResult is the outcome of one completed pipeline run.
// ProcessedText equals RawText when post-processing is disabled or failed.
type TranscriptionResult struct {
	RawText       string    `json:"rawText"`
	ProcessedText string    `json:"processedText"`
	Timestamp     time.Time `json:"timestamp"`
}

// HistoryEntry is one stored transcript, newest-first in the history list.
type HistoryEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	RawText       string    `json:"rawText"`
	ProcessedText string    `json:"processedText"`
	Encrypted     bool      `json:"encrypted"`
}

// PromptSettings controls the optional LLM rewrite of raw transcripts.
type PromptSettings struct {
	Enabled bool   `json:"enabled"`
	Prompt  string `json:"prompt"`
}

// ProviderConfig holds per-provider API access settings.
type ProviderConfig struct {
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseUrl"`
	Model     string `json:"model"`
	ChatModel string `json:"chatModel"`
}

// ProviderOption describes one built-in provider preset for the settings UI.
type ProviderOption struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	BaseURL     string   `json:"baseUrl"`
	Models      []string `json:"models"`
	ChatModels  []string `json:"chatModels"`
	KeyURL      string   `json:"keyUrl"`
	Description string   `json:"description"`
	Configured  bool     `json:"configured"`
	Active      bool     `json:"active"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ActiveProvider string                    `json:"activeProvider"`
	Providers      map[string]ProviderConfig `json:"providers"`
	Shortcut       string                    `json:"shortcut"`
	Prompt         PromptSettings            `json:"prompt"`
	HistoryEnabled bool                      `json:"historyEnabled"`
}

// Active returns the configuration of the currently selected provider.
func (s Settings) Active() ProviderConfig {
	return s.Providers[s.ActiveProvider]
}
