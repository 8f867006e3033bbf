// Package diagnostics runs readiness checks surfaced in the settings UI.
package diagnostics

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"murmur/internal/domain"
)

// boxProbe reports whether history encryption is available.
type boxProbe interface {
	Available() bool
}

// Checker validates provider configuration and local storage paths.
type Checker struct {
	box        boxProbe
	dataDir    string
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(box boxProbe, dataDir string) *Checker {
	return &Checker{
		box:        box,
		dataDir:    dataDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all readiness checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkAPIKey(settings),
		c.checkBaseURL(settings),
		c.checkEncryption(),
		c.checkDataDir(),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkAPIKey verifies the active provider has a key configured.
func (c *Checker) checkAPIKey(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "api_key",
		Name: "Provider API key",
	}

	provider := settings.Active()
	if strings.TrimSpace(provider.APIKey) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("No API key set for provider %q.", settings.ActiveProvider)
		item.Hint = "Paste your provider API key in settings before recording."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("API key configured for %q.", settings.ActiveProvider)
	return item
}

// checkBaseURL validates the active provider endpoint is a usable URL.
func (c *Checker) checkBaseURL(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "base_url",
		Name: "Provider endpoint",
	}

	raw := strings.TrimSpace(settings.Active().BaseURL)
	if raw == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Provider base URL is empty."
		item.Hint = "Restore the provider preset or set a valid https:// base URL."
		return item
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Provider base URL is not valid: %s", raw)
		item.Hint = "Use an absolute http(s) URL such as https://api.groq.com/openai/v1."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Endpoint: %s", raw)
	return item
}

// checkEncryption reports whether history will be stored encrypted.
func (c *Checker) checkEncryption() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "history_encryption",
		Name: "History encryption",
	}

	if c.box == nil || !c.box.Available() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Encryption key unavailable; history will be stored in plaintext."
		item.Hint = "Check permissions on the application data directory."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "History entries are encrypted at rest."
	return item
}

// checkDataDir validates data directory existence and write access.
func (c *Checker) checkDataDir() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "data_dir",
		Name: "Data directory",
	}

	if strings.TrimSpace(c.dataDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Data directory is not configured."
		return item
	}

	if err := c.mkdirAll(c.dataDir, 0o700); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create data directory: %s", c.dataDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(c.dataDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Data directory is not writable: %s", c.dataDir)
		item.Hint = "History and settings need a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", c.dataDir)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	box boxProbe,
	dataDir string,
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		box:        box,
		dataDir:    dataDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
