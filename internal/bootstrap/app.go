// Package bootstrap wires configuration, capture, the transcription
// pipeline, history, and the overlay into the desktop application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"go.uber.org/zap"

	"murmur/internal/capture"
	"murmur/internal/config"
	"murmur/internal/diagnostics"
	"murmur/internal/domain"
	"murmur/internal/history"
	"murmur/internal/logging"
	"murmur/internal/overlay"
	"murmur/internal/secretbox"
	"murmur/internal/session"
	"murmur/internal/transcribe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// autoStopCeiling bounds a single recording; reaching it behaves exactly
// like a manual stop.
const autoStopCeiling = 30 * time.Second

// Runtime event topics pushed to the overlay frontend.
const (
	eventSessionTopic     = "session:event"
	eventOverlayState     = "overlay:state"
	eventOverlayAmplitude = "overlay:amplitude"
	eventHistoryChanged   = "history:changed"
)

// recorder isolates microphone capture behind an interface.
type recorder interface {
	Start(onAmplitude func(float64)) error
	Stop() (capture.Blob, error)
	Abort() error
}

// pipelineRunner isolates the transcription pipeline behind an interface.
type pipelineRunner interface {
	Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// clipboard isolates the OS clipboard write behind an interface.
type clipboard interface {
	SetText(ctx context.Context, text string) error
}

// historyStore isolates transcript history behind an interface.
type historyStore interface {
	Append(raw, processed string) error
	List() ([]domain.HistoryEntry, error)
	Clear() error
	SetEnabled(enabled bool)
	Enabled() bool
}

// overlayStatePayload is pushed on every overlay state change.
type overlayStatePayload struct {
	State   overlay.State `json:"state"`
	Message string        `json:"message"`
}

// App wires configuration, session, pipeline, and UI runtime callbacks.
type App struct {
	Store       config.Store
	Sessions    *session.Manager
	Recorder    recorder
	Pipeline    pipelineRunner
	History     historyStore
	Overlay     *overlay.Presenter
	Clipboard   clipboard
	Diagnostics domain.DiagnosticReport
	Logger      *zap.Logger

	assets  fs.FS
	checker *diagnostics.Checker
	events  *session.EventBus

	mu         sync.Mutex
	runtimeCtx context.Context
	cancelRun  context.CancelFunc
	stopTimer  *time.Timer
}

// New builds the application with persisted settings and startup checks.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	dataDir := filepath.Join(homeDir, ".murmur")

	logger := logging.New(filepath.Join(dataDir, "murmur.log"))

	store := config.NewJSONStore(filepath.Join(dataDir, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	box := secretbox.NewFileKeyBox(filepath.Join(dataDir, "history.key"))
	transcripts := history.NewStore(filepath.Join(dataDir, "history.json"), box, settings.HistoryEnabled, logger)

	checker := diagnostics.NewChecker(box, dataDir)
	report := checker.Run(settings)

	app := &App{
		Store:       store,
		Sessions:    session.NewManager(),
		Recorder:    capture.NewRecorder(logger),
		Pipeline:    transcribe.NewPipeline(logger),
		History:     transcripts,
		Overlay:     overlay.NewPresenter(),
		Diagnostics: report,
		Logger:      logger,
		assets:      assets,
		checker:     checker,
		events:      session.NewEventBus(1000),
	}
	app.Clipboard = &runtimeClipboard{app: app}
	app.wireOverlay()
	transcripts.OnChange(func() { app.emitRuntime(eventHistoryChanged, nil) })

	return app, nil
}

// wireOverlay connects presenter callbacks to runtime pushes and cancel.
func (a *App) wireOverlay() {
	a.Overlay.OnRender(func(state overlay.State, message string) {
		a.emitRuntime(eventOverlayState, overlayStatePayload{State: state, Message: message})
	})
	a.Overlay.OnAmplitude(func(v float64) {
		a.emitRuntime(eventOverlayAmplitude, v)
	})
	a.Overlay.BindCancel(func() {
		if err := a.CancelRecording(); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
			a.Logger.Warn("overlay cancel", zap.Error(err))
		}
	})
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Murmur",
		Width:       380,
		Height:      140,
		Frameless:   true,
		AlwaysOnTop: true,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores the Wails runtime context for push events and clipboard.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// ToggleRecording starts a session, or stops the one being recorded.
func (a *App) ToggleRecording() (domain.Session, error) {
	if a.Sessions.Current().State == domain.SessionRecording {
		return a.StopRecording()
	}
	return a.StartRecording()
}

// StartRecording opens the microphone and begins a new session. It fails
// fast, before any capture, when the active provider has no API key.
func (a *App) StartRecording() (domain.Session, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Session{}, fmt.Errorf("load settings: %w", err)
	}

	if strings.TrimSpace(settings.Active().APIKey) == "" {
		err := &transcribe.PipelineError{
			Stage:   transcribe.StageStart,
			Kind:    transcribe.KindConfiguration,
			Message: fmt.Sprintf("no API key configured for provider %q", settings.ActiveProvider),
		}
		a.publishError("", err.Error())
		a.Overlay.SetState(overlay.StateError, "Add an API key in settings")
		return domain.Session{}, err
	}

	sess, err := a.Sessions.Start()
	if err != nil {
		return domain.Session{}, err
	}

	if err := a.Recorder.Start(a.Overlay.Amplitude); err != nil {
		_ = a.Sessions.Transition(domain.SessionFailed)
		a.publishError(sess.ID, err.Error())
		a.Overlay.SetState(overlay.StateError, "Microphone unavailable")
		return domain.Session{}, err
	}

	a.mu.Lock()
	a.stopTimer = time.AfterFunc(autoStopCeiling, func() {
		if _, stopErr := a.StopRecording(); stopErr != nil {
			a.Logger.Warn("auto-stop", zap.Error(stopErr))
		}
	})
	a.mu.Unlock()

	a.Overlay.SetState(overlay.StateRecording, "Listening")
	a.publishStatus(sess.ID, domain.SessionRecording, session.StageStart, "Recording started")
	return a.Sessions.Current(), nil
}

// StopRecording finalizes capture and hands the audio to the pipeline.
// It is a no-op when nothing is being recorded.
func (a *App) StopRecording() (domain.Session, error) {
	a.mu.Lock()
	current := a.Sessions.Current()
	if current.State != domain.SessionRecording {
		a.mu.Unlock()
		return current, nil
	}
	if a.stopTimer != nil {
		a.stopTimer.Stop()
		a.stopTimer = nil
	}
	if err := a.Sessions.Transition(domain.SessionStopping); err != nil {
		a.mu.Unlock()
		return current, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	a.mu.Unlock()

	a.Overlay.SetState(overlay.StateProcessing, "Transcribing")
	a.publishStatus(current.ID, domain.SessionStopping, session.StageStart, "Recording stopped")

	go a.runSession(ctx, current.ID)
	return a.Sessions.Current(), nil
}

// CancelRecording flags the active session for cancellation and discards
// any in-flight audio. Clipboard and history are never touched afterwards.
func (a *App) CancelRecording() error {
	a.mu.Lock()
	current := a.Sessions.Current()
	if err := a.Sessions.MarkCancelRequested(); err != nil {
		a.mu.Unlock()
		return err
	}
	if a.stopTimer != nil {
		a.stopTimer.Stop()
		a.stopTimer = nil
	}
	cancel := a.cancelRun
	a.mu.Unlock()

	if current.State == domain.SessionRecording {
		if err := a.Recorder.Abort(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
			a.Logger.Warn("abort capture", zap.Error(err))
		}
		a.finishCancelled(current.ID)
		return nil
	}

	// A pipeline goroutine is in flight; it observes the cancelled context
	// or the session flag and finishes the session itself.
	if cancel != nil {
		cancel()
	}
	return nil
}

// CurrentSession returns current session metadata and status.
func (a *App) CurrentSession() domain.Session {
	return a.Sessions.Current()
}

// SessionEvents returns all events with sequence greater than sinceSeq.
func (a *App) SessionEvents(sinceSeq int64) []session.Event {
	return a.events.Since(sinceSeq)
}

// GetDiagnostics returns the latest cached readiness report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns readiness checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.Diagnostics = a.checker.Run(settings)
	return a.Diagnostics, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes the
// readiness report and the history toggle.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.History.SetEnabled(normalized.HistoryEnabled)
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	return normalized, nil
}

// GetHistory returns stored transcripts newest-first.
func (a *App) GetHistory() ([]domain.HistoryEntry, error) {
	return a.History.List()
}

// ClearHistory removes all stored transcripts.
func (a *App) ClearHistory() error {
	return a.History.Clear()
}

// SetHistoryEnabled toggles recording of new transcripts and persists the
// choice. Existing entries are kept.
func (a *App) SetHistoryEnabled(enabled bool) error {
	settings, err := a.Store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings.HistoryEnabled = enabled
	if err := a.Store.Save(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	a.History.SetEnabled(enabled)
	return nil
}

// runSession drains the recorder and executes the pipeline, mapping every
// outcome onto session state, events, and the overlay.
func (a *App) runSession(ctx context.Context, sessionID string) {
	defer a.clearRun()

	blob, err := a.Recorder.Stop()
	if err != nil {
		a.failSession(sessionID, err)
		return
	}
	if ctx.Err() != nil || a.Sessions.CancelRequested() {
		a.finishCancelled(sessionID)
		return
	}

	if err := a.Sessions.Transition(domain.SessionTranscribing); err != nil {
		a.failSession(sessionID, err)
		return
	}

	// Settings are re-read per run so prompt and provider edits apply to
	// the next recording without a restart.
	settings, err := a.Store.Load()
	if err != nil {
		a.failSession(sessionID, fmt.Errorf("load settings: %w", err))
		return
	}

	result, err := a.Pipeline.Run(ctx, transcribe.Request{
		Blob:     blob,
		Provider: settings.Active(),
		Prompt:   settings.Prompt,
		OnStage: func(stage, message string) {
			if stage == transcribe.StageProcessing {
				_ = a.Sessions.Transition(domain.SessionPostProcessing)
			}
			a.publishStatus(sessionID, a.Sessions.Current().State, session.Stage(stage), message)
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || a.Sessions.CancelRequested() {
			a.finishCancelled(sessionID)
			return
		}
		if transcribe.IsEmptyResult(err) {
			_ = a.Sessions.Transition(domain.SessionComplete)
			a.publishStatus(sessionID, domain.SessionComplete, session.StageEmpty, "No speech detected")
			a.Overlay.SetState(overlay.StateComplete, "No speech detected")
			return
		}
		a.failSession(sessionID, err)
		return
	}

	if a.Sessions.CancelRequested() {
		a.finishCancelled(sessionID)
		return
	}

	if err := a.Clipboard.SetText(ctx, result.ProcessedText); err != nil {
		a.failSession(sessionID, fmt.Errorf("clipboard write: %w", err))
		return
	}
	if err := a.History.Append(result.RawText, result.ProcessedText); err != nil {
		// History failures never block transcript delivery.
		a.Logger.Warn("append history", zap.Error(err))
	}

	_ = a.Sessions.Transition(domain.SessionComplete)
	a.publishEvent(session.Event{
		SessionID: sessionID,
		Type:      session.EventTypeResult,
		State:     domain.SessionComplete,
		Stage:     session.StageComplete,
		Message:   "Copied to clipboard",
		Text:      result.ProcessedText,
	})
	a.Overlay.SetState(overlay.StateComplete, "Copied to clipboard")
}

// failSession marks the session failed and surfaces the error once.
func (a *App) failSession(sessionID string, err error) {
	_ = a.Sessions.Transition(domain.SessionFailed)
	a.Logger.Error("session failed", zap.String("session", sessionID), zap.Error(err))
	a.publishError(sessionID, err.Error())
	a.Overlay.SetState(overlay.StateError, userMessage(err))
}

// finishCancelled marks the session cancelled and closes the overlay.
func (a *App) finishCancelled(sessionID string) {
	_ = a.Sessions.Transition(domain.SessionCancelled)
	a.publishStatus(sessionID, domain.SessionCancelled, session.StageError, "Session cancelled")
	a.Overlay.SetState(overlay.StateIdle, "")
}

// clearRun releases the cancellation handle of the finished run.
func (a *App) clearRun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelRun = nil
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(sessionID string, state domain.SessionState, stage session.Stage, message string) {
	a.publishEvent(session.Event{
		SessionID: sessionID,
		Type:      session.EventTypeStatus,
		State:     state,
		Stage:     stage,
		Message:   message,
	})
}

// publishError sends an error event for the given session.
func (a *App) publishError(sessionID, message string) {
	a.publishEvent(session.Event{
		SessionID: sessionID,
		Type:      session.EventTypeError,
		State:     a.Sessions.Current().State,
		Stage:     session.StageError,
		Message:   message,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event session.Event) {
	published := a.events.Publish(event)
	a.emitRuntime(eventSessionTopic, published)
}

// emitRuntime pushes one event to the frontend when the runtime is up.
func (a *App) emitRuntime(topic string, payload interface{}) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, topic, payload)
	}
}

// userMessage maps pipeline errors onto short overlay strings.
func userMessage(err error) string {
	var pipeErr *transcribe.PipelineError
	if errors.As(err, &pipeErr) {
		switch pipeErr.Kind {
		case transcribe.KindConfiguration:
			return "Add an API key in settings"
		case transcribe.KindAuth:
			return "Invalid or expired API key"
		case transcribe.KindEndpoint:
			return "Provider endpoint not found"
		}
	}

	var micErr *capture.MicAccessError
	if errors.As(err, &micErr) {
		return "Microphone unavailable"
	}
	return "Transcription failed"
}

// normalizeSettings trims user inputs and restores preset defaults for
// fields left empty.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.ActiveProvider = strings.TrimSpace(settings.ActiveProvider)
	if settings.ActiveProvider == "" {
		settings.ActiveProvider = defaults.ActiveProvider
	}
	settings.Shortcut = strings.TrimSpace(settings.Shortcut)
	if settings.Shortcut == "" {
		settings.Shortcut = defaults.Shortcut
	}
	settings.Prompt.Prompt = strings.TrimSpace(settings.Prompt.Prompt)
	if settings.Prompt.Prompt == "" {
		settings.Prompt.Prompt = defaults.Prompt.Prompt
	}

	if settings.Providers == nil {
		settings.Providers = map[string]domain.ProviderConfig{}
	}
	for id, provider := range settings.Providers {
		provider.APIKey = strings.TrimSpace(provider.APIKey)
		provider.BaseURL = strings.TrimSpace(provider.BaseURL)
		provider.Model = strings.TrimSpace(provider.Model)
		provider.ChatModel = strings.TrimSpace(provider.ChatModel)
		if preset, ok := defaults.Providers[id]; ok {
			if provider.BaseURL == "" {
				provider.BaseURL = preset.BaseURL
			}
			if provider.Model == "" {
				provider.Model = preset.Model
			}
			if provider.ChatModel == "" {
				provider.ChatModel = preset.ChatModel
			}
		}
		settings.Providers[id] = provider
	}

	return settings
}

// runtimeClipboard writes through the Wails runtime clipboard API.
type runtimeClipboard struct {
	app *App
}

// SetText replaces the OS clipboard contents with text.
func (c *runtimeClipboard) SetText(ctx context.Context, text string) error {
	c.app.mu.Lock()
	runtimeCtx := c.app.runtimeCtx
	c.app.mu.Unlock()
	if runtimeCtx == nil {
		return fmt.Errorf("runtime context is not initialized")
	}
	return wailsruntime.ClipboardSetText(runtimeCtx, text)
}
