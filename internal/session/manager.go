// Package session tracks the single allowed dictation session and the
// progress events it emits.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"murmur/internal/domain"
)

// ErrSessionActive is returned when starting while a session is running.
var ErrSessionActive = errors.New("session already active")

// ErrNoActiveSession is returned when cancel is requested in idle state.
var ErrNoActiveSession = errors.New("no active session")

// Manager tracks the single allowed active session and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Session
	now     func() time.Time
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Session{State: domain.SessionIdle},
		now:     time.Now,
	}
}

// Start creates a new session in recording state.
func (m *Manager) Start() (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isActive(m.current.State) {
		return domain.Session{}, ErrSessionActive
	}

	m.current = domain.Session{
		ID:        uuid.NewString(),
		StartedAt: m.now().UTC(),
		State:     domain.SessionRecording,
	}
	return m.current, nil
}

// Transition validates and applies state transitions for the current session.
func (m *Manager) Transition(state domain.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && state != domain.SessionIdle {
		return fmt.Errorf("cannot transition without an active session")
	}
	if state == m.current.State {
		return nil
	}
	if !isValidTransition(m.current.State, state) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.State, state)
	}

	m.current.State = state
	return nil
}

// MarkCancelRequested flags the active session for cooperative cancellation.
func (m *Manager) MarkCancelRequested() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isActive(m.current.State) {
		return ErrNoActiveSession
	}
	m.current.CancelRequested = true
	return nil
}

// CancelRequested reports the cancellation flag of the current session.
func (m *Manager) CancelRequested() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.CancelRequested
}

// Current returns a snapshot of the current session.
func (m *Manager) Current() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset clears session metadata and returns the manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Session{State: domain.SessionIdle}
}

// IsActive reports whether a session is currently in flight.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isActive(m.current.State)
}

// isActive checks if a state represents an in-flight session.
func isActive(state domain.SessionState) bool {
	switch state {
	case domain.SessionRecording, domain.SessionStopping,
		domain.SessionTranscribing, domain.SessionPostProcessing:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed session state machine edges.
func isValidTransition(from, to domain.SessionState) bool {
	switch from {
	case domain.SessionIdle:
		return to == domain.SessionRecording
	case domain.SessionRecording:
		return to == domain.SessionStopping || to == domain.SessionCancelled || to == domain.SessionFailed
	case domain.SessionStopping:
		return to == domain.SessionTranscribing || to == domain.SessionCancelled || to == domain.SessionFailed
	case domain.SessionTranscribing:
		return to == domain.SessionPostProcessing || to == domain.SessionComplete ||
			to == domain.SessionCancelled || to == domain.SessionFailed
	case domain.SessionPostProcessing:
		return to == domain.SessionComplete || to == domain.SessionCancelled || to == domain.SessionFailed
	case domain.SessionComplete, domain.SessionCancelled, domain.SessionFailed:
		return to == domain.SessionRecording || to == domain.SessionIdle
	default:
		return false
	}
}
