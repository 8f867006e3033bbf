// Package overlay projects session and pipeline progress onto the floating
// overlay surface. It carries no business logic of its own.
package overlay

import (
	"sync"
	"time"
)

// State is the overlay's presentation state.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateError      State = "error"
)

// AutoCloseDelay is how long terminal states stay visible before the
// overlay returns to idle.
const AutoCloseDelay = 1500 * time.Millisecond

// schedule arms a delayed callback and returns a stop function.
type schedule func(d time.Duration, fn func()) (stop func())

// Presenter is a small state machine mirroring pipeline progress.
type Presenter struct {
	mu          sync.Mutex
	state       State
	onRender    func(state State, message string)
	onAmplitude func(v float64)
	onClose     func()
	cancel      func()
	schedule    schedule
	stopTimer   func()
}

// NewPresenter creates an idle presenter using real timers.
func NewPresenter() *Presenter {
	return &Presenter{
		state: StateIdle,
		schedule: func(d time.Duration, fn func()) func() {
			timer := time.AfterFunc(d, fn)
			return func() { timer.Stop() }
		},
	}
}

// OnRender registers the callback receiving state changes.
func (p *Presenter) OnRender(fn func(state State, message string)) {
	p.mu.Lock()
	p.onRender = fn
	p.mu.Unlock()
}

// OnAmplitude registers the callback receiving live amplitude samples.
func (p *Presenter) OnAmplitude(fn func(v float64)) {
	p.mu.Lock()
	p.onAmplitude = fn
	p.mu.Unlock()
}

// OnClose registers the callback fired when the overlay auto-closes.
func (p *Presenter) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

// BindCancel wires the manual cancel affordance to the session.
func (p *Presenter) BindCancel(fn func()) {
	p.mu.Lock()
	p.cancel = fn
	p.mu.Unlock()
}

// State returns the current presentation state.
func (p *Presenter) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState applies a state change and renders it. Terminal states arm the
// auto-close timer; any other change disarms a pending one.
func (p *Presenter) SetState(state State, message string) {
	p.mu.Lock()
	if p.stopTimer != nil {
		p.stopTimer()
		p.stopTimer = nil
	}
	p.state = state
	render := p.onRender
	if state == StateComplete || state == StateError {
		p.stopTimer = p.schedule(AutoCloseDelay, p.autoClose)
	}
	p.mu.Unlock()

	if render != nil {
		render(state, message)
	}
}

// Amplitude forwards one normalized sample to the render surface. Samples
// arriving in terminal states are dropped; idle samples pass through for
// ambient visualization.
func (p *Presenter) Amplitude(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	p.mu.Lock()
	forward := p.onAmplitude
	state := p.state
	p.mu.Unlock()

	if forward == nil {
		return
	}
	if state == StateComplete || state == StateError {
		return
	}
	forward(v)
}

// RequestCancel invokes the wired session cancel while work is visible.
func (p *Presenter) RequestCancel() {
	p.mu.Lock()
	cancel := p.cancel
	state := p.state
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	if state != StateRecording && state != StateProcessing {
		return
	}
	cancel()
}

// autoClose returns the overlay to idle and notifies the close callback.
func (p *Presenter) autoClose() {
	p.mu.Lock()
	p.stopTimer = nil
	p.state = StateIdle
	render := p.onRender
	closed := p.onClose
	p.mu.Unlock()

	if render != nil {
		render(StateIdle, "")
	}
	if closed != nil {
		closed()
	}
}

// NewPresenterForTests creates a presenter with an injectable timer.
func NewPresenterForTests(scheduleFn func(d time.Duration, fn func()) func()) *Presenter {
	return &Presenter{state: StateIdle, schedule: scheduleFn}
}
