// Package reconnect drives the retry schedule of a single outbound
// connection. Connection callbacks (opened, failed, closed) are reported to
// the Engine, which applies them as transitions of one state machine under
// one lock and decides when the next dial happens.
package reconnect

import (
	"log/slog"
	"sync"
	"time"

	"github.com/large-farva/pulselink/internal/clock"
)

// State is the connection state of the client link.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

const (
	DefaultMaxAttempts = 10
	firstRetryDelay    = 100 * time.Millisecond
	maxDelay           = 30 * time.Second
)

// Backoff returns the delay before scheduled retry number attempt:
// 100ms, 1s, 2s, 4s, 8s, 16s, then 30s from attempt 6 on.
func Backoff(attempt int) time.Duration {
	switch {
	case attempt <= 0:
		return firstRetryDelay
	case attempt == 1:
		return time.Second
	}
	shift := min(attempt-1, 5)
	return min(time.Second<<shift, maxDelay)
}

// Snapshot is a consistent view of the engine.
type Snapshot struct {
	State      State
	Attempt    int
	Manual     bool
	GaveUp     bool
	Generation uint64
}

// Options configures an Engine. Dial is required.
type Options struct {
	// Dial starts connection attempt gen and must not block. The outcome
	// is reported back through Opened(gen) or Failed(gen, err).
	Dial func(gen uint64)

	Clock       clock.Clock
	MaxAttempts int
	Logger      *slog.Logger

	// OnChange is called after every transition, outside the engine lock.
	OnChange func(Snapshot)

	// OnGiveUp is called once when scheduled retries are exhausted.
	OnGiveUp func(attempts int)
}

// Engine is the reconnect state machine. It is safe for concurrent use.
type Engine struct {
	dial        func(uint64)
	clock       clock.Clock
	maxAttempts int
	log         *slog.Logger
	onChange    func(Snapshot)
	onGiveUp    func(int)

	mu       sync.Mutex
	state    State
	attempt  int
	manual   bool
	gaveUp   bool
	gen      uint64
	timer    *clock.Timer
	timerSeq uint64
}

// New returns an engine in the Idle state.
func New(opts Options) *Engine {
	e := &Engine{
		dial:        opts.Dial,
		clock:       opts.Clock,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger,
		onChange:    opts.OnChange,
		onGiveUp:    opts.OnGiveUp,
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) State() State { return e.Snapshot().State }

// GaveUp reports whether scheduled retries are exhausted.
func (e *Engine) GaveUp() bool { return e.Snapshot().GaveUp }

// Connect clears the manual-disconnect flag and the attempt counter and
// starts a fresh attempt. It is the only way out of the given-up state.
func (e *Engine) Connect() {
	e.mu.Lock()
	e.manual = false
	e.attempt = 0
	e.gaveUp = false
	gen := e.beginAttemptLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	e.dial(gen)
}

// Disconnect moves to Idle and stops any pending retry before returning.
// Attempts still in flight become stale and are ignored when they report.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	if e.state == Idle && e.manual && e.timer == nil {
		e.mu.Unlock()
		return
	}
	e.manual = true
	e.stopTimerLocked()
	e.gen++
	e.state = Idle
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
}

// Opened reports that attempt gen completed its handshake. It returns
// false when the attempt is stale, in which case the caller must close
// the connection it just opened.
func (e *Engine) Opened(gen uint64) bool {
	e.mu.Lock()
	if gen != e.gen || e.state != Connecting {
		e.mu.Unlock()
		return false
	}
	e.state = Open
	e.attempt = 0
	e.gaveUp = false
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return true
}

// Failed reports that attempt gen failed to connect, was closed, or hit a
// write error. Duplicate and stale reports are ignored, so the reader and
// writer of one connection may both report the same loss.
func (e *Engine) Failed(gen uint64, err error) {
	e.mu.Lock()
	if gen != e.gen || e.manual || (e.state != Connecting && e.state != Open) {
		e.mu.Unlock()
		return
	}
	e.state = Closed
	e.log.Debug("connection lost", "generation", gen, "error", err)
	gaveUp := e.scheduleLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	if gaveUp && e.onGiveUp != nil {
		e.onGiveUp(snap.Attempt)
	}
}

// RequestImmediate dials now instead of waiting for the pending retry. It
// only acts while Closed, so repeated requests during one outage produce a
// single dial. The attempt counter is left as is. It reports whether a
// dial was started.
func (e *Engine) RequestImmediate() bool {
	e.mu.Lock()
	if e.manual || e.gaveUp || e.state != Closed {
		e.mu.Unlock()
		return false
	}
	e.log.Debug("immediate reconnect requested", "attempt", e.attempt)
	gen := e.beginAttemptLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	e.dial(gen)
	return true
}

// scheduleLocked arms the retry timer for the current attempt, or marks
// the engine as given up. It reports whether it gave up.
func (e *Engine) scheduleLocked() bool {
	if e.attempt >= e.maxAttempts {
		e.gaveUp = true
		e.stopTimerLocked()
		e.log.Warn("maximum reconnection attempts reached, giving up", "attempts", e.attempt)
		return true
	}

	delay := Backoff(e.attempt)
	e.attempt++
	e.stopTimerLocked()
	e.timerSeq++
	seq := e.timerSeq
	e.timer = e.clock.AfterFunc(delay, func() { e.fire(seq) })
	e.log.Debug("reconnect scheduled", "attempt", e.attempt, "delay", delay)
	return false
}

func (e *Engine) fire(seq uint64) {
	e.mu.Lock()
	if seq != e.timerSeq || e.manual || e.state != Closed {
		e.mu.Unlock()
		return
	}
	gen := e.beginAttemptLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	e.dial(gen)
}

// beginAttemptLocked cancels any pending retry and opens a new generation.
func (e *Engine) beginAttemptLocked() uint64 {
	e.stopTimerLocked()
	e.gen++
	e.state = Connecting
	return e.gen
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// A callback already past its Stop window sees a newer seq and exits.
	e.timerSeq++
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		State:      e.state,
		Attempt:    e.attempt,
		Manual:     e.manual,
		GaveUp:     e.gaveUp,
		Generation: e.gen,
	}
}

func (e *Engine) notify(s Snapshot) {
	if e.onChange != nil {
		e.onChange(s)
	}
}
