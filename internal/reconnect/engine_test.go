package reconnect

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/pulselink/internal/clock"
)

var errRefused = errors.New("connection refused")

type dialRecorder struct {
	mu   sync.Mutex
	gens []uint64
}

func (r *dialRecorder) dial(gen uint64) {
	r.mu.Lock()
	r.gens = append(r.gens, gen)
	r.mu.Unlock()
}

func (r *dialRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gens)
}

func (r *dialRecorder) last() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[len(r.gens)-1]
}

func newTestEngine(t *testing.T) (*Engine, *dialRecorder, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &dialRecorder{}
	e := New(Options{Dial: rec.dial, Clock: fc})
	return e, rec, fc
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		100 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for attempt, d := range want {
		assert.Equal(t, d, Backoff(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 30*time.Second, Backoff(7))
	assert.Equal(t, 30*time.Second, Backoff(100))
	assert.Equal(t, 100*time.Millisecond, Backoff(-1))
}

func TestEngineFollowsBackoffWithoutSuccess(t *testing.T) {
	e, rec, fc := newTestEngine(t)
	e.Connect()
	require.Equal(t, Connecting, e.State())
	require.Equal(t, 1, rec.count())

	for _, delay := range []time.Duration{100 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second} {
		e.Failed(rec.last(), errRefused)
		require.Equal(t, Closed, e.State())
		require.Equal(t, 1, fc.PendingCount())

		before := rec.count()
		fc.Advance(delay - time.Millisecond)
		require.Equal(t, before, rec.count(), "dialed before %s elapsed", delay)
		fc.Advance(time.Millisecond)
		require.Equal(t, before+1, rec.count(), "no dial after %s", delay)
		require.Equal(t, Connecting, e.State())
	}
}

func TestOpenResetsAttempts(t *testing.T) {
	e, rec, fc := newTestEngine(t)
	e.Connect()
	e.Failed(rec.last(), errRefused)
	fc.Advance(100 * time.Millisecond)
	e.Failed(rec.last(), errRefused)
	fc.Advance(time.Second)
	require.Equal(t, 2, e.Snapshot().Attempt)

	require.True(t, e.Opened(rec.last()))
	assert.Equal(t, Open, e.State())
	assert.Equal(t, 0, e.Snapshot().Attempt)

	// Losing an open connection starts over at the fast first retry.
	e.Failed(rec.last(), errors.New("closed by peer"))
	before := rec.count()
	fc.Advance(100 * time.Millisecond)
	assert.Equal(t, before+1, rec.count())
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &dialRecorder{}
	var gaveUp []int
	e := New(Options{Dial: rec.dial, Clock: fc, OnGiveUp: func(n int) { gaveUp = append(gaveUp, n) }})

	e.Connect()
	for i := 0; i < DefaultMaxAttempts; i++ {
		e.Failed(rec.last(), errRefused)
		fc.Advance(30 * time.Second)
	}
	require.Equal(t, 1+DefaultMaxAttempts, rec.count())
	require.False(t, e.GaveUp())

	e.Failed(rec.last(), errRefused)
	assert.True(t, e.GaveUp())
	assert.Equal(t, Closed, e.State())
	assert.Equal(t, 0, fc.PendingCount())
	assert.Equal(t, []int{DefaultMaxAttempts}, gaveUp)

	assert.False(t, e.RequestImmediate())
	fc.Advance(time.Hour)
	assert.Equal(t, 1+DefaultMaxAttempts, rec.count())

	// Only an explicit Connect resumes.
	e.Connect()
	assert.False(t, e.GaveUp())
	assert.Equal(t, 0, e.Snapshot().Attempt)
	assert.Equal(t, 2+DefaultMaxAttempts, rec.count())
}

func TestDisconnectCancelsPendingTimer(t *testing.T) {
	e, rec, fc := newTestEngine(t)
	e.Connect()
	e.Failed(rec.last(), errRefused)
	require.Equal(t, 1, fc.PendingCount())

	e.Disconnect()
	assert.Equal(t, 0, fc.PendingCount())
	assert.Equal(t, Idle, e.State())
	assert.True(t, e.Snapshot().Manual)

	fc.Advance(time.Minute)
	assert.Equal(t, 1, rec.count())

	e.Disconnect()
	assert.Equal(t, Idle, e.State())
}

func TestStaleAttemptsIgnoredAfterDisconnect(t *testing.T) {
	e, rec, fc := newTestEngine(t)
	e.Connect()
	gen := rec.last()
	e.Disconnect()

	assert.False(t, e.Opened(gen))
	e.Failed(gen, errRefused)
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, 0, fc.PendingCount())
}

func TestImmediateReconnectOnlyOncePerOutage(t *testing.T) {
	e, rec, fc := newTestEngine(t)
	e.Connect()
	e.Failed(rec.last(), errRefused)
	require.Equal(t, 1, e.Snapshot().Attempt)

	assert.True(t, e.RequestImmediate())
	assert.False(t, e.RequestImmediate())
	assert.False(t, e.RequestImmediate())
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 0, fc.PendingCount(), "immediate dial replaces the pending retry")
	assert.Equal(t, 1, e.Snapshot().Attempt, "immediate dial keeps the attempt counter")

	// The next scheduled retry continues from the preserved counter.
	e.Failed(rec.last(), errRefused)
	fc.Advance(time.Second - time.Millisecond)
	assert.Equal(t, 2, rec.count())
	fc.Advance(time.Millisecond)
	assert.Equal(t, 3, rec.count())
}

func TestImmediateIgnoredWhenManualOrIdle(t *testing.T) {
	e, rec, _ := newTestEngine(t)
	assert.False(t, e.RequestImmediate(), "never connected")

	e.Connect()
	e.Disconnect()
	assert.False(t, e.RequestImmediate())
	assert.Equal(t, 1, rec.count())
}

func TestStaleGenerationAfterReconnect(t *testing.T) {
	e, rec, _ := newTestEngine(t)
	e.Connect()
	first := rec.last()
	e.Connect()
	second := rec.last()
	require.NotEqual(t, first, second)

	assert.False(t, e.Opened(first))
	e.Failed(first, errRefused)
	assert.Equal(t, Connecting, e.State())

	assert.True(t, e.Opened(second))
	e.Failed(second, errRefused)
	e.Failed(second, errRefused)
	assert.Equal(t, Closed, e.State())
	assert.Equal(t, 1, e.Snapshot().Attempt, "duplicate failure reports schedule once")
}

func TestOnChangeSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &dialRecorder{}
	e := New(Options{Dial: rec.dial, Clock: fc, OnChange: func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}})

	e.Connect()
	e.Opened(rec.last())
	e.Failed(rec.last(), errRefused)
	fc.Advance(100 * time.Millisecond)
	e.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Open, Closed, Connecting, Idle}, states)
}
