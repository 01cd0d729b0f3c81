package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/pulselink/internal/clock"
	"github.com/large-farva/pulselink/internal/link"
	"github.com/large-farva/pulselink/internal/sampling"
	"github.com/large-farva/pulselink/internal/telemetry"
)

type recordingSink struct {
	mu        sync.Mutex
	events    []telemetry.Event
	consumers int
}

func (s *recordingSink) Publish(ev telemetry.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Consumers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers
}

func (s *recordingSink) setConsumers(n int) {
	s.mu.Lock()
	s.consumers = n
	s.mu.Unlock()
}

func (s *recordingSink) Status() link.Status { return link.Status{Role: "test"} }
func (s *recordingSink) Close() error        { return nil }

func (s *recordingSink) frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = telemetry.Encode(ev)
	}
	return out
}

type mutableHost struct {
	mu       sync.Mutex
	saving   bool
	network  sampling.Network
	battery  int
	charging bool
}

func (h *mutableHost) PowerSaving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saving
}

func (h *mutableHost) Network() sampling.Network {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.network
}

func (h *mutableHost) Battery() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.battery, h.battery >= 0
}

func (h *mutableHost) Charging() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.charging
}

func (h *mutableHost) set(f func(h *mutableHost)) {
	h.mu.Lock()
	f(h)
	h.mu.Unlock()
}

// feedSource announces each call to Next on asked, so a test knows the
// previous reading has been stored.
type feedSource struct {
	values chan int
	errs   chan error
	asked  chan struct{}
}

func (s *feedSource) Next(ctx context.Context) (int, error) {
	s.asked <- struct{}{}
	select {
	case v := <-s.values:
		return v, nil
	case err := <-s.errs:
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type capturedEvents struct {
	mu     sync.Mutex
	events []any
}

func (c *capturedEvents) BroadcastJSON(v any) {
	c.mu.Lock()
	c.events = append(c.events, v)
	c.mu.Unlock()
}

func (c *capturedEvents) intervals() []telemetry.Interval {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []telemetry.Interval
	for _, v := range c.events {
		if iv, ok := v.(telemetry.Interval); ok {
			out = append(out, iv)
		}
	}
	return out
}

type fixture struct {
	src    *feedSource
	sink   *recordingSink
	host   *mutableHost
	clock  *clock.FakeClock
	events *capturedEvents
	r      *Runner
	done   chan error
	cancel context.CancelFunc
}

func startPipeline(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		src:    &feedSource{values: make(chan int), errs: make(chan error), asked: make(chan struct{}, 16)},
		sink:   &recordingSink{},
		host:   &mutableHost{network: sampling.NetworkWiFi, battery: 80},
		clock:  clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		events: &capturedEvents{},
		done:   make(chan error, 1),
	}
	f.r = New(Options{
		Source: f.src,
		Sink:   f.sink,
		Host:   f.host,
		Clock:  f.clock,
		Events: f.events,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(cancel)
	go func() { f.done <- f.r.Run(ctx) }()

	// status ticker plus conditioner ticker
	f.clock.WaitForTimers(2)
	return f
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestInitialPollPublishesPowerFields(t *testing.T) {
	f := startPipeline(t)
	eventually(t, func() bool { return len(f.sink.frames()) == 2 })
	assert.Equal(t, []string{"1|80", "2|false"}, f.sink.frames())

	snap := f.r.Snapshot()
	assert.Equal(t, 10*time.Second, snap.Interval, "no consumer means idle tier")
	assert.Equal(t, 80, snap.Battery)
}

func TestConsumerArrivalSpeedsUpSampling(t *testing.T) {
	f := startPipeline(t)
	require.Equal(t, 10*time.Second, f.r.Interval())

	f.sink.setConsumers(1)
	f.r.ConsumersChanged()
	eventually(t, func() bool { return f.r.Interval() == time.Second })

	f.host.set(func(h *mutableHost) { h.network = sampling.NetworkCellular })
	f.clock.Advance(5 * time.Second)
	eventually(t, func() bool { return f.r.Interval() == 1500*time.Millisecond })

	f.host.set(func(h *mutableHost) { h.saving = true })
	f.clock.Advance(5 * time.Second)
	eventually(t, func() bool { return f.r.Interval() == 3*time.Second })

	ivs := f.events.intervals()
	require.NotEmpty(t, ivs)
	last := ivs[len(ivs)-1]
	assert.EqualValues(t, 3000, last.IntervalMS)
	assert.True(t, last.PowerSaving)
	assert.Equal(t, "cellular", last.Network)
}

func TestHeartRateReachesSink(t *testing.T) {
	f := startPipeline(t)
	f.sink.setConsumers(1)
	f.r.ConsumersChanged()
	eventually(t, func() bool { return f.r.Interval() == time.Second })

	<-f.src.asked
	f.src.values <- 72
	f.src.values <- 73
	<-f.src.asked
	<-f.src.asked
	f.clock.Advance(time.Second)

	eventually(t, func() bool {
		frames := f.sink.frames()
		return len(frames) == 3 && frames[2] == "0|73"
	})
	snap := f.r.Snapshot()
	assert.True(t, snap.HasHeartRate)
	assert.Equal(t, 73, snap.HeartRate)
	assert.GreaterOrEqual(t, snap.SampleTicks, uint64(1))
}

func TestBatteryCheckedOnItsOwnSchedule(t *testing.T) {
	f := startPipeline(t)
	eventually(t, func() bool { return len(f.sink.frames()) == 2 })

	f.host.set(func(h *mutableHost) {
		h.battery = 79
		h.charging = true
	})
	f.clock.Advance(5 * time.Second)
	eventually(t, func() bool { return len(f.sink.frames()) == 3 })
	assert.Equal(t, "2|true", f.sink.frames()[2], "charging is checked every poll")

	for i := 0; i < 11; i++ {
		f.clock.Advance(5 * time.Second)
	}
	eventually(t, func() bool { return len(f.sink.frames()) == 4 })
	assert.Equal(t, "1|79", f.sink.frames()[3])
}

func TestSensorFailureEndsRun(t *testing.T) {
	f := startPipeline(t)
	boom := errors.New("strap lost")
	f.src.errs <- boom

	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "sensor")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestCancelEndsRun(t *testing.T) {
	f := startPipeline(t)
	f.cancel()
	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
