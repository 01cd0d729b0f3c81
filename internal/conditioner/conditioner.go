// Package conditioner shapes the raw sensor stream before it is sent:
// repeated values are suppressed, emissions are limited to one per
// sampling interval, and a slow consumer only ever sees the latest value.
package conditioner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/large-farva/pulselink/internal/clock"
	"github.com/large-farva/pulselink/internal/sensor"
)

// ErrClosed is returned by Next after Run has stopped because its context
// was cancelled.
var ErrClosed = errors.New("conditioner closed")

// Conditioner sits between a sensor.Source and the link. Run reads the
// source and ticks at the current interval; Next hands conditioned values
// to a single consumer.
type Conditioner struct {
	src   sensor.Source
	clock clock.Clock

	mu       sync.Mutex
	interval time.Duration
	ticker   *clock.Ticker
	running  bool
	ticks    uint64

	// newest raw reading not yet sampled
	pending    int
	hasPending bool

	// sampled value waiting for the consumer
	slot    int
	hasSlot bool

	last    int
	hasLast bool

	err   error
	ready chan struct{}
}

// New returns a conditioner sampling src every interval.
func New(src sensor.Source, interval time.Duration, clk clock.Clock) *Conditioner {
	if clk == nil {
		clk = clock.Real()
	}
	return &Conditioner{
		src:      src,
		clock:    clk,
		interval: interval,
		ready:    make(chan struct{}, 1),
	}
}

// Interval returns the current sampling interval.
func (c *Conditioner) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Ticks returns how many interval boundaries Run has handled.
func (c *Conditioner) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// SetInterval changes the sampling interval. It takes effect immediately:
// the next boundary is d from now. Non-positive values are ignored.
func (c *Conditioner) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d == c.interval {
		return
	}
	c.interval = d
	if c.ticker != nil {
		c.ticker.Reset(d)
	}
}

// Run drives the conditioner until ctx is cancelled or the source fails.
// It returns the source error, or ctx.Err() on cancellation.
func (c *Conditioner) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("conditioner already running")
	}
	if c.interval <= 0 {
		c.mu.Unlock()
		return errors.New("conditioner interval must be > 0")
	}
	c.running = true
	ticker := c.clock.NewTicker(c.interval)
	c.ticker = ticker
	c.mu.Unlock()
	defer ticker.Stop()

	readErr := make(chan error, 1)
	go func() { readErr <- c.read(ctx) }()

	for {
		select {
		case <-ctx.Done():
			c.finish(ErrClosed)
			return ctx.Err()
		case err := <-readErr:
			if ctx.Err() != nil {
				c.finish(ErrClosed)
				return ctx.Err()
			}
			c.finish(err)
			return err
		case <-ticker.C:
			c.tick()
		}
	}
}

// read stores every reading in the pending slot. It never waits on the
// consumer.
func (c *Conditioner) read(ctx context.Context) error {
	for {
		v, err := c.src.Next(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.pending = v
		c.hasPending = true
		c.mu.Unlock()
	}
}

// tick moves the newest reading into the consumer slot at an interval
// boundary.
func (c *Conditioner) tick() {
	c.mu.Lock()
	c.ticks++
	if !c.hasPending {
		c.mu.Unlock()
		return
	}
	v := c.pending
	c.hasPending = false

	if c.hasLast && v == c.last {
		// A value equal to what the consumer already has supersedes and
		// cancels anything still waiting.
		c.hasSlot = false
		c.mu.Unlock()
		return
	}
	c.slot = v
	c.hasSlot = true
	c.mu.Unlock()
	c.signal()
}

func (c *Conditioner) finish(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.ticker = nil
	c.mu.Unlock()
	c.signal()
}

func (c *Conditioner) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Next blocks until a conditioned value is available. After the source
// fails, a value already waiting is still returned, then the terminal
// error on every call.
func (c *Conditioner) Next(ctx context.Context) (int, error) {
	for {
		c.mu.Lock()
		if c.hasSlot {
			v := c.slot
			c.hasSlot = false
			c.last = v
			c.hasLast = true
			c.mu.Unlock()
			return v, nil
		}
		err := c.err
		c.mu.Unlock()
		if err != nil {
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c.ready:
		}
	}
}

// Last returns the most recent value handed to the consumer.
func (c *Conditioner) Last() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}
