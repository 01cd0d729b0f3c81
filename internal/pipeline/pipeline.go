// Package pipeline runs the telemetry loop of the daemon: sensor readings
// pass through the stream conditioner to the link, host power fields are
// polled and published when they change, and the sampling interval is
// re-evaluated whenever its inputs move.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/large-farva/pulselink/internal/clock"
	"github.com/large-farva/pulselink/internal/conditioner"
	"github.com/large-farva/pulselink/internal/host"
	"github.com/large-farva/pulselink/internal/link"
	"github.com/large-farva/pulselink/internal/sampling"
	"github.com/large-farva/pulselink/internal/sensor"
	"github.com/large-farva/pulselink/internal/telemetry"
)

// Events receives control-plane events. *ws.Hub satisfies it.
type Events interface {
	BroadcastJSON(v any)
}

// Options holds everything the Runner needs from the caller. Source, Sink
// and Host are required.
type Options struct {
	Source sensor.Source
	Sink   link.Sink
	Host   host.Provider
	Tiers  sampling.Tiers

	StatusInterval  time.Duration // host poll period
	BatteryInterval time.Duration // minimum spacing of battery reads

	Clock  clock.Clock
	Logger *slog.Logger
	Events Events
}

// Snapshot is what the control API reports about the pipeline.
type Snapshot struct {
	Interval     time.Duration    `json:"-"`
	IntervalMS   int64            `json:"interval_ms"`
	Context      sampling.Context `json:"-"`
	HasConsumer  bool             `json:"has_active_consumer"`
	PowerSaving  bool             `json:"power_saving"`
	Network      string           `json:"network"`
	HeartRate    int              `json:"heart_rate,omitempty"`
	HasHeartRate bool             `json:"has_heart_rate"`
	Battery      int              `json:"battery"`
	Charging     bool             `json:"charging"`
	Published    uint64           `json:"published"`
	SampleTicks  uint64           `json:"sample_ticks"`
}

// Runner owns the conditioner and the host poller.
type Runner struct {
	src    sensor.Source
	sink   link.Sink
	host   host.Provider
	tiers  sampling.Tiers
	status time.Duration
	batt   time.Duration
	clock  clock.Clock
	log    *slog.Logger
	events Events

	cond   *conditioner.Conditioner
	reeval chan struct{}

	mu           sync.Mutex
	ctx          sampling.Context
	interval     time.Duration
	heartRate    int
	hasHeartRate bool
	battery      int
	charging     bool
	hasCharging  bool
	batteryAt    time.Time
	published    uint64
}

// New creates a runner. Zero intervals fall back to 5s status polling and
// a 60s battery check.
func New(opts Options) *Runner {
	r := &Runner{
		src:    opts.Source,
		sink:   opts.Sink,
		host:   opts.Host,
		tiers:  opts.Tiers,
		status: opts.StatusInterval,
		batt:   opts.BatteryInterval,
		clock:  opts.Clock,
		log:    opts.Logger,
		events: opts.Events,
		reeval: make(chan struct{}, 1),

		battery: -1,
	}
	if r.tiers == (sampling.Tiers{}) {
		r.tiers = sampling.DefaultTiers
	}
	if r.status <= 0 {
		r.status = 5 * time.Second
	}
	if r.batt <= 0 {
		r.batt = 60 * time.Second
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.interval = r.tiers.Interval(r.ctx)
	r.cond = conditioner.New(r.src, r.interval, r.clock)
	return r
}

// ConsumersChanged asks the runner to re-evaluate the sampling interval.
// It never blocks; wire it to the link's Notify hook.
func (r *Runner) ConsumersChanged() {
	select {
	case r.reeval <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled or the sensor fails. A sensor failure
// is returned wrapped; cancellation returns ctx.Err().
//
// Lifecycle:
//  1. Poll the host once and publish battery and charging state
//  2. Start the conditioner and the consumer loop
//  3. Poll the host every status interval, re-evaluate on consumer changes
//  4. Stop when the conditioner ends
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.status)
	defer ticker.Stop()

	r.poll(true)

	condErr := make(chan error, 1)
	go func() { condErr <- r.cond.Run(ctx) }()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		r.consume(ctx)
	}()

	r.log.Info("pipeline started", "interval", r.Interval())

	for {
		select {
		case err := <-condErr:
			<-consumerDone
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("sensor failed", "error", err)
			return fmt.Errorf("sensor: %w", err)
		case <-ticker.C:
			r.poll(false)
		case <-r.reeval:
			r.evaluate()
		}
	}
}

// consume hands each conditioned heart rate to the sink.
func (r *Runner) consume(ctx context.Context) {
	for {
		bpm, err := r.cond.Next(ctx)
		if err != nil {
			if !errors.Is(err, conditioner.ErrClosed) && !errors.Is(err, context.Canceled) {
				r.log.Debug("conditioned stream ended", "error", err)
			}
			return
		}
		r.mu.Lock()
		r.heartRate = bpm
		r.hasHeartRate = true
		r.mu.Unlock()
		r.publish(telemetry.HeartRate(bpm))
	}
}

// poll reads the host. Battery is read at most once per battery
// interval; charging state on every poll. Either is published only when
// it changed.
func (r *Runner) poll(initial bool) {
	now := r.clock.Now()

	r.mu.Lock()
	checkBattery := initial || now.Sub(r.batteryAt) >= r.batt
	if checkBattery {
		r.batteryAt = now
	}
	r.mu.Unlock()

	if checkBattery {
		if lvl, ok := r.host.Battery(); ok {
			r.mu.Lock()
			changed := lvl != r.battery
			r.battery = lvl
			r.mu.Unlock()
			if changed {
				r.publish(telemetry.BatteryLevel(lvl))
			}
		}
	}

	charging := r.host.Charging()
	r.mu.Lock()
	changed := !r.hasCharging || charging != r.charging
	r.charging = charging
	r.hasCharging = true
	r.mu.Unlock()
	if changed {
		r.publish(telemetry.ChargingState(charging))
	}

	r.evaluate()
}

// evaluate recomputes the sampling context and retunes the conditioner
// when the interval changed.
func (r *Runner) evaluate() {
	sctx := sampling.Context{
		HasActiveConsumer: r.sink.Consumers() > 0,
		PowerSaving:       r.host.PowerSaving(),
		Network:           r.host.Network(),
	}
	d := r.tiers.Interval(sctx)

	r.mu.Lock()
	ctxChanged := sctx != r.ctx
	prev := r.interval
	r.ctx = sctx
	r.interval = d
	r.mu.Unlock()

	if d != prev {
		r.cond.SetInterval(d)
		r.log.Info("sampling interval changed",
			"from", prev, "to", d,
			"consumer", sctx.HasActiveConsumer,
			"power_saving", sctx.PowerSaving,
			"network", sctx.Network.String())
	}
	if (d != prev || ctxChanged) && r.events != nil {
		r.events.BroadcastJSON(telemetry.Interval{
			Envelope:          telemetry.NewEnvelope(telemetry.EventInterval, "pipeline"),
			IntervalMS:        d.Milliseconds(),
			HasActiveConsumer: sctx.HasActiveConsumer,
			PowerSaving:       sctx.PowerSaving,
			Network:           sctx.Network.String(),
		})
	}
}

func (r *Runner) publish(ev telemetry.Event) {
	r.sink.Publish(ev)
	r.mu.Lock()
	r.published++
	r.mu.Unlock()
	if r.events != nil {
		r.events.BroadcastJSON(telemetry.NewSample(ev))
	}
}

// Interval returns the current sampling interval.
func (r *Runner) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Interval:     r.interval,
		IntervalMS:   r.interval.Milliseconds(),
		Context:      r.ctx,
		HasConsumer:  r.ctx.HasActiveConsumer,
		PowerSaving:  r.ctx.PowerSaving,
		Network:      r.ctx.Network.String(),
		HeartRate:    r.heartRate,
		HasHeartRate: r.hasHeartRate,
		Battery:      r.battery,
		Charging:     r.charging,
		Published:    r.published,
		SampleTicks:  r.cond.Ticks(),
	}
}
