package sensor

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/large-farva/pulselink/internal/clock"
)

// Simulated is a random-walk heart rate for running without hardware. It
// drifts around Base, occasionally holds steady, and stays within
// [MinBPM, MaxBPM].
type Simulated struct {
	Interval time.Duration // time between raw readings
	Base     int

	clock clock.Clock
	rng   *rand.Rand
	cur   int
}

// NewSimulated returns a simulator emitting every interval. A zero seed
// draws one at random.
func NewSimulated(interval time.Duration, seed uint64, clk clock.Clock) *Simulated {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if clk == nil {
		clk = clock.Real()
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulated{
		Interval: interval,
		Base:     72,
		clock:    clk,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Simulated) Next(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.clock.After(s.Interval):
	}
	return s.step(), nil
}

func (s *Simulated) step() int {
	if s.cur == 0 {
		s.cur = s.Base
		return s.cur
	}

	// Hold steady a third of the time so downstream dedup has work to do.
	if s.rng.IntN(3) == 0 {
		return s.cur
	}

	delta := s.rng.IntN(5) - 2
	// Pull back toward Base once the walk strays.
	switch {
	case s.cur > s.Base+25:
		delta = -1 - s.rng.IntN(2)
	case s.cur < s.Base-15:
		delta = 1 + s.rng.IntN(2)
	}
	s.cur = min(max(s.cur+delta, MinBPM), MaxBPM)
	return s.cur
}
