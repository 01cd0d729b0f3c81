package sensor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/pulselink/internal/clock"
)

func TestParseBPM(t *testing.T) {
	cases := []struct {
		line string
		want int
		ok   bool
	}{
		{"72", 72, true},
		{"  88\r", 88, true},
		{"HR:72", 72, true},
		{"bpm=101", 101, true},
		{"hr: 64", 64, true},
		{"", 0, false},
		{"# boot", 0, false},
		{"HR:", 0, false},
		{"HR:abc", 0, false},
		{"5", 0, false},
		{"400", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseBPM(tc.line)
		assert.Equal(t, tc.ok, ok, "%q", tc.line)
		assert.Equal(t, tc.want, got, "%q", tc.line)
	}
}

func TestLinesSkipsJunkAndEnds(t *testing.T) {
	l := NewLines(strings.NewReader("starting\nHR:70\n\nbpm=71\nnoise\n72\n"))
	ctx := context.Background()

	for _, want := range []int{70, 71, 72} {
		got, err := l.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, ErrEnded)
	assert.NoError(t, l.Close())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestLinesReadFailureIsTerminal(t *testing.T) {
	l := NewLines(failingReader{})
	_, err := l.Next(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "device unplugged")
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestLinesClosesUnderlyingReader(t *testing.T) {
	rc := &closeRecorder{Reader: strings.NewReader("72\n")}
	l := NewLines(rc)
	require.NoError(t, l.Close())
	assert.True(t, rc.closed)
}

func TestLinesHonorsCancelledContext(t *testing.T) {
	l := NewLines(strings.NewReader("72\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulatedStaysInRange(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSimulated(100*time.Millisecond, 42, fc)

	ctx := context.Background()
	for i := 0; i < 500; i++ {
		done := make(chan int, 1)
		go func() {
			v, err := s.Next(ctx)
			if err != nil {
				v = -1
			}
			done <- v
		}()
		fc.WaitForTimers(1)
		fc.Advance(100 * time.Millisecond)

		v := <-done
		require.GreaterOrEqual(t, v, MinBPM)
		require.LessOrEqual(t, v, MaxBPM)
		if i == 0 {
			assert.Equal(t, 72, v)
		}
	}
}

func TestSimulatedCancel(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSimulated(time.Second, 7, fc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
