// Package sensor provides heart-rate sources for the pipeline: a line
// parser over any byte stream, a serial-port opener for straps bridged
// by a microcontroller, and a simulated random walk for demo mode.
package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Source produces raw heart-rate readings. Next blocks until a reading is
// available. Any error is terminal.
type Source interface {
	Next(ctx context.Context) (int, error)
}

// ErrEnded is returned once the underlying stream reaches EOF.
var ErrEnded = errors.New("sensor stream ended")

// Plausible BPM bounds; readings outside are treated as line noise.
const (
	MinBPM = 20
	MaxBPM = 250
)

const serialReadTimeout = 300 * time.Millisecond

// Lines reads one reading per line from r. Accepted forms are a bare
// integer ("72") or a key followed by ':' or '=' ("HR:72", "bpm=72").
// Lines that do not parse are skipped.
type Lines struct {
	r      *ctxReader
	sc     *bufio.Scanner
	closer io.Closer
}

// NewLines wraps r. If r is an io.Closer, Close closes it.
func NewLines(r io.Reader) *Lines {
	cr := &ctxReader{r: r, ctx: context.Background()}
	l := &Lines{r: cr, sc: bufio.NewScanner(cr)}
	if c, ok := r.(io.Closer); ok {
		l.closer = c
	}
	return l
}

func (l *Lines) Next(ctx context.Context) (int, error) {
	l.r.ctx = ctx
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !l.sc.Scan() {
			if err := l.sc.Err(); err != nil {
				if ctx.Err() != nil {
					return 0, ctx.Err()
				}
				return 0, fmt.Errorf("sensor read: %w", err)
			}
			return 0, ErrEnded
		}
		if bpm, ok := ParseBPM(l.sc.Text()); ok {
			return bpm, nil
		}
	}
}

func (l *Lines) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseBPM extracts a reading from one line of sensor output.
func ParseBPM(line string) (int, bool) {
	s := strings.TrimSpace(line)
	if i := strings.LastIndexAny(s, ":="); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < MinBPM || n > MaxBPM {
		return 0, false
	}
	return n, true
}

// OpenSerial opens a serial device and returns a line source over it.
func OpenSerial(device string, baud int) (*Lines, error) {
	if device == "" {
		return nil, errors.New("serial device is empty")
	}
	if baud <= 0 {
		return nil, fmt.Errorf("invalid serial baud rate: %d", baud)
	}

	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", device, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	return NewLines(port), nil
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// ctxReader turns timed-out zero-byte reads into a cancellation check so
// a Scanner over a serial port neither spins into ErrNoProgress nor
// outlives its context.
type ctxReader struct {
	r   io.Reader
	ctx context.Context
}

func (c *ctxReader) Read(p []byte) (int, error) {
	for {
		if err := c.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := c.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
