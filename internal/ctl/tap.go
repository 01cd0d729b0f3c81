package ctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/pulselink/internal/telemetry"
)

// TapOptions configures the tap command.
type TapOptions struct {
	URL   string // telemetry socket, e.g. ws://127.0.0.1:9555/
	Count int    // stop after this many frames (0 = until interrupted)
	JSON  bool
}

type tapRecord struct {
	TS    string `json:"ts"`
	Frame string `json:"frame"`
	Kind  string `json:"kind,omitempty"`
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

// Tap connects to a daemon's telemetry socket as an ordinary consumer and
// prints every frame it receives, decoded. Connecting counts as an active
// consumer, so the daemon switches to its fast sampling tier.
func Tap(opts TapOptions) error {
	conn, _, err := websocket.DefaultDialer.Dial(opts.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "tapped"), colorize(dim, opts.URL))
		fmt.Println()
	}

	done := make(chan error, 1)
	go func() { done <- tap(conn, os.Stdout, opts) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "tap closed"),
			time.Now().Add(1*time.Second),
		)
		return nil
	case err := <-done:
		return err
	}
}

// tap reads frames from conn until the count is reached or the peer
// closes. A normal close from the daemon is not an error.
func tap(conn *websocket.Conn, out io.Writer, opts TapOptions) error {
	enc := json.NewEncoder(out)
	for n := 0; opts.Count == 0 || n < opts.Count; n++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		rec := decodeFrame(string(msg))
		if opts.JSON {
			if err := enc.Encode(rec); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, formatTapRecord(rec))
	}
	return nil
}

func decodeFrame(frame string) tapRecord {
	rec := tapRecord{TS: telemetry.NowTS(), Frame: frame}
	ev, err := telemetry.Decode(frame)
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.Kind = ev.Kind.String()
	rec.Value = ev.Value()
	return rec
}

func formatTapRecord(rec tapRecord) string {
	ts := time.Now().Format("15:04:05")
	if t, err := time.Parse(time.RFC3339Nano, rec.TS); err == nil {
		ts = t.Local().Format("15:04:05")
	}
	if rec.Error != "" {
		return fmt.Sprintf("  %s %s  %q %s", colorize(dim, ts), colorize(red, "MALFORMED"), rec.Frame, colorize(dim, rec.Error))
	}
	return fmt.Sprintf("  %s %s  %s %s",
		colorize(dim, ts),
		colorize(cyan, padRight(rec.Kind, 14)),
		formatSampleValue(rec.Kind, jsonNumber(rec.Value)),
		colorize(dim, rec.Frame),
	)
}

// jsonNumber widens ints to float64 so decoded frames format the same way
// as values that came through JSON.
func jsonNumber(v any) any {
	if n, ok := v.(int); ok {
		return float64(n)
	}
	return v
}

// ErrNoURL is returned when tap is run without a telemetry socket URL.
var ErrNoURL = errors.New("tap needs the telemetry socket URL, e.g. ws://127.0.0.1:9555/")
