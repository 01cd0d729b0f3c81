package ctl

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal in a human-readable format until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	u, err := wsURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, u))
		if len(opts.Filter) > 0 {
			fmt.Printf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Println(colorize(dim, "  "+strings.Repeat("─", 50)))
		fmt.Println()
	}

	filter := newEventFilter(opts.Filter)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if !filter.match(msg) {
				continue
			}
			if opts.JSON {
				fmt.Println(string(msg))
			} else {
				fmt.Println(formatEvent(msg))
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
		if !opts.JSON {
			fmt.Println()
			fmt.Println(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

// eventFilter keeps events whose type is in the set. An empty set keeps
// everything; events that are not JSON are always kept.
type eventFilter map[string]bool

func newEventFilter(types []string) eventFilter {
	f := make(eventFilter, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = true
		}
	}
	return f
}

func (f eventFilter) match(raw []byte) bool {
	if len(f) == 0 {
		return true
	}
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return true
	}
	return f[ev.Type]
}

// formatEvent renders a JSON event as one human-friendly line. Unknown
// event types fall back to indented JSON.
func formatEvent(raw []byte) string {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		return "  " + string(raw)
	}

	evType, _ := ev["type"].(string)
	ts := formatEventTime(ev)

	switch evType {
	case "heartbeat":
		// Heartbeats are noisy, so they are dimmed.
		state, _ := ev["state"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		return fmt.Sprintf("  %s %s  %s  up %s",
			colorize(dim, ts),
			colorize(dim, "heartbeat"),
			colorize(stateColor(state), state),
			colorize(dim, formatDuration(time.Duration(uptime)*time.Second)),
		)

	case "state":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		return fmt.Sprintf("  %s %s  %s %s %s",
			colorize(dim, ts),
			colorize(bold, "STATE"),
			colorize(stateColor(from), from),
			colorize(dim, "->"),
			colorize(stateColor(to), to),
		)

	case "log":
		level, _ := ev["level"].(string)
		message, _ := ev["message"].(string)
		component, _ := ev["component"].(string)
		src := ""
		if component != "" {
			src = colorize(dim, "["+component+"] ")
		}
		return fmt.Sprintf("  %s %s  %s%s", colorize(dim, ts), formatLogLevel(level), src, message)

	case "sample":
		kind, _ := ev["kind"].(string)
		frame, _ := ev["frame"].(string)
		return fmt.Sprintf("  %s %s  %s %s",
			colorize(dim, ts),
			colorize(cyan, padRight(kind, 14)),
			formatSampleValue(kind, ev["value"]),
			colorize(dim, frame),
		)

	case "interval":
		ms, _ := ev["interval_ms"].(float64)
		consumer, _ := ev["has_active_consumer"].(bool)
		saving, _ := ev["power_saving"].(bool)
		network, _ := ev["network"].(string)
		return fmt.Sprintf("  %s %s  %s  %s",
			colorize(dim, ts),
			colorize(bold, "INTERVAL"),
			formatInterval(int64(ms)),
			colorize(dim, fmt.Sprintf("consumer=%v saving=%v network=%s", consumer, saving, network)),
		)

	case "link":
		st, _ := ev["status"].(map[string]any)
		role, _ := st["role"].(string)
		state, _ := st["state"].(string)
		consumers, _ := st["consumers"].(float64)
		line := fmt.Sprintf("  %s %s  %s %s  consumers=%d",
			colorize(dim, ts),
			colorize(bold, "LINK"),
			role,
			colorize(stateColor(state), state),
			int(consumers),
		)
		if attempt, _ := st["attempt"].(float64); attempt > 0 {
			line += fmt.Sprintf(" attempt=%d", int(attempt))
		}
		if gaveUp, _ := st["gave_up"].(bool); gaveUp {
			line += " " + colorize(red, "gave up")
		}
		return line

	default:
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			return "  " + string(raw)
		}
		return "  " + string(pretty)
	}
}

func formatSampleValue(kind string, v any) string {
	switch kind {
	case "heart_rate":
		if n, ok := v.(float64); ok {
			return colorize(red, fmt.Sprintf("%d bpm", int(n)))
		}
	case "battery_level":
		if n, ok := v.(float64); ok {
			return formatBattery(int(n))
		}
	case "charging_state":
		if b, ok := v.(bool); ok && b {
			return colorize(green, "charging")
		}
		return "not charging"
	}
	return fmt.Sprint(v)
}

// formatEventTime extracts and shortens the timestamp from an event.
func formatEventTime(ev map[string]any) string {
	tsRaw, ok := ev["ts"].(string)
	if !ok {
		return "        "
	}
	t, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		if len(tsRaw) > 8 {
			return tsRaw[:8]
		}
		return tsRaw
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(strings.ToUpper(level), 5)
	}
}
