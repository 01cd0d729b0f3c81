// Package logging configures the daemon's slog logger and mirrors log
// lines onto the control-plane event stream so `pulsectl watch` can show
// them.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/large-farva/pulselink/internal/config"
)

// Line is a log record as forwarded to watchers.
type Line struct {
	Level     string
	Message   string
	Component string
}

// Manager owns the process logger.
type Manager struct {
	logger  *slog.Logger
	level   slog.LevelVar
	forward atomic.Pointer[func(Line)]
}

// NewManager logs to w (stdout when nil) at info until Configure.
func NewManager(w io.Writer) *Manager {
	if w == nil {
		w = os.Stdout
	}
	m := &Manager{}
	m.level.Set(slog.LevelInfo)
	m.logger = slog.New(&forwardHandler{
		inner:   slog.NewTextHandler(w, &slog.HandlerOptions{Level: &m.level}),
		forward: &m.forward,
	})
	return m
}

// Configure applies the [logging] section and installs the logger as the
// slog default.
func (m *Manager) Configure(cfg config.LoggingConfig) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	m.level.Set(level)

	slog.SetDefault(m.logger)
	return nil
}

// Logger returns a child logger tagged with component.
func (m *Manager) Logger(component string) *slog.Logger {
	return m.logger.With("component", component)
}

// Forward mirrors every record at info or above to fn. Passing nil stops
// forwarding. fn must not block or log.
func (m *Manager) Forward(fn func(Line)) {
	if fn == nil {
		m.forward.Store(nil)
		return
	}
	m.forward.Store(&fn)
}

// ParseLevel maps a config string to a slog level. Empty means info.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", raw)
	}
}

type forwardHandler struct {
	inner     slog.Handler
	forward   *atomic.Pointer[func(Line)]
	component string
}

func (h *forwardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *forwardHandler) Handle(ctx context.Context, r slog.Record) error {
	if fn := h.forward.Load(); fn != nil && r.Level >= slog.LevelInfo {
		(*fn)(Line{
			Level:     strings.ToLower(r.Level.String()),
			Message:   r.Message,
			Component: h.component,
		})
	}
	return h.inner.Handle(ctx, r)
}

func (h *forwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.inner = h.inner.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == "component" {
			nh.component = a.Value.String()
		}
	}
	return &nh
}

func (h *forwardHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.inner = h.inner.WithGroup(name)
	return &nh
}
