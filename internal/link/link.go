// Package link carries encoded telemetry frames over WebSocket. A Server
// accepts any number of consumers and fans every event out to them; a
// Client keeps one outbound connection to a single consumer and survives
// outages with a bounded outbox and a reconnect engine. Both satisfy Sink,
// so the pipeline does not care which role the daemon runs in.
package link

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/pulselink/internal/telemetry"
)

// Sink is where conditioned telemetry goes.
type Sink interface {
	Publish(ev telemetry.Event)
	// Consumers is the number of live consumers: peers for a server, 0 or
	// 1 for a client.
	Consumers() int
	Status() Status
	Close() error
}

const (
	RoleServer = "server"
	RoleClient = "client"
)

// Status is a snapshot of a link for the control API and the notifier.
type Status struct {
	Role      string `json:"role"`
	State     string `json:"state"`
	Consumers int    `json:"consumers"`
	Attempt   int    `json:"attempt,omitempty"`
	GaveUp    bool   `json:"gave_up,omitempty"`
	Queued    int    `json:"queued"`
	Dropped   uint64 `json:"dropped"`
	Sent      uint64 `json:"sent"`
	Session   string `json:"session,omitempty"`
	Addr      string `json:"addr,omitempty"`
}

// ErrBind wraps the listen error when the server cannot bind its port.
var ErrBind = errors.New("bind failed")

const (
	writeWait  = 3 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
	closeWait  = time.Second
	readLimit  = 4096
)

// isExpectedClose reports whether err is ordinary connection teardown
// rather than something worth a warning.
func isExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

func logConnError(log *slog.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err)
	if isExpectedClose(err) {
		log.Debug(msg, args...)
		return
	}
	log.Warn(msg, args...)
}
