package link

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/large-farva/pulselink/internal/clock"
	"github.com/large-farva/pulselink/internal/outbox"
	"github.com/large-farva/pulselink/internal/reconnect"
	"github.com/large-farva/pulselink/internal/telemetry"
)

const handshakeTimeout = 10 * time.Second

// ClientOptions configures a Client. URL is required.
type ClientOptions struct {
	URL            string
	OutboxCapacity int
	MaxAttempts    int
	Clock          clock.Clock
	Logger         *slog.Logger
	Dialer         *websocket.Dialer
	// Notify, if set, is called after every connectivity change. It must
	// not block.
	Notify func(Status)
}

// Client keeps one outbound connection to a consumer. Frames sent while
// the connection is down wait in a bounded outbox and are flushed in
// order, ahead of anything newer, as soon as a connection opens.
type Client struct {
	url    string
	log    *slog.Logger
	dialer *websocket.Dialer
	notify func(Status)

	engine *reconnect.Engine
	outbox *outbox.Outbox

	// mu guards the connection and serializes every write on it. Lock
	// order is mu, then the engine's own lock.
	mu      sync.Mutex
	conn    *websocket.Conn
	connGen uint64

	session atomic.Value // string
	sent    atomic.Uint64
}

// NewClient returns an idle client. Call Connect to start.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		url:    opts.URL,
		log:    opts.Logger,
		dialer: opts.Dialer,
		notify: opts.Notify,
		outbox: outbox.New(opts.OutboxCapacity),
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	c.session.Store("")
	c.engine = reconnect.New(reconnect.Options{
		Dial:        func(gen uint64) { go c.dial(gen) },
		Clock:       opts.Clock,
		MaxAttempts: opts.MaxAttempts,
		Logger:      c.log,
		OnChange:    func(reconnect.Snapshot) { c.emit() },
		OnGiveUp: func(attempts int) {
			c.log.Warn("giving up on consumer, reconnect manually", "url", c.url, "attempts", attempts)
		},
	})
	return c
}

// Connect clears a previous manual disconnect or give-up and dials now.
// An open connection is replaced.
func (c *Client) Connect() {
	c.mu.Lock()
	old := c.conn
	c.conn = nil
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.log.Info("connecting to consumer", "url", c.url)
	c.engine.Connect()
}

// Disconnect closes the connection, cancels any pending retry, and
// discards queued frames. It is safe to call repeatedly.
func (c *Client) Disconnect() {
	c.engine.Disconnect()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.outbox.Clear()
	c.mu.Unlock()

	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	_ = conn.Close()
	c.session.Store("")
	c.log.Info("disconnected from consumer", "url", c.url)
}

// Send encodes ev and writes it, or queues it when there is no open
// connection. Queuing while the link is down asks for an immediate
// reconnect; the engine coalesces repeated asks into one dial.
func (c *Client) Send(ev telemetry.Event) {
	frame := telemetry.Encode(ev)

	c.mu.Lock()
	if conn := c.conn; conn != nil {
		err := c.write(conn, frame)
		if err == nil {
			c.mu.Unlock()
			return
		}
		gen := c.connGen
		c.outbox.Enqueue(frame)
		c.conn = nil
		c.mu.Unlock()

		logConnError(c.log, "send failed", err, "url", c.url)
		_ = conn.Close()
		c.engine.Failed(gen, err)
		return
	}
	if !c.outbox.Enqueue(frame) {
		c.log.Debug("outbox full, frame dropped", "frame", frame)
	}
	c.mu.Unlock()

	c.engine.RequestImmediate()
	c.emit()
}

func (c *Client) Publish(ev telemetry.Event) { c.Send(ev) }

func (c *Client) Consumers() int {
	if c.engine.State() == reconnect.Open {
		return 1
	}
	return 0
}

func (c *Client) Close() error {
	c.Disconnect()
	return nil
}

// State returns the reconnect state.
func (c *Client) State() reconnect.State { return c.engine.State() }

func (c *Client) Status() Status {
	snap := c.engine.Snapshot()
	st := Status{
		Role:    RoleClient,
		State:   snap.State.String(),
		Attempt: snap.Attempt,
		GaveUp:  snap.GaveUp,
		Queued:  c.outbox.Len(),
		Dropped: c.outbox.Dropped(),
		Sent:    c.sent.Load(),
		Session: c.session.Load().(string),
		Addr:    c.url,
	}
	if snap.State == reconnect.Open {
		st.Consumers = 1
	}
	return st
}

// dial runs one connection attempt for generation gen.
func (c *Client) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.log.Debug("dial failed", "url", c.url, "generation", gen, "error", err)
		c.engine.Failed(gen, err)
		return
	}

	// Holding mu across the flush keeps new sends behind the backlog.
	c.mu.Lock()
	if !c.engine.Opened(gen) {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}

	backlog := c.outbox.DrainAll()
	for i, frame := range backlog {
		if err := c.write(conn, frame); err != nil {
			for _, rest := range backlog[i:] {
				c.outbox.Enqueue(rest)
			}
			c.mu.Unlock()
			logConnError(c.log, "flush failed", err, "url", c.url, "pending", len(backlog)-i)
			_ = conn.Close()
			c.engine.Failed(gen, err)
			return
		}
	}
	c.conn = conn
	c.connGen = gen
	session := uuid.NewString()
	c.session.Store(session)
	c.mu.Unlock()

	c.log.Info("connected to consumer", "url", c.url, "session", session, "flushed", len(backlog))
	c.emit()

	done := make(chan struct{})
	go c.pingLoop(conn, done)
	go c.readLoop(conn, gen, done)
}

// write must be called with mu held.
func (c *Client) write(conn *websocket.Conn, frame string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

// readLoop services control frames and detects the consumer closing the
// connection. Anything the consumer sends counts as proof of life.
func (c *Client) readLoop(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(readLimit)
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(pongWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.lost(conn, gen, err)
			return
		}
		extend()
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// lost detaches conn if it is still current and reports the failure.
func (c *Client) lost(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	if !current {
		return
	}

	c.session.Store("")
	logConnError(c.log, "connection to consumer lost", err, "url", c.url)
	c.engine.Failed(gen, err)
}

func (c *Client) emit() {
	if c.notify != nil {
		c.notify(c.Status())
	}
}
