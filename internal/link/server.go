package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/large-farva/pulselink/internal/telemetry"
)

const defaultPeerQueue = 64

// ServerOptions configures a Server.
type ServerOptions struct {
	// Host to bind; empty means all interfaces.
	Host string
	// PeerQueue is the per-consumer send buffer. A consumer that lets it
	// fill up is disconnected.
	PeerQueue int
	Logger    *slog.Logger
	// Notify, if set, is called after every change in consumer count or
	// running state. It must not block.
	Notify func(Status)
}

// Server accepts consumers on any path and broadcasts frames to all of
// them. New consumers are first sent the last known value of every field.
type Server struct {
	host      string
	peerQueue int
	log       *slog.Logger
	notify    func(Status)
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	running bool
	httpSrv *http.Server
	ln      net.Listener
	peers   map[uuid.UUID]*peer

	cache   lastKnown
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type peer struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan string
	done      chan struct{}
	closeOnce sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// NewServer returns a stopped server.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		host:      opts.Host,
		peerQueue: opts.PeerQueue,
		log:       opts.Logger,
		notify:    opts.Notify,
		peers:     make(map[uuid.UUID]*peer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	if s.peerQueue <= 0 {
		s.peerQueue = defaultPeerQueue
	}
	// Room for the replay of all three fields.
	s.peerQueue = max(s.peerQueue, 3)
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Start binds port and begins accepting consumers. Calling Start on a
// running server does nothing. Port 0 picks a free port; see Addr.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.ln = ln
	s.httpSrv = srv
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("telemetry server stopped", "error", err)
		}
	}()

	s.log.Info("telemetry server listening", "addr", ln.Addr().String())
	s.emit()
	return nil
}

// Addr returns the bound address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop closes every consumer with 1001 "server shutting down", shuts the
// HTTP server down within a second, and empties the registry. The port is
// free again when Stop returns.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	clear(s.peers)
	srv := s.httpSrv
	s.httpSrv = nil
	s.ln = nil
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, p := range peers {
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		p.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeWait)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		err = srv.Close()
	}

	s.log.Info("telemetry server stopped", "closed_peers", len(peers))
	s.emit()
	return err
}

// Running reports whether the server is accepting consumers.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Broadcast records ev as the last known value of its field and sends it
// to every consumer. With no consumers it only updates the cache.
func (s *Server) Broadcast(ev telemetry.Event) {
	s.cache.observe(ev)

	s.mu.Lock()
	if len(s.peers) == 0 {
		s.mu.Unlock()
		return
	}
	frame := telemetry.Encode(ev)
	var slow []*peer
	for id, p := range s.peers {
		select {
		case p.send <- frame:
		default:
			delete(s.peers, id)
			slow = append(slow, p)
		}
	}
	s.mu.Unlock()

	if len(slow) == 0 {
		return
	}
	for _, p := range slow {
		s.dropped.Add(1)
		s.log.Warn("consumer too slow, disconnecting", "peer", p.id)
		p.close()
	}
	s.emit()
}

func (s *Server) Publish(ev telemetry.Event) { s.Broadcast(ev) }

func (s *Server) Consumers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) Close() error { return s.Stop() }

func (s *Server) Status() Status {
	s.mu.Lock()
	st := Status{
		Role:      RoleServer,
		State:     "STOPPED",
		Consumers: len(s.peers),
	}
	if s.running {
		st.State = "LISTENING"
	}
	if s.ln != nil {
		st.Addr = s.ln.Addr().String()
	}
	for _, p := range s.peers {
		st.Queued += len(p.send)
	}
	s.mu.Unlock()

	st.Sent = s.sent.Load()
	st.Dropped = s.dropped.Load()
	return st
}

// ServeHTTP upgrades any request to a consumer connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	p := &peer{
		id:   uuid.New(),
		conn: conn,
		send: make(chan string, s.peerQueue),
		done: make(chan struct{}),
	}

	// Register and queue the replay under one lock so no broadcast can
	// slip in ahead of it.
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		_ = conn.Close()
		return
	}
	s.peers[p.id] = p
	for _, frame := range s.cache.replay() {
		p.send <- frame
	}
	n := len(s.peers)
	s.mu.Unlock()

	s.log.Info("consumer connected", "peer", p.id, "remote", r.RemoteAddr, "consumers", n)
	s.emit()

	go s.writeLoop(p)
	go s.readLoop(p)
}

func (s *Server) writeLoop(p *peer) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				s.remove(p, err)
				return
			}
			s.sent.Add(1)
		case <-ping.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.remove(p, err)
				return
			}
		}
	}
}

// readLoop services control frames and notices when the consumer goes
// away. Consumers have nothing to say, so data frames are discarded.
func (s *Server) readLoop(p *peer) {
	p.conn.SetReadLimit(readLimit)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			s.remove(p, err)
			return
		}
	}
}

// remove drops p from the registry. Reader, writer, Broadcast and Stop
// may all race to remove the same peer; only the first one counts.
func (s *Server) remove(p *peer, cause error) {
	s.mu.Lock()
	cur, ok := s.peers[p.id]
	removed := ok && cur == p
	if removed {
		delete(s.peers, p.id)
	}
	n := len(s.peers)
	s.mu.Unlock()

	p.close()
	if !removed {
		return
	}
	logConnError(s.log, "consumer disconnected", cause, "peer", p.id, "consumers", n)
	s.emit()
}

func (s *Server) emit() {
	if s.notify != nil {
		s.notify(s.Status())
	}
}

// lastKnown holds the newest event of each field, indexed by kind.
type lastKnown struct {
	mu     sync.Mutex
	events [3]telemetry.Event
	seen   [3]bool
}

func (c *lastKnown) observe(ev telemetry.Event) {
	k := int(ev.Kind)
	if k < 0 || k >= len(c.events) {
		return
	}
	c.mu.Lock()
	c.events[k] = ev
	c.seen[k] = true
	c.mu.Unlock()
}

// replay returns frames for every observed field in tag order.
func (c *lastKnown) replay() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var frames []string
	for k, ev := range c.events {
		if c.seen[k] {
			frames = append(frames, telemetry.Encode(ev))
		}
	}
	return frames
}
