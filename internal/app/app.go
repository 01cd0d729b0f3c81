// Package app wires together the control API, the WebSocket event hub, the
// telemetry link, and the sensor pipeline. It owns the daemon's lifecycle
// and is the single source of truth for the current operating state.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/large-farva/pulselink/internal/config"
	"github.com/large-farva/pulselink/internal/host"
	"github.com/large-farva/pulselink/internal/link"
	"github.com/large-farva/pulselink/internal/logging"
	"github.com/large-farva/pulselink/internal/pipeline"
	"github.com/large-farva/pulselink/internal/sampling"
	"github.com/large-farva/pulselink/internal/sensor"
	"github.com/large-farva/pulselink/internal/telemetry"
	"github.com/large-farva/pulselink/internal/ws"
)

// Daemon states.
const (
	StateBooting      = "BOOTING"
	StateStreaming    = "STREAMING"
	StateSensorFailed = "SENSOR_FAILED"
	StateStopping     = "STOPPING"
)

const (
	heartbeatInterval = 10 * time.Second
	shutdownTimeout   = 3 * time.Second
	logBufSize        = 500
)

// Options holds everything the App needs from the caller. Logs may be nil,
// in which case logging goes to stdout and nothing is forwarded.
type Options struct {
	Logs       *logging.Manager
	Cfg        config.Config
	ConfigPath string
	Bind       string
}

// App is the top-level daemon process. It manages the HTTP server, the
// WebSocket event hub, the telemetry link, and the pipeline feeding it.
type App struct {
	log        *slog.Logger
	logs       *logging.Manager
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // current state string (BOOTING, STREAMING, etc.)

	wsHub *ws.Hub

	sink       link.Sink
	linkServer *link.Server // nil in client mode
	linkClient *link.Client // nil in server mode

	source sensor.Source
	host   host.Provider
	pipe   *pipeline.Runner

	logBufMu sync.Mutex
	logBuf   []logEntry
}

type logEntry struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component"`
}

// New builds an App in the BOOTING state. Nothing binds or dials until
// Run. It fails only when the configured sensor cannot be opened.
func New(opts Options) (*App, error) {
	logs := opts.Logs
	if logs == nil {
		logs = logging.NewManager(nil)
	}
	a := &App{
		log:        logs.Logger("pulselinkd"),
		logs:       logs,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		wsHub:      ws.NewHub(logs.Logger("ws")),
	}
	a.state.Store(StateBooting)

	src, err := a.openSource()
	if err != nil {
		return nil, err
	}
	a.source = src
	a.host = a.openHost()

	switch a.cfg.Link.Mode {
	case config.ModeClient:
		a.linkClient = link.NewClient(link.ClientOptions{
			URL:            a.cfg.Link.URL,
			OutboxCapacity: a.cfg.Link.OutboxCapacity,
			MaxAttempts:    a.cfg.Link.MaxReconnectAttempts,
			Logger:         logs.Logger("link"),
			Notify:         a.linkChanged,
		})
		a.sink = a.linkClient
	default:
		a.linkServer = link.NewServer(link.ServerOptions{
			Host:   a.cfg.Link.Host,
			Logger: logs.Logger("link"),
			Notify: a.linkChanged,
		})
		a.sink = a.linkServer
	}

	a.pipe = pipeline.New(pipeline.Options{
		Source:          a.source,
		Sink:            a.sink,
		Host:            a.host,
		Tiers:           a.cfg.Sampling.Tiers(),
		StatusInterval:  time.Duration(a.cfg.Host.StatusIntervalSeconds) * time.Second,
		BatteryInterval: time.Duration(a.cfg.Host.BatteryIntervalSeconds) * time.Second,
		Logger:          logs.Logger("pipeline"),
		Events:          a.wsHub,
	})
	return a, nil
}

func (a *App) openSource() (sensor.Source, error) {
	switch a.cfg.Sensor.Kind {
	case config.SensorSerial:
		src, err := sensor.OpenSerial(a.cfg.Sensor.Device, a.cfg.Sensor.Baud)
		if err != nil {
			return nil, err
		}
		a.log.Info("serial sensor opened", "device", a.cfg.Sensor.Device, "baud", a.cfg.Sensor.Baud)
		return src, nil
	default:
		interval := time.Duration(a.cfg.Sensor.RawIntervalMS) * time.Millisecond
		return sensor.NewSimulated(interval, 0, nil), nil
	}
}

func (a *App) openHost() host.Provider {
	if a.cfg.Host.Provider == config.ProviderSysfs {
		return host.NewSysfs(a.cfg.Host.SysfsRoot, a.logs.Logger("host"))
	}
	// Validate already rejected unknown networks.
	network, _ := sampling.ParseNetwork(a.cfg.Host.Network)
	return host.Static{
		Saving:     a.cfg.Host.PowerSaving,
		Net:        network,
		Level:      a.cfg.Host.Battery,
		IsCharging: a.cfg.Host.Charging,
	}
}

// Handler returns the control API routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/system", a.handleSystem)
	mux.HandleFunc("/api/logs", a.handleLogs)
	mux.HandleFunc("/api/link/connect", a.handleLinkConnect)
	mux.HandleFunc("/api/link/disconnect", a.handleLinkDisconnect)
	mux.Handle("/ws", a.wsHub.Handler())
	return mux
}

// Run starts the control API, the event hub, the telemetry link, and the
// pipeline. It blocks until ctx is cancelled or the control API fails. A
// sensor failure does not end Run; the daemon stays up in SENSOR_FAILED
// so operators can see what happened.
//
// Lifecycle:
//  1. Bind the control API
//  2. Start the link (listen in server mode, connect in client mode)
//  3. Run the pipeline until the sensor ends or ctx is cancelled
//  4. On cancel, close the link and the sensor, then drain the API
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" && a.cfg.Server.Bind != "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "127.0.0.1:8080"
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.log.Info("control api listening", "addr", "http://"+ln.Addr().String())

	go a.wsHub.Run(ctx)
	a.logs.Forward(a.recordLog)
	defer a.logs.Forward(nil)

	if err := a.startLink(); err != nil {
		_ = ln.Close()
		return err
	}

	a.transition(StateStreaming)
	go a.heartbeatLoop(ctx)

	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		if err := a.pipe.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("pipeline stopped", "error", err)
			a.transition(StateSensorFailed)
		}
	}()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		a.transition(StateStopping)
		a.log.Info("shutdown requested")
		<-pipeDone
		if err := a.sink.Close(); err != nil {
			a.log.Warn("link close failed", "error", err)
		}
		if c, ok := a.source.(io.Closer); ok {
			_ = c.Close()
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.server.Shutdown(sctx)
	}()

	err = a.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
	}
	return err
}

func (a *App) startLink() error {
	if a.linkServer != nil {
		if err := a.linkServer.Start(a.cfg.Link.Port); err != nil {
			return fmt.Errorf("telemetry link: %w", err)
		}
		return nil
	}
	a.log.Info("telemetry link connecting", "url", a.cfg.Link.URL)
	a.linkClient.Connect()
	return nil
}

// linkChanged is the link's Notify hook. It runs on link goroutines and
// must not block.
func (a *App) linkChanged(st link.Status) {
	if a.pipe != nil {
		a.pipe.ConsumersChanged()
	}
	a.wsHub.BroadcastJSON(telemetry.LinkStatus{
		Envelope: telemetry.NewEnvelope(telemetry.EventLink, "link"),
		Status:   st,
	})
}

// recordLog keeps the line for /api/logs and mirrors it to watchers. It
// is called from inside the log handler, so it must never log.
func (a *App) recordLog(line logging.Line) {
	ts := telemetry.NowTS()
	a.logBufMu.Lock()
	a.logBuf = append(a.logBuf, logEntry{
		TS:        ts,
		Level:     line.Level,
		Message:   line.Message,
		Component: line.Component,
	})
	if len(a.logBuf) > logBufSize {
		a.logBuf = a.logBuf[len(a.logBuf)-logBufSize:]
	}
	a.logBufMu.Unlock()

	a.wsHub.BroadcastJSON(telemetry.LogLine{
		Envelope: telemetry.Envelope{Type: telemetry.EventLog, TS: ts, Component: line.Component},
		Level:    line.Level,
		Message:  line.Message,
	})
}

// transition atomically updates the daemon state and broadcasts the change
// to all connected WebSocket clients.
func (a *App) transition(newState string) {
	old := a.state.Swap(newState).(string)
	if old == newState {
		return
	}
	a.log.Info("state changed", "from", old, "to", newState)
	a.wsHub.BroadcastJSON(telemetry.StateTransition{
		Envelope: telemetry.NewEnvelope(telemetry.EventState, "pulselinkd"),
		From:     old,
		To:       newState,
	})
}

// State returns the current daemon state.
func (a *App) State() string {
	return a.state.Load().(string)
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(telemetry.Heartbeat{
				Envelope:      telemetry.NewEnvelope(telemetry.EventHeartbeat, "pulselinkd"),
				State:         a.State(),
				UptimeSeconds: a.uptimeSeconds(),
			})
		}
	}
}

func (a *App) uptimeSeconds() int64 {
	return int64(time.Since(a.startedAt).Seconds())
}
