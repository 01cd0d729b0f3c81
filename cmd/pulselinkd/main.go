// Pulselinkd is the telemetry daemon of pulselink.
//
// It reads heart-rate readings from a sensor, conditions them, and streams
// them with the host's battery and charging state to consumers over a
// WebSocket link, either as a server that consumers dial or as a client
// that dials one consumer. An HTTP control API runs alongside. Shutdown is
// handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/pulselink/internal/app"
	"github.com/large-farva/pulselink/internal/config"
	"github.com/large-farva/pulselink/internal/logging"
	"github.com/large-farva/pulselink/internal/sensor"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/pulselink/pulselink.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "Control API bind address (overrides [server].bind)")
		mode       = pflag.String("mode", "", "Link role: server or client (overrides [link].mode)")
		url        = pflag.String("url", "", "Consumer URL in client mode (overrides [link].url)")
		logLevel   = pflag.String("log-level", "", "Log level: debug, info, warn, error")
		listPorts  = pflag.Bool("list-ports", false, "List serial ports and exit")
	)
	pflag.Parse()

	if *listPorts {
		ports, err := sensor.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) && !pflag.CommandLine.Changed("config") {
		// No config at the default path: run on defaults.
		cfg, err = config.Default(), nil
		*configPath = ""
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Link.Mode = *mode
	}
	if *url != "" {
		cfg.Link.URL = *url
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logs := logging.NewManager(os.Stdout)
	if err := logs.Configure(cfg.Logging); err != nil {
		fmt.Fprintln(os.Stderr, "logging setup failed:", err)
		os.Exit(1)
	}
	logger := logs.Logger("pulselinkd")
	logger.Info("starting", "version", app.Version, "mode", cfg.Link.Mode, "sensor", cfg.Sensor.Kind)

	a, err := app.New(app.Options{
		Logs:       logs,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("pulselinkd failed", "error", err)
		os.Exit(1)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
