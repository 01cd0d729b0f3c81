// Pulsectl is the command-line client for monitoring and controlling a
// running pulselinkd instance. It connects over HTTP and WebSocket to query
// status, stream live events, and tap the telemetry socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/pulselink/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "pulselinkd control URL (e.g. http://192.168.8.1:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter sample,link)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --limit are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "stats":
		err = ctl.Stats(*host, *jsonOut)

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.StringVar(&opts.Level, "level", "", "Filter by log level (info, warn, error)")
		logFlags.StringVar(&opts.Component, "component", "", "Filter by component (link, pipeline, ...)")
		logFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of log entries shown")
		logFlags.BoolVar(&opts.Tail, "tail", false, "Stream live log events (like watch --filter log)")
		_ = logFlags.Parse(subArgs)
		err = ctl.Logs(*host, opts)

	case "system-info":
		err = ctl.SystemInfo(*host, *jsonOut)

	// ── Link controls ─────────────────────────────────────────────
	case "connect":
		err = ctl.Connect(*host, *jsonOut)

	case "disconnect":
		err = ctl.Disconnect(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		opts := ctl.WatchOptions{JSON: *jsonOut}
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.StringSliceVar(&opts.Filter, "filter", *filter, "Event types to show")
		_ = watchFlags.Parse(subArgs)
		err = ctl.Watch(*host, opts)

	case "tap":
		opts := ctl.TapOptions{JSON: *jsonOut}
		tapFlags := pflag.NewFlagSet("tap", pflag.ContinueOnError)
		tapFlags.IntVar(&opts.Count, "count", 0, "Stop after N frames")
		_ = tapFlags.Parse(subArgs)
		if tapFlags.NArg() < 1 {
			err = ctl.ErrNoURL
			break
		}
		opts.URL = tapFlags.Arg(0)
		err = ctl.Tap(opts)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  pulsectl - pulselink control CLI

  USAGE
    pulsectl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show daemon state, heart rate, sampling, and link
    health          Check daemon and component health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    stats           Show telemetry counters
    logs            Show recent daemon log messages
    system-info     Show runtime, host power state, and serial ports

  COMMANDS (link, client mode only)
    connect         Connect (or reconnect after give-up) to the consumer
    disconnect      Close the link and stop reconnecting

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)
    tap URL         Consume the telemetry socket and print decoded frames

  GLOBAL FLAGS
    -H, --host URL      Daemon control URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    logs:
        --level LEVEL       Filter by log level (info, warn, error)
        --component NAME    Filter by component
        --limit N           Limit number of log entries shown
        --tail              Stream live log events

    tap:
        --count N           Stop after N frames

  EXAMPLES
    pulsectl status
    pulsectl --json status
    pulsectl --host http://192.168.8.1:8080 watch
    pulsectl watch --filter sample,interval
    pulsectl logs --level warn --limit 20
    pulsectl logs --tail
    pulsectl connect
    pulsectl tap ws://127.0.0.1:9555/
    pulsectl tap --count 10 ws://127.0.0.1:9555/

`)
}
