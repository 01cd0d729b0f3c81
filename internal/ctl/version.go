package ctl

import (
	"fmt"
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
	BuiltAt   = "unknown"
)

type buildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at"`
}

type versionReport struct {
	CLI         buildInfo  `json:"cli"`
	Daemon      *buildInfo `json:"daemon,omitempty"`
	DaemonError string     `json:"daemon_error,omitempty"`
}

// VersionInfo fetches daemon version via GET /api/version and displays both
// the CLI and daemon version information. An unreachable daemon is
// reported, not returned as an error.
func VersionInfo(baseURL string, jsonOutput bool) error {
	rep := versionReport{CLI: buildInfo{Version: Version, GoVersion: GoVersion, BuiltAt: BuiltAt}}

	var daemon buildInfo
	if err := getJSON(strings.TrimRight(baseURL, "/"), "/api/version", &daemon); err != nil {
		rep.DaemonError = err.Error()
	} else {
		rep.Daemon = &daemon
	}

	if jsonOutput {
		return printJSON(rep)
	}

	fmt.Println()
	fmt.Println(header("  PULSELINK VERSION"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "CLI:"), rep.CLI.Version, rep.CLI.GoVersion)
	if rep.Daemon == nil {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), colorize(red, "unreachable: "+rep.DaemonError))
	} else {
		fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "Daemon:"), rep.Daemon.Version, rep.Daemon.GoVersion)
		fmt.Printf("  %-12s %s\n", colorize(dim, "Built:"), rep.Daemon.BuiltAt)
		if rep.Daemon.Version != rep.CLI.Version {
			fmt.Printf("  %s\n", colorize(yellow, "CLI and daemon versions differ"))
		}
	}
	fmt.Println()

	return nil
}
