package ctl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	Level     string
	Component string
	Limit     int
	Tail      bool
	JSON      bool
}

// LogEntry mirrors one entry of GET /api/logs.
type LogEntry struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component"`
}

// Logs shows recent daemon log messages, or streams them live with --tail.
func Logs(baseURL string, opts LogsOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	// --tail mode: use WebSocket watch with log filter.
	if opts.Tail {
		return Watch(baseURL, WatchOptions{
			Filter: []string{"log"},
			JSON:   opts.JSON,
		})
	}

	var resp struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := getJSON(baseURL, logsPath(opts), &resp); err != nil {
		return err
	}
	resp.Logs = filterComponent(resp.Logs, opts.Component)

	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  DAEMON LOGS"))
	fmt.Println("  " + strings.Repeat("─", 70))

	if len(resp.Logs) == 0 {
		fmt.Println("  No log entries found.")
	}
	for _, entry := range resp.Logs {
		ts := entry.TS
		if t, err := time.Parse(time.RFC3339Nano, entry.TS); err == nil {
			ts = t.Local().Format("15:04:05")
		}
		fmt.Printf("  %s %s  [%s] %s\n", ts, formatLogLevel(entry.Level), entry.Component, entry.Message)
	}

	fmt.Println()
	return nil
}

// logsPath builds the query for the daemon-side filters. The component
// filter is applied locally.
func logsPath(opts LogsOptions) string {
	q := url.Values{}
	if opts.Level != "" {
		q.Set("level", opts.Level)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(q) == 0 {
		return "/api/logs"
	}
	return "/api/logs?" + q.Encode()
}

func filterComponent(entries []LogEntry, component string) []LogEntry {
	if component == "" {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Component == component {
			out = append(out, e)
		}
	}
	return out
}
