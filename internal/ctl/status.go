package ctl

import (
	"fmt"
	"strings"
	"time"
)

// LinkStatus mirrors the link section of GET /api/status.
type LinkStatus struct {
	Role      string `json:"role"`
	State     string `json:"state"`
	Consumers int    `json:"consumers"`
	Attempt   int    `json:"attempt"`
	GaveUp    bool   `json:"gave_up"`
	Queued    int    `json:"queued"`
	Dropped   uint64 `json:"dropped"`
	Sent      uint64 `json:"sent"`
	Session   string `json:"session"`
	Addr      string `json:"addr"`
}

// PipelineStatus mirrors the pipeline section of GET /api/status.
type PipelineStatus struct {
	IntervalMS   int64  `json:"interval_ms"`
	HasConsumer  bool   `json:"has_active_consumer"`
	PowerSaving  bool   `json:"power_saving"`
	Network      string `json:"network"`
	HeartRate    int    `json:"heart_rate"`
	HasHeartRate bool   `json:"has_heart_rate"`
	Battery      int    `json:"battery"`
	Charging     bool   `json:"charging"`
	Published    uint64 `json:"published"`
	SampleTicks  uint64 `json:"sample_ticks"`
}

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string         `json:"name"`
	State         string         `json:"state"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Mode          string         `json:"mode"`
	Sensor        string         `json:"sensor"`
	HostProvider  string         `json:"host_provider"`
	Link          LinkStatus     `json:"link"`
	Pipeline      PipelineStatus `json:"pipeline"`
	Watchers      int            `json:"watchers"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	hr := "-"
	if s.Pipeline.HasHeartRate {
		hr = fmt.Sprintf("%d bpm", s.Pipeline.HeartRate)
	}

	fmt.Println()
	fmt.Println(header("  PULSELINK STATUS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Printf("  %-12s %s\n", colorize(dim, "State:"), colorize(stateColor(s.State), s.State))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Sensor:"), s.Sensor)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Heart rate:"), hr)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Interval:"), formatInterval(s.Pipeline.IntervalMS))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Network:"), s.Pipeline.Network)
	fmt.Printf("  %-12s %v\n", colorize(dim, "Saving:"), s.Pipeline.PowerSaving)
	fmt.Printf("  %-12s %s (charging: %v)\n", colorize(dim, "Battery:"), formatBattery(s.Pipeline.Battery), s.Pipeline.Charging)
	fmt.Println()
	fmt.Println(header("  LINK"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Role:"), s.Link.Role)
	fmt.Printf("  %-12s %s\n", colorize(dim, "State:"), colorize(stateColor(s.Link.State), s.Link.State))
	if s.Link.Addr != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Address:"), s.Link.Addr)
	}
	fmt.Printf("  %-12s %d\n", colorize(dim, "Consumers:"), s.Link.Consumers)
	if s.Link.Role == "client" {
		fmt.Printf("  %-12s %d\n", colorize(dim, "Attempt:"), s.Link.Attempt)
		if s.Link.GaveUp {
			fmt.Printf("  %-12s %s\n", colorize(dim, "Gave up:"), colorize(red, "yes, run `pulsectl connect`"))
		}
		if s.Link.Session != "" {
			fmt.Printf("  %-12s %s\n", colorize(dim, "Session:"), s.Link.Session)
		}
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Println()

	return nil
}
