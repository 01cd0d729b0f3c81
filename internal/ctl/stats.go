package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatsResponse is the counter subset of the status response.
type StatsResponse struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Published     uint64 `json:"published"`
	SampleTicks   uint64 `json:"sample_ticks"`
	Sent          uint64 `json:"sent"`
	Dropped       uint64 `json:"dropped"`
	Queued        int    `json:"queued"`
	Consumers     int    `json:"consumers"`
	Watchers      int    `json:"watchers"`
}

// Stats shows telemetry counters from the daemon.
func Stats(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	resp := statsFrom(s)

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  TELEMETRY STATISTICS"))
	fmt.Println("  " + strings.Repeat("─", 42))
	fmt.Printf("  Uptime:          %s\n", formatDuration(time.Duration(resp.UptimeSeconds)*time.Second))
	fmt.Printf("  Published:       %d\n", resp.Published)
	fmt.Printf("  Sample ticks:    %d\n", resp.SampleTicks)
	fmt.Printf("  Frames sent:     %d\n", resp.Sent)
	if resp.Dropped > 0 {
		fmt.Printf("  Dropped:         %s\n", colorize(yellow, fmt.Sprint(resp.Dropped)))
	} else {
		fmt.Printf("  Dropped:         0\n")
	}
	fmt.Printf("  Queued:          %d\n", resp.Queued)
	fmt.Printf("  Consumers:       %d\n", resp.Consumers)
	fmt.Printf("  Watchers:        %d\n", resp.Watchers)
	fmt.Println()
	return nil
}

func statsFrom(s StatusResponse) StatsResponse {
	return StatsResponse{
		UptimeSeconds: s.UptimeSeconds,
		Published:     s.Pipeline.Published,
		SampleTicks:   s.Pipeline.SampleTicks,
		Sent:          s.Link.Sent,
		Dropped:       s.Link.Dropped,
		Queued:        s.Link.Queued,
		Consumers:     s.Link.Consumers,
		Watchers:      s.Watchers,
	}
}
