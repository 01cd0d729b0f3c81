package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Health checks daemon liveness and component health via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz", "application/json")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var detail struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		// Older daemons answer with plain text only.
		detail.Healthy = status == 200
	}

	if jsonOutput {
		return printJSON(map[string]any{"healthy": detail.Healthy, "url": baseURL, "checks": detail.Checks})
	}

	fmt.Println()
	if detail.Healthy {
		fmt.Printf("  %s  pulselinkd is healthy at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Printf("  %s  pulselinkd returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(detail.Checks))
	for name := range detail.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := detail.Checks[name]
		mark := colorize(green, "ok  ")
		if ok, _ := c["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
		}
		line := fmt.Sprintf("    %s %s", mark, padRight(name, 14))
		if msg, _ := c["error"].(string); msg != "" {
			line += colorize(dim, msg)
		}
		fmt.Println(line)
	}
	fmt.Println()

	return nil
}
