// Package sampling decides how often the heart-rate stream is sampled,
// trading latency for sensor and radio usage based on who is listening,
// the power mode, and the network the device is on.
package sampling

import (
	"fmt"
	"strings"
	"time"
)

// Network is the category of the active network transport.
type Network int

const (
	NetworkUnknown Network = iota
	NetworkWiFi
	NetworkCellular
	NetworkBluetooth
)

func (n Network) String() string {
	switch n {
	case NetworkWiFi:
		return "wifi"
	case NetworkCellular:
		return "cellular"
	case NetworkBluetooth:
		return "bluetooth"
	default:
		return "unknown"
	}
}

// ParseNetwork maps a config or host string to a Network. Empty input is
// NetworkUnknown.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wifi", "wi-fi", "wlan":
		return NetworkWiFi, nil
	case "cellular", "mobile", "wwan":
		return NetworkCellular, nil
	case "bluetooth", "bt":
		return NetworkBluetooth, nil
	case "unknown", "", "ethernet":
		return NetworkUnknown, nil
	default:
		return NetworkUnknown, fmt.Errorf("unknown network transport %q", s)
	}
}

// Context is the set of environmental signals the interval depends on.
type Context struct {
	HasActiveConsumer bool
	PowerSaving       bool
	Network           Network
}

// Tiers holds the interval for each row of the decision table.
type Tiers struct {
	Idle            time.Duration // nobody is listening
	PowerSaving     time.Duration // power saving, not on Wi-Fi
	PowerSavingWiFi time.Duration // power saving, on Wi-Fi
	Reduced         time.Duration // normal power, not on Wi-Fi
	Fast            time.Duration // normal power, Wi-Fi
}

// DefaultTiers are the intervals used when the config does not override
// them.
var DefaultTiers = Tiers{
	Idle:            10 * time.Second,
	PowerSaving:     3 * time.Second,
	PowerSavingWiFi: 2 * time.Second,
	Reduced:         1500 * time.Millisecond,
	Fast:            time.Second,
}

// ComputeInterval evaluates ctx against DefaultTiers.
func ComputeInterval(ctx Context) time.Duration {
	return DefaultTiers.Interval(ctx)
}

// Interval returns the sampling interval for ctx. Rules are checked in
// order and the first match wins, so a context without an active consumer
// always gets the Idle tier.
func (t Tiers) Interval(ctx Context) time.Duration {
	wifi := ctx.Network == NetworkWiFi
	switch {
	case !ctx.HasActiveConsumer:
		return t.Idle
	case ctx.PowerSaving && !wifi:
		return t.PowerSaving
	case ctx.PowerSaving && wifi:
		return t.PowerSavingWiFi
	case !wifi:
		return t.Reduced
	default:
		return t.Fast
	}
}

// Validate checks that every tier is positive.
func (t Tiers) Validate() error {
	for name, d := range map[string]time.Duration{
		"idle":              t.Idle,
		"power_saving":      t.PowerSaving,
		"power_saving_wifi": t.PowerSavingWiFi,
		"reduced":           t.Reduced,
		"fast":              t.Fast,
	} {
		if d <= 0 {
			return fmt.Errorf("sampling.%s must be > 0", name)
		}
	}
	return nil
}
