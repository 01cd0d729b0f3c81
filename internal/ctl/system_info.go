package ctl

import (
	"fmt"
	"strings"
)

// SystemInfo shows runtime, host power state, and serial ports from the
// daemon.
func SystemInfo(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		GoVersion  string `json:"go_version"`
		OS         string `json:"os"`
		Arch       string `json:"arch"`
		ConfigPath string `json:"config_path"`
		Host       struct {
			PowerSaving bool   `json:"power_saving"`
			Network     string `json:"network"`
			Battery     int    `json:"battery"`
			HasBattery  bool   `json:"has_battery"`
			Charging    bool   `json:"charging"`
		} `json:"host"`
		SerialPorts      []string `json:"serial_ports"`
		SerialPortsError string   `json:"serial_ports_error"`
	}
	if err := getJSON(baseURL, "/api/system", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	battery := "none"
	if resp.Host.HasBattery {
		battery = formatBattery(resp.Host.Battery)
	}

	fmt.Println()
	fmt.Println(header("  SYSTEM INFO"))
	fmt.Println("  " + strings.Repeat("─", 50))
	fmt.Printf("  Go version:  %s\n", resp.GoVersion)
	fmt.Printf("  OS/Arch:     %s/%s\n", resp.OS, resp.Arch)
	if resp.ConfigPath != "" {
		fmt.Printf("  Config:      %s\n", resp.ConfigPath)
	}
	fmt.Printf("  Network:     %s\n", resp.Host.Network)
	fmt.Printf("  Saving:      %v\n", resp.Host.PowerSaving)
	fmt.Printf("  Battery:     %s (charging: %v)\n", battery, resp.Host.Charging)

	switch {
	case resp.SerialPortsError != "":
		fmt.Printf("  Serial:      %s (%s)\n", colorize(yellow, "UNAVAILABLE"), resp.SerialPortsError)
	case len(resp.SerialPorts) == 0:
		fmt.Printf("  Serial:      %s\n", colorize(yellow, "no ports found"))
	default:
		fmt.Printf("  Serial:      %s\n", strings.Join(resp.SerialPorts, ", "))
	}

	fmt.Println()
	return nil
}
