package ctl

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	// Decode into ordered sections for human-readable output.
	var cfg struct {
		Logging struct {
			Level string `json:"level"`
		} `json:"logging"`
		Server struct {
			Bind string `json:"bind"`
		} `json:"server"`
		Link struct {
			Mode                 string `json:"mode"`
			Host                 string `json:"host"`
			Port                 int    `json:"port"`
			URL                  string `json:"url"`
			OutboxCapacity       int    `json:"outbox_capacity"`
			MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
		} `json:"link"`
		Sensor struct {
			Kind          string `json:"kind"`
			Device        string `json:"device"`
			Baud          int    `json:"baud"`
			RawIntervalMS int    `json:"raw_interval_ms"`
		} `json:"sensor"`
		Sampling struct {
			IdleMS            int `json:"idle_ms"`
			PowerSavingMS     int `json:"power_saving_ms"`
			PowerSavingWiFiMS int `json:"power_saving_wifi_ms"`
			ReducedMS         int `json:"reduced_ms"`
			FastMS            int `json:"fast_ms"`
		} `json:"sampling"`
		Host struct {
			Provider               string `json:"provider"`
			SysfsRoot              string `json:"sysfs_root"`
			PowerSaving            bool   `json:"power_saving"`
			Network                string `json:"network"`
			Battery                int    `json:"battery"`
			Charging               bool   `json:"charging"`
			StatusIntervalSeconds  int    `json:"status_interval_seconds"`
			BatteryIntervalSeconds int    `json:"battery_interval_seconds"`
		} `json:"host"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(header("  DAEMON CONFIGURATION"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 50)))

	section := func(name string) {
		fmt.Printf("\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Printf("    %-26s %v\n", colorize(dim, key+":"), val)
	}

	section("logging")
	field("level", cfg.Logging.Level)

	section("server")
	field("bind", cfg.Server.Bind)

	section("link")
	field("mode", cfg.Link.Mode)
	if cfg.Link.Mode == "client" {
		field("url", cfg.Link.URL)
		field("outbox_capacity", cfg.Link.OutboxCapacity)
		field("max_reconnect_attempts", cfg.Link.MaxReconnectAttempts)
	} else {
		field("host", cfg.Link.Host)
		field("port", cfg.Link.Port)
	}

	section("sensor")
	field("kind", cfg.Sensor.Kind)
	if cfg.Sensor.Kind == "serial" {
		field("device", cfg.Sensor.Device)
		field("baud", cfg.Sensor.Baud)
	} else {
		field("raw_interval_ms", cfg.Sensor.RawIntervalMS)
	}

	section("sampling")
	field("idle_ms", cfg.Sampling.IdleMS)
	field("power_saving_ms", cfg.Sampling.PowerSavingMS)
	field("power_saving_wifi_ms", cfg.Sampling.PowerSavingWiFiMS)
	field("reduced_ms", cfg.Sampling.ReducedMS)
	field("fast_ms", cfg.Sampling.FastMS)

	section("host")
	field("provider", cfg.Host.Provider)
	if cfg.Host.Provider == "sysfs" {
		field("sysfs_root", cfg.Host.SysfsRoot)
	} else {
		field("power_saving", cfg.Host.PowerSaving)
		field("network", cfg.Host.Network)
		field("battery", cfg.Host.Battery)
		field("charging", cfg.Host.Charging)
	}
	field("status_interval_seconds", cfg.Host.StatusIntervalSeconds)
	field("battery_interval_seconds", cfg.Host.BatteryIntervalSeconds)

	fmt.Println()

	return nil
}
