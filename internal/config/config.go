// Package config handles loading, defaulting, and validation of the
// pulselink TOML configuration file. Every section maps to a typed struct
// so the rest of the codebase gets strong typing without manual key
// lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/large-farva/pulselink/internal/sampling"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"  json:"logging"`
	Server   ServerConfig   `toml:"server"   json:"server"`
	Link     LinkConfig     `toml:"link"     json:"link"`
	Sensor   SensorConfig   `toml:"sensor"   json:"sensor"`
	Sampling SamplingConfig `toml:"sampling" json:"sampling"`
	Host     HostConfig     `toml:"host"     json:"host"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// ServerConfig is the control API, not the telemetry socket.
type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type LinkConfig struct {
	Mode                 string `toml:"mode"                   json:"mode"`
	Host                 string `toml:"host"                   json:"host"`
	Port                 int    `toml:"port"                   json:"port"`
	URL                  string `toml:"url"                    json:"url"`
	OutboxCapacity       int    `toml:"outbox_capacity"        json:"outbox_capacity"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
}

type SensorConfig struct {
	Kind          string `toml:"kind"            json:"kind"`
	Device        string `toml:"device"          json:"device"`
	Baud          int    `toml:"baud"            json:"baud"`
	RawIntervalMS int    `toml:"raw_interval_ms" json:"raw_interval_ms"`
}

type SamplingConfig struct {
	IdleMS            int `toml:"idle_ms"              json:"idle_ms"`
	PowerSavingMS     int `toml:"power_saving_ms"      json:"power_saving_ms"`
	PowerSavingWiFiMS int `toml:"power_saving_wifi_ms" json:"power_saving_wifi_ms"`
	ReducedMS         int `toml:"reduced_ms"           json:"reduced_ms"`
	FastMS            int `toml:"fast_ms"              json:"fast_ms"`
}

type HostConfig struct {
	Provider               string `toml:"provider"                 json:"provider"`
	SysfsRoot              string `toml:"sysfs_root"               json:"sysfs_root"`
	PowerSaving            bool   `toml:"power_saving"             json:"power_saving"`
	Network                string `toml:"network"                  json:"network"`
	Battery                int    `toml:"battery"                  json:"battery"`
	Charging               bool   `toml:"charging"                 json:"charging"`
	StatusIntervalSeconds  int    `toml:"status_interval_seconds"  json:"status_interval_seconds"`
	BatteryIntervalSeconds int    `toml:"battery_interval_seconds" json:"battery_interval_seconds"`
}

const (
	ModeServer = "server"
	ModeClient = "client"

	SensorSimulated = "simulated"
	SensorSerial    = "serial"

	ProviderStatic = "static"
	ProviderSysfs  = "sysfs"
)

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind: "127.0.0.1:8080",
		},
		Link: LinkConfig{
			Mode:                 ModeServer,
			Port:                 9555,
			OutboxCapacity:       100,
			MaxReconnectAttempts: 10,
		},
		Sensor: SensorConfig{
			Kind:          SensorSimulated,
			Baud:          115200,
			RawIntervalMS: 250,
		},
		Sampling: SamplingConfig{
			IdleMS:            10000,
			PowerSavingMS:     3000,
			PowerSavingWiFiMS: 2000,
			ReducedMS:         1500,
			FastMS:            1000,
		},
		Host: HostConfig{
			Provider:               ProviderStatic,
			SysfsRoot:              "/sys",
			Network:                "wifi",
			Battery:                -1,
			StatusIntervalSeconds:  5,
			BatteryIntervalSeconds: 60,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints. Load calls it; callers that
// override fields from flags call it again.
func Validate(cfg Config) error {
	switch cfg.Link.Mode {
	case ModeServer:
		if cfg.Link.Port < 0 || cfg.Link.Port > 65535 {
			return errors.New("link.port must be between 0 and 65535")
		}
	case ModeClient:
		if cfg.Link.URL == "" {
			return errors.New("link.url must be set in client mode")
		}
	default:
		return fmt.Errorf("link.mode must be %q or %q", ModeServer, ModeClient)
	}
	if cfg.Link.OutboxCapacity < 1 {
		return errors.New("link.outbox_capacity must be >= 1")
	}
	if cfg.Link.MaxReconnectAttempts < 1 {
		return errors.New("link.max_reconnect_attempts must be >= 1")
	}

	switch cfg.Sensor.Kind {
	case SensorSimulated:
		if cfg.Sensor.RawIntervalMS <= 0 {
			return errors.New("sensor.raw_interval_ms must be > 0")
		}
	case SensorSerial:
		if cfg.Sensor.Device == "" {
			return errors.New("sensor.device must be set for the serial sensor")
		}
		if cfg.Sensor.Baud <= 0 {
			return errors.New("sensor.baud must be > 0")
		}
	default:
		return fmt.Errorf("sensor.kind must be %q or %q", SensorSimulated, SensorSerial)
	}

	if err := cfg.Sampling.Tiers().Validate(); err != nil {
		return err
	}

	switch cfg.Host.Provider {
	case ProviderStatic, ProviderSysfs:
	default:
		return fmt.Errorf("host.provider must be %q or %q", ProviderStatic, ProviderSysfs)
	}
	if _, err := sampling.ParseNetwork(cfg.Host.Network); err != nil {
		return fmt.Errorf("host.network: %w", err)
	}
	if cfg.Host.Battery > 100 {
		return errors.New("host.battery must be <= 100 (negative means no battery)")
	}
	if cfg.Host.StatusIntervalSeconds < 1 {
		return errors.New("host.status_interval_seconds must be >= 1")
	}
	if cfg.Host.BatteryIntervalSeconds < 1 {
		return errors.New("host.battery_interval_seconds must be >= 1")
	}
	return nil
}

// Tiers converts the [sampling] section to sampling tiers.
func (s SamplingConfig) Tiers() sampling.Tiers {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return sampling.Tiers{
		Idle:            ms(s.IdleMS),
		PowerSaving:     ms(s.PowerSavingMS),
		PowerSavingWiFi: ms(s.PowerSavingWiFiMS),
		Reduced:         ms(s.ReducedMS),
		Fast:            ms(s.FastMS),
	}
}
