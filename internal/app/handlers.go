package app

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"github.com/large-farva/pulselink/internal/config"
	"github.com/large-farva/pulselink/internal/sensor"
)

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "pulselink",
		"state":          a.State(),
		"uptime_seconds": a.uptimeSeconds(),
		"mode":           a.cfg.Link.Mode,
		"sensor":         a.cfg.Sensor.Kind,
		"host_provider":  a.cfg.Host.Provider,
		"link":           a.sink.Status(),
		"pipeline":       a.pipe.Snapshot(),
		"watchers":       a.wsHub.Watchers(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.cfg)
}

func (a *App) handleSystem(w http.ResponseWriter, _ *http.Request) {
	level, hasBattery := a.host.Battery()
	resp := map[string]any{
		"go_version":  runtime.Version(),
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"config_path": a.configPath,
		"host": map[string]any{
			"power_saving": a.host.PowerSaving(),
			"network":      a.host.Network().String(),
			"battery":      level,
			"has_battery":  hasBattery,
			"charging":     a.host.Charging(),
		},
	}

	// Serial ports, so an operator can find the strap's device name.
	ports, err := sensor.ListPorts()
	if err != nil {
		resp["serial_ports_error"] = err.Error()
	} else {
		resp["serial_ports"] = ports
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	a.logBufMu.Lock()
	entries := make([]logEntry, len(a.logBuf))
	copy(entries, a.logBuf)
	a.logBufMu.Unlock()

	// Apply filters.
	levelFilter := r.URL.Query().Get("level")
	if levelFilter != "" {
		filtered := []logEntry{}
		for _, e := range entries {
			if e.Level == levelFilter {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"logs": entries})
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{}
	allOK := true

	// Sensor: the pipeline ends when the source fails.
	if a.State() == StateSensorFailed {
		checks["sensor"] = map[string]any{"ok": false, "error": "sensor stream ended"}
		allOK = false
	} else {
		checks["sensor"] = map[string]any{"ok": true, "kind": a.cfg.Sensor.Kind}
	}

	// Serial device still present.
	if a.cfg.Sensor.Kind == config.SensorSerial {
		if _, err := os.Stat(a.cfg.Sensor.Device); err != nil {
			checks["serial_device"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["serial_device"] = map[string]any{"ok": true, "path": a.cfg.Sensor.Device}
		}
	}

	// Link: a server must be listening; a client must not have given up.
	st := a.sink.Status()
	linkOK := true
	linkCheck := map[string]any{"state": st.State, "consumers": st.Consumers}
	switch {
	case a.linkServer != nil && !a.linkServer.Running() && a.State() != StateBooting:
		linkOK = false
		linkCheck["error"] = "telemetry socket not listening"
	case st.GaveUp:
		linkOK = false
		linkCheck["error"] = "reconnect attempts exhausted"
	}
	linkCheck["ok"] = linkOK
	checks["link"] = linkCheck
	if !linkOK {
		allOK = false
	}

	// Config file readable.
	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

// ---------------------------------------------------------------------------
// Link controls
// ---------------------------------------------------------------------------

func (a *App) handleLinkConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.linkClient == nil {
		jsonError(w, "not available in server mode", http.StatusConflict)
		return
	}
	a.linkClient.Connect()
	a.log.Info("link connect requested", "url", a.cfg.Link.URL)
	writeOK(w, "connecting to "+a.cfg.Link.URL)
}

func (a *App) handleLinkDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.linkClient == nil {
		jsonError(w, "not available in server mode", http.StatusConflict)
		return
	}
	a.linkClient.Disconnect()
	a.log.Info("link disconnect requested")
	writeOK(w, "disconnected")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeOK(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":      true,
		"message": msg,
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": msg,
	})
}
