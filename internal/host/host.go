// Package host reports the device conditions the sampling interval
// depends on (power mode and network transport) and the power fields
// that are streamed alongside the heart rate.
package host

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/large-farva/pulselink/internal/sampling"
)

// Provider is polled by the pipeline.
type Provider interface {
	PowerSaving() bool
	Network() sampling.Network
	// Battery returns the charge percentage, and false when the host has
	// no battery or it could not be read.
	Battery() (int, bool)
	Charging() bool
}

// Static reports fixed values, normally taken from the [host] config
// section.
type Static struct {
	Saving     bool
	Net        sampling.Network
	Level      int // -1 means no battery
	IsCharging bool
}

func (s Static) PowerSaving() bool         { return s.Saving }
func (s Static) Network() sampling.Network { return s.Net }
func (s Static) Charging() bool            { return s.IsCharging }

func (s Static) Battery() (int, bool) {
	if s.Level < 0 || s.Level > 100 {
		return 0, false
	}
	return s.Level, true
}

// Sysfs reads Linux sysfs. Root is normally "/sys".
type Sysfs struct {
	Root string
	Log  *slog.Logger
}

// NewSysfs returns a provider rooted at root ("/sys" when empty).
func NewSysfs(root string, logger *slog.Logger) *Sysfs {
	if root == "" {
		root = "/sys"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sysfs{Root: root, Log: logger}
}

// PowerSaving is true when the platform profile is low-power or the
// first CPU runs the powersave governor.
func (s *Sysfs) PowerSaving() bool {
	if v, ok := s.read("firmware", "acpi", "platform_profile"); ok && v == "low-power" {
		return true
	}
	if v, ok := s.read("devices", "system", "cpu", "cpu0", "cpufreq", "scaling_governor"); ok && v == "powersave" {
		return true
	}
	return false
}

// Network returns the best transport among interfaces that are up.
// Wi-Fi wins over cellular, which wins over Bluetooth. Wired links
// count as unknown.
func (s *Sysfs) Network() sampling.Network {
	ifaces := s.list("class", "net")
	best := sampling.NetworkUnknown
	rank := map[sampling.Network]int{
		sampling.NetworkUnknown:   0,
		sampling.NetworkBluetooth: 1,
		sampling.NetworkCellular:  2,
		sampling.NetworkWiFi:      3,
	}
	for _, name := range ifaces {
		if name == "lo" {
			continue
		}
		if state, _ := s.read("class", "net", name, "operstate"); state != "up" {
			continue
		}
		n := s.classify(name)
		if rank[n] > rank[best] {
			best = n
		}
	}
	return best
}

func (s *Sysfs) classify(iface string) sampling.Network {
	if s.exists("class", "net", iface, "wireless") || s.exists("class", "net", iface, "phy80211") {
		return sampling.NetworkWiFi
	}
	switch {
	case strings.HasPrefix(iface, "wwan"), strings.HasPrefix(iface, "rmnet"), strings.HasPrefix(iface, "ppp"):
		return sampling.NetworkCellular
	case strings.HasPrefix(iface, "bnep"), strings.HasPrefix(iface, "bt-pan"):
		return sampling.NetworkBluetooth
	}
	return sampling.NetworkUnknown
}

// Battery reads the first supply of type Battery.
func (s *Sysfs) Battery() (int, bool) {
	for _, name := range s.supplies("Battery") {
		v, ok := s.read("class", "power_supply", name, "capacity")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			s.Log.Debug("unreadable battery capacity", "supply", name, "value", v)
			continue
		}
		return n, true
	}
	return 0, false
}

// Charging is true when a battery reports Charging or Full, or any
// mains or USB supply is online.
func (s *Sysfs) Charging() bool {
	for _, name := range s.supplies("Battery") {
		if v, _ := s.read("class", "power_supply", name, "status"); v == "Charging" || v == "Full" {
			return true
		}
	}
	for _, kind := range []string{"Mains", "USB"} {
		for _, name := range s.supplies(kind) {
			if v, _ := s.read("class", "power_supply", name, "online"); v == "1" {
				return true
			}
		}
	}
	return false
}

func (s *Sysfs) supplies(kind string) []string {
	var out []string
	for _, name := range s.list("class", "power_supply") {
		if t, _ := s.read("class", "power_supply", name, "type"); t == kind {
			out = append(out, name)
		}
	}
	return out
}

func (s *Sysfs) list(elem ...string) []string {
	entries, err := os.ReadDir(s.path(elem...))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func (s *Sysfs) read(elem ...string) (string, bool) {
	b, err := os.ReadFile(s.path(elem...))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func (s *Sysfs) exists(elem ...string) bool {
	_, err := os.Stat(s.path(elem...))
	return err == nil
}

func (s *Sysfs) path(elem ...string) string {
	return filepath.Join(append([]string{s.Root}, elem...)...)
}
