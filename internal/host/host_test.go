package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/pulselink/internal/sampling"
)

func writeFile(t *testing.T, root string, rel string, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content+"\n"), 0o644))
}

func TestStatic(t *testing.T) {
	s := Static{Saving: true, Net: sampling.NetworkWiFi, Level: 55, IsCharging: true}
	assert.True(t, s.PowerSaving())
	assert.Equal(t, sampling.NetworkWiFi, s.Network())
	assert.True(t, s.Charging())
	lvl, ok := s.Battery()
	assert.True(t, ok)
	assert.Equal(t, 55, lvl)

	_, ok = Static{Level: -1}.Battery()
	assert.False(t, ok)
}

func TestSysfsBatteryAndCharging(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "class/power_supply/AC/type", "Mains")
	writeFile(t, root, "class/power_supply/AC/online", "0")
	writeFile(t, root, "class/power_supply/BAT0/type", "Battery")
	writeFile(t, root, "class/power_supply/BAT0/capacity", "83")
	writeFile(t, root, "class/power_supply/BAT0/status", "Discharging")

	s := NewSysfs(root, nil)
	lvl, ok := s.Battery()
	require.True(t, ok)
	assert.Equal(t, 83, lvl)
	assert.False(t, s.Charging())

	writeFile(t, root, "class/power_supply/AC/online", "1")
	assert.True(t, s.Charging())

	writeFile(t, root, "class/power_supply/AC/online", "0")
	writeFile(t, root, "class/power_supply/BAT0/status", "Charging")
	assert.True(t, s.Charging())
}

func TestSysfsNoBattery(t *testing.T) {
	s := NewSysfs(t.TempDir(), nil)
	_, ok := s.Battery()
	assert.False(t, ok)
	assert.False(t, s.Charging())
	assert.False(t, s.PowerSaving())
	assert.Equal(t, sampling.NetworkUnknown, s.Network())
}

func TestSysfsNetwork(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "class/net/lo/operstate", "unknown")
	writeFile(t, root, "class/net/eth0/operstate", "up")
	s := NewSysfs(root, nil)
	assert.Equal(t, sampling.NetworkUnknown, s.Network())

	writeFile(t, root, "class/net/wwan0/operstate", "up")
	assert.Equal(t, sampling.NetworkCellular, s.Network())

	writeFile(t, root, "class/net/wlan0/operstate", "down")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class/net/wlan0/wireless"), 0o755))
	assert.Equal(t, sampling.NetworkCellular, s.Network())

	writeFile(t, root, "class/net/wlan0/operstate", "up")
	assert.Equal(t, sampling.NetworkWiFi, s.Network())
}

func TestSysfsPowerSaving(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "devices/system/cpu/cpu0/cpufreq/scaling_governor", "schedutil")
	s := NewSysfs(root, nil)
	assert.False(t, s.PowerSaving())

	writeFile(t, root, "firmware/acpi/platform_profile", "low-power")
	assert.True(t, s.PowerSaving())
}
