package sampling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIntervalDecisionTable(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		want time.Duration
	}{
		{"power saving on cellular", Context{HasActiveConsumer: true, PowerSaving: true, Network: NetworkCellular}, 3 * time.Second},
		{"power saving on bluetooth", Context{HasActiveConsumer: true, PowerSaving: true, Network: NetworkBluetooth}, 3 * time.Second},
		{"power saving on wifi", Context{HasActiveConsumer: true, PowerSaving: true, Network: NetworkWiFi}, 2 * time.Second},
		{"normal on cellular", Context{HasActiveConsumer: true, Network: NetworkCellular}, 1500 * time.Millisecond},
		{"normal on unknown", Context{HasActiveConsumer: true, Network: NetworkUnknown}, 1500 * time.Millisecond},
		{"normal on wifi", Context{HasActiveConsumer: true, Network: NetworkWiFi}, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeInterval(tt.ctx))
		})
	}
}

func TestNoConsumerAlwaysIdle(t *testing.T) {
	for _, saving := range []bool{false, true} {
		for _, n := range []Network{NetworkUnknown, NetworkWiFi, NetworkCellular, NetworkBluetooth} {
			ctx := Context{HasActiveConsumer: false, PowerSaving: saving, Network: n}
			assert.Equal(t, 10*time.Second, ComputeInterval(ctx), "saving=%v network=%s", saving, n)
		}
	}
}

func TestCustomTiers(t *testing.T) {
	tiers := Tiers{Idle: 30 * time.Second, PowerSaving: 5 * time.Second, PowerSavingWiFi: 4 * time.Second, Reduced: 2 * time.Second, Fast: 500 * time.Millisecond}
	require.NoError(t, tiers.Validate())
	assert.Equal(t, 500*time.Millisecond, tiers.Interval(Context{HasActiveConsumer: true, Network: NetworkWiFi}))
	assert.Equal(t, 30*time.Second, tiers.Interval(Context{}))

	tiers.Reduced = 0
	assert.ErrorContains(t, tiers.Validate(), "sampling.reduced")
}

func TestParseNetwork(t *testing.T) {
	cases := map[string]Network{
		"wifi":      NetworkWiFi,
		"Wi-Fi":     NetworkWiFi,
		"cellular":  NetworkCellular,
		"bluetooth": NetworkBluetooth,
		"":          NetworkUnknown,
		"ethernet":  NetworkUnknown,
	}
	for in, want := range cases {
		got, err := ParseNetwork(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseNetwork("carrier-pigeon")
	assert.Error(t, err)
}
