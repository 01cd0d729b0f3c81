// Package telemetry defines the telemetry events produced by the device and
// their text wire format, plus the JSON envelopes the daemon streams to
// operators on its control plane.
//
// A wire frame is "<tag>|<value>" with no trailing newline:
//
//	0|72      heart rate, BPM
//	1|85      battery level, percent 0-100
//	2|true    charging state
package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the wire tag of a telemetry event.
type Kind int

const (
	KindHeartRate Kind = iota
	KindBatteryLevel
	KindChargingState
)

func (k Kind) String() string {
	switch k {
	case KindHeartRate:
		return "heart_rate"
	case KindBatteryLevel:
		return "battery_level"
	case KindChargingState:
		return "charging_state"
	default:
		return "unknown"
	}
}

// Event is a single observation. Only the field matching Kind is
// meaningful; build events with HeartRate, BatteryLevel or ChargingState.
type Event struct {
	Kind     Kind
	Int      int
	Charging bool
}

// HeartRate returns a heart-rate event in beats per minute.
func HeartRate(bpm int) Event { return Event{Kind: KindHeartRate, Int: bpm} }

// BatteryLevel returns a battery event in percent.
func BatteryLevel(percent int) Event { return Event{Kind: KindBatteryLevel, Int: percent} }

// ChargingState returns a charging event.
func ChargingState(charging bool) Event { return Event{Kind: KindChargingState, Charging: charging} }

// Value returns the payload as an int or bool.
func (e Event) Value() any {
	if e.Kind == KindChargingState {
		return e.Charging
	}
	return e.Int
}

func (e Event) String() string { return Encode(e) }

// Encode frames ev for the wire.
func Encode(ev Event) string {
	switch ev.Kind {
	case KindChargingState:
		return "2|" + strconv.FormatBool(ev.Charging)
	case KindBatteryLevel:
		return "1|" + strconv.Itoa(ev.Int)
	default:
		return "0|" + strconv.Itoa(ev.Int)
	}
}

// ErrMalformed is returned by Decode for frames that Encode could not have
// produced.
var ErrMalformed = errors.New("malformed telemetry frame")

// Decode parses a wire frame. It is the exact inverse of Encode.
func Decode(frame string) (Event, error) {
	tag, value, ok := strings.Cut(frame, "|")
	if !ok {
		return Event{}, fmt.Errorf("%w: missing separator in %q", ErrMalformed, frame)
	}

	switch tag {
	case "0":
		n, err := parseCanonicalInt(value)
		if err != nil {
			return Event{}, fmt.Errorf("%w: heart rate %q", ErrMalformed, value)
		}
		return HeartRate(n), nil
	case "1":
		n, err := parseCanonicalInt(value)
		if err != nil || n < 0 || n > 100 {
			return Event{}, fmt.Errorf("%w: battery level %q", ErrMalformed, value)
		}
		return BatteryLevel(n), nil
	case "2":
		switch value {
		case "true":
			return ChargingState(true), nil
		case "false":
			return ChargingState(false), nil
		}
		return Event{}, fmt.Errorf("%w: charging state %q", ErrMalformed, value)
	default:
		return Event{}, fmt.Errorf("%w: unknown tag %q", ErrMalformed, tag)
	}
}

// parseCanonicalInt accepts only the spelling strconv.Itoa produces, so that
// Decode never accepts a frame Encode would render differently ("+7", "07").
func parseCanonicalInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if strconv.Itoa(n) != s {
		return 0, fmt.Errorf("non-canonical integer %q", s)
	}
	return n, nil
}
