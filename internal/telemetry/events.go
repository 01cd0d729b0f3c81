package telemetry

import "time"

// EventType identifies the kind of control-plane event streamed to
// pulsectl over the /ws endpoint. These are JSON envelopes for operators;
// the telemetry wire itself carries only Encode frames.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventSample    EventType = "sample"
	EventLink      EventType = "link"
	EventInterval  EventType = "interval"
	EventLog       EventType = "log"
)

// Envelope is the base shared by every control-plane event.
type Envelope struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewEnvelope stamps an envelope with the current time.
func NewEnvelope(t EventType, component string) Envelope {
	return Envelope{Type: t, TS: NowTS(), Component: component}
}

// Heartbeat is sent periodically so operators can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Envelope
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the daemon moves between operating
// states (e.g. BOOTING -> STREAMING).
type StateTransition struct {
	Envelope
	From string `json:"from"`
	To   string `json:"to"`
}

// Sample mirrors one telemetry event that was handed to the link.
type Sample struct {
	Envelope
	Kind  string `json:"kind"`
	Frame string `json:"frame"`
	Value any    `json:"value"`
}

// NewSample builds a Sample event for ev.
func NewSample(ev Event) Sample {
	return Sample{
		Envelope: NewEnvelope(EventSample, "pipeline"),
		Kind:     ev.Kind.String(),
		Frame:    Encode(ev),
		Value:    ev.Value(),
	}
}

// Interval reports a change of the sampling interval and the inputs that
// produced it.
type Interval struct {
	Envelope
	IntervalMS        int64  `json:"interval_ms"`
	HasActiveConsumer bool   `json:"has_active_consumer"`
	PowerSaving       bool   `json:"power_saving"`
	Network           string `json:"network"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Envelope
	Level   string `json:"level"`
	Message string `json:"message"`
}

// LinkStatus reports a connectivity or consumer-count change of the
// telemetry link. Status is the link's own status snapshot.
type LinkStatus struct {
	Envelope
	Status any `json:"status"`
}
