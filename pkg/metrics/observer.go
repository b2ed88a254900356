package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Session lifecycle event names consumed by observability wiring.
const (
	EventSessionCreated   = "session_created"
	EventGreetingComplete = "greeting_complete"
	EventTurnComplete     = "turn_complete"
	EventSessionClosed    = "session_disconnected"
	EventRateLimit        = "gateway_rate_limit"
	EventDecodeSkip       = "synthesis_decode_skip"
	EventStreamTimeout    = "synthesis_stream_timeout"
)

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// MultiObserver fans one event out to several observers.
type MultiObserver struct {
	observers []Observer
}

func NewMultiObserver(observers ...Observer) *MultiObserver {
	out := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return &MultiObserver{observers: out}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, o := range m.observers {
		o.RecordEvent(ev)
	}
}
