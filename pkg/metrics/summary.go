package metrics

import (
	"log/slog"
	"sync"
)

// EventStats aggregates one event name over the life of the process.
type EventStats struct {
	Count int64
	Total float64
	Max   float64
}

// SummaryObserver keeps running per-event aggregates, meant for a
// shutdown summary of turn latencies and call durations.
type SummaryObserver struct {
	mu    sync.Mutex
	stats map[string]*EventStats
}

func NewSummaryObserver() *SummaryObserver {
	return &SummaryObserver{stats: make(map[string]*EventStats)}
}

func (o *SummaryObserver) RecordEvent(ev MetricsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats[ev.Name]
	if s == nil {
		s = &EventStats{}
		o.stats[ev.Name] = s
	}
	s.Count++
	s.Total += ev.Value
	if ev.Value > s.Max {
		s.Max = ev.Value
	}
}

// Snapshot copies the current aggregates.
func (o *SummaryObserver) Snapshot() map[string]EventStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]EventStats, len(o.stats))
	for name, s := range o.stats {
		out[name] = *s
	}
	return out
}

// LogSummary writes one line per event name.
func (o *SummaryObserver) LogSummary(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	for name, s := range o.Snapshot() {
		avg := 0.0
		if s.Count > 0 {
			avg = s.Total / float64(s.Count)
		}
		log.Info("metrics_summary",
			slog.String("event", name),
			slog.Int64("count", s.Count),
			slog.Float64("avg_value", avg),
			slog.Float64("max_value", s.Max),
		)
	}
}
