package cache

import (
	"time"
)

// UsageEvent records one observed model usage. Events are immutable once
// recorded and drive both the next-model predictor and per-entry value
// scoring.
type UsageEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	ModelID       string            `json:"model_id"`
	State         string            `json:"state"`
	LoadTime      time.Duration     `json:"load_time"`
	InferenceTime time.Duration     `json:"inference_time"`
	Context       map[string]string `json:"context,omitempty"`
}

// usageLedger is a fixed-capacity ring buffer of usage events. The oldest
// event is dropped on overflow.
type usageLedger struct {
	events []UsageEvent
	head   int
	size   int
}

func newUsageLedger(capacity int) *usageLedger {
	return &usageLedger{
		events: make([]UsageEvent, capacity),
	}
}

func (l *usageLedger) append(ev UsageEvent) {
	l.events[l.head] = ev
	l.head = (l.head + 1) % len(l.events)
	if l.size < len(l.events) {
		l.size++
	}
}

func (l *usageLedger) len() int {
	return l.size
}

// snapshot returns the recorded events in chronological order.
func (l *usageLedger) snapshot() []UsageEvent {
	out := make([]UsageEvent, 0, l.size)
	start := l.head - l.size
	if start < 0 {
		start += len(l.events)
	}
	for i := 0; i < l.size; i++ {
		out = append(out, l.events[(start+i)%len(l.events)])
	}
	return out
}
