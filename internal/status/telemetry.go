package status

import (
	"sync"
	"time"
)

// Event names match the schema consumed by the external metrics collector.
const (
	EventSave      = "save"
	EventLoad      = "load"
	EventConflict  = "conflict"
	EventSyncError = "sync_error"
)

// TelemetryEvent is one engine event.
type TelemetryEvent struct {
	Event      string    `json:"event"`
	Success    bool      `json:"success"`
	LatencyMs  int64     `json:"latencyMs"`
	DocumentID string    `json:"documentId"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	Source     string    `json:"source,omitempty"`
	At         time.Time `json:"at"`
}

// Telemetry is a fixed-capacity ring buffer of recent events. It is an
// explicit constructed instance handed to the engine, not a package-level
// registry; its lifetime follows the engine's.
type Telemetry struct {
	mu    sync.Mutex
	buf   []TelemetryEvent
	next  int
	count int
}

// DefaultTelemetryCapacity bounds memory for the event buffer.
const DefaultTelemetryCapacity = 256

// NewTelemetry creates a buffer holding the most recent capacity events.
// capacity <= 0 selects DefaultTelemetryCapacity.
func NewTelemetry(capacity int) *Telemetry {
	if capacity <= 0 {
		capacity = DefaultTelemetryCapacity
	}
	return &Telemetry{buf: make([]TelemetryEvent, capacity)}
}

// Record appends an event, evicting the oldest once full.
func (t *Telemetry) Record(ev TelemetryEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	t.buf[t.next] = ev
	t.next = (t.next + 1) % len(t.buf)
	if t.count < len(t.buf) {
		t.count++
	}
}

// Events returns buffered events, oldest first.
func (t *Telemetry) Events() []TelemetryEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TelemetryEvent, 0, t.count)
	start := t.next - t.count
	if start < 0 {
		start += len(t.buf)
	}
	for i := 0; i < t.count; i++ {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// Len reports how many events are buffered.
func (t *Telemetry) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
