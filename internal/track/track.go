// Package track carries per-request provenance and phase timings through a
// query's lifecycle.
package track

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Metadata identifies who asked for a query and under which request id.
// Every field is optional on the wire; a missing request id is generated so
// downstream logs always correlate.
type Metadata struct {
	RequestID     string `json:"requestId"`
	RequestSource string `json:"requestSource,omitempty"`
	UserID        string `json:"userId,omitempty"`
	ClientID      string `json:"clientId,omitempty"`
}

// FromRequest reads tracking headers from an HTTP request.
func FromRequest(r *http.Request) Metadata {
	m := Metadata{
		RequestID:     r.Header.Get("X-Request-Id"),
		RequestSource: r.Header.Get("X-Request-Source"),
		UserID:        r.Header.Get("X-User-Id"),
		ClientID:      r.Header.Get("X-Client-Id"),
	}
	if m.RequestID == "" {
		m.RequestID = uuid.NewString()
	}
	return m
}

type contextKey struct{}

func NewContext(ctx context.Context, m Metadata) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

func FromContext(ctx context.Context) (Metadata, bool) {
	m, ok := ctx.Value(contextKey{}).(Metadata)
	return m, ok
}

// Phase names one measured segment of query execution.
type Phase string

const (
	PhaseValidation Phase = "validation"
	PhaseQueueWait  Phase = "queue_wait"
	PhaseAcquire    Phase = "acquire"
	PhaseExecution  Phase = "execution"
	PhaseExport     Phase = "export"
	PhaseTotal      Phase = "total"
)

// Timer measures phase durations for one query. Not safe for concurrent use;
// a query's phases are sequential.
type Timer struct {
	started time.Time
	marks   map[Phase]time.Duration
	clock   func() time.Time
}

func NewTimer() *Timer {
	t := &Timer{marks: map[Phase]time.Duration{}, clock: time.Now}
	t.started = t.clock()
	return t
}

// Measure runs fn and records its elapsed time under the phase.
func (t *Timer) Measure(phase Phase, fn func() error) error {
	start := t.clock()
	err := fn()
	t.marks[phase] = t.clock().Sub(start)
	return err
}

// Record stores an externally measured duration.
func (t *Timer) Record(phase Phase, d time.Duration) {
	t.marks[phase] = d
}

// Elapsed returns the recorded duration for the phase, or the total elapsed
// wall time for PhaseTotal.
func (t *Timer) Elapsed(phase Phase) time.Duration {
	if phase == PhaseTotal {
		return t.clock().Sub(t.started)
	}
	return t.marks[phase]
}

// Durations snapshots all recorded phases plus the running total.
func (t *Timer) Durations() map[Phase]time.Duration {
	out := make(map[Phase]time.Duration, len(t.marks)+1)
	for phase, d := range t.marks {
		out[phase] = d
	}
	out[PhaseTotal] = t.clock().Sub(t.started)
	return out
}
