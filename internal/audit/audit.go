// Package audit carries access decisions and pipeline stage transitions to
// an external audit sink. Every access decision is recorded, allowed or not;
// suspicious decisions additionally raise a security alert.
package audit

import (
	"sync"
	"time"

	"docvault/internal/model"
)

// EventKind distinguishes the event streams the sink receives.
type EventKind string

const (
	KindAccessDecision EventKind = "access_decision"
	KindPermission     EventKind = "permission_change"
	KindPipelineStage  EventKind = "pipeline_stage"
	KindQuarantine     EventKind = "quarantine"
	KindIntegrity      EventKind = "integrity_violation"
)

// Event is one audit record. Not every field applies to every kind; zero
// values are omitted by sinks.
type Event struct {
	Kind           EventKind
	Timestamp      time.Time
	DocumentID     string
	UserID         string
	Action         string
	Success        bool
	Reason         string
	Classification model.Classification

	// Context carries request metadata: source IP, country, job or stage
	// identifiers.
	Context map[string]string

	// Suspicious routes the event through the security alert path as well
	// as the normal audit trail.
	Suspicious bool
}

// Sink receives audit events. Implementations must be safe for concurrent
// use and must not block the caller on slow external persistence.
type Sink interface {
	Record(event Event)
}

// MemorySink collects events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of all recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfKind returns recorded events of one kind.
func (s *MemorySink) OfKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Alerts returns recorded events flagged suspicious.
func (s *MemorySink) Alerts() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Suspicious {
			out = append(out, e)
		}
	}
	return out
}
