package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"million-dialogue/internal/domain"
)

// NopLogger returns a logger that discards all output.
// Use this in tests to avoid log noise.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// QuestionSet builds a set of n four-option questions q1..qn whose correct
// answer is always option 1.
func QuestionSet(id string, n int) domain.QuestionSet {
	set := domain.QuestionSet{ID: id, Title: "Test set " + id}
	for i := 1; i <= n; i++ {
		set.Questions = append(set.Questions, domain.Question{
			ID:           fmt.Sprintf("q%d", i),
			Text:         fmt.Sprintf("Question %d", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 1,
		})
	}
	return set
}

// RecordingSink captures every event delivered to a connection.
type RecordingSink struct {
	ID string

	mu     sync.Mutex
	events []domain.Event
}

// NewRecordingSink creates a sink bound to the given connection id
func NewRecordingSink(connectionID string) *RecordingSink {
	return &RecordingSink{ID: connectionID}
}

func (s *RecordingSink) ConnectionID() string { return s.ID }

func (s *RecordingSink) Deliver(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything delivered so far
func (s *RecordingSink) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the event types in delivery order
func (s *RecordingSink) Types() []domain.EventType {
	events := s.Events()
	types := make([]domain.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// OfType returns the delivered events of one type, oldest first
func (s *RecordingSink) OfType(eventType domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event of a type
func (s *RecordingSink) Last(eventType domain.EventType) (domain.Event, bool) {
	events := s.OfType(eventType)
	if len(events) == 0 {
		return domain.Event{}, false
	}
	return events[len(events)-1], true
}

// Reset forgets recorded events
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
