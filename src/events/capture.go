package events

import (
	"context"
	"sync"
)

// Captured is one recorded event.
type Captured struct {
	Event   string
	Payload interface{}
}

// CaptureSink records published events in memory. Intended for tests.
type CaptureSink struct {
	mu     sync.Mutex
	events []Captured
}

func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

func (s *CaptureSink) Publish(_ context.Context, event string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Captured{Event: event, Payload: payload})
	return nil
}

// Events returns a copy of everything captured so far.
func (s *CaptureSink) Events() []Captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Captured, len(s.events))
	copy(out, s.events)
	return out
}

// Names returns just the event names, in publish order.
func (s *CaptureSink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.events))
	for _, e := range s.events {
		names = append(names, e.Event)
	}
	return names
}
