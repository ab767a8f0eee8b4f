// Package eventstest records published events for assertions.
package eventstest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/installmatch/backend/internal/events"
)

type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

var _ events.Publisher = (*Recorder)(nil)

func (r *Recorder) PublishTx(_ context.Context, _ pgx.Tx, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events with the given kind.
func (r *Recorder) OfKind(kind string) []events.Event {
	var out []events.Event
	for _, ev := range r.Events() {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}
