package types

import (
	"sync"

	"github.com/shopspring/decimal"
)

// EventKind identifies a dispatch lifecycle event
type EventKind string

const (
	EventAttempt EventKind = "attempt"
	EventSuccess EventKind = "success"
	EventFailure EventKind = "failure"
	EventTimeout EventKind = "timeout" // confirmation wait expired; the payment itself succeeded
	EventDone    EventKind = "done"
)

// Event is an observational progress notification. Sinks never influence dispatch.
type Event struct {
	Kind    EventKind
	Address string
	Amount  decimal.Decimal
	ID      string
	TxID    string
	Vout    *uint32
	Error   error
}

// EventSink receives events in emission order
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) {
	f(e)
}

// Discard drops every event
var Discard EventSink = EventSinkFunc(func(Event) {})

// Recorder collects events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds, optionally filtered by payment address
func (r *Recorder) Kinds(address string) []EventKind {
	var kinds []EventKind
	for _, e := range r.Events() {
		if address == "" || e.Address == address || e.Kind == EventDone {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}
