// Package events defines the Module Event domain type carried on the shared
// broadcast bus, and the Bus interface that publishes and distributes them.
package events

import "context"

// Kind distinguishes replay semantics for an event on the bus.
type Kind int

const (
	// Transient events are fire-and-forget; wasm modules always emit this
	// kind. A late subscriber never sees a Transient event that already
	// passed.
	Transient Kind = iota
	// Stateful events are remembered by the bus per (Source, Name) and
	// replayed to subscribers that join after the event was emitted.
	// Reserved for native modules that own canonical state.
	Stateful
)

// Event is a Module Event: an emission sourced by one module's stable id,
// named hierarchically, carrying an opaque JSON-string payload.
type Event struct {
	Source string
	Name   string
	Data   string // JSON, opaque to the bus and to routing
	Kind   Kind
}

// Key returns the "source.name" string used for subscription matching and
// as the Stateful-event supersession key.
func (e Event) Key() string {
	return e.Source + "." + e.Name
}

// Bus is the shared broadcast channel for Module Events. Publication is
// clonable and lock-free from the caller's perspective; each subscriber
// obtains its own receiver.
type Bus interface {
	// Publish emits an event to every current and future subscriber.
	// Stateful events additionally supersede the prior Stateful event with
	// the same (Source, Name) for later-joining subscribers.
	Publish(e Event)

	// Subscribe returns a receiver delivering every event published from
	// this point on, plus a replay of any live Stateful events (those
	// emitted before the call) so a late joiner is not missing state.
	// The returned cancel func releases the subscription and must be
	// called to avoid leaking the receiver goroutine.
	Subscribe(ctx context.Context) (<-chan Event, func())
}
