// Package netsync turns authoritative world state into per-client
// traffic: interest filtering, per-client delta compression, one-shot
// event routing and message batching.
package netsync

import "emberfall/internal/protocol"

// Event is a one-shot broadcast produced by the simulation and consumed
// at the next network tick.
//
// Routing: entities listed in Involved always receive the event,
// bypassing distance filtering; everyone else receives it only within
// the effect sync distance of (X, Y). Global events skip filtering
// entirely.
type Event struct {
	Env      protocol.Envelope
	X, Y     float64
	Involved []string
	Global   bool
}

// EventBuffer accumulates events between network ticks. Owned by the
// simulation goroutine.
type EventBuffer struct {
	events []Event
}

// NewEventBuffer builds an empty buffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{events: make([]Event, 0, 64)}
}

// EmitAt queues a positioned event involving the given entity ids.
func (b *EventBuffer) EmitAt(env protocol.Envelope, x, y float64, involved ...string) {
	b.events = append(b.events, Event{Env: env, X: x, Y: y, Involved: involved})
}

// EmitGlobal queues an event delivered to every connected client.
func (b *EventBuffer) EmitGlobal(env protocol.Envelope) {
	b.events = append(b.events, Event{Env: env, Global: true})
}

// Drain returns the buffered events and resets the buffer. The returned
// slice is valid until the next emit.
func (b *EventBuffer) Drain() []Event {
	out := b.events
	b.events = b.events[len(b.events):]
	return out
}

// Len returns the number of pending events.
func (b *EventBuffer) Len() int {
	return len(b.events)
}
