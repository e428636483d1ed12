package protocol

import "errors"

// Error taxonomy for the wire and simulation layers. Handlers branch on
// these with errors.Is; the disconnect policy is decided by the caller.
var (
	// ErrProtocol covers malformed frames, unknown envelope types, and
	// version mismatches. The connection is rejected or dropped.
	ErrProtocol = errors.New("protocol error")

	// ErrValidation covers payloads that parse but carry out-of-bounds
	// values or stale sequences. The message is dropped and counted
	// against the sender.
	ErrValidation = errors.New("validation error")

	// ErrRateLimited covers per-type message caps. Dropped and counted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrStateConflict covers actions impossible in the current state
	// (attacking while dead, unknown target). Silently ignored.
	ErrStateConflict = errors.New("state conflict")

	// ErrCapacity is returned when the server is full.
	ErrCapacity = errors.New("server at capacity")

	// ErrInternal marks a simulation invariant violation. The offending
	// entity is isolated; the loop keeps running.
	ErrInternal = errors.New("internal error")

	// ErrTransport marks a broken socket; full disconnect cleanup runs.
	ErrTransport = errors.New("transport error")
)
