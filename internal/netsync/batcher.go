package netsync

import "emberfall/internal/protocol"

// Batcher coalesces the messages bound for one socket between flushes.
// Queued game:state payloads are merged field-wise per entity (last
// write wins) so a slow flush never sends stale state twice; all other
// messages keep FIFO order. Owned by the simulation goroutine.
type Batcher struct {
	pending  []protocol.Envelope
	state    *protocol.GameState
	stateIdx int
}

// NewBatcher builds an empty batcher.
func NewBatcher() *Batcher {
	return &Batcher{stateIdx: -1}
}

// Add queues a non-state message.
func (b *Batcher) Add(env protocol.Envelope) {
	b.pending = append(b.pending, env)
}

// AddState queues a game:state payload, merging into any state message
// already pending.
func (b *Batcher) AddState(st protocol.GameState) {
	if b.state == nil {
		copied := st
		copied.Entities = append([]map[string]any(nil), st.Entities...)
		b.state = &copied
		b.pending = append(b.pending, protocol.Envelope{Type: protocol.TypeGameState})
		b.stateIdx = len(b.pending) - 1
		return
	}

	b.state.Tick = st.Tick
	if st.LastProcessedInput > b.state.LastProcessedInput {
		b.state.LastProcessedInput = st.LastProcessedInput
	}
	for _, rec := range st.Entities {
		b.mergeEntity(rec)
	}
}

// mergeEntity folds one entity record into the pending state, field by
// field. Records are matched by id.
func (b *Batcher) mergeEntity(rec map[string]any) {
	id, _ := rec["id"].(string)
	for _, existing := range b.state.Entities {
		if eid, _ := existing["id"].(string); eid == id {
			// A later full record supersedes the merge wholesale.
			if rec["updateType"] == "full" {
				for k := range existing {
					delete(existing, k)
				}
			}
			for k, v := range rec {
				existing[k] = v
			}
			return
		}
	}
	b.state.Entities = append(b.state.Entities, rec)
}

// Len returns the number of queued messages.
func (b *Batcher) Len() int {
	return len(b.pending)
}

// Flush returns the single envelope to write: the message itself when
// one is queued, a batch wrapper when several are. ok is false when
// nothing is pending.
func (b *Batcher) Flush(serverTime int64) (env protocol.Envelope, ok bool) {
	if len(b.pending) == 0 {
		return protocol.Envelope{}, false
	}

	// Late-marshal the merged state into its reserved slot.
	if b.state != nil {
		b.pending[b.stateIdx] = protocol.MustEnvelope(protocol.TypeGameState, *b.state)
		b.state = nil
		b.stateIdx = -1
	}

	if len(b.pending) == 1 {
		env = b.pending[0]
	} else {
		env = protocol.MustEnvelope(protocol.TypeBatch, protocol.Batch{
			ServerTime: serverTime,
			Messages:   b.pending,
		})
	}
	b.pending = b.pending[:0]
	return env, true
}
