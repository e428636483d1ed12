package netsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberfall/internal/protocol"
)

func TestFlushEmpty(t *testing.T) {
	b := NewBatcher()
	_, ok := b.Flush(0)
	assert.False(t, ok)
}

func TestFlushSingleMessageStaysNative(t *testing.T) {
	b := NewBatcher()
	b.AddState(protocol.GameState{Tick: 7, Entities: []map[string]any{{"id": "p1", "hp": 10}}})

	env, ok := b.Flush(1000)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeGameState, env.Type, "single message is not wrapped")

	var st protocol.GameState
	require.NoError(t, env.Bind(&st))
	assert.Equal(t, uint64(7), st.Tick)
}

func TestFlushMultipleWrapsInBatch(t *testing.T) {
	b := NewBatcher()
	b.AddState(protocol.GameState{Tick: 7})
	b.Add(protocol.Envelope{Type: protocol.TypeDamageEvent})

	env, ok := b.Flush(1234)
	require.True(t, ok)
	require.Equal(t, protocol.TypeBatch, env.Type)

	var batch protocol.Batch
	require.NoError(t, env.Bind(&batch))
	assert.Equal(t, int64(1234), batch.ServerTime)
	require.Len(t, batch.Messages, 2)
	assert.Equal(t, protocol.TypeGameState, batch.Messages[0].Type)
	assert.Equal(t, protocol.TypeDamageEvent, batch.Messages[1].Type)
}

func TestStateMergeFieldWiseLastWriteWins(t *testing.T) {
	b := NewBatcher()
	b.AddState(protocol.GameState{
		Tick:               10,
		LastProcessedInput: 5,
		Entities: []map[string]any{
			{"id": "p1", "updateType": "delta", "hp": 100, "x": 1.0},
			{"id": "m1", "updateType": "delta", "hp": 40},
		},
	})
	b.AddState(protocol.GameState{
		Tick:               11,
		LastProcessedInput: 6,
		Entities: []map[string]any{
			{"id": "p1", "updateType": "delta", "hp": 80},
			{"id": "m2", "updateType": "delta", "hp": 30},
		},
	})

	env, ok := b.Flush(0)
	require.True(t, ok)
	var st protocol.GameState
	require.NoError(t, env.Bind(&st))

	assert.Equal(t, uint64(11), st.Tick)
	assert.Equal(t, uint32(6), st.LastProcessedInput)
	require.Len(t, st.Entities, 3)

	// Numbers come back as float64 after the marshal round trip.
	p1 := findEntity(t, st.Entities, "p1")
	assert.Equal(t, float64(80), p1["hp"], "last write wins")
	assert.Equal(t, float64(1), p1["x"], "earlier field survives the merge")
}

func TestStateMergeFullSupersedesDelta(t *testing.T) {
	b := NewBatcher()
	b.AddState(protocol.GameState{
		Entities: []map[string]any{{"id": "p1", "updateType": "delta", "stale": true, "hp": 100}},
	})
	b.AddState(protocol.GameState{
		Entities: []map[string]any{{"id": "p1", "updateType": "full", "hp": 90}},
	})

	env, ok := b.Flush(0)
	require.True(t, ok)
	var st protocol.GameState
	require.NoError(t, env.Bind(&st))

	p1 := findEntity(t, st.Entities, "p1")
	assert.Equal(t, "full", p1["updateType"])
	assert.NotContains(t, p1, "stale", "full record clears merged leftovers")
}

func findEntity(t *testing.T, entities []map[string]any, id string) map[string]any {
	t.Helper()
	for _, e := range entities {
		if e["id"] == id {
			return e
		}
	}
	t.Fatalf("entity %s not found", id)
	return nil
}
