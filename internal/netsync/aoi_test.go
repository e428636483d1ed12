package netsync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberfall/internal/config"
	"emberfall/internal/protocol"
)

func envOfType(_ *testing.T, typ string) protocol.Envelope {
	return protocol.Envelope{Type: typ}
}

var testSync = config.Sync{
	PlayerViewDistance:  800,
	MonsterSyncDistance: 1000,
	EffectSyncDistance:  600,
	MonsterSyncCap:      50,
}

func view(id, kind string, x, y float64) View {
	return View{ID: id, Kind: kind, X: x, Y: y, Snapshot: map[string]any{"id": id}}
}

func ids(views []View) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestVisibleSetDistances(t *testing.T) {
	all := []View{
		view("self", "player", 0, 0),
		view("near-player", "player", 700, 0),
		view("far-player", "player", 900, 0),
		view("near-monster", "monster", 950, 0),
		view("far-monster", "monster", 1100, 0),
		view("near-effect", "projectile", 500, 0),
		view("far-effect", "projectile", 700, 0),
	}

	got := ids(VisibleSet(testSync, "self", 0, 0, all, nil))
	assert.Contains(t, got, "near-player")
	assert.NotContains(t, got, "far-player")
	assert.Contains(t, got, "near-monster")
	assert.NotContains(t, got, "far-monster")
	assert.Contains(t, got, "near-effect")
	assert.NotContains(t, got, "far-effect")
	assert.NotContains(t, got, "self", "caller prepends self explicitly")
}

func TestVisibleSetMonsterCapKeepsNearest(t *testing.T) {
	var all []View
	for i := 0; i < 60; i++ {
		all = append(all, view(fmt.Sprintf("m%02d", i), "monster", float64(10+i*15), 0))
	}

	got := VisibleSet(testSync, "self", 0, 0, all, nil)
	require.Len(t, got, testSync.MonsterSyncCap)

	// Nearest first; the farthest of the kept set is still closer than
	// anything dropped.
	assert.Equal(t, "m00", got[0].ID)
	assert.Equal(t, "m49", got[len(got)-1].ID)
}

func TestEventVisible(t *testing.T) {
	assert.True(t, EventVisible(testSync, 0, 0, 300, 300))
	assert.False(t, EventVisible(testSync, 0, 0, 600, 600))
}

func TestRouteEventsInvolvedBypassesDistance(t *testing.T) {
	p := NewPublisher(testSync)
	events := []Event{
		{Env: envOfType(t, "damage:event"), X: 5000, Y: 5000, Involved: []string{"p1"}},
		{Env: envOfType(t, "attack:event"), X: 5000, Y: 5000},
		{Env: envOfType(t, "death:event"), X: 10, Y: 10},
		{Env: envOfType(t, "disconnect"), Global: true},
	}

	got := p.RouteEvents("p1", 0, 0, events, nil)
	require.Len(t, got, 3)
	types := []string{got[0].Type, got[1].Type, got[2].Type}
	assert.Contains(t, types, "damage:event", "involved bypasses distance")
	assert.Contains(t, types, "death:event", "nearby event visible")
	assert.Contains(t, types, "disconnect", "global reaches everyone")
	assert.NotContains(t, types, "attack:event", "distant uninvolved event filtered")
}
