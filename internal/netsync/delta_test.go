package netsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playerSnap(x, y float64, hp int) map[string]any {
	return map[string]any{
		"id": "p1", "kind": "player", "x": x, "y": y, "hp": hp,
		"armorHp": 30, "facing": 0.0, "class": "guardian", "level": 1,
		"moveSpeedBonus": 0.0, "attackRecoveryBonus": 0.0,
		"attackCooldownBonus": 0.0, "damageBonus": 0,
		"isInvulnerable": false, "rollUnlocked": false,
		"name": "bob", "xp": 0,
	}
}

func TestDiffFirstSightIsFull(t *testing.T) {
	b := NewBaselines()
	rec := b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))

	require.Equal(t, "full", rec["updateType"])
	assert.Equal(t, 10.0, rec["x"])
	assert.Equal(t, "bob", rec["name"])
}

func TestDiffSendsOnlyChangesPlusCriticals(t *testing.T) {
	b := NewBaselines()
	b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))

	rec := b.Diff("c1", "p1", "player", playerSnap(10, 20, 77))
	require.Equal(t, "delta", rec["updateType"])
	assert.Equal(t, 77, rec["hp"])
	// Non-critical unchanged fields are elided.
	assert.NotContains(t, rec, "name")
	assert.NotContains(t, rec, "xp")
	// Critical fields ride along even when unchanged.
	for _, crit := range []string{"id", "x", "y", "facing", "class", "level", "isInvulnerable", "rollUnlocked"} {
		assert.Contains(t, rec, crit, "critical field %s", crit)
	}
}

func TestDiffUnchangedStillCarriesCriticals(t *testing.T) {
	b := NewBaselines()
	b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))

	rec := b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))
	require.Equal(t, "delta", rec["updateType"])
	assert.Contains(t, rec, "x")
	assert.Contains(t, rec, "hp")
	assert.NotContains(t, rec, "name")
}

func TestDiffFloatThresholdSuppressesJitter(t *testing.T) {
	b := NewBaselines()
	b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))

	// Sub-threshold movement: x stays at its critical-carry value but a
	// non-critical float like xp-adjacent fields would be suppressed.
	rec := b.Diff("c1", "p1", "player", playerSnap(10.05, 20, 100))
	require.Equal(t, "delta", rec["updateType"])

	// Past the threshold the change shows up.
	rec = b.Diff("c1", "p1", "player", playerSnap(10.5, 20, 100))
	assert.Equal(t, 10.5, rec["x"])
}

func TestBaselinesArePerClient(t *testing.T) {
	b := NewBaselines()
	b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))

	rec := b.Diff("c2", "p1", "player", playerSnap(10, 20, 100))
	assert.Equal(t, "full", rec["updateType"], "second client has no baseline")
}

func TestForgetEntityForcesFull(t *testing.T) {
	b := NewBaselines()
	b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))
	b.ForgetEntity("c1", "p1")

	rec := b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))
	assert.Equal(t, "full", rec["updateType"])
}

func TestDropClientAndEntity(t *testing.T) {
	b := NewBaselines()
	b.Diff("c1", "p1", "player", playerSnap(10, 20, 100))
	b.Diff("c2", "p1", "player", playerSnap(10, 20, 100))

	b.DropClient("c1")
	assert.Nil(t, b.Tracked("c1"))

	b.DropEntity("p1")
	rec := b.Diff("c2", "p1", "player", playerSnap(10, 20, 100))
	assert.Equal(t, "full", rec["updateType"])
}

func TestUnknownKindFallsBackToMinimalCriticals(t *testing.T) {
	b := NewBaselines()
	snap := map[string]any{"id": "e1", "kind": "anomaly", "x": 1.0, "y": 2.0, "hp": 5, "aura": "red"}
	b.Diff("c1", "e1", "anomaly", snap)

	rec := b.Diff("c1", "e1", "anomaly", snap)
	require.Equal(t, "delta", rec["updateType"])
	assert.Contains(t, rec, "id")
	assert.Contains(t, rec, "hp")
	assert.NotContains(t, rec, "aura")
}
