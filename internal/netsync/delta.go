package netsync

import "math"

// floatThreshold is the minimum change for a float field to count as
// different; sub-threshold jitter is suppressed.
const floatThreshold = 0.1

// criticalFields are always present in every update record, full or
// delta, keyed by entity kind. Unknown kinds fall back to the "" set so
// clients can at least track identity, position and health.
var criticalFields = map[string][]string{
	"player": {
		"id", "kind", "x", "y", "hp", "armorHp", "facing", "class", "level",
		"moveSpeedBonus", "attackRecoveryBonus", "attackCooldownBonus",
		"damageBonus", "isInvulnerable", "rollUnlocked",
	},
	"monster": {
		"id", "kind", "x", "y", "state", "hp", "facing", "monsterType",
		"currentAttackType", "attackPhase",
		"dashStartX", "dashStartY", "dashEndX", "dashEndY",
		"dashStartTick", "dashEndTick",
	},
	"": {"id", "kind", "x", "y", "hp", "state"},
}

// Baselines tracks the last state acknowledged-as-sent per (client,
// entity) pair, the reference against which deltas are computed.
// Owned by the simulation goroutine.
type Baselines struct {
	perClient map[string]map[string]map[string]any
}

// NewBaselines builds an empty baseline store.
func NewBaselines() *Baselines {
	return &Baselines{perClient: make(map[string]map[string]map[string]any)}
}

// Diff computes the update record for one entity bound for one client.
// First sight of an entity produces a full record; afterwards only
// changed fields plus the kind's critical fields. The new snapshot
// becomes the stored baseline either way.
//
// Every record carries "updateType" ("full" or "delta"). A delta with
// no changed fields still ships the critical set so clients can
// re-validate their interpolation anchors.
func (b *Baselines) Diff(clientID, entityID, kind string, snap map[string]any) map[string]any {
	client := b.perClient[clientID]
	if client == nil {
		client = make(map[string]map[string]any)
		b.perClient[clientID] = client
	}

	prev := client[entityID]
	client[entityID] = snap

	if prev == nil {
		full := make(map[string]any, len(snap)+1)
		for k, v := range snap {
			full[k] = v
		}
		full["updateType"] = "full"
		return full
	}

	crit, ok := criticalFields[kind]
	if !ok {
		crit = criticalFields[""]
	}

	delta := make(map[string]any, len(crit)+4)
	for k, v := range snap {
		if pv, had := prev[k]; !had || fieldChanged(pv, v) {
			delta[k] = v
		}
	}
	for _, k := range crit {
		if v, present := snap[k]; present {
			delta[k] = v
		}
	}
	delta["updateType"] = "delta"
	return delta
}

// ForgetEntity clears one entity's baseline for one client, forcing a
// full record the next time it is seen (used on view exit).
func (b *Baselines) ForgetEntity(clientID, entityID string) {
	if client := b.perClient[clientID]; client != nil {
		delete(client, entityID)
	}
}

// DropClient removes all baselines for a disconnected client.
func (b *Baselines) DropClient(clientID string) {
	delete(b.perClient, clientID)
}

// DropEntity removes a despawned entity from every client's baselines.
func (b *Baselines) DropEntity(entityID string) {
	for _, client := range b.perClient {
		delete(client, entityID)
	}
}

// Tracked returns the entity ids currently baselined for a client.
// The caller must not retain the map.
func (b *Baselines) Tracked(clientID string) map[string]map[string]any {
	return b.perClient[clientID]
}

// fieldChanged compares two snapshot values. Floats change only past
// the jitter threshold; everything else is plain inequality.
func fieldChanged(prev, next any) bool {
	pf, pok := asFloat(prev)
	nf, nok := asFloat(next)
	if pok && nok {
		return math.Abs(pf-nf) > floatThreshold
	}
	return prev != next
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
