package netsync

import (
	"math"
	"sort"

	"emberfall/internal/config"
)

// View is the network layer's read-only projection of one entity.
type View struct {
	ID       string
	Kind     string
	X, Y     float64
	Snapshot map[string]any
}

// VisibleSet filters the world to what one client should receive this
// network tick, centered on (cx, cy):
//
//   - players inside the player view distance are always included
//   - monsters inside the monster sync distance, nearest first, capped
//   - projectiles and effects inside the effect sync distance
//
// The client's own entity is always first in the result.
func VisibleSet(cfg config.Sync, selfID string, cx, cy float64, all []View, dst []View) []View {
	type scored struct {
		view View
		dist float64
	}
	var monsters []scored

	for _, v := range all {
		if v.ID == selfID {
			continue
		}
		d := math.Hypot(v.X-cx, v.Y-cy)
		switch v.Kind {
		case "player":
			if d <= cfg.PlayerViewDistance {
				dst = append(dst, v)
			}
		case "monster":
			if d <= cfg.MonsterSyncDistance {
				monsters = append(monsters, scored{view: v, dist: d})
			}
		default:
			if d <= cfg.EffectSyncDistance {
				dst = append(dst, v)
			}
		}
	}

	sort.Slice(monsters, func(i, j int) bool {
		if monsters[i].dist != monsters[j].dist {
			return monsters[i].dist < monsters[j].dist
		}
		return monsters[i].view.ID < monsters[j].view.ID
	})
	limit := cfg.MonsterSyncCap
	if limit > len(monsters) {
		limit = len(monsters)
	}
	for _, m := range monsters[:limit] {
		dst = append(dst, m.view)
	}
	return dst
}

// EventVisible reports whether a positioned event at (ex, ey) should
// reach a client centered at (cx, cy).
func EventVisible(cfg config.Sync, cx, cy, ex, ey float64) bool {
	return math.Hypot(ex-cx, ey-cy) <= cfg.EffectSyncDistance
}
