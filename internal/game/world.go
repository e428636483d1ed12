package game

import (
	"sort"

	"github.com/google/uuid"

	"emberfall/internal/game/spatial"
)

// World owns every live entity. It is accessed exclusively from the
// simulation goroutine; no internal locking.
//
// Iteration order is deterministic: the dense slice preserves insertion
// order, and removal compacts without reordering. Players therefore
// process in join order, which also breaks simultaneous-kill ties.
type World struct {
	Mask *TileMask

	byID  map[string]*Entity
	dense []*Entity
	grid  *spatial.Grid

	joinCounter int
}

// NewWorld creates an empty world over the given collision mask.
func NewWorld(mask *TileMask, maxEntities int) *World {
	w, h := mask.WorldBounds()
	return &World{
		Mask:  mask,
		byID:  make(map[string]*Entity, maxEntities),
		dense: make([]*Entity, 0, maxEntities),
		grid:  spatial.NewGrid(w, h, 128, maxEntities),
	}
}

// NewID mints a world-unique entity id.
func NewID() string {
	return uuid.NewString()
}

// Add inserts an entity. Player join order is assigned here.
func (w *World) Add(e *Entity) {
	if e.Kind == KindPlayer && e.Player != nil {
		e.Player.JoinOrder = w.joinCounter
		w.joinCounter++
	}
	w.byID[e.ID] = e
	w.dense = append(w.dense, e)
}

// Remove deletes an entity by id, compacting the dense slice in place.
func (w *World) Remove(id string) {
	e, ok := w.byID[id]
	if !ok {
		return
	}
	delete(w.byID, id)
	for i, cur := range w.dense {
		if cur == e {
			copy(w.dense[i:], w.dense[i+1:])
			w.dense = w.dense[:len(w.dense)-1]
			break
		}
	}
}

// Get returns the entity with the given id, or nil.
func (w *World) Get(id string) *Entity {
	return w.byID[id]
}

// Entities returns the dense entity slice in insertion order. Callers
// must not retain it across Add/Remove.
func (w *World) Entities() []*Entity {
	return w.dense
}

// Len returns the live entity count.
func (w *World) Len() int {
	return len(w.dense)
}

// Players appends all player entities to dst in join order.
func (w *World) Players(dst []*Entity) []*Entity {
	for _, e := range w.dense {
		if e.Kind == KindPlayer {
			dst = append(dst, e)
		}
	}
	return dst
}

// Monsters appends all monster entities to dst.
func (w *World) Monsters(dst []*Entity) []*Entity {
	for _, e := range w.dense {
		if e.Kind == KindMonster {
			dst = append(dst, e)
		}
	}
	return dst
}

// RebuildIndex refreshes the broad-phase grid from current positions.
// Called once per tick before any spatial query.
func (w *World) RebuildIndex() {
	w.grid.Clear()
	for i, e := range w.dense {
		w.grid.Insert(uint32(i), e.X, e.Y)
	}
}

// QueryRadius appends entities within radius of (x, y) to dst, sorted by
// ascending id so damage resolution order is reproducible.
func (w *World) QueryRadius(x, y, radius float64, dst []*Entity) []*Entity {
	r2 := radius * radius
	for _, idx := range w.grid.QueryRadius(x, y, radius) {
		e := w.dense[idx]
		dx := e.X - x
		dy := e.Y - y
		if dx*dx+dy*dy <= r2 {
			dst = append(dst, e)
		}
	}
	sort.Slice(dst, func(i, j int) bool { return dst[i].ID < dst[j].ID })
	return dst
}
