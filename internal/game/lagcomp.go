package game

import (
	"sync"
	"time"
)

// histFrame is one tick's worth of rewindable positions.
type histFrame struct {
	tick      uint64
	timeMs    int64
	positions map[string]histPos
}

type histPos struct {
	x, y   float64
	radius float64
}

// History is the position ring buffer used for hit rewind. Written and
// read only by the simulation goroutine.
type History struct {
	frames []histFrame
	head   int
	count  int

	maxRewindMs int64
}

// NewHistory sizes the ring to cover maxRewind at the given tick rate,
// with slack for interpolation at the edges.
func NewHistory(maxRewind time.Duration, tickRate int) *History {
	n := int(maxRewind/(time.Second/time.Duration(tickRate))) + 2
	frames := make([]histFrame, n)
	for i := range frames {
		frames[i].positions = make(map[string]histPos, 64)
	}
	return &History{
		frames:      frames,
		maxRewindMs: maxRewind.Milliseconds(),
	}
}

// Record snapshots every damageable entity position for the tick.
// Projectiles are excluded; they are never rewound.
func (h *History) Record(tick uint64, timeMs int64, entities []*Entity) {
	f := &h.frames[h.head]
	f.tick = tick
	f.timeMs = timeMs
	for k := range f.positions {
		delete(f.positions, k)
	}
	for _, e := range entities {
		if e.Kind == KindProjectile || e.Kind == KindEffect {
			continue
		}
		f.positions[e.ID] = histPos{x: e.X, y: e.Y, radius: e.Radius}
	}
	h.head = (h.head + 1) % len(h.frames)
	if h.count < len(h.frames) {
		h.count++
	}
}

// MaxRewind returns the rewind clamp in milliseconds.
func (h *History) MaxRewind() int64 {
	return h.maxRewindMs
}

// At returns the entity position at the requested server time,
// interpolating between the two bracketing snapshots. The time is
// clamped to [now-maxRewind, now]; requests older than the buffer use
// the oldest retained frame. Returns false if the entity is absent from
// the bracketing frames.
func (h *History) At(entityID string, timeMs, nowMs int64) (x, y, radius float64, ok bool) {
	if h.count == 0 {
		return 0, 0, 0, false
	}
	if timeMs > nowMs {
		timeMs = nowMs
	}
	if min := nowMs - h.maxRewindMs; timeMs < min {
		timeMs = min
	}

	// Scan newest to oldest for the first frame at or before timeMs.
	var before, after *histFrame
	for i := 0; i < h.count; i++ {
		idx := (h.head - 1 - i + len(h.frames)*2) % len(h.frames)
		f := &h.frames[idx]
		if f.timeMs <= timeMs {
			before = f
			break
		}
		after = f
	}
	if before == nil {
		// Older than everything retained; use the oldest frame.
		oldest := (h.head - h.count + len(h.frames)*2) % len(h.frames)
		before = &h.frames[oldest]
		after = nil
	}

	bp, bok := before.positions[entityID]
	if !bok {
		return 0, 0, 0, false
	}
	if after == nil || after.timeMs <= before.timeMs {
		return bp.x, bp.y, bp.radius, true
	}
	ap, aok := after.positions[entityID]
	if !aok {
		return bp.x, bp.y, bp.radius, true
	}
	f := float64(timeMs-before.timeMs) / float64(after.timeMs-before.timeMs)
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return bp.x + (ap.x-bp.x)*f, bp.y + (ap.y-bp.y)*f, bp.radius, true
}

// LatencyTracker keeps a smoothed round-trip estimate per player. Fed
// from connection goroutines, read from the simulation; the small lock
// is uncontended in practice.
type LatencyTracker struct {
	mu  sync.RWMutex
	rtt map[string]float64
}

// rttAlpha is the EMA weight for new samples.
const rttAlpha = 0.2

// maxRTTSampleMs clamps individual samples against clock games.
const maxRTTSampleMs = 2000

// NewLatencyTracker builds an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{rtt: make(map[string]float64)}
}

// Observe folds one round-trip sample (ms) into the player's estimate.
func (t *LatencyTracker) Observe(playerID string, sampleMs float64) {
	if sampleMs < 0 {
		sampleMs = 0
	}
	if sampleMs > maxRTTSampleMs {
		sampleMs = maxRTTSampleMs
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.rtt[playerID]; ok {
		t.rtt[playerID] = cur + rttAlpha*(sampleMs-cur)
	} else {
		t.rtt[playerID] = sampleMs
	}
}

// OneWayMs returns half the smoothed round trip, the rewind amount used
// when resolving the player's hits.
func (t *LatencyTracker) OneWayMs(playerID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rtt[playerID] / 2
}

// Forget drops a departed player's estimate.
func (t *LatencyTracker) Forget(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rtt, playerID)
}
