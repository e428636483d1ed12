package game

import (
	"math"
	"testing"
	"time"
)

func recordAt(h *History, tick uint64, timeMs int64, x, y float64) {
	e := &Entity{ID: "victim", Kind: KindPlayer, X: x, Y: y, Radius: 16, Player: &PlayerState{}}
	h.Record(tick, timeMs, []*Entity{e})
}

func TestHistoryExactFrame(t *testing.T) {
	h := NewHistory(250*time.Millisecond, 60)
	recordAt(h, 1, 100, 10, 20)
	recordAt(h, 2, 200, 30, 40)

	x, y, r, ok := h.At("victim", 100, 200)
	if !ok {
		t.Fatal("position not found")
	}
	if x != 10 || y != 20 || r != 16 {
		t.Fatalf("got (%f, %f, %f)", x, y, r)
	}
}

func TestHistoryInterpolatesBetweenFrames(t *testing.T) {
	h := NewHistory(250*time.Millisecond, 60)
	recordAt(h, 1, 100, 0, 0)
	recordAt(h, 2, 200, 100, 50)

	x, y, _, ok := h.At("victim", 150, 200)
	if !ok {
		t.Fatal("position not found")
	}
	if math.Abs(x-50) > 1e-9 || math.Abs(y-25) > 1e-9 {
		t.Fatalf("interpolated to (%f, %f), want (50, 25)", x, y)
	}
}

func TestHistoryClampsToMaxRewind(t *testing.T) {
	h := NewHistory(250*time.Millisecond, 60)
	recordAt(h, 1, 0, 0, 0)
	recordAt(h, 2, 300, 100, 0)
	recordAt(h, 3, 600, 200, 0)

	// Requesting 500ms back from t=600 exceeds the 250ms cap; the
	// query is clamped to t=350.
	x, _, _, ok := h.At("victim", 100, 600)
	if !ok {
		t.Fatal("position not found")
	}
	wantX := 100 + (200-100)*float64(350-300)/float64(600-300)
	if math.Abs(x-wantX) > 1e-9 {
		t.Fatalf("x = %f, want clamped interpolation %f", x, wantX)
	}
}

func TestHistoryFutureClampsToNow(t *testing.T) {
	h := NewHistory(250*time.Millisecond, 60)
	recordAt(h, 1, 100, 10, 0)

	x, _, _, ok := h.At("victim", 9999, 100)
	if !ok {
		t.Fatal("position not found")
	}
	if x != 10 {
		t.Fatalf("x = %f, want newest frame", x)
	}
}

func TestHistoryUnknownEntity(t *testing.T) {
	h := NewHistory(250*time.Millisecond, 60)
	recordAt(h, 1, 100, 10, 0)
	if _, _, _, ok := h.At("ghost", 100, 100); ok {
		t.Fatal("unknown entity should miss")
	}
}

func TestHistoryRingWrap(t *testing.T) {
	h := NewHistory(250*time.Millisecond, 60)
	// Write well past the ring capacity (~17 frames).
	for i := 1; i <= 100; i++ {
		recordAt(h, uint64(i), int64(i*16), float64(i), 0)
	}
	x, _, _, ok := h.At("victim", 1600, 1600)
	if !ok {
		t.Fatal("newest frame missing after wrap")
	}
	if x != 100 {
		t.Fatalf("x = %f, want 100", x)
	}
}

func TestLatencyTrackerSmoothingAndClamp(t *testing.T) {
	lt := NewLatencyTracker()

	lt.Observe("p1", 100)
	if got := lt.OneWayMs("p1"); got != 50 {
		t.Fatalf("first sample one-way = %f, want 50", got)
	}

	// EMA: 100 + 0.2*(200-100) = 120 round trip.
	lt.Observe("p1", 200)
	if got := lt.OneWayMs("p1"); math.Abs(got-60) > 1e-9 {
		t.Fatalf("smoothed one-way = %f, want 60", got)
	}

	// Hostile samples clamp at 2000ms before smoothing.
	lt.Observe("p2", 60000)
	if got := lt.OneWayMs("p2"); got != 1000 {
		t.Fatalf("clamped one-way = %f, want 1000", got)
	}

	lt.Forget("p1")
	if got := lt.OneWayMs("p1"); got != 0 {
		t.Fatalf("forgotten player one-way = %f", got)
	}
}
