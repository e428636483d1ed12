package game

import (
	"math"
	"testing"
)

func TestRectangleContains(t *testing.T) {
	hb := HitboxSpec{Shape: ShapeRectangle, Length: 70, Width: 60}

	cases := []struct {
		name   string
		facing float64
		tx, ty float64
		want   bool
	}{
		{"dead ahead", 0, 50, 0, true},
		{"at the tip", 0, 70, 0, true},
		{"past the tip", 0, 100, 0, false},
		{"behind", 0, -30, 0, false},
		{"side edge", 0, 35, 29, true},
		{"too wide", 0, 35, 50, false},
		{"rotated north", math.Pi / 2, 0, 50, true},
		{"rotated north misses east", math.Pi / 2, 50, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := hb.Contains(0, 0, tc.facing, tc.tx, tc.ty, 0)
			if got != tc.want {
				t.Fatalf("Contains(%f, %f) = %v, want %v", tc.tx, tc.ty, got, tc.want)
			}
		})
	}
}

func TestRectangleBodyRadiusPadding(t *testing.T) {
	hb := HitboxSpec{Shape: ShapeRectangle, Length: 70, Width: 60}
	// Center is past the tip, but a 16 unit body overlaps it.
	if !hb.Contains(0, 0, 0, 80, 0, 16) {
		t.Fatal("body radius should pad the rectangle")
	}
	if hb.Contains(0, 0, 0, 90, 0, 16) {
		t.Fatal("padding should not be unbounded")
	}
}

func TestConeContains(t *testing.T) {
	hb := HitboxSpec{Shape: ShapeCone, Range: 90, Angle: math.Pi / 2}

	cases := []struct {
		name   string
		tx, ty float64
		want   bool
	}{
		{"straight on", 60, 0, true},
		{"edge of aperture", 60, 55, true}, // ~42.5° off axis, inside 45°
		{"outside aperture", 30, 60, false},
		{"out of range", 120, 0, false},
		{"behind", -50, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := hb.Contains(0, 0, 0, tc.tx, tc.ty, 0)
			if got != tc.want {
				t.Fatalf("Contains(%f, %f) = %v, want %v", tc.tx, tc.ty, got, tc.want)
			}
		})
	}
}

func TestConeGrazesWithBodyOnAttacker(t *testing.T) {
	hb := HitboxSpec{Shape: ShapeCone, Range: 90, Angle: math.Pi / 2}
	// Standing on top of the attacker counts regardless of angle.
	if !hb.Contains(0, 0, 0, -1, 0, 16) {
		t.Fatal("overlapping bodies should hit")
	}
}

func TestCircleContains(t *testing.T) {
	hb := HitboxSpec{Shape: ShapeCircle, Radius: 110}
	if !hb.Contains(0, 0, 0, -100, 0, 0) {
		t.Fatal("circle ignores facing")
	}
	if hb.Contains(0, 0, 0, 130, 0, 0) {
		t.Fatal("outside the radius")
	}
	if !hb.Contains(0, 0, 0, 120, 0, 16) {
		t.Fatal("body radius pads the circle")
	}
}

func TestReachCoversShapes(t *testing.T) {
	rect := HitboxSpec{Shape: ShapeRectangle, Length: 70, Width: 60}
	if rect.Reach() < 70 {
		t.Fatalf("rectangle reach %f shorter than its length", rect.Reach())
	}
	cone := HitboxSpec{Shape: ShapeCone, Range: 90}
	if cone.Reach() != 90 {
		t.Fatalf("cone reach = %f", cone.Reach())
	}
}

func TestAngleDiff(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{math.Pi / 2, 0, math.Pi / 2},
		{-3 * math.Pi / 4, 3 * math.Pi / 4, math.Pi / 2},
		{3 * math.Pi / 4, -3 * math.Pi / 4, -math.Pi / 2},
	}
	for _, tc := range cases {
		if got := angleDiff(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("angleDiff(%f, %f) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}
