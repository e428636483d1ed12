package game

import "math"

// HitboxShape selects the geometry of an attack's damage area.
type HitboxShape uint8

const (
	ShapeRectangle HitboxShape = iota + 1 // oriented box extending forward
	ShapeCone                             // circular sector around facing
	ShapeCircle                           // centered on the attacker
)

// HitboxSpec describes an attack's damage area relative to the attacker.
type HitboxSpec struct {
	Shape  HitboxShape
	Length float64 // rectangle: forward extent
	Width  float64 // rectangle: lateral extent
	Range  float64 // cone: radius
	Angle  float64 // cone: full aperture in radians
	Radius float64 // circle: radius
}

// Reach returns a conservative broad-phase radius around the attacker
// that fully contains the hitbox.
func (h HitboxSpec) Reach() float64 {
	switch h.Shape {
	case ShapeRectangle:
		return math.Hypot(h.Length, h.Width/2)
	case ShapeCone:
		return h.Range
	case ShapeCircle:
		return h.Radius
	default:
		return 0
	}
}

// Contains reports whether the point (tx, ty) padded by bodyRadius lies
// inside the hitbox anchored at (ax, ay) facing the given angle.
func (h HitboxSpec) Contains(ax, ay, facing, tx, ty, bodyRadius float64) bool {
	dx := tx - ax
	dy := ty - ay

	switch h.Shape {
	case ShapeRectangle:
		// Rotate the target into the attacker's local frame: +x forward.
		cos := math.Cos(facing)
		sin := math.Sin(facing)
		localX := dx*cos + dy*sin
		localY := -dx*sin + dy*cos
		return localX >= -bodyRadius && localX <= h.Length+bodyRadius &&
			math.Abs(localY) <= h.Width/2+bodyRadius

	case ShapeCone:
		dist := math.Hypot(dx, dy)
		if dist > h.Range+bodyRadius {
			return false
		}
		if dist <= bodyRadius {
			return true
		}
		diff := angleDiff(math.Atan2(dy, dx), facing)
		return math.Abs(diff) <= h.Angle/2

	case ShapeCircle:
		return math.Hypot(dx, dy) <= h.Radius+bodyRadius

	default:
		return false
	}
}

// angleDiff returns the signed smallest difference a-b in (-π, π].
func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
