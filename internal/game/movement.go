package game

import (
	"math"

	"emberfall/internal/protocol"
)

// Directional speed multipliers relative to facing. Diagonal applies
// whenever forward/backward combines with a strafe key.
const (
	speedForward  = 1.0
	speedStrafe   = 0.7
	speedBackward = 0.5
	speedDiagonal = 0.85
)

// Movement integrates intent into positions against the collision mask.
// Clients send intent only; positions are always computed here.
type Movement struct {
	mask *TileMask
	dt   float64 // seconds per tick
}

// NewMovement builds the movement system for the given mask and tick rate.
func NewMovement(mask *TileMask, tickRate int) *Movement {
	return &Movement{mask: mask, dt: 1.0 / float64(tickRate)}
}

// StepPlayer advances one player one tick. Trajectory-driven players
// (dash, roll) ignore held keys entirely.
func (m *Movement) StepPlayer(e *Entity, tick uint64) {
	p := e.Player
	if p == nil || e.Dead {
		return
	}

	if p.Trajectory != nil {
		m.followTrajectory(e, p.Trajectory, tick)
		if p.Trajectory.Done(tick) {
			e.Invulnerable = false
			p.Trajectory = nil
		}
		return
	}
	if e.Stunned(tick) {
		return
	}
	if p.Attack != nil && p.Attack.Phase == PhaseWindup {
		// Committed to the swing; feet planted.
		return
	}

	vx, vy, ok := intentVelocity(p.InputKeys, e.Facing)
	if !ok {
		return
	}
	_, stats := StatsForClass(p.Class)
	speed := stats.MoveSpeed * (1 + p.Bonuses.MoveSpeedBonus)
	m.slide(e, vx*speed*m.dt, vy*speed*m.dt)
}

// StepMonster advances a monster along its trajectory or toward a point.
func (m *Movement) StepMonster(e *Entity, tick uint64, speed float64, toX, toY float64) {
	mo := e.Monster
	if mo == nil || e.Dead {
		return
	}
	if mo.Trajectory != nil {
		m.followTrajectory(e, mo.Trajectory, tick)
		if mo.Trajectory.Done(tick) {
			e.Invulnerable = false
			mo.Trajectory = nil
		}
		return
	}
	if e.Stunned(tick) {
		return
	}
	dx := toX - e.X
	dy := toY - e.Y
	dist := math.Hypot(dx, dy)
	if dist < 1e-6 {
		return
	}
	step := speed * m.dt
	if step > dist {
		step = dist
	}
	e.Facing = math.Atan2(dy, dx)
	m.slide(e, dx/dist*step, dy/dist*step)
}

// followTrajectory moves the entity along its server-controlled segment,
// stopping short at walls.
func (m *Movement) followTrajectory(e *Entity, t *Trajectory, tick uint64) {
	nx, ny := t.At(tick)
	if m.mask.BlockedCircle(nx, ny, e.Radius) {
		// Wall cuts the segment; pin the endpoint where we stand.
		t.EndX, t.EndY = e.X, e.Y
		t.EndTick = tick
		return
	}
	e.X, e.Y = nx, ny
	e.Invulnerable = e.Invulnerable || t.Invulnerable
}

// slide applies a displacement with axis-separated wall sliding: the
// full move is tried first, then each axis independently.
func (m *Movement) slide(e *Entity, dx, dy float64) {
	if !m.mask.BlockedCircle(e.X+dx, e.Y+dy, e.Radius) {
		e.X += dx
		e.Y += dy
		return
	}
	if dx != 0 && !m.mask.BlockedCircle(e.X+dx, e.Y, e.Radius) {
		e.X += dx
	}
	if dy != 0 && !m.mask.BlockedCircle(e.X, e.Y+dy, e.Radius) {
		e.Y += dy
	}
}

// intentVelocity converts held keys plus facing into a world-space unit
// velocity scaled by the directional multiplier. Keys are local-frame:
// forward means "toward facing".
func intentVelocity(keys uint8, facing float64) (vx, vy float64, moving bool) {
	var fwd, strafe float64
	if keys&protocol.KeyForward != 0 {
		fwd++
	}
	if keys&protocol.KeyBackward != 0 {
		fwd--
	}
	if keys&protocol.KeyRight != 0 {
		strafe++
	}
	if keys&protocol.KeyLeft != 0 {
		strafe--
	}
	if fwd == 0 && strafe == 0 {
		return 0, 0, false
	}

	mult := speedForward
	switch {
	case fwd != 0 && strafe != 0:
		mult = speedDiagonal
	case fwd < 0:
		mult = speedBackward
	case fwd == 0:
		mult = speedStrafe
	}

	// Normalize the local intent, then rotate into world space.
	norm := math.Hypot(fwd, strafe)
	fwd /= norm
	strafe /= norm
	cos := math.Cos(facing)
	sin := math.Sin(facing)
	// Local +x is forward, +y is strafe-right.
	vx = (fwd*cos - strafe*sin) * mult
	vy = (fwd*sin + strafe*cos) * mult
	return vx, vy, true
}
