// Package game implements the authoritative world simulation: entities,
// movement, combat, monster AI and the fixed-tick engine that drives them.
package game

import (
	"math"
	"time"
)

// Kind discriminates the entity variants stored in the world table.
type Kind uint8

const (
	KindPlayer Kind = iota + 1
	KindMonster
	KindProjectile
	KindEffect
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindMonster:
		return "monster"
	case KindProjectile:
		return "projectile"
	case KindEffect:
		return "effect"
	default:
		return "unknown"
	}
}

// Entity is one row of the world table. The Kind-specific record is
// non-nil exactly for the matching kind; shared fields live flat so the
// hot paths (movement, broad-phase, snapshots) avoid indirection.
type Entity struct {
	ID     string
	Kind   Kind
	X, Y   float64
	Facing float64 // radians, 0 = east
	Radius float64 // body circle for overlap tests

	HP, MaxHP    int
	Dead         bool
	Invulnerable bool
	StunnedUntil uint64 // tick; 0 when not stunned

	Player     *PlayerState
	Monster    *MonsterState
	Projectile *ProjectileState
	Effect     *EffectState
}

// Stunned reports whether the entity is stunned at the given tick.
func (e *Entity) Stunned(tick uint64) bool {
	return e.StunnedUntil > tick
}

// DistanceTo returns the euclidean distance to (x, y).
func (e *Entity) DistanceTo(x, y float64) float64 {
	dx := e.X - x
	dy := e.Y - y
	return math.Sqrt(dx*dx + dy*dy)
}

// PlayerState is the player-only record.
type PlayerState struct {
	Name      string
	Class     string
	ClientID  string // owning connection; empty while disconnected
	JoinOrder int

	ArmorHP    int
	MaxArmorHP int
	XP         int
	Level      int
	Bonuses    LevelBonuses

	LastInputSeq uint32 // highest sequence applied to the simulation
	InputKeys    uint8  // keys held as of the last applied input
	AimX, AimY   float64

	Attack    *ActiveAttack
	Cooldowns map[string]uint64 // attack key → tick the slot is ready again

	// Trajectory is non-nil while a movement ability drives the player;
	// client movement input is ignored for its duration.
	Trajectory *Trajectory

	// DisconnectedAt is the server time (ms) the socket dropped, for the
	// reconnect window. Zero while connected.
	DisconnectedAt int64
}

// MonsterState is the monster-only record.
type MonsterState struct {
	Type         string
	State        AIState
	TargetID     string
	HomeX, HomeY float64

	Attack    *ActiveAttack
	Cooldowns map[string]uint64

	// Path is the current tile path toward the target, front first.
	Path         []TilePoint
	PathGoalX    int
	PathGoalY    int
	NextRepath   uint64
	Trajectory   *Trajectory
	DeathTick    uint64 // tick the dying state began
	NextDecision uint64 // dormant wake / idle wander pacing
	WanderX      float64
	WanderY      float64
}

// ProjectileState is the projectile-only record. Projectiles are tested
// against live positions only, never against rewound history.
type ProjectileState struct {
	OwnerID    string
	OwnerKind  Kind
	AttackKey  string
	DirX, DirY float64
	Speed      float64
	Damage     int
	StunFor    time.Duration
	MaxRange   float64
	Travelled  float64
	Piercing   bool
	Hit        map[string]bool // targets already damaged (piercing)
}

// EffectState is a short-lived visual marker (ground telegraphs, auras).
type EffectState struct {
	Type      string
	ExpiresAt uint64 // tick
}

// TilePoint is a tile coordinate on the collision mask.
type TilePoint struct {
	X, Y int
}

// Trajectory is a server-controlled movement segment (dash, roll, monster
// lunge). Position is interpolated between the endpoints; collision is
// still enforced against the mask each tick.
type Trajectory struct {
	StartX, StartY float64
	EndX, EndY     float64
	StartTick      uint64
	EndTick        uint64
	Invulnerable   bool
}

// At returns the trajectory position at the given tick, clamped to the
// segment.
func (t *Trajectory) At(tick uint64) (float64, float64) {
	if tick <= t.StartTick || t.EndTick <= t.StartTick {
		return t.StartX, t.StartY
	}
	if tick >= t.EndTick {
		return t.EndX, t.EndY
	}
	f := float64(tick-t.StartTick) / float64(t.EndTick-t.StartTick)
	return t.StartX + (t.EndX-t.StartX)*f, t.StartY + (t.EndY-t.StartY)*f
}

// Done reports whether the trajectory has finished by the given tick.
func (t *Trajectory) Done(tick uint64) bool {
	return tick >= t.EndTick
}
