package game

import (
	"math"
	"time"
)

// AttackPhase is the per-attack state machine. Transitions only move
// forward; cancellation (stun, death) resets to ready.
type AttackPhase uint8

const (
	PhaseReady AttackPhase = iota
	PhaseWindup
	PhaseActive
	PhaseRecovery
)

func (p AttackPhase) String() string {
	switch p {
	case PhaseWindup:
		return "windup"
	case PhaseActive:
		return "active"
	case PhaseRecovery:
		return "recovery"
	default:
		return "ready"
	}
}

// ActiveAttack is an in-flight attack owned by a player or monster.
// Damage resolves once, at ActionTick, using the aim captured at windup.
type ActiveAttack struct {
	Key          string
	Slot         int
	Phase        AttackPhase
	PhaseEndTick uint64
	ActionTick   uint64
	ActionDone   bool
	Facing       float64
	OriginX      float64
	OriginY      float64
}

// AttackSpec is one entry of the attack table. Exactly one of Hitbox,
// Projectile or Dash drives the action point; timings are in
// milliseconds and converted to ticks at engine construction.
type AttackSpec struct {
	Key        string
	Windup     time.Duration
	Active     time.Duration
	Recovery   time.Duration
	Cooldown   time.Duration
	BaseDamage int
	StunFor    time.Duration // applied to victims on hit

	Hitbox     *HitboxSpec
	Projectile *ProjectileSpec
	Dash       *DashSpec
}

// ProjectileSpec parameterizes projectile-spawning attacks.
type ProjectileSpec struct {
	Speed    float64
	MaxRange float64
	Radius   float64
	Piercing bool
}

// DashSpec parameterizes movement abilities executed as attacks.
type DashSpec struct {
	Distance     float64
	Duration     time.Duration
	Invulnerable bool
}

// AttackKey builds the table key for a class attack slot.
func AttackKey(class string, slot int) string {
	return class + "_" + slotName(slot)
}

func slotName(slot int) string {
	switch slot {
	case 1:
		return "primary"
	case 2:
		return "secondary"
	case 3:
		return "special"
	case SlotRoll:
		return "roll"
	default:
		return "unknown"
	}
}

// SlotRoll is the shared movement ability slot, unlocked by level.
const SlotRoll = 9

// attackTable holds every player attack, keyed "{class}_{slot}". Built
// once; read-only afterwards.
var attackTable = buildAttackTable()

func buildAttackTable() map[string]AttackSpec {
	t := make(map[string]AttackSpec)
	add := func(s AttackSpec) { t[s.Key] = s }

	// Guardian: slow, wide melee.
	add(AttackSpec{
		Key: AttackKey(ClassGuardian, 1), Windup: 180 * time.Millisecond,
		Active: 50 * time.Millisecond, Recovery: 250 * time.Millisecond,
		Cooldown: 500 * time.Millisecond, BaseDamage: 18,
		Hitbox: &HitboxSpec{Shape: ShapeRectangle, Length: 70, Width: 60},
	})
	add(AttackSpec{
		Key: AttackKey(ClassGuardian, 2), Windup: 350 * time.Millisecond,
		Active: 80 * time.Millisecond, Recovery: 400 * time.Millisecond,
		Cooldown: 3 * time.Second, BaseDamage: 30, StunFor: 400 * time.Millisecond,
		Hitbox: &HitboxSpec{Shape: ShapeCone, Range: 90, Angle: math.Pi / 2},
	})
	add(AttackSpec{
		Key: AttackKey(ClassGuardian, 3), Windup: 500 * time.Millisecond,
		Active: 100 * time.Millisecond, Recovery: 600 * time.Millisecond,
		Cooldown: 8 * time.Second, BaseDamage: 40, StunFor: 600 * time.Millisecond,
		Hitbox: &HitboxSpec{Shape: ShapeCircle, Radius: 110},
	})

	// Hunter: projectiles.
	add(AttackSpec{
		Key: AttackKey(ClassHunter, 1), Windup: 120 * time.Millisecond,
		Recovery: 200 * time.Millisecond, Cooldown: 400 * time.Millisecond,
		BaseDamage: 12,
		Projectile: &ProjectileSpec{Speed: 700, MaxRange: 650, Radius: 8},
	})
	add(AttackSpec{
		Key: AttackKey(ClassHunter, 2), Windup: 400 * time.Millisecond,
		Recovery: 350 * time.Millisecond, Cooldown: 4 * time.Second,
		BaseDamage: 26,
		Projectile: &ProjectileSpec{Speed: 900, MaxRange: 800, Radius: 10, Piercing: true},
	})
	add(AttackSpec{
		Key: AttackKey(ClassHunter, 3), Windup: 250 * time.Millisecond,
		Active: 60 * time.Millisecond, Recovery: 300 * time.Millisecond,
		Cooldown: 6 * time.Second, BaseDamage: 16,
		Hitbox: &HitboxSpec{Shape: ShapeCone, Range: 130, Angle: math.Pi / 3},
	})

	// Bladedancer: thrown blades and whirls, highest damage modifier.
	add(AttackSpec{
		Key: AttackKey(ClassBladedancer, 1), Windup: 220 * time.Millisecond,
		Recovery: 280 * time.Millisecond, Cooldown: 600 * time.Millisecond,
		BaseDamage: 16,
		Projectile: &ProjectileSpec{Speed: 550, MaxRange: 600, Radius: 12},
	})
	add(AttackSpec{
		Key: AttackKey(ClassBladedancer, 2), Windup: 600 * time.Millisecond,
		Active: 100 * time.Millisecond, Recovery: 450 * time.Millisecond,
		Cooldown: 5 * time.Second, BaseDamage: 34,
		Hitbox: &HitboxSpec{Shape: ShapeCircle, Radius: 140},
	})
	add(AttackSpec{
		Key: AttackKey(ClassBladedancer, 3), Windup: 450 * time.Millisecond,
		Recovery: 400 * time.Millisecond, Cooldown: 7 * time.Second,
		BaseDamage: 22, StunFor: 500 * time.Millisecond,
		Projectile: &ProjectileSpec{Speed: 450, MaxRange: 700, Radius: 16, Piercing: true},
	})

	// Rogue: fast melee plus a gap-closing dash.
	add(AttackSpec{
		Key: AttackKey(ClassRogue, 1), Windup: 100 * time.Millisecond,
		Active: 40 * time.Millisecond, Recovery: 150 * time.Millisecond,
		Cooldown: 300 * time.Millisecond, BaseDamage: 10,
		Hitbox: &HitboxSpec{Shape: ShapeRectangle, Length: 55, Width: 40},
	})
	add(AttackSpec{
		Key: AttackKey(ClassRogue, 2), Windup: 150 * time.Millisecond,
		Active: 60 * time.Millisecond, Recovery: 250 * time.Millisecond,
		Cooldown: 2500 * time.Millisecond, BaseDamage: 22,
		Hitbox: &HitboxSpec{Shape: ShapeCone, Range: 75, Angle: 2 * math.Pi / 3},
	})
	add(AttackSpec{
		Key: AttackKey(ClassRogue, 3), Windup: 80 * time.Millisecond,
		Recovery: 200 * time.Millisecond, Cooldown: 5 * time.Second,
		BaseDamage: 14,
		Dash:       &DashSpec{Distance: 180, Duration: 200 * time.Millisecond},
		Hitbox:     &HitboxSpec{Shape: ShapeRectangle, Length: 180, Width: 36},
	})

	// Roll: shared movement ability, no damage, brief invulnerability.
	for _, class := range []string{ClassGuardian, ClassHunter, ClassBladedancer, ClassRogue} {
		add(AttackSpec{
			Key: AttackKey(class, SlotRoll), Windup: 30 * time.Millisecond,
			Recovery: 150 * time.Millisecond, Cooldown: 2 * time.Second,
			Dash: &DashSpec{Distance: 140, Duration: 250 * time.Millisecond, Invulnerable: true},
		})
	}

	return t
}

// LookupAttack returns the spec for a class attack slot.
func LookupAttack(class string, slot int) (AttackSpec, bool) {
	s, ok := attackTable[AttackKey(class, slot)]
	return s, ok
}

// MaxPlausibleDamage is the largest damage any class can produce from the
// given slot at max level. Client damage hints above it are cheating, not
// noise.
func MaxPlausibleDamage(slot int) int {
	best := 0
	for class, stats := range classTable {
		spec, ok := attackTable[AttackKey(class, slot)]
		if !ok {
			continue
		}
		if d := spec.BaseDamage + stats.DamageModifier; d > best {
			best = d
		}
	}
	return best + (MaxLevel - 1)
}

// ticksFor converts a duration to simulation ticks, rounding up so that
// sub-tick timings still occupy at least one tick when non-zero.
func ticksFor(d time.Duration, tickRate int) uint64 {
	if d <= 0 {
		return 0
	}
	ticks := (int64(d)*int64(tickRate) + int64(time.Second) - 1) / int64(time.Second)
	if ticks < 1 {
		ticks = 1
	}
	return uint64(ticks)
}
