package game

import (
	"fmt"
	"math"
	"time"

	"emberfall/internal/netsync"
	"emberfall/internal/protocol"
)

// hitStun is the baseline stun every non-lethal hit inflicts; attacks
// with a longer StunFor extend it.
const hitStun = 360 * time.Millisecond

// Combat owns attack state machines, damage resolution and projectiles.
// All methods run on the simulation goroutine.
type Combat struct {
	world    *World
	history  *History
	latency  *LatencyTracker
	events   *netsync.EventBuffer
	audit    *AuditLog
	tickRate int
	nowMs    func() int64

	// scratch buffers reused across ticks
	candidates []*Entity
	removals   []string
}

// NewCombat wires the combat system to its collaborators.
func NewCombat(world *World, history *History, latency *LatencyTracker, events *netsync.EventBuffer, audit *AuditLog, tickRate int, nowMs func() int64) *Combat {
	return &Combat{
		world:    world,
		history:  history,
		latency:  latency,
		events:   events,
		audit:    audit,
		tickRate: tickRate,
		nowMs:    nowMs,
	}
}

// RequestAttack validates and starts a player attack. State conflicts
// (dead, busy, cooling down) return ErrStateConflict and change nothing.
func (c *Combat) RequestAttack(e *Entity, slot int, aimX, aimY float64, tick uint64) error {
	p := e.Player
	if p == nil {
		return fmt.Errorf("%w: not a player", protocol.ErrStateConflict)
	}
	if e.Dead {
		return fmt.Errorf("%w: attack while dead", protocol.ErrStateConflict)
	}
	if e.Stunned(tick) {
		return fmt.Errorf("%w: attack while stunned", protocol.ErrStateConflict)
	}
	if p.Attack != nil && p.Attack.Phase != PhaseReady {
		return fmt.Errorf("%w: attack in progress", protocol.ErrStateConflict)
	}
	if p.Trajectory != nil {
		return fmt.Errorf("%w: movement ability in progress", protocol.ErrStateConflict)
	}

	spec, ok := LookupAttack(p.Class, slot)
	if !ok {
		return fmt.Errorf("%w: no attack in slot %d", protocol.ErrValidation, slot)
	}
	if slot == SlotRoll && !p.Bonuses.RollUnlocked {
		return fmt.Errorf("%w: roll locked", protocol.ErrStateConflict)
	}
	if ready, held := p.Cooldowns[spec.Key]; held && tick < ready {
		return fmt.Errorf("%w: cooldown", protocol.ErrStateConflict)
	}

	if aimX != 0 || aimY != 0 {
		e.Facing = math.Atan2(aimY, aimX)
	}

	windup := ticksFor(spec.Windup, c.tickRate)
	p.Attack = &ActiveAttack{
		Key:          spec.Key,
		Slot:         slot,
		Phase:        PhaseWindup,
		PhaseEndTick: tick + windup,
		ActionTick:   tick + windup,
		Facing:       e.Facing,
		OriginX:      e.X,
		OriginY:      e.Y,
	}

	c.emitAttackEvent(e, spec.Key, PhaseWindup)
	return nil
}

// StartMonsterAttack begins a monster attack; callers have already
// checked range and cooldown.
func (c *Combat) StartMonsterAttack(e *Entity, spec AttackSpec, tick uint64) {
	mo := e.Monster
	windup := ticksFor(spec.Windup, c.tickRate)
	mo.Attack = &ActiveAttack{
		Key:          spec.Key,
		Phase:        PhaseWindup,
		PhaseEndTick: tick + windup,
		ActionTick:   tick + windup,
		Facing:       e.Facing,
		OriginX:      e.X,
		OriginY:      e.Y,
	}
	c.emitAttackEvent(e, spec.Key, PhaseWindup)
}

// Step advances every attack state machine and all projectiles one tick.
func (c *Combat) Step(tick uint64) {
	for _, e := range c.world.Entities() {
		switch e.Kind {
		case KindPlayer:
			if e.Player.Attack != nil {
				c.stepAttack(e, e.Player.Attack, tick, true)
				if e.Player.Attack.Phase == PhaseReady {
					e.Player.Attack = nil
				}
			}
		case KindMonster:
			if e.Monster.Attack != nil {
				c.stepAttack(e, e.Monster.Attack, tick, false)
				if e.Monster.Attack.Phase == PhaseReady {
					e.Monster.Attack = nil
				}
			}
		}
	}
	c.stepProjectiles(tick)
	c.expireEffects(tick)
}

// stepAttack moves one attack through windup → active → recovery,
// resolving damage exactly once at the action point. A stun or death
// during windup cancels the attack outright.
func (c *Combat) stepAttack(e *Entity, a *ActiveAttack, tick uint64, isPlayer bool) {
	if e.Dead || (a.Phase == PhaseWindup && e.Stunned(tick)) {
		a.Phase = PhaseReady
		return
	}

	spec, ok := attackSpecByKey(e, a)
	if !ok {
		a.Phase = PhaseReady
		return
	}

	if !a.ActionDone && tick >= a.ActionTick {
		a.ActionDone = true
		c.resolveAction(e, a, spec, tick)
	}

	for a.Phase != PhaseReady && tick >= a.PhaseEndTick {
		switch a.Phase {
		case PhaseWindup:
			active := ticksFor(spec.Active, c.tickRate)
			if active == 0 {
				a.Phase = PhaseRecovery
				a.PhaseEndTick = tick + c.recoveryTicks(e, spec, isPlayer)
			} else {
				a.Phase = PhaseActive
				a.PhaseEndTick = tick + active
			}
			c.emitAttackEvent(e, a.Key, a.Phase)
		case PhaseActive:
			a.Phase = PhaseRecovery
			a.PhaseEndTick = tick + c.recoveryTicks(e, spec, isPlayer)
			c.emitAttackEvent(e, a.Key, a.Phase)
		case PhaseRecovery:
			a.Phase = PhaseReady
			// The cooldown clock starts when recovery ends, so the
			// earliest re-attack is windup + active + recovery + cooldown
			// after the original request.
			c.armCooldown(e, spec, a.PhaseEndTick, isPlayer)
		}
	}
}

func (c *Combat) armCooldown(e *Entity, spec AttackSpec, from uint64, isPlayer bool) {
	cooldown := ticksFor(spec.Cooldown, c.tickRate)
	if isPlayer {
		p := e.Player
		cooldown = scaleTicks(cooldown, 1-p.Bonuses.AttackCooldownBonus)
		if p.Cooldowns == nil {
			p.Cooldowns = make(map[string]uint64, 4)
		}
		p.Cooldowns[spec.Key] = from + cooldown
		return
	}
	mo := e.Monster
	if mo.Cooldowns == nil {
		mo.Cooldowns = make(map[string]uint64, 2)
	}
	mo.Cooldowns[spec.Key] = from + cooldown
}

func (c *Combat) recoveryTicks(e *Entity, spec AttackSpec, isPlayer bool) uint64 {
	base := ticksFor(spec.Recovery, c.tickRate)
	if isPlayer {
		return scaleTicks(base, 1-e.Player.Bonuses.AttackRecoveryBonus)
	}
	return base
}

// resolveAction performs the attack's effect: hitbox damage, projectile
// spawn, or dash start. Hitbox attacks rewind victims by the attacker's
// estimated one-way latency; projectiles and monster attacks never do.
func (c *Combat) resolveAction(e *Entity, a *ActiveAttack, spec AttackSpec, tick uint64) {
	if spec.Dash != nil {
		c.startDash(e, a, spec, tick)
	}
	if spec.Projectile != nil {
		c.spawnProjectile(e, a, spec)
	}
	if spec.Hitbox != nil && spec.Dash == nil {
		c.resolveHitbox(e, a, spec, tick)
	}
	// Dash attacks damage along the travel path once the dash starts.
	if spec.Hitbox != nil && spec.Dash != nil {
		c.resolveHitbox(e, a, spec, tick)
	}
}

func (c *Combat) startDash(e *Entity, a *ActiveAttack, spec AttackSpec, tick uint64) {
	dx := math.Cos(a.Facing) * spec.Dash.Distance
	dy := math.Sin(a.Facing) * spec.Dash.Distance
	t := &Trajectory{
		StartX: e.X, StartY: e.Y,
		EndX: e.X + dx, EndY: e.Y + dy,
		StartTick:    tick,
		EndTick:      tick + ticksFor(spec.Dash.Duration, c.tickRate),
		Invulnerable: spec.Dash.Invulnerable,
	}
	switch e.Kind {
	case KindPlayer:
		e.Player.Trajectory = t
	case KindMonster:
		e.Monster.Trajectory = t
	}
}

func (c *Combat) spawnProjectile(e *Entity, a *ActiveAttack, spec AttackSpec) {
	pr := spec.Projectile
	damage := c.outgoingDamage(e, spec)
	proj := &Entity{
		ID:     NewID(),
		Kind:   KindProjectile,
		X:      e.X,
		Y:      e.Y,
		Facing: a.Facing,
		Radius: pr.Radius,
		Projectile: &ProjectileState{
			OwnerID:   e.ID,
			OwnerKind: e.Kind,
			AttackKey: spec.Key,
			DirX:      math.Cos(a.Facing),
			DirY:      math.Sin(a.Facing),
			Speed:     pr.Speed,
			Damage:    damage,
			StunFor:   spec.StunFor,
			MaxRange:  pr.MaxRange,
			Piercing:  pr.Piercing,
			Hit:       make(map[string]bool, 4),
		},
	}
	c.world.Add(proj)
	c.events.EmitAt(protocol.MustEnvelope(protocol.TypeEntitySpawn, protocol.EntitySpawn{
		Entity: proj.Snapshot(0),
	}), proj.X, proj.Y, e.ID)
}

// resolveHitbox finds victims inside the attack shape and applies
// damage. Player attacks are tested against positions rewound to the
// moment the attacker acted; victims are processed in ascending id
// order.
func (c *Combat) resolveHitbox(e *Entity, a *ActiveAttack, spec AttackSpec, tick uint64) {
	hb := spec.Hitbox
	damage := c.outgoingDamage(e, spec)

	var rewindMs int64
	if e.Kind == KindPlayer {
		rewindMs = int64(c.latency.OneWayMs(e.ID))
	}
	now := c.nowMs()
	target := now - rewindMs
	if target < now-c.history.MaxRewind() {
		target = now - c.history.MaxRewind()
	}

	c.candidates = c.world.QueryRadius(e.X, e.Y, hb.Reach()+64, c.candidates[:0])
	for _, victim := range c.candidates {
		if victim == e || victim.Dead || victim.Invulnerable {
			continue
		}
		if !damageable(e.Kind, victim.Kind) {
			continue
		}

		vx, vy, vr := victim.X, victim.Y, victim.Radius
		if rewindMs > 0 {
			if hx, hy, hr, ok := c.history.At(victim.ID, target, now); ok {
				vx, vy, vr = hx, hy, hr
			}
		}
		if !hb.Contains(a.OriginX, a.OriginY, a.Facing, vx, vy, vr) {
			continue
		}

		c.applyDamage(e, victim, damage, spec.StunFor, tick)
	}
}

// outgoingDamage computes the authoritative damage for an attack:
// base + flat level bonus + class modifier. Client-sent damage hints
// never participate.
func (c *Combat) outgoingDamage(e *Entity, spec AttackSpec) int {
	damage := spec.BaseDamage
	if e.Kind == KindPlayer {
		_, stats := StatsForClass(e.Player.Class)
		damage += e.Player.Bonuses.DamageBonus + stats.DamageModifier
	}
	return damage
}

// applyDamage routes damage through armor, emits events, and handles
// death and experience. Every non-lethal hit stuns the victim for at
// least hitStun; stunFor extends it for heavy attacks.
func (c *Combat) applyDamage(attacker, victim *Entity, damage int, stunFor time.Duration, tick uint64) {
	if damage <= 0 || victim.Dead {
		return
	}

	if victim.Kind == KindPlayer && victim.Player.ArmorHP > 0 {
		absorbed := damage
		if absorbed > victim.Player.ArmorHP {
			absorbed = victim.Player.ArmorHP
		}
		victim.Player.ArmorHP -= absorbed
		damage -= absorbed
	}
	if damage > 0 {
		victim.HP -= damage
		if victim.HP < 0 {
			victim.HP = 0
		}
	}

	c.events.EmitAt(protocol.MustEnvelope(protocol.TypeDamageEvent, protocol.DamageEvent{
		AttackerID: attacker.ID,
		TargetID:   victim.ID,
		Damage:     damage,
		TargetHP:   victim.HP,
	}), victim.X, victim.Y, attacker.ID, victim.ID)
	c.audit.Emit(AuditDamage, tick, attacker.ID, map[string]any{
		"target": victim.ID, "damage": damage, "hp": victim.HP,
	})

	if victim.HP == 0 {
		c.kill(attacker, victim, tick)
		return
	}

	stun := hitStun
	if stunFor > stun {
		stun = stunFor
	}
	if until := tick + ticksFor(stun, c.tickRate); until > victim.StunnedUntil {
		victim.StunnedUntil = until
	}
	// A stun interrupts whatever the victim was winding up.
	cancelAttack(victim)
}

// kill marks the victim dead, awards experience, and schedules cleanup.
func (c *Combat) kill(attacker, victim *Entity, tick uint64) {
	victim.Dead = true
	victim.StunnedUntil = 0
	cancelAttack(victim)

	c.events.EmitAt(protocol.MustEnvelope(protocol.TypeDeathEvent, protocol.DeathEvent{
		TargetID: victim.ID,
		KillerID: attacker.ID,
	}), victim.X, victim.Y, attacker.ID, victim.ID)
	c.audit.Emit(AuditDeath, tick, victim.ID, map[string]any{"killer": attacker.ID})

	switch victim.Kind {
	case KindMonster:
		victim.Monster.State = StateDying
		victim.Monster.DeathTick = tick
		if attacker.Kind == KindPlayer {
			c.awardXP(attacker, XPForKill(victim.Monster.Type), tick)
		}
	case KindPlayer:
		victim.Player.Trajectory = nil
	}
}

// awardXP grants experience and applies level-ups.
func (c *Combat) awardXP(e *Entity, xp int, tick uint64) {
	p := e.Player
	p.XP += xp
	newLevel := LevelForXP(p.XP)
	if newLevel <= p.Level {
		return
	}
	p.Level = newLevel
	p.Bonuses = BonusesForLevel(newLevel)
	// Leveling restores armor as the survivability reward.
	p.ArmorHP = p.MaxArmorHP

	c.events.EmitAt(protocol.MustEnvelope(protocol.TypeLevelUpEvent, protocol.LevelUpEvent{
		PlayerID: e.ID,
		Level:    newLevel,
		Bonuses: map[string]any{
			"moveSpeedBonus":      p.Bonuses.MoveSpeedBonus,
			"attackRecoveryBonus": p.Bonuses.AttackRecoveryBonus,
			"attackCooldownBonus": p.Bonuses.AttackCooldownBonus,
			"damageBonus":         p.Bonuses.DamageBonus,
			"rollUnlocked":        p.Bonuses.RollUnlocked,
		},
	}), e.X, e.Y, e.ID)
	c.audit.Emit(AuditLevelUp, tick, e.ID, map[string]any{"level": newLevel, "xp": p.XP})
}

// Respawn restores a dead player at the given position.
func (c *Combat) Respawn(e *Entity, x, y float64) error {
	if e.Kind != KindPlayer || !e.Dead {
		return fmt.Errorf("%w: respawn while alive", protocol.ErrStateConflict)
	}
	p := e.Player
	_, stats := StatsForClass(p.Class)
	e.Dead = false
	e.HP = stats.MaxHP
	e.X, e.Y = x, y
	p.ArmorHP = stats.MaxArmorHP
	p.Attack = nil
	p.Trajectory = nil
	e.Invulnerable = false
	e.StunnedUntil = 0
	return nil
}

// stepProjectiles advances projectiles and resolves their overlaps
// against live positions. A projectile dies on hit, range exhaustion,
// wall contact, or its owner's death.
func (c *Combat) stepProjectiles(tick uint64) {
	dt := 1.0 / float64(c.tickRate)
	c.removals = c.removals[:0]

	for _, e := range c.world.Entities() {
		if e.Kind != KindProjectile {
			continue
		}
		pr := e.Projectile

		owner := c.world.Get(pr.OwnerID)
		if owner == nil || owner.Dead {
			c.removals = append(c.removals, e.ID)
			continue
		}

		step := pr.Speed * dt
		e.X += pr.DirX * step
		e.Y += pr.DirY * step
		pr.Travelled += step

		if pr.Travelled >= pr.MaxRange || c.world.Mask.BlockedCircle(e.X, e.Y, e.Radius) {
			c.removals = append(c.removals, e.ID)
			continue
		}

		c.candidates = c.world.QueryRadius(e.X, e.Y, e.Radius+48, c.candidates[:0])
		for _, victim := range c.candidates {
			if victim == e || victim.Dead || victim.Invulnerable || victim.ID == pr.OwnerID {
				continue
			}
			if !damageable(pr.OwnerKind, victim.Kind) {
				continue
			}
			if pr.Hit[victim.ID] {
				continue
			}
			if victim.DistanceTo(e.X, e.Y) > victim.Radius+e.Radius {
				continue
			}

			c.applyDamage(owner, victim, pr.Damage, pr.StunFor, tick)
			pr.Hit[victim.ID] = true
			if !pr.Piercing {
				c.removals = append(c.removals, e.ID)
				break
			}
		}
	}

	for _, id := range c.removals {
		if e := c.world.Get(id); e != nil {
			c.events.EmitAt(protocol.MustEnvelope(protocol.TypeEntityDespawn, protocol.EntityDespawn{
				ID: id, Reason: "expired",
			}), e.X, e.Y)
		}
		c.world.Remove(id)
	}
}

// expireEffects removes effects past their lifetime.
func (c *Combat) expireEffects(tick uint64) {
	c.removals = c.removals[:0]
	for _, e := range c.world.Entities() {
		if e.Kind == KindEffect && tick >= e.Effect.ExpiresAt {
			c.removals = append(c.removals, e.ID)
		}
	}
	for _, id := range c.removals {
		c.world.Remove(id)
	}
}

func (c *Combat) emitAttackEvent(e *Entity, key string, phase AttackPhase) {
	c.events.EmitAt(protocol.MustEnvelope(protocol.TypeAttackEvent, protocol.AttackEvent{
		AttackerID: e.ID,
		AttackType: key,
		Phase:      phase.String(),
		X:          e.X,
		Y:          e.Y,
		Facing:     e.Facing,
	}), e.X, e.Y, e.ID)
}

// damageable encodes the faction rules: players hurt monsters and other
// players; monsters hurt only players.
func damageable(attacker, victim Kind) bool {
	switch attacker {
	case KindPlayer:
		return victim == KindPlayer || victim == KindMonster
	case KindMonster:
		return victim == KindPlayer
	default:
		return false
	}
}

// cancelAttack aborts any in-flight attack on the entity.
func cancelAttack(e *Entity) {
	switch e.Kind {
	case KindPlayer:
		if e.Player != nil {
			e.Player.Attack = nil
		}
	case KindMonster:
		if e.Monster != nil {
			e.Monster.Attack = nil
		}
	}
}

// attackSpecByKey finds the spec backing an active attack.
func attackSpecByKey(e *Entity, a *ActiveAttack) (AttackSpec, bool) {
	if e.Kind == KindMonster {
		return lookupMonsterAttack(e.Monster.Type, a.Key)
	}
	s, ok := attackTable[a.Key]
	return s, ok
}

// scaleTicks applies a fractional bonus to a tick count, flooring at 1.
func scaleTicks(ticks uint64, factor float64) uint64 {
	if factor < 0.1 {
		factor = 0.1
	}
	scaled := uint64(math.Round(float64(ticks) * factor))
	if scaled < 1 && ticks > 0 {
		scaled = 1
	}
	return scaled
}
