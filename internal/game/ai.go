package game

import (
	"math"
	"math/rand"
	"time"

	"emberfall/internal/netsync"
	"emberfall/internal/protocol"
)

// AIState is the monster behavior state machine.
type AIState uint8

const (
	StateDormant AIState = iota
	StateIdle
	StateChasing
	StateAttacking
	StateStunned
	StateDying
)

func (s AIState) String() string {
	switch s {
	case StateDormant:
		return "dormant"
	case StateIdle:
		return "idle"
	case StateChasing:
		return "chasing"
	case StateAttacking:
		return "attacking"
	case StateStunned:
		return "stunned"
	case StateDying:
		return "dying"
	default:
		return "unknown"
	}
}

// MonsterStats parameterizes one monster type.
type MonsterStats struct {
	MaxHP       int
	MoveSpeed   float64
	Radius      float64
	AggroRange  float64
	AttackRange float64
	XPValue     int
	Attacks     []AttackSpec
}

// Monster type identifiers.
const (
	MonsterImp   = "ember_imp"
	MonsterBrute = "ash_brute"
	MonsterWisp  = "cinder_wisp"
	MonsterShade = "gloom_shade"
)

var monsterTable = map[string]MonsterStats{
	MonsterImp: {
		MaxHP: 40, MoveSpeed: 200, Radius: 14, AggroRange: 320, AttackRange: 40, XPValue: 25,
		Attacks: []AttackSpec{{
			Key: "imp_claw", Windup: 300 * time.Millisecond, Active: 50 * time.Millisecond,
			Recovery: 400 * time.Millisecond, Cooldown: 1200 * time.Millisecond, BaseDamage: 8,
			Hitbox: &HitboxSpec{Shape: ShapeRectangle, Length: 45, Width: 36},
		}},
	},
	MonsterBrute: {
		MaxHP: 160, MoveSpeed: 120, Radius: 26, AggroRange: 280, AttackRange: 60, XPValue: 90,
		Attacks: []AttackSpec{
			{
				Key: "brute_slam", Windup: 600 * time.Millisecond, Active: 80 * time.Millisecond,
				Recovery: 700 * time.Millisecond, Cooldown: 2 * time.Second, BaseDamage: 22,
				StunFor: 400 * time.Millisecond,
				Hitbox:  &HitboxSpec{Shape: ShapeCone, Range: 80, Angle: math.Pi / 2},
			},
			{
				Key: "brute_lunge", Windup: 450 * time.Millisecond,
				Recovery: 500 * time.Millisecond, Cooldown: 6 * time.Second, BaseDamage: 16,
				Dash:   &DashSpec{Distance: 160, Duration: 250 * time.Millisecond},
				Hitbox: &HitboxSpec{Shape: ShapeRectangle, Length: 160, Width: 48},
			},
		},
	},
	MonsterWisp: {
		MaxHP: 30, MoveSpeed: 160, Radius: 12, AggroRange: 420, AttackRange: 300, XPValue: 40,
		Attacks: []AttackSpec{{
			Key: "wisp_bolt", Windup: 400 * time.Millisecond,
			Recovery: 350 * time.Millisecond, Cooldown: 1800 * time.Millisecond, BaseDamage: 10,
			Projectile: &ProjectileSpec{Speed: 420, MaxRange: 380, Radius: 10},
		}},
	},
	MonsterShade: {
		MaxHP: 70, MoveSpeed: 240, Radius: 16, AggroRange: 360, AttackRange: 50, XPValue: 60,
		Attacks: []AttackSpec{{
			Key: "shade_rend", Windup: 200 * time.Millisecond, Active: 40 * time.Millisecond,
			Recovery: 300 * time.Millisecond, Cooldown: 900 * time.Millisecond, BaseDamage: 12,
			Hitbox: &HitboxSpec{Shape: ShapeRectangle, Length: 55, Width: 40},
		}},
	},
}

// MonsterTypes lists the spawnable types in a fixed order for the
// deterministic spawner.
var MonsterTypes = []string{MonsterImp, MonsterBrute, MonsterWisp, MonsterShade}

// StatsForMonster returns the stats for a monster type.
func StatsForMonster(monsterType string) (MonsterStats, bool) {
	s, ok := monsterTable[monsterType]
	return s, ok
}

func lookupMonsterAttack(monsterType, key string) (AttackSpec, bool) {
	stats, ok := monsterTable[monsterType]
	if !ok {
		return AttackSpec{}, false
	}
	for _, a := range stats.Attacks {
		if a.Key == key {
			return a, true
		}
	}
	return AttackSpec{}, false
}

// Leash: monsters abandon a chase once the target is this far past
// their aggro range and walk back home.
const leashFactor = 1.5

// dormantWakeRange is the player distance that transitions dormant
// monsters to idle. Beyond it they cost nothing per tick.
const dormantWakeRange = 900.0

// corpseLinger is how long a dying monster stays visible before removal.
const corpseLinger = 2 * time.Second

// maxPathExpansions caps the breadth-first search per repath.
const maxPathExpansions = 500

// repathInterval is the minimum tick spacing between path recomputes.
const repathIntervalMs = 500

// AI drives monster behavior. Runs on the simulation goroutine.
type AI struct {
	world    *World
	movement *Movement
	combat   *Combat
	events   *netsync.EventBuffer
	rng      *rand.Rand
	tickRate int

	players  []*Entity
	removals []string

	// BFS scratch, reused across repaths
	visited map[TilePoint]TilePoint
	queue   []TilePoint
}

// NewAI builds the monster AI system.
func NewAI(world *World, movement *Movement, combat *Combat, events *netsync.EventBuffer, rng *rand.Rand, tickRate int) *AI {
	return &AI{
		world:    world,
		movement: movement,
		combat:   combat,
		events:   events,
		rng:      rng,
		tickRate: tickRate,
		visited:  make(map[TilePoint]TilePoint, 512),
	}
}

// Step advances every monster one tick.
func (ai *AI) Step(tick uint64) {
	ai.players = ai.world.Players(ai.players[:0])
	ai.removals = ai.removals[:0]

	for _, e := range ai.world.Entities() {
		if e.Kind != KindMonster {
			continue
		}
		ai.stepMonster(e, tick)
	}

	for _, id := range ai.removals {
		if e := ai.world.Get(id); e != nil {
			ai.events.EmitAt(protocol.MustEnvelope(protocol.TypeEntityDespawn, protocol.EntityDespawn{
				ID: id, Reason: "died",
			}), e.X, e.Y)
		}
		ai.world.Remove(id)
	}
}

func (ai *AI) stepMonster(e *Entity, tick uint64) {
	mo := e.Monster
	stats, ok := monsterTable[mo.Type]
	if !ok {
		ai.removals = append(ai.removals, e.ID)
		return
	}

	if mo.State == StateDying {
		if tick-mo.DeathTick >= ticksFor(corpseLinger, ai.tickRate) {
			ai.removals = append(ai.removals, e.ID)
		}
		return
	}
	if e.Stunned(tick) {
		mo.State = StateStunned
		return
	}
	if mo.State == StateStunned {
		// Stun wore off; resume the chase if a target remains.
		if mo.TargetID != "" {
			mo.State = StateChasing
		} else {
			mo.State = StateIdle
		}
	}
	if mo.Trajectory != nil {
		// A lunge is in flight; movement handles it.
		ai.movement.StepMonster(e, tick, 0, e.X, e.Y)
		return
	}

	switch mo.State {
	case StateDormant:
		ai.stepDormant(e, tick)
	case StateIdle:
		ai.stepIdle(e, stats, tick)
	case StateChasing:
		ai.stepChasing(e, stats, tick)
	case StateAttacking:
		ai.stepAttacking(e, stats, tick)
	}
}

// stepDormant wakes the monster when any living player comes near.
// Checked on a coarse cadence to keep sleeping monsters cheap.
func (ai *AI) stepDormant(e *Entity, tick uint64) {
	mo := e.Monster
	if tick < mo.NextDecision {
		return
	}
	mo.NextDecision = tick + uint64(ai.tickRate/4)
	if ai.nearestPlayer(e, dormantWakeRange) != nil {
		mo.State = StateIdle
	}
}

// stepIdle wanders around home and watches for targets.
func (ai *AI) stepIdle(e *Entity, stats MonsterStats, tick uint64) {
	mo := e.Monster
	if target := ai.nearestPlayer(e, stats.AggroRange); target != nil {
		mo.TargetID = target.ID
		mo.State = StateChasing
		mo.Path = nil
		return
	}

	if tick >= mo.NextDecision {
		mo.NextDecision = tick + uint64(ai.tickRate) + uint64(ai.rng.Intn(ai.tickRate*2))
		angle := ai.rng.Float64() * 2 * math.Pi
		dist := ai.rng.Float64() * 80
		mo.WanderX = mo.HomeX + math.Cos(angle)*dist
		mo.WanderY = mo.HomeY + math.Sin(angle)*dist
	}
	if mo.WanderX != 0 || mo.WanderY != 0 {
		ai.movement.StepMonster(e, tick, stats.MoveSpeed*0.4, mo.WanderX, mo.WanderY)
	}

	// No players anywhere nearby: go back to sleep.
	if ai.nearestPlayer(e, dormantWakeRange) == nil {
		mo.State = StateDormant
	}
}

// stepChasing pursues the target, pathing around walls when direct line
// of sight is lost.
func (ai *AI) stepChasing(e *Entity, stats MonsterStats, tick uint64) {
	mo := e.Monster
	target := ai.validTarget(mo.TargetID)
	if target == nil {
		ai.dropTarget(mo)
		return
	}

	dist := e.DistanceTo(target.X, target.Y)

	// Leash: the target pulled past 1.5x aggro range, give up and walk back.
	if dist > stats.AggroRange*leashFactor {
		ai.dropTarget(mo)
		return
	}
	if dist <= stats.AttackRange {
		mo.State = StateAttacking
		mo.Path = nil
		return
	}

	if ai.world.Mask.LineOfSight(e.X, e.Y, target.X, target.Y) {
		mo.Path = nil
		ai.movement.StepMonster(e, tick, stats.MoveSpeed, target.X, target.Y)
		return
	}

	ai.followPath(e, stats, target, tick)
}

// stepAttacking faces the target and cycles attacks off cooldown.
func (ai *AI) stepAttacking(e *Entity, stats MonsterStats, tick uint64) {
	mo := e.Monster
	target := ai.validTarget(mo.TargetID)
	if target == nil {
		ai.dropTarget(mo)
		return
	}
	if mo.Attack != nil {
		return // mid-swing
	}
	if e.DistanceTo(target.X, target.Y) > stats.AttackRange*1.2 {
		mo.State = StateChasing
		return
	}

	e.Facing = math.Atan2(target.Y-e.Y, target.X-e.X)
	for _, spec := range stats.Attacks {
		if ready, held := mo.Cooldowns[spec.Key]; held && tick < ready {
			continue
		}
		ai.combat.StartMonsterAttack(e, spec, tick)
		return
	}
}

func (ai *AI) dropTarget(mo *MonsterState) {
	mo.TargetID = ""
	mo.Path = nil
	mo.State = StateIdle
	mo.WanderX = mo.HomeX
	mo.WanderY = mo.HomeY
}

// validTarget resolves a target id to a living, connected player.
func (ai *AI) validTarget(id string) *Entity {
	if id == "" {
		return nil
	}
	t := ai.world.Get(id)
	if t == nil || t.Kind != KindPlayer || t.Dead {
		return nil
	}
	return t
}

// nearestPlayer returns the closest living player within radius.
func (ai *AI) nearestPlayer(e *Entity, radius float64) *Entity {
	var best *Entity
	bestDist := radius
	for _, p := range ai.players {
		if p.Dead {
			continue
		}
		d := e.DistanceTo(p.X, p.Y)
		if d <= bestDist {
			best = p
			bestDist = d
		}
	}
	return best
}

// followPath walks the cached tile path, recomputing when the goal tile
// moved or the repath timer expired.
func (ai *AI) followPath(e *Entity, stats MonsterStats, target *Entity, tick uint64) {
	mo := e.Monster
	mask := ai.world.Mask
	goal := mask.TileAt(target.X, target.Y)

	if len(mo.Path) == 0 || goal.X != mo.PathGoalX || goal.Y != mo.PathGoalY {
		if tick >= mo.NextRepath {
			mo.NextRepath = tick + ticksFor(repathIntervalMs*time.Millisecond, ai.tickRate)
			mo.Path = ai.findPath(mask.TileAt(e.X, e.Y), goal)
			mo.PathGoalX, mo.PathGoalY = goal.X, goal.Y
		}
	}
	if len(mo.Path) == 0 {
		// Unreachable: press toward the target and let sliding do its best.
		ai.movement.StepMonster(e, tick, stats.MoveSpeed, target.X, target.Y)
		return
	}

	wx, wy := mask.TileCenter(mo.Path[0])
	if e.DistanceTo(wx, wy) < mask.TileSize/2 {
		mo.Path = mo.Path[1:]
		if len(mo.Path) == 0 {
			return
		}
		wx, wy = mask.TileCenter(mo.Path[0])
	}
	ai.movement.StepMonster(e, tick, stats.MoveSpeed, wx, wy)
}

// findPath runs a bounded breadth-first search over the tile mask and
// returns the tile path from start (exclusive) to goal, or nil when the
// expansion cap is hit first.
func (ai *AI) findPath(start, goal TilePoint) []TilePoint {
	if start == goal {
		return nil
	}
	mask := ai.world.Mask

	for k := range ai.visited {
		delete(ai.visited, k)
	}
	ai.queue = ai.queue[:0]
	ai.visited[start] = start
	ai.queue = append(ai.queue, start)

	expansions := 0
	found := false
	for len(ai.queue) > 0 && expansions < maxPathExpansions {
		cur := ai.queue[0]
		ai.queue = ai.queue[1:]
		expansions++

		if cur == goal {
			found = true
			break
		}
		for _, d := range [4]TilePoint{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			next := TilePoint{cur.X + d.X, cur.Y + d.Y}
			if _, seen := ai.visited[next]; seen || mask.Blocked(next.X, next.Y) {
				continue
			}
			ai.visited[next] = cur
			ai.queue = append(ai.queue, next)
		}
	}
	if !found {
		if _, ok := ai.visited[goal]; !ok {
			return nil
		}
	}

	// Walk parents back from the goal, then reverse.
	var rev []TilePoint
	for at := goal; at != start; at = ai.visited[at] {
		rev = append(rev, at)
	}
	path := make([]TilePoint, len(rev))
	for i, p := range rev {
		path[len(rev)-1-i] = p
	}
	return path
}
