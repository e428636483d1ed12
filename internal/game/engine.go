package game

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"emberfall/internal/config"
	"emberfall/internal/netsync"
	"emberfall/internal/protocol"
)

// Client is the engine's view of one connected socket. Implementations
// must never block: Send enqueues or drops, Kick schedules a close.
type Client interface {
	ClientID() string
	Send(env protocol.Envelope)
	Kick(reason string)
}

// clientState ties a live socket to its player entity.
type clientState struct {
	client   Client
	playerID string
	batcher  *netsync.Batcher
}

type tokenInfo struct {
	playerID string
	issuedMs int64
}

type violationState struct {
	total   int
	reasons map[string]int
}

// Engine owns the authoritative world. A single mutex serializes the
// tick loop against the connection-facing entry points; everything
// world-touching happens under it.
type Engine struct {
	mu  sync.Mutex
	cfg config.Config
	log zerolog.Logger

	world     *World
	movement  *Movement
	combat    *Combat
	ai        *AI
	history   *History
	latency   *LatencyTracker
	pipeline  *Pipeline
	events    *netsync.EventBuffer
	publisher *netsync.Publisher
	audit     *AuditLog
	spawner   *Spawner
	rng       *rand.Rand

	clients  map[string]*clientState // by client id
	byPlayer map[string]*clientState // by player entity id
	tokens   map[string]tokenInfo

	vmu        sync.Mutex
	violations map[string]*violationState

	tick         uint64
	netEvery     uint64
	tickObserver func(time.Duration)

	// scratch buffers
	cmds    []Command
	players []*Entity
	views   []netsync.View
	routed  []protocol.Envelope
}

// NewEngine assembles the simulation. The audit log may be stopped; it
// degrades to a no-op.
func NewEngine(cfg config.Config, log zerolog.Logger, mask *TileMask, audit *AuditLog) *Engine {
	world := NewWorld(mask, cfg.Server.MaxPlayers+cfg.Simulation.MonsterCount+256)
	rng := rand.New(rand.NewSource(cfg.Simulation.WorldSeed))
	history := NewHistory(cfg.Timeouts.MaxRewindTime, cfg.Simulation.TickRate)
	latency := NewLatencyTracker()
	events := netsync.NewEventBuffer()
	movement := NewMovement(mask, cfg.Simulation.TickRate)

	e := &Engine{
		cfg:        cfg,
		log:        log.With().Str("component", "engine").Logger(),
		world:      world,
		movement:   movement,
		history:    history,
		latency:    latency,
		pipeline:   NewPipeline(cfg.Limits),
		events:     events,
		publisher:  netsync.NewPublisher(cfg.Sync),
		audit:      audit,
		rng:        rng,
		clients:    make(map[string]*clientState),
		byPlayer:   make(map[string]*clientState),
		tokens:     make(map[string]tokenInfo),
		violations: make(map[string]*violationState),
		netEvery:   uint64(cfg.TicksPerNetworkUpdate()),
	}
	e.combat = NewCombat(world, history, latency, events, audit, cfg.Simulation.TickRate, e.NowMs)
	e.ai = NewAI(world, movement, e.combat, events, rng, cfg.Simulation.TickRate)
	e.spawner = NewSpawner(world, rng)
	e.spawner.SpawnMonsters(cfg.Simulation.MonsterCount)
	return e
}

// Tick returns the current simulation tick.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// NowMs returns the simulation clock in milliseconds, derived from the
// tick counter so replays with the same seed and inputs are identical.
func (e *Engine) NowMs() int64 {
	return int64(e.tick) * 1000 / int64(e.cfg.Simulation.TickRate)
}

// World exposes the world for in-process inspection (tests, debug
// endpoint). Callers must not mutate it.
func (e *Engine) World() *World {
	return e.world
}

// Connect performs the join handshake: protocol version and capacity
// checks, optional reconnect restoration, entity creation. It returns
// the init payload the client needs before its first state frame.
func (e *Engine) Connect(c Client, join protocol.Join) (protocol.ConnectionAccepted, protocol.Init, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if join.ProtocolVersion != config.ProtocolVersion {
		return protocol.ConnectionAccepted{}, protocol.Init{}, fmt.Errorf(
			"%w: protocol version %d, want %d", protocol.ErrProtocol, join.ProtocolVersion, config.ProtocolVersion)
	}

	if join.ReconnectToken != "" {
		if acc, init, ok := e.reconnect(c, join.ReconnectToken); ok {
			return acc, init, nil
		}
		// Expired or bogus token: fall through to a fresh join.
	}

	if e.playerCount() >= e.cfg.Server.MaxPlayers {
		return protocol.ConnectionAccepted{}, protocol.Init{}, protocol.ErrCapacity
	}

	class, stats := StatsForClass(join.Class)
	x, y := e.spawner.PlayerSpawnPoint()
	player := &Entity{
		ID:     NewID(),
		Kind:   KindPlayer,
		X:      x,
		Y:      y,
		Radius: 16,
		HP:     stats.MaxHP,
		MaxHP:  stats.MaxHP,
		Player: &PlayerState{
			Name:       sanitizeName(join.Name),
			Class:      class,
			ClientID:   c.ClientID(),
			ArmorHP:    stats.MaxArmorHP,
			MaxArmorHP: stats.MaxArmorHP,
			Level:      1,
			Bonuses:    BonusesForLevel(1),
		},
	}
	e.world.Add(player)
	e.pipeline.Register(player.ID)

	cs := &clientState{client: c, playerID: player.ID, batcher: netsync.NewBatcher()}
	e.clients[c.ClientID()] = cs
	e.byPlayer[player.ID] = cs

	token := NewID()
	e.tokens[token] = tokenInfo{playerID: player.ID, issuedMs: time.Now().UnixMilli()}

	e.events.EmitAt(protocol.MustEnvelope(protocol.TypeEntitySpawn, protocol.EntitySpawn{
		Entity: player.Snapshot(e.tick),
	}), player.X, player.Y, player.ID)
	e.audit.Emit(AuditJoin, e.tick, player.ID, map[string]any{"class": class, "name": player.Player.Name})
	e.log.Info().Str("player", player.ID).Str("class", class).Msg("player joined")

	return protocol.ConnectionAccepted{
		PlayerID:        player.ID,
		ReconnectToken:  token,
		ProtocolVersion: config.ProtocolVersion,
	}, e.buildInit(player), nil
}

// reconnect reattaches a socket to a preserved player entity.
func (e *Engine) reconnect(c Client, token string) (protocol.ConnectionAccepted, protocol.Init, bool) {
	info, ok := e.tokens[token]
	if !ok {
		return protocol.ConnectionAccepted{}, protocol.Init{}, false
	}
	player := e.world.Get(info.playerID)
	if player == nil || player.Kind != KindPlayer {
		delete(e.tokens, token)
		return protocol.ConnectionAccepted{}, protocol.Init{}, false
	}
	p := player.Player
	if p.ClientID != "" {
		// Token replay against a live session; reject it.
		return protocol.ConnectionAccepted{}, protocol.Init{}, false
	}
	if p.DisconnectedAt > 0 &&
		time.Now().UnixMilli()-p.DisconnectedAt > e.cfg.Timeouts.StateRestoreWindow.Milliseconds() {
		return protocol.ConnectionAccepted{}, protocol.Init{}, false
	}

	p.ClientID = c.ClientID()
	p.DisconnectedAt = 0
	cs := &clientState{client: c, playerID: player.ID, batcher: netsync.NewBatcher()}
	e.clients[c.ClientID()] = cs
	e.byPlayer[player.ID] = cs

	e.audit.Emit(AuditReconnect, e.tick, player.ID, nil)
	e.log.Info().Str("player", player.ID).Msg("player reconnected")

	return protocol.ConnectionAccepted{
		PlayerID:        player.ID,
		ReconnectToken:  token,
		ProtocolVersion: config.ProtocolVersion,
	}, e.buildInit(player), true
}

func (e *Engine) buildInit(self *Entity) protocol.Init {
	var players, monsters []map[string]any
	for _, ent := range e.world.Entities() {
		switch ent.Kind {
		case KindPlayer:
			players = append(players, ent.Snapshot(e.tick))
		case KindMonster:
			monsters = append(monsters, ent.Snapshot(e.tick))
		}
	}
	return protocol.Init{
		PlayerID:         self.ID,
		WorldWidth:       e.cfg.Simulation.WorldWidth,
		WorldHeight:      e.cfg.Simulation.WorldHeight,
		TileSize:         e.cfg.Simulation.TileSize,
		WorldSeed:        e.cfg.Simulation.WorldSeed,
		MaxPositionError: e.cfg.Limits.MaxPositionError,
		Players:          players,
		Monsters:         monsters,
		Features:         map[string]bool{"lagComp": true, "deltaSync": true, "batching": true},
	}
}

// Disconnect detaches a socket. The player entity is preserved for the
// restore window so a reconnect resumes mid-fight.
func (e *Engine) Disconnect(clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.clients[clientID]
	if !ok {
		return
	}
	delete(e.clients, clientID)
	delete(e.byPlayer, cs.playerID)
	e.publisher.DropClient(clientID)

	if player := e.world.Get(cs.playerID); player != nil && player.Player != nil {
		player.Player.ClientID = ""
		player.Player.DisconnectedAt = time.Now().UnixMilli()
		player.Player.InputKeys = 0
	}
	e.audit.Emit(AuditLeave, e.tick, cs.playerID, nil)
	e.log.Info().Str("player", cs.playerID).Msg("player disconnected")
}

// Submit stages a client command for the next tick. Thread-safe.
func (e *Engine) Submit(cmd Command) error {
	return e.pipeline.Push(cmd)
}

// ObserveLatency folds an RTT sample (ms) into the player's estimate.
func (e *Engine) ObserveLatency(playerID string, rttMs float64) {
	e.latency.Observe(playerID, rttMs)
}

// ReportPosition checks a client-predicted position against the
// authoritative one. The report is never applied; a large divergence
// counts as a violation.
func (e *Engine) ReportPosition(playerID string, x, y float64) {
	e.mu.Lock()
	player := e.world.Get(playerID)
	var diverged bool
	if player != nil {
		dx := player.X - x
		dy := player.Y - y
		diverged = math.Sqrt(dx*dx+dy*dy) > e.cfg.Limits.MaxPositionError
	}
	e.mu.Unlock()

	if diverged {
		e.NoteViolation(playerID, "position_desync")
	}
}

// NoteViolation counts an anti-cheat strike; crossing the kick limit
// ejects the player. Thread-safe.
func (e *Engine) NoteViolation(playerID, reason string) {
	e.vmu.Lock()
	v := e.violations[playerID]
	if v == nil {
		v = &violationState{reasons: make(map[string]int)}
		e.violations[playerID] = v
	}
	v.total++
	v.reasons[reason]++
	kick := v.total >= e.cfg.Limits.ViolationKickLimit
	e.vmu.Unlock()

	e.audit.Emit(AuditViolation, e.Tick(), playerID, map[string]any{"reason": reason})
	if !kick {
		return
	}

	e.mu.Lock()
	cs := e.byPlayer[playerID]
	e.mu.Unlock()
	if cs != nil {
		e.log.Warn().Str("player", playerID).Str("reason", reason).Msg("kicking player")
		e.audit.Emit(AuditKick, e.Tick(), playerID, map[string]any{"reason": reason})
		cs.client.Send(protocol.MustEnvelope(protocol.TypeKicked, protocol.Kicked{Reason: reason}))
		cs.client.Kick(reason)
	}
}

// SetTickObserver installs a per-tick duration callback (metrics).
// Must be called before Run.
func (e *Engine) SetTickObserver(fn func(time.Duration)) {
	e.tickObserver = fn
}

// Step advances the simulation exactly one tick. Exported so tests can
// drive the engine without the wall-clock loop.
func (e *Engine) Step() {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tickObserver != nil {
		defer func() { e.tickObserver(time.Since(start)) }()
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Uint64("tick", e.tick).Msg("tick panic recovered")
		}
	}()

	e.tick++
	tick := e.tick

	e.pruneDisconnected()

	// Phase 1: drain and apply client commands, players in join order.
	e.players = e.world.Players(e.players[:0])
	for _, player := range e.players {
		if player.Player.ClientID == "" {
			continue
		}
		e.cmds = e.pipeline.Drain(player.ID, e.cmds[:0])
		for _, cmd := range e.cmds {
			e.applyCommand(player, cmd, tick)
		}
	}

	e.world.RebuildIndex()

	// Phase 2: attacks, abilities, projectiles.
	e.combat.Step(tick)

	// Phase 3: monster AI (moves monsters as a side effect).
	e.ai.Step(tick)

	// Phase 4: player movement and collision.
	for _, player := range e.players {
		if e.world.Get(player.ID) != nil {
			e.movement.StepPlayer(player, tick)
		}
	}

	// Phase 5: snapshot for lag compensation.
	e.history.Record(tick, e.NowMs(), e.world.Entities())

	// Phase 6: network flush on the broadcast cadence.
	if tick%e.netEvery == 0 {
		e.flushNetwork(tick)
	}
}

// applyCommand executes one staged command against its player. State
// conflicts are silently ignored; the optional debug event surfaces
// them during development.
func (e *Engine) applyCommand(player *Entity, cmd Command, tick uint64) {
	p := player.Player
	var err error

	switch cmd.Kind {
	case CmdInput:
		p.InputKeys = cmd.Input.Keys
		p.AimX, p.AimY = cmd.Input.AimX, cmd.Input.AimY
		if (cmd.Input.AimX != 0 || cmd.Input.AimY != 0) && p.Trajectory == nil {
			player.Facing = math.Atan2(cmd.Input.AimY, cmd.Input.AimX)
		}
		if cmd.Input.Seq > p.LastInputSeq {
			p.LastInputSeq = cmd.Input.Seq
		}
	case CmdAttack:
		err = e.combat.RequestAttack(player, cmd.Attack.Slot, cmd.Attack.AimX, cmd.Attack.AimY, tick)
	case CmdAbility:
		err = e.combat.RequestAttack(player, cmd.Ability.Slot, cmd.Ability.AimX, cmd.Ability.AimY, tick)
	case CmdProjectile:
		err = e.combat.RequestAttack(player, cmd.Projectile.Slot, cmd.Projectile.DirX, cmd.Projectile.DirY, tick)
	case CmdRespawn:
		x, y := e.spawner.PlayerSpawnPoint()
		err = e.combat.Respawn(player, x, y)
	case CmdSetClass:
		err = e.setClass(player, cmd.SetClass.Class)
	}

	if err != nil && e.cfg.Server.DebugEvents {
		if cs := e.byPlayer[player.ID]; cs != nil {
			cs.client.Send(protocol.MustEnvelope(protocol.TypeError, protocol.ErrorEvent{
				Code:    "state_conflict",
				Message: err.Error(),
			}))
		}
	}
}

// setClass swaps the player's class. Only allowed while dead or at the
// spawn-fresh level, so a live fight can't be re-rolled.
func (e *Engine) setClass(player *Entity, class string) error {
	p := player.Player
	if !player.Dead && (p.XP > 0 || p.Attack != nil) {
		return fmt.Errorf("%w: class locked in", protocol.ErrStateConflict)
	}
	cls, stats := StatsForClass(class)
	p.Class = cls
	player.MaxHP = stats.MaxHP
	p.MaxArmorHP = stats.MaxArmorHP
	if !player.Dead {
		player.HP = stats.MaxHP
		p.ArmorHP = stats.MaxArmorHP
	}
	return nil
}

// pruneDisconnected removes players whose restore window expired.
func (e *Engine) pruneDisconnected() {
	// Cheap scan once a second.
	if e.tick%uint64(e.cfg.Simulation.TickRate) != 0 {
		return
	}
	now := time.Now().UnixMilli()
	window := e.cfg.Timeouts.StateRestoreWindow.Milliseconds()

	var expired []string
	for _, ent := range e.world.Entities() {
		if ent.Kind != KindPlayer || ent.Player.ClientID != "" || ent.Player.DisconnectedAt == 0 {
			continue
		}
		if now-ent.Player.DisconnectedAt > window {
			expired = append(expired, ent.ID)
		}
	}
	for _, id := range expired {
		if ent := e.world.Get(id); ent != nil {
			e.events.EmitAt(protocol.MustEnvelope(protocol.TypeEntityDespawn, protocol.EntityDespawn{
				ID: id, Reason: "left",
			}), ent.X, ent.Y)
		}
		e.world.Remove(id)
		e.pipeline.Unregister(id)
		e.publisher.DropEntity(id)
		e.latency.Forget(id)
		for token, info := range e.tokens {
			if info.playerID == id {
				delete(e.tokens, token)
			}
		}
		e.log.Info().Str("player", id).Msg("restore window expired")
	}
}

// flushNetwork builds and enqueues one network tick for every client.
func (e *Engine) flushNetwork(tick uint64) {
	events := e.events.Drain()

	e.views = e.views[:0]
	for _, ent := range e.world.Entities() {
		e.views = append(e.views, netsync.View{
			ID:       ent.ID,
			Kind:     ent.Kind.String(),
			X:        ent.X,
			Y:        ent.Y,
			Snapshot: ent.Snapshot(tick),
		})
	}

	serverTime := time.Now().UnixMilli()
	for clientID, cs := range e.clients {
		player := e.world.Get(cs.playerID)
		if player == nil {
			continue
		}
		var self netsync.View
		for _, v := range e.views {
			if v.ID == cs.playerID {
				self = v
				break
			}
		}

		state := e.publisher.BuildState(clientID, self, e.views, tick, player.Player.LastInputSeq)
		cs.batcher.AddState(state)

		e.routed = e.publisher.RouteEvents(cs.playerID, player.X, player.Y, events, e.routed[:0])
		for _, env := range e.routed {
			cs.batcher.Add(env)
		}

		if env, ok := cs.batcher.Flush(serverTime); ok {
			cs.client.Send(env)
		}
	}
}

// Stats summarizes engine state for the debug endpoint.
func (e *Engine) Stats() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	var players, monsters, projectiles int
	for _, ent := range e.world.Entities() {
		switch ent.Kind {
		case KindPlayer:
			players++
		case KindMonster:
			monsters++
		case KindProjectile:
			projectiles++
		}
	}
	return map[string]any{
		"tick":        e.tick,
		"players":     players,
		"monsters":    monsters,
		"projectiles": projectiles,
		"clients":     len(e.clients),
		"audit":       e.audit.Stats(),
	}
}

func (e *Engine) playerCount() int {
	n := 0
	for _, ent := range e.world.Entities() {
		if ent.Kind == KindPlayer {
			n++
		}
	}
	return n
}

// sanitizeName bounds and defaults the display name.
func sanitizeName(name string) string {
	if name == "" {
		return "adventurer"
	}
	runes := []rune(name)
	if len(runes) > 24 {
		runes = runes[:24]
	}
	return string(runes)
}
