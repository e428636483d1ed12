package game

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"emberfall/internal/config"
	"emberfall/internal/protocol"
)

// CommandKind tags the queued command variants.
type CommandKind uint8

const (
	CmdInput CommandKind = iota + 1
	CmdAttack
	CmdAbility
	CmdRespawn
	CmdSetClass
	CmdProjectile
)

// Command is one validated, rate-checked client action awaiting the next
// tick's drain phase.
type Command struct {
	PlayerID string
	Kind     CommandKind
	Seq      uint32

	Input      protocol.Input
	Attack     protocol.Attack
	Ability    protocol.ExecuteAbility
	SetClass   protocol.SetClass
	Projectile protocol.CreateProjectile
}

// maxQueuedCommands bounds each player's pending queue. A full queue
// drops the oldest commands first: fresher input wins.
const maxQueuedCommands = 64

// playerQueue holds one connection's pending commands plus its limiters.
// Pushed from the connection's read goroutine, drained by the simulation
// goroutine; the mutex covers both.
type playerQueue struct {
	mu       sync.Mutex
	pending  []Command
	lastSeq  uint32 // highest sequence accepted for enqueue
	seqInit  bool
	inputLim *rate.Limiter
	atkLim   *rate.Limiter
}

// Pipeline validates and stages client commands between network
// goroutines and the simulation.
type Pipeline struct {
	mu     sync.RWMutex
	queues map[string]*playerQueue
	limits config.Limits
}

// NewPipeline builds the input pipeline with the configured limits.
func NewPipeline(limits config.Limits) *Pipeline {
	return &Pipeline{
		queues: make(map[string]*playerQueue),
		limits: limits,
	}
}

// Register creates the queue for a player. Idempotent.
func (p *Pipeline) Register(playerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queues[playerID]; ok {
		return
	}
	p.queues[playerID] = &playerQueue{
		pending:  make([]Command, 0, maxQueuedCommands),
		inputLim: rate.NewLimiter(rate.Limit(p.limits.MaxInputRate), p.limits.MaxInputRate/4+1),
		atkLim:   rate.NewLimiter(rate.Limit(p.limits.MaxAttacksPerSecond), 2),
	}
}

// Unregister drops the queue for a departed player.
func (p *Pipeline) Unregister(playerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.queues, playerID)
}

// Push validates and stages a command. The error discriminates drop
// reasons via the protocol sentinels so callers can count violations.
func (p *Pipeline) Push(cmd Command) error {
	p.mu.RLock()
	q := p.queues[cmd.PlayerID]
	p.mu.RUnlock()
	if q == nil {
		return fmt.Errorf("%w: no such player", protocol.ErrStateConflict)
	}

	if err := p.validate(&cmd); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	switch cmd.Kind {
	case CmdInput:
		if !q.inputLim.Allow() {
			return fmt.Errorf("%w: input rate", protocol.ErrRateLimited)
		}
	case CmdAttack, CmdAbility, CmdProjectile:
		if !q.atkLim.Allow() {
			return fmt.Errorf("%w: attack rate", protocol.ErrRateLimited)
		}
	}

	if cmd.Seq != 0 || cmd.Kind == CmdInput {
		if err := q.checkSeq(cmd.Seq, uint32(p.limits.InputSequenceWindow)); err != nil {
			return err
		}
	}

	if len(q.pending) >= maxQueuedCommands {
		copy(q.pending, q.pending[1:])
		q.pending = q.pending[:len(q.pending)-1]
	}
	q.pending = append(q.pending, cmd)
	return nil
}

// checkSeq enforces strictly increasing sequences within the lookback
// window. Replays and stale frames are dropped; a jump far beyond the
// window is treated as a violation rather than silently resetting.
func (q *playerQueue) checkSeq(seq, window uint32) error {
	if !q.seqInit {
		q.lastSeq = seq
		q.seqInit = true
		return nil
	}
	if seq <= q.lastSeq {
		return fmt.Errorf("%w: stale sequence %d (last %d)", protocol.ErrValidation, seq, q.lastSeq)
	}
	if seq-q.lastSeq > window {
		return fmt.Errorf("%w: sequence jump %d -> %d", protocol.ErrValidation, q.lastSeq, seq)
	}
	q.lastSeq = seq
	return nil
}

// validate rejects out-of-range payload values before they reach the
// simulation.
func (p *Pipeline) validate(cmd *Command) error {
	checkAim := func(x, y float64) error {
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return fmt.Errorf("%w: non-finite aim", protocol.ErrValidation)
		}
		if x*x+y*y > 1.0001*1.0001 {
			return fmt.Errorf("%w: aim not a unit vector", protocol.ErrValidation)
		}
		return nil
	}
	switch cmd.Kind {
	case CmdInput:
		cmd.Seq = cmd.Input.Seq
		return checkAim(cmd.Input.AimX, cmd.Input.AimY)
	case CmdAttack:
		cmd.Seq = cmd.Attack.Seq
		if cmd.Attack.Slot < 1 || (cmd.Attack.Slot > 3 && cmd.Attack.Slot != SlotRoll) {
			return fmt.Errorf("%w: attack slot %d", protocol.ErrValidation, cmd.Attack.Slot)
		}
		// The damage hint is never applied, but a value no class could
		// produce from this slot marks a tampered client.
		if cmd.Attack.Damage < 0 || cmd.Attack.Damage > MaxPlausibleDamage(cmd.Attack.Slot) {
			return fmt.Errorf("%w: damage hint %d", protocol.ErrValidation, cmd.Attack.Damage)
		}
		return checkAim(cmd.Attack.AimX, cmd.Attack.AimY)
	case CmdAbility:
		cmd.Seq = cmd.Ability.Seq
		return checkAim(cmd.Ability.AimX, cmd.Ability.AimY)
	case CmdProjectile:
		cmd.Seq = cmd.Projectile.Seq
		return checkAim(cmd.Projectile.DirX, cmd.Projectile.DirY)
	case CmdSetClass:
		if !ValidClass(cmd.SetClass.Class) {
			return fmt.Errorf("%w: unknown class %q", protocol.ErrValidation, cmd.SetClass.Class)
		}
		return nil
	case CmdRespawn:
		return nil
	default:
		return fmt.Errorf("%w: unknown command kind %d", protocol.ErrValidation, cmd.Kind)
	}
}

// Drain moves every pending command out of the player's queue, ordered
// FIFO with sequence numbers as tie-break for same-kind bursts.
func (p *Pipeline) Drain(playerID string, dst []Command) []Command {
	p.mu.RLock()
	q := p.queues[playerID]
	p.mu.RUnlock()
	if q == nil {
		return dst
	}
	q.mu.Lock()
	dst = append(dst, q.pending...)
	q.pending = q.pending[:0]
	q.mu.Unlock()

	sort.SliceStable(dst, func(i, j int) bool {
		if dst[i].Seq != dst[j].Seq {
			return dst[i].Seq < dst[j].Seq
		}
		return false
	})
	return dst
}
