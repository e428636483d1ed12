// Package protocol defines the typed message envelopes exchanged between
// clients and the server, plus the compact binary frames used for
// high-frequency position and input traffic.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → server message types.
const (
	TypeJoin             = "join"
	TypeLeave            = "leave"
	TypeInput            = "input"
	TypeAttack           = "attack"
	TypeExecuteAbility   = "execute_ability"
	TypeRespawn          = "respawn"
	TypePing             = "ping"
	TypeSetClass         = "set_class"
	TypeCollisionMask    = "collision_mask"
	TypeCreateProjectile = "create_projectile"
)

// Server → client message types.
const (
	TypeConnectionAccepted = "connection:accepted"
	TypeConnectionRejected = "connection:rejected"
	TypeInit               = "init"
	TypeGameState          = "game:state"
	TypeEntitySpawn        = "entity:spawn"
	TypeEntityDespawn      = "entity:despawn"
	TypeEntityUpdate       = "entity:update"
	TypeAttackEvent        = "attack:event"
	TypeDamageEvent        = "damage:event"
	TypeDeathEvent         = "death:event"
	TypeLevelUpEvent       = "levelup:event"
	TypeBatch              = "batch"
	TypeError              = "error"
	TypeDisconnect         = "disconnect"
	TypeKicked             = "kicked"
	TypePong               = "pong"
)

// Envelope is the wire unit: a type tag plus a structured payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: marshal %s: %v", ErrInternal, msgType, err)
	}
	return Envelope{Type: msgType, Data: data}, nil
}

// MustEnvelope is NewEnvelope for payloads the server itself constructs.
// Panics on marshal failure, which indicates a programming error.
func MustEnvelope(msgType string, payload any) Envelope {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Bind unmarshals the envelope payload into dst.
func (e Envelope) Bind(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("%w: bad %s payload: %v", ErrProtocol, e.Type, err)
	}
	return nil
}

// Join is sent once after the socket opens. A non-empty ReconnectToken
// requests restoration of a previously held player entity.
type Join struct {
	Name            string `json:"name"`
	Class           string `json:"class"`
	ProtocolVersion int    `json:"protocolVersion"`
	ReconnectToken  string `json:"reconnectToken,omitempty"`
}

// Input carries one frame of movement intent. Keys is a bitfield, see the
// Key* constants. Aim is a unit vector in world space.
type Input struct {
	Seq        uint32  `json:"seq"`
	ClientTime uint32  `json:"ts"`
	Keys       uint8   `json:"keys"`
	AimX       float64 `json:"aimX"`
	AimY       float64 `json:"aimY"`
}

// Movement key bitfield values.
const (
	KeyForward  uint8 = 1 << 0
	KeyBackward uint8 = 1 << 1
	KeyLeft     uint8 = 1 << 2
	KeyRight    uint8 = 1 << 3
)

// Attack requests an attack from the given slot. Damage, if present, is a
// client-supplied hint that the server validates but never trusts.
type Attack struct {
	Seq        uint32  `json:"seq"`
	ClientTime uint32  `json:"ts"`
	Slot       int     `json:"slot"`
	AimX       float64 `json:"aimX"`
	AimY       float64 `json:"aimY"`
	TargetID   string  `json:"targetId,omitempty"`
	Damage     int     `json:"damage,omitempty"`
}

// ExecuteAbility requests a movement ability (dash, roll, jump).
type ExecuteAbility struct {
	Seq        uint32  `json:"seq"`
	ClientTime uint32  `json:"ts"`
	Slot       int     `json:"slot"`
	AimX       float64 `json:"aimX"`
	AimY       float64 `json:"aimY"`
}

// Ping measures round-trip time. Echo carries the server timestamp from the
// previous pong so the server can also estimate latency per player.
type Ping struct {
	ClientTime int64 `json:"ts"`
	Echo       int64 `json:"echo,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	ClientTime int64 `json:"ts"`
	ServerTime int64 `json:"serverTime"`
}

// SetClass selects or changes the player class before spawn.
type SetClass struct {
	Class string `json:"class"`
}

// CollisionMask uploads a tile collision mask. Tiles is row-major,
// non-zero meaning blocked. The server accepts one upload per connection.
type CollisionMask struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	TileSize int     `json:"tileSize"`
	Tiles    []uint8 `json:"tiles"`
}

// CreateProjectile requests a projectile spawn from an attack slot.
// Direction is normalized server-side; speed and damage come from the
// server's attack tables.
type CreateProjectile struct {
	Seq        uint32  `json:"seq"`
	ClientTime uint32  `json:"ts"`
	Slot       int     `json:"slot"`
	DirX       float64 `json:"dirX"`
	DirY       float64 `json:"dirY"`
}

// ConnectionAccepted acknowledges the handshake.
type ConnectionAccepted struct {
	PlayerID        string `json:"playerId"`
	ReconnectToken  string `json:"reconnectToken"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// ConnectionRejected explains a refused handshake.
type ConnectionRejected struct {
	Reason string `json:"reason"`
}

// Init is the first world frame a client receives.
type Init struct {
	PlayerID         string           `json:"playerId"`
	WorldWidth       int              `json:"worldWidth"`
	WorldHeight      int              `json:"worldHeight"`
	TileSize         int              `json:"tileSize"`
	WorldSeed        int64            `json:"worldSeed"`
	MaxPositionError float64          `json:"maxPositionError"`
	Players          []map[string]any `json:"players"`
	Monsters         []map[string]any `json:"monsters"`
	Features         map[string]bool  `json:"features"`
}

// GameState carries one network tick of entity updates for a client.
type GameState struct {
	Tick               uint64           `json:"tick"`
	LastProcessedInput uint32           `json:"lastProcessedInput"`
	Entities           []map[string]any `json:"entities"`
}

// EntitySpawn announces a new entity entering the client's view.
type EntitySpawn struct {
	Entity map[string]any `json:"entity"`
}

// EntityDespawn announces an entity leaving the world or the view.
type EntityDespawn struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// AttackEvent announces an attack entering a new phase, for animation.
type AttackEvent struct {
	AttackerID string  `json:"attackerId"`
	AttackType string  `json:"attackType"`
	Phase      string  `json:"phase"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Facing     float64 `json:"facing"`
}

// DamageEvent is a one-shot hit notification.
type DamageEvent struct {
	AttackerID string `json:"attackerId"`
	TargetID   string `json:"targetId"`
	Damage     int    `json:"damage"`
	TargetHP   int    `json:"targetHp"`
}

// DeathEvent is a one-shot death notification.
type DeathEvent struct {
	TargetID string `json:"targetId"`
	KillerID string `json:"killerId,omitempty"`
}

// LevelUpEvent is a one-shot level notification for the involved player.
type LevelUpEvent struct {
	PlayerID string         `json:"playerId"`
	Level    int            `json:"level"`
	Bonuses  map[string]any `json:"bonuses"`
}

// Batch wraps multiple envelopes flushed in one socket write.
type Batch struct {
	ServerTime int64      `json:"serverTime"`
	Messages   []Envelope `json:"messages"`
}

// ErrorEvent is the debug-mode notification for ignored state conflicts.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Disconnect tells the client the server is closing the connection.
type Disconnect struct {
	Reason string `json:"reason"`
}

// Kicked tells the client it crossed the anti-cheat threshold.
type Kicked struct {
	Reason string `json:"reason"`
}
