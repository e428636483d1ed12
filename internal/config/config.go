// Package config provides centralized configuration management.
// This is the single source of truth for all server tunables.
//
// Every value has an environment variable override; defaults match the
// documented protocol constants, so a bare `go run ./cmd/server` boots a
// playable server.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ProtocolVersion is exchanged at handshake. Clients speaking a different
// version are rejected before a player entity is created.
const ProtocolVersion = 3

// Server holds the network-facing settings.
type Server struct {
	Port       int    `env:"PORT" envDefault:"3000"`
	DebugAddr  string `env:"DEBUG_ADDR" envDefault:"127.0.0.1:6060"`
	MaxPlayers int    `env:"MAX_PLAYERS" envDefault:"100"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// AllowedOrigins whitelists websocket Origin headers. Empty allows
	// all origins (development).
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// DebugEvents enables the non-production `error` event for silently
	// ignored state conflicts (attack while dead, unknown target).
	DebugEvents bool `env:"DEBUG_EVENTS" envDefault:"false"`
}

// Simulation holds the tick cadences and world parameters.
type Simulation struct {
	TickRate        int   `env:"TICK_RATE" envDefault:"60"`
	NetworkRate     int   `env:"NETWORK_UPDATE_RATE" envDefault:"20"`
	WorldSeed       int64 `env:"WORLD_SEED" envDefault:"0"`
	WorldWidth      int   `env:"WORLD_WIDTH" envDefault:"3200"`
	WorldHeight     int   `env:"WORLD_HEIGHT" envDefault:"3200"`
	TileSize        int   `env:"TILE_SIZE" envDefault:"32"`
	MonsterCount    int   `env:"MONSTER_COUNT" envDefault:"24"`
	MaxCatchUpTicks int   `env:"MAX_CATCHUP_TICKS" envDefault:"4"`
}

// Limits holds the per-connection rate caps and anti-cheat thresholds.
type Limits struct {
	MaxMessagesPerSecond int `env:"MAX_MESSAGES_PER_SECOND" envDefault:"200"`
	MaxInputRate         int `env:"MAX_INPUT_RATE" envDefault:"120"`
	MaxAttacksPerSecond  int `env:"MAX_ATTACKS_PER_SECOND" envDefault:"10"`
	InputSequenceWindow  int `env:"INPUT_SEQUENCE_WINDOW" envDefault:"300"`
	ViolationKickLimit   int `env:"VIOLATION_KICK_LIMIT" envDefault:"50"`

	// MaxPositionError is surfaced to clients as the reconciliation
	// tolerance; the server itself corrects at any divergence.
	MaxPositionError float64 `env:"MAX_POSITION_ERROR" envDefault:"10"`
}

// Timeouts holds heartbeat and reconnect windows.
type Timeouts struct {
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	HeartbeatTimeout   time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"15s"`
	StateRestoreWindow time.Duration `env:"STATE_RESTORE_WINDOW" envDefault:"30s"`
	MaxRewindTime      time.Duration `env:"MAX_REWIND_TIME" envDefault:"250ms"`
}

// Sync holds the area-of-interest distances (world units).
type Sync struct {
	PlayerViewDistance  float64 `env:"PLAYER_VIEW_DISTANCE" envDefault:"800"`
	MonsterSyncDistance float64 `env:"MONSTER_SYNC_DISTANCE" envDefault:"1000"`
	EffectSyncDistance  float64 `env:"EFFECT_SYNC_DISTANCE" envDefault:"600"`
	MonsterSyncCap      int     `env:"MONSTER_SYNC_CAP" envDefault:"50"`
}

// Config is the complete application configuration.
type Config struct {
	Server     Server
	Simulation Simulation
	Limits     Limits
	Timeouts   Timeouts
	Sync       Sync

	// EventLogPath enables the NDJSON audit log when non-empty.
	EventLogPath string `env:"EVENT_LOG_PATH"`
}

// Load parses configuration from the environment over defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the simulation cannot run under.
func (c Config) Validate() error {
	if c.Simulation.TickRate <= 0 {
		return fmt.Errorf("TICK_RATE must be positive, got %d", c.Simulation.TickRate)
	}
	if c.Simulation.NetworkRate <= 0 || c.Simulation.NetworkRate > c.Simulation.TickRate {
		return fmt.Errorf("NETWORK_UPDATE_RATE must be in 1..TICK_RATE, got %d", c.Simulation.NetworkRate)
	}
	if c.Simulation.TickRate%c.Simulation.NetworkRate != 0 {
		return fmt.Errorf("TICK_RATE (%d) must be a multiple of NETWORK_UPDATE_RATE (%d)",
			c.Simulation.TickRate, c.Simulation.NetworkRate)
	}
	if c.Server.MaxPlayers <= 0 {
		return fmt.Errorf("MAX_PLAYERS must be positive, got %d", c.Server.MaxPlayers)
	}
	if c.Simulation.TileSize <= 0 {
		return fmt.Errorf("TILE_SIZE must be positive, got %d", c.Simulation.TileSize)
	}
	if c.Timeouts.HeartbeatTimeout <= c.Timeouts.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT must exceed HEARTBEAT_INTERVAL")
	}
	return nil
}

// TickInterval returns the wall-clock duration of one simulation tick.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Simulation.TickRate)
}

// TicksPerNetworkUpdate returns how many simulation ticks elapse between
// client broadcasts.
func (c Config) TicksPerNetworkUpdate() int {
	return c.Simulation.TickRate / c.Simulation.NetworkRate
}
