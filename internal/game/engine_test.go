package game

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emberfall/internal/config"
	"emberfall/internal/protocol"
)

type fakeClient struct {
	id string

	mu     sync.Mutex
	sent   []protocol.Envelope
	kicked string
}

func (c *fakeClient) ClientID() string { return c.id }

func (c *fakeClient) Send(env protocol.Envelope) {
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
}

func (c *fakeClient) Kick(reason string) {
	c.mu.Lock()
	c.kicked = reason
	c.mu.Unlock()
}

func (c *fakeClient) envelopes() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeClient) clear() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

func (c *fakeClient) kickReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kicked
}

func testConfig() config.Config {
	return config.Config{
		Server: config.Server{MaxPlayers: 8},
		Simulation: config.Simulation{
			TickRate: 60, NetworkRate: 20, WorldSeed: 1,
			WorldWidth: 3200, WorldHeight: 3200, TileSize: 32,
			MonsterCount: 0, MaxCatchUpTicks: 4,
		},
		Limits: config.Limits{
			MaxMessagesPerSecond: 200, MaxInputRate: 120, MaxAttacksPerSecond: 10,
			InputSequenceWindow: 300, ViolationKickLimit: 50, MaxPositionError: 10,
		},
		Timeouts: config.Timeouts{
			HeartbeatInterval: 5 * time.Second, HeartbeatTimeout: 15 * time.Second,
			StateRestoreWindow: 30 * time.Second, MaxRewindTime: 250 * time.Millisecond,
		},
		Sync: config.Sync{
			PlayerViewDistance: 800, MonsterSyncDistance: 1000,
			EffectSyncDistance: 600, MonsterSyncCap: 50,
		},
	}
}

func newTestEngine(cfg config.Config) *Engine {
	return NewEngine(cfg, zerolog.Nop(), openMask(), NewAuditLog())
}

func joinMsg() protocol.Join {
	return protocol.Join{Name: "tester", Class: ClassGuardian, ProtocolVersion: config.ProtocolVersion}
}

// gameStates extracts every game:state payload from the sent envelopes,
// unwrapping batches.
func gameStates(t *testing.T, envs []protocol.Envelope) []protocol.GameState {
	t.Helper()
	var out []protocol.GameState
	bind := func(env protocol.Envelope) {
		var gs protocol.GameState
		if err := env.Bind(&gs); err != nil {
			t.Fatalf("bind game state: %v", err)
		}
		out = append(out, gs)
	}
	for _, env := range envs {
		switch env.Type {
		case protocol.TypeGameState:
			bind(env)
		case protocol.TypeBatch:
			var b protocol.Batch
			if err := env.Bind(&b); err != nil {
				t.Fatalf("bind batch: %v", err)
			}
			for _, inner := range b.Messages {
				if inner.Type == protocol.TypeGameState {
					bind(inner)
				}
			}
		}
	}
	return out
}

func TestConnectRejectsWrongProtocolVersion(t *testing.T) {
	e := newTestEngine(testConfig())
	join := joinMsg()
	join.ProtocolVersion = 1

	_, _, err := e.Connect(&fakeClient{id: "c1"}, join)
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("err = %v, want protocol error", err)
	}
}

func TestConnectHandshake(t *testing.T) {
	e := newTestEngine(testConfig())

	acc, init, err := e.Connect(&fakeClient{id: "c1"}, joinMsg())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if acc.PlayerID == "" || acc.ReconnectToken == "" {
		t.Fatal("accepted handshake must carry a player id and token")
	}
	if acc.ProtocolVersion != config.ProtocolVersion {
		t.Fatalf("version = %d", acc.ProtocolVersion)
	}
	if init.PlayerID != acc.PlayerID {
		t.Fatal("init self id mismatch")
	}
	if len(init.Players) != 1 {
		t.Fatalf("init players = %d, want 1", len(init.Players))
	}
	if !init.Features["lagComp"] || !init.Features["deltaSync"] {
		t.Fatal("init should advertise the sync features")
	}

	player := e.World().Get(acc.PlayerID)
	if player == nil {
		t.Fatal("player entity missing")
	}
	if player.Player.Class != ClassGuardian || player.Player.Name != "tester" {
		t.Fatalf("player = %s/%s", player.Player.Class, player.Player.Name)
	}
}

func TestConnectAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxPlayers = 1
	e := newTestEngine(cfg)

	if _, _, err := e.Connect(&fakeClient{id: "c1"}, joinMsg()); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	_, _, err := e.Connect(&fakeClient{id: "c2"}, joinMsg())
	if !errors.Is(err, protocol.ErrCapacity) {
		t.Fatalf("err = %v, want capacity", err)
	}
}

func TestInputMovesPlayer(t *testing.T) {
	e := newTestEngine(testConfig())
	acc, _, err := e.Connect(&fakeClient{id: "c1"}, joinMsg())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	player := e.World().Get(acc.PlayerID)
	startX := player.X

	err = e.Submit(Command{PlayerID: acc.PlayerID, Kind: CmdInput, Input: protocol.Input{
		Seq: 1, Keys: protocol.KeyForward, AimX: 1, AimY: 0,
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.Step()

	if player.X <= startX {
		t.Fatalf("x = %f, want eastward movement from %f", player.X, startX)
	}
	if player.Player.LastInputSeq != 1 {
		t.Fatalf("last input seq = %d, want 1", player.Player.LastInputSeq)
	}
}

func TestStaleInputRejectedAtSubmit(t *testing.T) {
	e := newTestEngine(testConfig())
	acc, _, _ := e.Connect(&fakeClient{id: "c1"}, joinMsg())

	input := func(seq uint32) Command {
		return Command{PlayerID: acc.PlayerID, Kind: CmdInput, Input: protocol.Input{Seq: seq}}
	}
	if err := e.Submit(input(5)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := e.Submit(input(3)); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("stale err = %v, want validation", err)
	}
}

func TestGameStateFullThenDelta(t *testing.T) {
	e := newTestEngine(testConfig())
	c := &fakeClient{id: "c1"}
	acc, _, _ := e.Connect(c, joinMsg())

	// Network flush happens every 3 ticks at 60/20.
	for i := 0; i < 3; i++ {
		e.Step()
	}
	states := gameStates(t, c.envelopes())
	if len(states) == 0 {
		t.Fatal("no game state after a network tick")
	}
	first := states[0].Entities[0]
	if first["id"] != acc.PlayerID {
		t.Fatalf("self id = %v, want first entity to be self", first["id"])
	}
	if first["updateType"] != "full" {
		t.Fatalf("updateType = %v, want full on first sight", first["updateType"])
	}

	c.clear()
	for i := 0; i < 3; i++ {
		e.Step()
	}
	states = gameStates(t, c.envelopes())
	if len(states) == 0 {
		t.Fatal("no game state on the second network tick")
	}
	if got := states[0].Entities[0]["updateType"]; got != "delta" {
		t.Fatalf("updateType = %v, want delta once tracked", got)
	}
}

func TestReconnectRestoresPlayer(t *testing.T) {
	e := newTestEngine(testConfig())
	acc, _, _ := e.Connect(&fakeClient{id: "c1"}, joinMsg())

	e.Disconnect("c1")
	player := e.World().Get(acc.PlayerID)
	if player == nil {
		t.Fatal("entity should survive the disconnect")
	}
	if player.Player.ClientID != "" {
		t.Fatal("disconnected player should have no client")
	}

	join := joinMsg()
	join.ReconnectToken = acc.ReconnectToken
	acc2, _, err := e.Connect(&fakeClient{id: "c2"}, join)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if acc2.PlayerID != acc.PlayerID {
		t.Fatalf("reconnect gave %q, want original %q", acc2.PlayerID, acc.PlayerID)
	}
	if player.Player.ClientID != "c2" {
		t.Fatal("entity not reattached to the new socket")
	}
}

func TestTokenReplayAgainstLiveSession(t *testing.T) {
	e := newTestEngine(testConfig())
	acc, _, _ := e.Connect(&fakeClient{id: "c1"}, joinMsg())

	// The session is still live; the stolen token must not hijack it.
	join := joinMsg()
	join.ReconnectToken = acc.ReconnectToken
	acc2, _, err := e.Connect(&fakeClient{id: "c2"}, join)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if acc2.PlayerID == acc.PlayerID {
		t.Fatal("token replay took over a live session")
	}
}

func TestPruneAfterRestoreWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.StateRestoreWindow = time.Millisecond
	e := newTestEngine(cfg)
	acc, _, _ := e.Connect(&fakeClient{id: "c1"}, joinMsg())

	e.Disconnect("c1")
	time.Sleep(5 * time.Millisecond)

	// The prune scan runs once a second of simulation time.
	for i := 0; i < 61; i++ {
		e.Step()
	}
	if e.World().Get(acc.PlayerID) != nil {
		t.Fatal("expired player should be removed")
	}
}

func TestViolationKick(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.ViolationKickLimit = 3
	e := newTestEngine(cfg)
	c := &fakeClient{id: "c1"}
	acc, _, _ := e.Connect(c, joinMsg())

	e.NoteViolation(acc.PlayerID, "test_reason")
	e.NoteViolation(acc.PlayerID, "test_reason")
	if c.kickReason() != "" {
		t.Fatal("kicked before the limit")
	}
	e.NoteViolation(acc.PlayerID, "test_reason")
	if c.kickReason() != "test_reason" {
		t.Fatalf("kick reason = %q", c.kickReason())
	}

	var sawKicked bool
	for _, env := range c.envelopes() {
		if env.Type == protocol.TypeKicked {
			sawKicked = true
		}
	}
	if !sawKicked {
		t.Fatal("kicked notification not sent")
	}
}

func TestReportPositionNeverApplied(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.ViolationKickLimit = 1
	e := newTestEngine(cfg)
	c := &fakeClient{id: "c1"}
	acc, _, _ := e.Connect(c, joinMsg())
	player := e.World().Get(acc.PlayerID)
	x, y := player.X, player.Y

	// Small divergence: tolerated, never applied.
	e.ReportPosition(acc.PlayerID, x+5, y)
	if player.X != x || player.Y != y {
		t.Fatal("client report moved the player")
	}
	if c.kickReason() != "" {
		t.Fatal("tolerated divergence counted as a violation")
	}

	// Large divergence: still never applied, but counts as a strike.
	e.ReportPosition(acc.PlayerID, x+500, y)
	if player.X != x || player.Y != y {
		t.Fatal("client report moved the player")
	}
	if c.kickReason() != "position_desync" {
		t.Fatalf("kick reason = %q, want position_desync", c.kickReason())
	}
}

func TestSetClassRules(t *testing.T) {
	e := newTestEngine(testConfig())
	acc, _, _ := e.Connect(&fakeClient{id: "c1"}, joinMsg())
	player := e.World().Get(acc.PlayerID)

	// Fresh spawn: free to change.
	e.Submit(Command{PlayerID: acc.PlayerID, Kind: CmdSetClass, SetClass: protocol.SetClass{Class: ClassBladedancer}})
	e.Step()
	if player.Player.Class != ClassBladedancer {
		t.Fatalf("class = %s, want bladedancer", player.Player.Class)
	}
	if player.MaxHP != 90 {
		t.Fatalf("max hp = %d, want bladedancer stats", player.MaxHP)
	}

	// Progress locks the class in.
	player.Player.XP = 10
	e.Submit(Command{PlayerID: acc.PlayerID, Kind: CmdSetClass, SetClass: protocol.SetClass{Class: ClassRogue}})
	e.Step()
	if player.Player.Class != ClassBladedancer {
		t.Fatalf("class = %s, want change refused", player.Player.Class)
	}
}

func TestDeterministicReplay(t *testing.T) {
	run := func() []string {
		cfg := testConfig()
		cfg.Simulation.MonsterCount = 8
		e := newTestEngine(cfg)
		acc, _, err := e.Connect(&fakeClient{id: "c"}, joinMsg())
		if err != nil {
			t.Fatalf("connect: %v", err)
		}

		seq := uint32(0)
		for i := 0; i < 120; i++ {
			if i%12 == 0 {
				seq++
				e.Submit(Command{PlayerID: acc.PlayerID, Kind: CmdInput, Input: protocol.Input{
					Seq: seq, Keys: protocol.KeyForward, AimX: 1, AimY: 0,
				}})
			}
			if i == 30 {
				e.Submit(Command{PlayerID: acc.PlayerID, Kind: CmdAttack, Attack: protocol.Attack{Slot: 1, AimX: 1}})
			}
			e.Step()
		}

		var out []string
		for _, ent := range e.World().Entities() {
			out = append(out, fmt.Sprintf("%s:%.9f:%.9f:%d", ent.Kind, ent.X, ent.Y, ent.HP))
		}
		sort.Strings(out)
		return out
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("entity counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("replay diverged at %d:\n%s\n%s", i, a[i], b[i])
		}
	}
}
