package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"emberfall/internal/config"
	"emberfall/internal/game"
	"emberfall/internal/protocol"
)

func testServerConfig() config.Config {
	return config.Config{
		Server: config.Server{MaxPlayers: 4},
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

// dialTestServer boots an engine plus hub behind httptest and dials it.
func dialTestServer(t *testing.T, cfg config.Config) *websocket.Conn {
	t.Helper()
	mask := game.NewBorderMask(100, 100, 32, 1, 0)
	engine := game.NewEngine(cfg, zerolog.Nop(), mask, game.NewAuditLog())
	hub := NewHub(cfg, zerolog.Nop(), engine)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeClientJSON(t *testing.T, ws *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal %s: %v", env.Type, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", env.Type, err)
	}
}

func readClientEnvelope(t *testing.T, ws *websocket.Conn) protocol.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt == websocket.BinaryMessage {
		env, _, _, derr := protocol.DecodeBinary(raw)
		if derr != nil {
			t.Fatalf("decode: %v", derr)
		}
		if env == nil {
			t.Fatalf("decode: binary frame is not an envelope")
		}
		return *env
	}
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestHandshakeRepliesInOrder(t *testing.T) {
	ws := dialTestServer(t, testServerConfig())

	writeClientJSON(t, ws, protocol.MustEnvelope(protocol.TypeJoin, protocol.Join{
		Name: "tester", Class: "guardian", ProtocolVersion: config.ProtocolVersion,
	}))

	if env := readClientEnvelope(t, ws); env.Type != protocol.TypeConnectionAccepted {
		t.Fatalf("first reply = %s, want %s", env.Type, protocol.TypeConnectionAccepted)
	}
	if env := readClientEnvelope(t, ws); env.Type != protocol.TypeInit {
		t.Fatalf("second reply = %s, want %s", env.Type, protocol.TypeInit)
	}
}

func TestKickedNoticePrecedesClose(t *testing.T) {
	cfg := testServerConfig()
	cfg.Limits.ViolationKickLimit = 1
	ws := dialTestServer(t, cfg)

	writeClientJSON(t, ws, protocol.MustEnvelope(protocol.TypeJoin, protocol.Join{
		Name: "tester", Class: "guardian", ProtocolVersion: config.ProtocolVersion,
	}))
	readClientEnvelope(t, ws) // accepted
	readClientEnvelope(t, ws) // init

	// A malformed frame is a violation; at limit 1 it kicks immediately.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	var sawKicked bool
	for {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var env protocol.Envelope
		if mt == websocket.BinaryMessage {
			benv, _, _, derr := protocol.DecodeBinary(raw)
			if derr != nil || benv == nil {
				continue
			}
			env = *benv
		} else if json.Unmarshal(raw, &env) != nil {
			continue
		}
		if env.Type == protocol.TypeKicked {
			var k protocol.Kicked
			if err := env.Bind(&k); err != nil {
				t.Fatalf("bind kicked: %v", err)
			}
			if k.Reason != "validation" {
				t.Errorf("reason = %q, want validation", k.Reason)
			}
			sawKicked = true
		}
	}
	if !sawKicked {
		t.Fatal("kicked notice must reach the client before the socket closes")
	}
}
