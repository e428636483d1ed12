// Package server hosts the websocket transport: connection lifecycle,
// the join handshake, per-IP limits and the HTTP surface.
package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"emberfall/internal/config"
	"emberfall/internal/game"
	"emberfall/internal/protocol"
)

// handshakeTimeout bounds how long a socket may sit idle before
// sending its join message.
const handshakeTimeout = 10 * time.Second

// Hub accepts websocket connections and hands them to the engine.
type Hub struct {
	cfg      config.Config
	log      zerolog.Logger
	engine   *game.Engine
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewHub builds the hub around a running engine.
func NewHub(cfg config.Config, log zerolog.Logger, engine *game.Engine) *Hub {
	h := &Hub{
		cfg:    cfg,
		log:    log.With().Str("component", "hub").Logger(),
		engine: engine,
		conns:  make(map[string]*Conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin enforces the configured origin whitelist. An empty list
// allows everything, for local development against file:// clients.
func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.Server.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and runs the join handshake. The first
// client message must be a join envelope; everything about the player
// entity flows from the engine's answer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	active := len(h.conns)
	h.mu.Unlock()
	// Twice the player cap leaves room for reconnect races.
	if active >= h.cfg.Server.MaxPlayers*2 {
		connectionRejected.WithLabelValues("capacity").Inc()
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		connectionRejected.WithLabelValues("origin").Inc()
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	conn := newConn(h, ws, uuid.NewString())
	join, err := h.readJoin(ws)
	if err != nil {
		h.reject(ws, "malformed handshake")
		connectionRejected.WithLabelValues("handshake").Inc()
		ws.Close()
		return
	}

	accepted, init, err := h.engine.Connect(conn, join)
	if err != nil {
		reason := "join rejected"
		label := "handshake"
		switch {
		case errors.Is(err, protocol.ErrCapacity):
			reason, label = "server at capacity", "capacity"
		case errors.Is(err, protocol.ErrProtocol):
			reason, label = "unsupported protocol version", "version"
		}
		h.reject(ws, reason)
		connectionRejected.WithLabelValues(label).Inc()
		ws.Close()
		return
	}
	conn.playerID = accepted.PlayerID

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()
	wsConnectionsActive.Inc()

	// Handshake replies go out before the pumps start so the client
	// sees accepted + init ahead of any state frame.
	h.writeDirect(ws, protocol.MustEnvelope(protocol.TypeConnectionAccepted, accepted))
	h.writeDirect(ws, protocol.MustEnvelope(protocol.TypeInit, init))

	go conn.writePump()
	go conn.readPump()
}

// readJoin reads and parses the initial join envelope.
func (h *Hub) readJoin(ws *websocket.Conn) (protocol.Join, error) {
	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return protocol.Join{}, err
	}
	env, err := protocol.DecodeText(raw)
	if err != nil {
		return protocol.Join{}, err
	}
	if env.Type != protocol.TypeJoin {
		return protocol.Join{}, protocol.ErrProtocol
	}
	var join protocol.Join
	if err := env.Bind(&join); err != nil {
		return protocol.Join{}, err
	}
	return join, nil
}

func (h *Hub) reject(ws *websocket.Conn, reason string) {
	h.writeDirect(ws, protocol.MustEnvelope(protocol.TypeConnectionRejected, protocol.ConnectionRejected{
		Reason: reason,
	}))
}

// writeDirect writes an envelope synchronously, outside the pump.
func (h *Hub) writeDirect(ws *websocket.Conn, env protocol.Envelope) {
	payload, isBinary, err := protocol.Encode(env)
	if err != nil {
		return
	}
	mt := websocket.TextMessage
	if isBinary {
		mt = websocket.BinaryMessage
	}
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	ws.WriteMessage(mt, payload)
}

// remove unregisters a closed connection and tells the engine.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	_, present := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if !present {
		return
	}
	wsConnectionsActive.Dec()
	h.engine.Disconnect(c.id)
}

// Shutdown tells every client the server is going away and closes the
// sockets.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Send(protocol.MustEnvelope(protocol.TypeDisconnect, protocol.Disconnect{Reason: "server shutting down"}))
		c.close()
	}
}
