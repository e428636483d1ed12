package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"emberfall/internal/game"
	"emberfall/internal/protocol"
)

const (
	maxFrameSize  = 64 << 10
	writeTimeout  = 10 * time.Second
	sendQueueSize = 256
)

// Conn is one websocket session. It implements game.Client: the
// simulation enqueues envelopes without ever blocking on the socket.
type Conn struct {
	id       string
	playerID string
	hub      *Hub
	ws       *websocket.Conn
	log      zerolog.Logger

	send      chan protocol.Envelope
	done      chan struct{}
	kicked    chan struct{}
	closeOnce sync.Once
	kickOnce  sync.Once

	msgLimiter *rate.Limiter
	lastPingNs atomic.Int64
}

func newConn(hub *Hub, ws *websocket.Conn, id string) *Conn {
	return &Conn{
		id:         id,
		hub:        hub,
		ws:         ws,
		log:        hub.log.With().Str("conn", id).Logger(),
		send:       make(chan protocol.Envelope, sendQueueSize),
		done:       make(chan struct{}),
		kicked:     make(chan struct{}),
		msgLimiter: rate.NewLimiter(rate.Limit(hub.cfg.Limits.MaxMessagesPerSecond), hub.cfg.Limits.MaxMessagesPerSecond/4+1),
	}
}

// ClientID implements game.Client.
func (c *Conn) ClientID() string { return c.id }

// Send implements game.Client. Full queues drop the message: a client
// that can't keep up gets fresher state on the next flush instead of an
// ever-growing backlog.
func (c *Conn) Send(env protocol.Envelope) {
	select {
	case c.send <- env:
	case <-c.done:
	default:
		wsMessagesDropped.Inc()
	}
}

// Kick implements game.Client. The teardown runs on the write pump so
// envelopes already queued, the kicked notice included, reach the wire
// before the socket closes.
func (c *Conn) Kick(reason string) {
	c.log.Warn().Str("reason", reason).Msg("kicking connection")
	c.kickOnce.Do(func() { close(c.kicked) })
}

// close tears the connection down once; safe from any goroutine.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		c.hub.remove(c)
	})
}

// readPump consumes frames until the socket errors or the heartbeat
// deadline lapses. Runs as the connection's read goroutine.
func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxFrameSize)
	deadline := c.hub.cfg.Timeouts.HeartbeatTimeout
	c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(deadline))
		if sent := c.lastPingNs.Load(); sent > 0 {
			rtt := float64(time.Now().UnixNano()-sent) / float64(time.Millisecond)
			c.hub.engine.ObserveLatency(c.playerID, rtt)
		}
		return nil
	})

	for {
		mt, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		wsMessagesReceived.Inc()
		c.ws.SetReadDeadline(time.Now().Add(deadline))

		if !c.msgLimiter.Allow() {
			c.violation("rate_limit")
			continue
		}

		switch mt {
		case websocket.TextMessage:
			env, err := protocol.DecodeText(raw)
			if err != nil {
				c.violation("validation")
				continue
			}
			if done := c.handleEnvelope(env); done {
				return
			}
		case websocket.BinaryMessage:
			env, pos, in, err := protocol.DecodeBinary(raw)
			if err != nil {
				c.violation("validation")
				continue
			}
			switch {
			case env != nil:
				if done := c.handleEnvelope(*env); done {
					return
				}
			case pos != nil:
				c.handlePosition(*pos)
			case in != nil:
				c.handleInputFrame(*in)
			}
		}
	}
}

// handleEnvelope dispatches one parsed message. Returns true when the
// connection should end.
func (c *Conn) handleEnvelope(env protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypeInput:
		var in protocol.Input
		if env.Bind(&in) != nil {
			c.violation("validation")
			return false
		}
		c.submit(game.Command{PlayerID: c.playerID, Kind: game.CmdInput, Input: in})

	case protocol.TypeAttack:
		var att protocol.Attack
		if env.Bind(&att) != nil {
			c.violation("validation")
			return false
		}
		c.submit(game.Command{PlayerID: c.playerID, Kind: game.CmdAttack, Attack: att})

	case protocol.TypeExecuteAbility:
		var ab protocol.ExecuteAbility
		if env.Bind(&ab) != nil {
			c.violation("validation")
			return false
		}
		c.submit(game.Command{PlayerID: c.playerID, Kind: game.CmdAbility, Ability: ab})

	case protocol.TypeCreateProjectile:
		var pr protocol.CreateProjectile
		if env.Bind(&pr) != nil {
			c.violation("validation")
			return false
		}
		c.submit(game.Command{PlayerID: c.playerID, Kind: game.CmdProjectile, Projectile: pr})

	case protocol.TypeRespawn:
		c.submit(game.Command{PlayerID: c.playerID, Kind: game.CmdRespawn})

	case protocol.TypeSetClass:
		var sc protocol.SetClass
		if env.Bind(&sc) != nil {
			c.violation("validation")
			return false
		}
		c.submit(game.Command{PlayerID: c.playerID, Kind: game.CmdSetClass, SetClass: sc})

	case protocol.TypePing:
		var ping protocol.Ping
		if env.Bind(&ping) != nil {
			c.violation("validation")
			return false
		}
		now := time.Now().UnixMilli()
		if ping.Echo > 0 && now >= ping.Echo {
			c.hub.engine.ObserveLatency(c.playerID, float64(now-ping.Echo))
		}
		c.Send(protocol.MustEnvelope(protocol.TypePong, protocol.Pong{
			ClientTime: ping.ClientTime,
			ServerTime: now,
		}))

	case protocol.TypeCollisionMask:
		// The server mask is fixed at boot; validate the upload for
		// compatibility and log disagreement, but never apply it.
		var cm protocol.CollisionMask
		if env.Bind(&cm) != nil {
			c.violation("validation")
			return false
		}
		if _, err := game.MaskFromUpload(cm); err != nil {
			c.violation("validation")
		} else {
			c.log.Debug().Int("w", cm.Width).Int("h", cm.Height).Msg("client mask received, ignored")
		}

	case protocol.TypeLeave:
		return true

	default:
		c.violation("validation")
	}
	return false
}

func (c *Conn) handlePosition(pos protocol.PositionFrame) {
	// Clients may only report their own entity.
	if pos.IDHash != protocol.HashEntityID(c.playerID) {
		c.violation("validation")
		return
	}
	c.hub.engine.ReportPosition(c.playerID, float64(pos.X), float64(pos.Y))
}

func (c *Conn) handleInputFrame(in protocol.InputFrame) {
	c.submit(game.Command{PlayerID: c.playerID, Kind: game.CmdInput, Input: protocol.Input{
		Seq:        in.Seq,
		ClientTime: in.ClientTime,
		Keys:       in.Keys,
		AimX:       in.AimX,
		AimY:       in.AimY,
	}})
	if in.Flags&protocol.InputFlagAttack != 0 {
		// Frame attacks always use the primary slot; sequence 0 skips
		// the input ordering check and rides the attack limiter alone.
		c.submit(game.Command{PlayerID: c.playerID, Kind: game.CmdAttack, Attack: protocol.Attack{
			Slot: 1,
			AimX: in.AimX,
			AimY: in.AimY,
		}})
	}
}

// submit stages a command, translating drop reasons into violations.
func (c *Conn) submit(cmd game.Command) {
	err := c.hub.engine.Submit(cmd)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrRateLimited):
		c.violation("rate_limit")
	case errors.Is(err, protocol.ErrValidation):
		c.violation("validation")
	case errors.Is(err, protocol.ErrStateConflict):
		// Dropped silently; not a violation.
	default:
		c.log.Debug().Err(err).Msg("command rejected")
	}
}

func (c *Conn) violation(reason string) {
	violationsTotal.WithLabelValues(reason).Inc()
	c.hub.engine.NoteViolation(c.playerID, reason)
}

// writePump serializes outbound traffic and emits heartbeat pings.
// Runs as the connection's write goroutine.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.Timeouts.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return

		case <-c.kicked:
			c.flushPending()
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""),
				time.Now().Add(time.Second))
			return

		case env := <-c.send:
			if c.writeEnvelope(env) != nil {
				return
			}

		case <-ticker.C:
			c.lastPingNs.Store(time.Now().UnixNano())
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// flushPending drains whatever is already queued onto the wire, then
// stops. Used on kick so the kicked notice precedes the close frame.
func (c *Conn) flushPending() {
	for {
		select {
		case env := <-c.send:
			if c.writeEnvelope(env) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) writeEnvelope(env protocol.Envelope) error {
	payload, isBinary, err := protocol.Encode(env)
	if err != nil {
		c.log.Error().Err(err).Str("type", env.Type).Msg("encode failed")
		return nil
	}
	mt := websocket.TextMessage
	if isBinary {
		mt = websocket.BinaryMessage
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(mt, payload); err != nil {
		return err
	}
	wsMessagesSent.Inc()
	return nil
}
