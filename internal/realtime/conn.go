// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/models"
)

// Request is an inbound frame. ID correlates the acknowledgement: zero means
// fire-and-forget and the server stays silent on success or routing miss.
type Request struct {
	ID      uint64          `json:"id,omitempty"`
	Room    string          `json:"room"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// connIDCounter assigns unique, monotonically increasing connection IDs so
// fan-out can iterate members in a consistent order.
var connIDCounter atomic.Uint64

// Conn is a middleman between one websocket connection and the hub. Identity
// is bound once during the handshake and read-only afterwards; nil identity
// marks an anonymous connection.
type Conn struct {
	id       uint64
	identity *auth.Claims
	hub      *Hub
	router   *Router
	ws       *websocket.Conn
	send     chan models.Response
	limiter  *rate.Limiter
	cfg      config.RealtimeConfig

	// sendMu guards sendClosed and orders every push against closeSend, so a
	// frame in flight during shutdown is dropped instead of hitting a closed
	// channel.
	sendMu     sync.Mutex
	sendClosed bool
}

func newConn(hub *Hub, router *Router, ws *websocket.Conn, identity *auth.Claims, cfg config.RealtimeConfig) *Conn {
	return &Conn{
		id:       connIDCounter.Add(1),
		identity: identity,
		hub:      hub,
		router:   router,
		ws:       ws,
		send:     make(chan models.Response, cfg.SendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(cfg.FrameRate), cfg.FrameBurst),
		cfg:      cfg,
	}
}

// Identity returns the claims bound at handshake time, or nil for anonymous
// connections.
func (c *Conn) Identity() *auth.Claims {
	return c.identity
}

// push queues a frame for delivery. A connection that cannot keep up loses
// frames rather than stalling the sender, and a connection already torn down
// drops the frame silently.
func (c *Conn) push(resp models.Response) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}
	select {
	case c.send <- resp:
	default:
		logging.Warn().Uint64("conn", c.id).Msg("send buffer full, dropping frame")
	}
}

// closeSend closes the send channel exactly once. After it returns, push is a
// no-op for this connection.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// reply acknowledges a request. Requests without an ID are fire-and-forget
// and never acknowledged.
func (c *Conn) reply(req *Request, resp models.Response) {
	if req.ID == 0 {
		return
	}
	resp.ID = req.ID
	c.push(resp)
}

// readPump pumps frames from the websocket into the router. It owns the
// read side; exactly one readPump runs per connection.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Uint64("conn", c.id).Msg("unexpected websocket close error")
			}
			break
		}

		if !c.limiter.Allow() {
			c.reply(&req, models.Fail("You are sending requests too quickly."))
			continue
		}

		c.router.Dispatch(c, &req)
	}
}

// writePump pumps frames from the send channel to the websocket. It owns the
// write side; all outbound traffic funnels through the channel.
func (c *Conn) writePump() {
	pingPeriod := (c.cfg.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case resp, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// the hub closed the channel
				if err := c.ws.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}
			if err := c.ws.WriteJSON(resp); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON frame")
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// start begins reading and writing for the connection.
func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}
