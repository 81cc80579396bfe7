// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/metrics"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rooms"
)

// Handshake status messages. Exactly one of these is delivered as the first
// frame on every connection, before any request is routed.
const (
	MsgConnectedAnonymous     = "You are connected, but only as an anonymous user."
	MsgConnectedAuthenticated = "You are connected as an authenticated user."
	MsgTokenInvalid           = "The token could not be verified. You are not authenticated."
)

// Gateway upgrades HTTP requests to websocket connections, binds an identity
// from the handshake token, and wires the connection into the hub and
// router. Identity is bound exactly once; an invalid token degrades to an
// anonymous connection rather than refusing it.
type Gateway struct {
	hub          *Hub
	router       *Router
	verifier     auth.Verifier
	cfg          config.RealtimeConfig
	allowOrigins []string
}

// NewGateway builds the gateway and its routing table. The table order is
// load-bearing: the first matching entry handles the frame.
func NewGateway(hub *Hub, subs *Subscriptions, ingest *Ingestor, verifier auth.Verifier, cfg config.RealtimeConfig, allowOrigins []string) *Gateway {
	router := NewRouter()
	router.Handle(rooms.NamespaceInput, rooms.KindAdd, rooms.ActionPublish, ingest.Publish)
	router.Handle(rooms.NamespaceInput, rooms.KindStream, rooms.ActionSubscribe, subs.Subscribe)
	router.Handle(rooms.NamespaceInput, rooms.KindStream, rooms.ActionUnsubscribe, subs.Unsubscribe)
	router.Handle(rooms.NamespaceOutput, rooms.KindStream, rooms.ActionSubscribe, subs.Subscribe)
	router.Handle(rooms.NamespaceOutput, rooms.KindStream, rooms.ActionUnsubscribe, subs.Unsubscribe)

	return &Gateway{
		hub:          hub,
		router:       router,
		verifier:     verifier,
		cfg:          cfg,
		allowOrigins: allowOrigins,
	}
}

func (g *Gateway) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      g.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin admits non-browser clients (no Origin header; field devices
// and scripts) and browser clients from the configured origins.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.allowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// identify resolves the handshake token to an identity and the matching
// status frame.
func (g *Gateway) identify(token string) (*auth.Claims, models.Response, string) {
	if token == "" {
		return nil, models.Success(MsgConnectedAnonymous, nil), "anonymous"
	}
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return nil, models.Fail(MsgTokenInvalid), "invalid_token"
	}
	return claims, models.Success(MsgConnectedAuthenticated, nil), "authenticated"
}

// ServeHTTP implements the websocket endpoint. The status frame is queued
// before the pumps start, so it is always the first frame the client
// receives.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := g.upgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	claims, status, outcome := g.identify(r.URL.Query().Get("token"))
	metrics.ConnectionsTotal.WithLabelValues(outcome).Inc()

	conn := newConn(g.hub, g.router, ws, claims, g.cfg)
	g.hub.register(conn)
	conn.push(status)
	conn.start()
}
