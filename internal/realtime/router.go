// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package realtime

import (
	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/metrics"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rooms"
)

// MsgNoRoute is the uniform response for frames no table entry matches.
const MsgNoRoute = "No room and action criteria match those specified."

// Handler processes one routed frame. The room arrives pre-parsed; handlers
// never see the raw room string except through the descriptor.
type Handler func(c *Conn, desc rooms.Descriptor, req *Request)

type route struct {
	namespace string
	kind      string
	action    string
	handler   Handler
}

// Router matches inbound frames against an ordered table of
// (namespace, kind, action) entries. The room string is parsed exactly once,
// at the dispatch boundary; the first matching entry wins.
type Router struct {
	routes []route
}

// NewRouter creates an empty routing table.
func NewRouter() *Router {
	return &Router{}
}

// Handle appends a table entry. Entries are tested in registration order.
func (r *Router) Handle(namespace, kind, action string, h Handler) {
	r.routes = append(r.routes, route{
		namespace: namespace,
		kind:      kind,
		action:    action,
		handler:   h,
	})
}

// Dispatch routes one frame. Unroutable frames with an acknowledgement ID
// get the uniform no-route failure; fire-and-forget frames are dropped
// silently.
func (r *Router) Dispatch(c *Conn, req *Request) {
	desc, ok := rooms.Parse(req.Room)
	if !ok {
		r.noRoute(c, req)
		return
	}

	for i := range r.routes {
		rt := &r.routes[i]
		if rt.namespace == desc.Namespace && rt.kind == desc.Kind && rt.action == req.Action {
			metrics.FramesRouted.WithLabelValues(req.Action, "dispatched").Inc()
			rt.handler(c, desc, req)
			return
		}
	}
	r.noRoute(c, req)
}

func (r *Router) noRoute(c *Conn, req *Request) {
	if req.ID == 0 {
		metrics.FramesRouted.WithLabelValues(req.Action, "dropped").Inc()
		logging.Debug().
			Uint64("conn", c.id).
			Str("room", req.Room).
			Str("action", req.Action).
			Msg("dropped unroutable fire-and-forget frame")
		return
	}
	metrics.FramesRouted.WithLabelValues(req.Action, "no_route").Inc()
	c.reply(req, models.Fail(MsgNoRoute))
}
