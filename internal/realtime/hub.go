// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/metrics"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rooms"
)

// Hub tracks live connections and their room memberships. Membership is
// process memory only: a connection that drops leaves every room implicitly,
// and nothing is replayed on rejoin.
//
// Locking discipline: joins and leaves take the write lock; fan-out iterates
// a snapshot under the read lock, so a join racing a fan-out either sees the
// in-flight frame or does not, never a torn membership set.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
	rooms map[string]map[*Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*Conn]struct{}),
		rooms: make(map[string]map[*Conn]struct{}),
	}
}

// register adds a freshly authenticated connection.
func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
	logging.Info().Uint64("conn", c.id).Int("total_conns", total).Msg("realtime connection opened")
}

// unregister removes a connection from the hub and from every room it
// joined, then closes its send channel. Safe to call more than once.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	for room, members := range h.rooms {
		if _, ok := members[c]; ok {
			delete(members, c)
			metrics.RoomMembers.Dec()
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	total := len(h.conns)
	h.mu.Unlock()

	c.closeSend()

	metrics.ActiveConnections.Dec()
	logging.Info().Uint64("conn", c.id).Int("total_conns", total).Msg("realtime connection closed")
}

// Join adds a connection to a room. Authorization happens in the handlers;
// the hub only tracks membership.
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	if _, already := members[c]; !already {
		members[c] = struct{}{}
		metrics.RoomMembers.Inc()
	}
	h.mu.Unlock()
}

// Leave removes a connection from a room. Returns false when the connection
// was not a member.
func (h *Hub) Leave(c *Conn, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, member := members[c]; !member {
		return false
	}
	delete(members, c)
	metrics.RoomMembers.Dec()
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	return true
}

// Broadcast writes a frame to every member of a room in connection-ID order.
// Members whose send buffers are full lose the frame; delivery is
// at-most-once.
func (h *Hub) Broadcast(room string, payload interface{}) {
	resp, ok := payload.(models.Response)
	if !ok {
		resp = models.Success("", payload)
	}
	resp.Meta.Room = room

	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].id < members[j].id
	})

	// push serializes against closeSend per connection, so a member torn
	// down mid-iteration drops the frame instead of panicking
	for _, c := range members {
		c.push(resp)
	}

	if desc, ok := rooms.Parse(room); ok && len(members) > 0 {
		metrics.FanoutMessages.WithLabelValues(desc.Namespace).Inc()
	}
}

// ConnCount returns the number of open connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// MemberCount returns the number of connections joined to a room.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Serve implements suture.Service. The hub itself has no event loop; Serve
// blocks until shutdown, then closes every connection so supervised restarts
// never leave orphans.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	closed := len(h.conns)
	conns := make([]*Conn, 0, closed)
	for c := range h.conns {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	for _, c := range conns {
		delete(h.conns, c)
		c.closeSend()
	}
	memberships := 0
	for _, members := range h.rooms {
		memberships += len(members)
	}
	h.rooms = make(map[string]map[*Conn]struct{})
	h.mu.Unlock()

	metrics.ActiveConnections.Sub(float64(closed))
	metrics.RoomMembers.Sub(float64(memberships))

	logging.Info().
		Str("component", "realtime-hub").
		Int("conns_closed", closed).
		Msg("realtime hub stopped")
	return ctx.Err()
}

func (h *Hub) String() string { return "realtime-hub" }
