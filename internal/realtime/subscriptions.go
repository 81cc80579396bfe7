// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package realtime

import (
	"errors"

	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rooms"
	"github.com/fluxmesh/fluxmesh/internal/store"
)

// Stream room failure and success messages.
const (
	MsgDeviceNotFound = "The stream could not be joined - the device was not found."
	MsgCannotGenerate = "The specified device cannot generate data."
	MsgCannotReceive  = "The specified device cannot receive data."
	MsgNotAuthorised  = "You are not authorised."
	MsgNotInRoom      = "You are not in the specified room."
	MsgLeftRoom       = "You have left the room."
	MsgStoreError     = "The request could not be completed."
)

// Subscriptions owns join and leave handling for stream rooms. Authorization
// differs by namespace: input streams are readable by anyone when the device
// is public and by the owner otherwise; output streams carry commands and
// are owner-only regardless of visibility.
type Subscriptions struct {
	store *store.Store
	hub   *Hub
}

// NewSubscriptions creates the stream room handlers.
func NewSubscriptions(s *store.Store, hub *Hub) *Subscriptions {
	return &Subscriptions{store: s, hub: hub}
}

// Subscribe joins a connection to a stream room after the policy checks
// pass. Device existence and class are checked before authorization so a
// caller always learns the most specific failure.
func (s *Subscriptions) Subscribe(c *Conn, desc rooms.Descriptor, req *Request) {
	device, err := s.store.GetDeviceWithType(desc.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.reply(req, models.Fail(MsgDeviceNotFound))
			return
		}
		logging.Error().Err(err).Str("device", desc.DeviceID).Msg("subscribe device lookup failed")
		c.reply(req, models.Error(MsgStoreError))
		return
	}

	switch desc.Namespace {
	case rooms.NamespaceInput:
		if device.Type.DeviceClass != models.DeviceClassInput {
			c.reply(req, models.Fail(MsgCannotGenerate))
			return
		}
		if device.Visibility != models.VisibilityPublic && !auth.IsOwner(c.identity, device.OwnerID) {
			c.reply(req, models.Fail(MsgNotAuthorised))
			return
		}
	case rooms.NamespaceOutput:
		if device.Type.DeviceClass != models.DeviceClassOutput {
			c.reply(req, models.Fail(MsgCannotReceive))
			return
		}
		// output streams are never public
		if !auth.IsOwner(c.identity, device.OwnerID) {
			c.reply(req, models.Fail(MsgNotAuthorised))
			return
		}
	}

	room := desc.String()
	s.hub.Join(c, room)
	c.reply(req, models.Success("You have been added to the room "+room, nil))
}

// Unsubscribe removes a connection from a stream room it previously joined.
func (s *Subscriptions) Unsubscribe(c *Conn, desc rooms.Descriptor, req *Request) {
	room := desc.String()
	if !s.hub.Leave(c, room) {
		c.reply(req, models.Fail(MsgNotInRoom))
		return
	}
	c.reply(req, models.Success(MsgLeftRoom, nil))
}
