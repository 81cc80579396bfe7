// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package realtime

import (
	"errors"

	json "github.com/goccy/go-json"

	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/metrics"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rooms"
	"github.com/fluxmesh/fluxmesh/internal/rules"
	"github.com/fluxmesh/fluxmesh/internal/store"
)

// Ingestion failure and success messages.
const (
	MsgDataDeviceNotFound = "The data could not be stored - the associated device could not be found."
	MsgDataValidation     = "The data could not be stored. Check validation."
	MsgDataStoreError     = "The data could not be stored."
	MsgDataSaved          = "The data was saved."
)

// PublishPayload is the body of a publish frame on the input:add room.
// Producers address devices by their opaque address token, never by the
// internal identifier.
type PublishPayload struct {
	Address string             `json:"address"`
	Data    []models.DataValue `json:"data"`
}

// EventPublisher decouples ingestion from rule evaluation; the publish
// acknowledgement never waits for rules to run.
type EventPublisher interface {
	PublishStored(ev *rules.StoredEvent) error
}

// Ingestor handles telemetry publishes: authenticate, resolve the device by
// address, check ownership and class, persist, fan out to stream
// subscribers, then hand the stored point to the rule pipeline.
type Ingestor struct {
	store *store.Store
	hub   *Hub
	bus   EventPublisher
}

// NewIngestor creates the publish handler.
func NewIngestor(s *store.Store, hub *Hub, bus EventPublisher) *Ingestor {
	return &Ingestor{store: s, hub: hub, bus: bus}
}

// Publish processes one telemetry frame. Each check is terminal; the
// acknowledgement carries the stored datapoint on success.
func (i *Ingestor) Publish(c *Conn, _ rooms.Descriptor, req *Request) {
	if c.identity == nil {
		metrics.PublishTotal.WithLabelValues("unauthorized").Inc()
		c.reply(req, models.Fail(MsgNotAuthorised))
		return
	}

	var payload PublishPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		c.reply(req, models.Fail(MsgDataValidation))
		return
	}

	device, err := i.store.GetDeviceWithTypeByAddress(payload.Address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.PublishTotal.WithLabelValues("not_found").Inc()
			c.reply(req, models.Fail(MsgDataDeviceNotFound))
			return
		}
		logging.Error().Err(err).Msg("publish device lookup failed")
		metrics.PublishTotal.WithLabelValues("error").Inc()
		c.reply(req, models.Error(MsgDataStoreError))
		return
	}

	if device.OwnerID != c.identity.ID {
		metrics.PublishTotal.WithLabelValues("unauthorized").Inc()
		c.reply(req, models.Fail(MsgNotAuthorised))
		return
	}

	if device.Type.DeviceClass != models.DeviceClassInput {
		metrics.PublishTotal.WithLabelValues("wrong_class").Inc()
		c.reply(req, models.Fail(MsgCannotGenerate))
		return
	}

	point, err := i.store.AppendDataPoint(device.ID, payload.Data)
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			metrics.PublishTotal.WithLabelValues("invalid").Inc()
			c.reply(req, models.FailValidation(MsgDataValidation, verr.Fields))
			return
		}
		logging.Error().Err(err).Str("device", device.ID).Msg("datapoint persistence failed")
		metrics.PublishTotal.WithLabelValues("error").Inc()
		c.reply(req, models.Error(MsgDataStoreError))
		return
	}
	metrics.PublishTotal.WithLabelValues("stored").Inc()

	// fan-out to stream subscribers before rule evaluation kicks in; the
	// two reads are independent once the point is durable
	i.hub.Broadcast(rooms.InputStream(device.ID), models.Success(MsgDataSaved, point))

	if err := i.bus.PublishStored(&rules.StoredEvent{Device: *device, Point: *point}); err != nil {
		// rules missed this point; the ack and fan-out already happened
		logging.Error().Err(err).Str("device", device.ID).Msg("stored event publish failed")
	}

	c.reply(req, models.Success(MsgDataSaved, point))
}
