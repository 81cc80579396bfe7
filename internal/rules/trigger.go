// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package rules

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rooms"
	"github.com/fluxmesh/fluxmesh/internal/store"
)

// RoomWriter fans a payload out to every subscriber of a room. The realtime
// hub implements it; keeping the dependency behind an interface lets the
// trigger run in tests without a websocket layer.
type RoomWriter interface {
	Broadcast(room string, payload interface{})
}

// Actuation is what output-stream subscribers receive when an enabled rule
// fires: the output device's address and the field values the rule computed.
type Actuation struct {
	Address string                 `json:"address"`
	Output  map[string]interface{} `json:"output"`
}

// Trigger consumes stored-datapoint events and evaluates the enabled rules
// of the originating input device. Evaluation failures are contained per
// rule: a broken rule body is logged and counted, never propagated, so one
// bad rule cannot stall the stream for the others.
type Trigger struct {
	bus    *Bus
	store  *store.Store
	engine *Engine
	rooms  RoomWriter
	log    zerolog.Logger
}

// NewTrigger wires the event consumer.
func NewTrigger(bus *Bus, s *store.Store, e *Engine, rooms RoomWriter) *Trigger {
	return &Trigger{
		bus:    bus,
		store:  s,
		engine: e,
		rooms:  rooms,
		log:    logging.With().Str("component", "rule-trigger").Logger(),
	}
}

// Serve implements suture.Service. It drains the bus until ctx is cancelled.
func (t *Trigger) Serve(ctx context.Context) error {
	messages, err := t.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	t.log.Info().Msg("rule trigger started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			var ev StoredEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				t.log.Error().Err(err).Str("message", msg.UUID).Msg("malformed stored event")
				msg.Ack() // poison message, do not redeliver
				continue
			}
			t.handle(&ev)
			msg.Ack()
		}
	}
}

func (t *Trigger) String() string { return "rule-trigger" }

// handle evaluates every enabled rule listening on the event's device.
func (t *Trigger) handle(ev *StoredEvent) {
	ruleSet, err := t.store.EnabledRulesByInput(ev.Device.ID)
	if err != nil {
		t.log.Error().Err(err).Str("device", ev.Device.ID).Msg("loading enabled rules")
		return
	}
	if len(ruleSet) == 0 {
		return
	}

	previous := t.previousPoint(ev)

	for i := range ruleSet {
		rule := &ruleSet[i]
		output, err := t.engine.Evaluate(EvalModeTriggered, previous, ev.Point.Data, rule.Body)
		if err != nil {
			// contained: counted by the engine, logged here, next rule runs
			t.log.Warn().
				Err(err).
				Str("rule", rule.ID).
				Str("input_device", ev.Device.ID).
				Msg("rule evaluation failed")
			continue
		}
		if len(output) == 0 {
			// nothing assigned, nothing to dispatch
			t.log.Debug().
				Str("rule", rule.ID).
				Str("input_device", ev.Device.ID).
				Msg("rule produced no output")
			continue
		}
		t.actuate(rule, output)
	}
}

// previousPoint returns the datapoint stored immediately before the event's
// one, or nil when the event is the device's first. The event's own point is
// already persisted, so it is skipped by ID rather than assumed to be the
// head of the history.
func (t *Trigger) previousPoint(ev *StoredEvent) []models.DataValue {
	points, err := t.store.LastDataPoints(ev.Device.ID, 5)
	if err != nil {
		t.log.Error().Err(err).Str("device", ev.Device.ID).Msg("loading datapoint history")
		return nil
	}
	for i := range points {
		if points[i].ID == ev.Point.ID {
			if i+1 < len(points) {
				return points[i+1].Data
			}
			return nil
		}
	}
	// concurrent writers pushed the event's point past the window
	if len(points) > 1 {
		return points[1].Data
	}
	return nil
}

// actuate fans the rule's computed output out to the output device's stream
// room.
func (t *Trigger) actuate(rule *models.Rule, output map[string]interface{}) {
	device, err := t.store.GetDevice(rule.OutputDeviceID)
	if err != nil {
		t.log.Error().Err(err).
			Str("rule", rule.ID).
			Str("output_device", rule.OutputDeviceID).
			Msg("loading output device for actuation")
		return
	}

	room := rooms.OutputStream(rule.OutputDeviceID)
	t.rooms.Broadcast(room, models.Success("Data evaluated.", &Actuation{
		Address: device.Address,
		Output:  output,
	}))

	t.log.Debug().
		Str("rule", rule.ID).
		Str("room", room).
		Msg("rule output dispatched")
}
