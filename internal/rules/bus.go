// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package rules

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/store"
)

// TopicDataStored carries one event per persisted datapoint. The ingestion
// handler publishes after the write commits; the rule trigger consumes.
const TopicDataStored = "data.stored"

// StoredEvent is the payload on TopicDataStored. The device is shipped
// pre-populated so the consumer does not repeat the join.
type StoredEvent struct {
	Device store.PopulatedDevice `json:"device"`
	Point  models.DataPoint      `json:"point"`
}

// Bus is an in-process pub/sub channel between ingestion and rule
// evaluation. Persisting a datapoint and evaluating rules against it are
// deliberately decoupled: a slow or failing evaluation never blocks the
// publisher's acknowledgement.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// NewBus creates the in-process bus. The buffer bounds how far evaluation
// may fall behind ingestion before publishes block.
func NewBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return &Bus{pubsub: pubsub, logger: logger}
}

// PublishStored emits a stored-datapoint event.
func (b *Bus) PublishStored(ev *StoredEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stored event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicDataStored, msg); err != nil {
		return fmt.Errorf("publish stored event: %w", err)
	}
	return nil
}

// Subscribe returns the stored-datapoint message stream. Messages must be
// Acked or Nacked by the consumer; the channel closes when ctx is cancelled
// or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, TopicDataStored)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
