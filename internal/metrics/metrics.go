// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package metrics exposes Prometheus instrumentation for the dispatch
// engine: connection lifecycle, frame routing, telemetry ingestion, room
// fan-out, rule evaluation and store operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently open realtime connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxmesh_connections_active",
			Help: "Number of open realtime connections",
		},
	)

	// ConnectionsTotal counts connection handshakes by identity outcome.
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_connections_total",
			Help: "Total realtime connections by handshake outcome",
		},
		[]string{"identity"}, // "authenticated", "anonymous", "invalid_token"
	)

	// FramesRouted counts inbound request frames by action and routing outcome.
	FramesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_frames_routed_total",
			Help: "Total inbound frames by action and routing outcome",
		},
		[]string{"action", "outcome"}, // outcome: "dispatched", "no_route", "dropped"
	)

	// PublishTotal counts telemetry publish attempts by result.
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_publish_total",
			Help: "Total telemetry publish attempts by result",
		},
		[]string{"result"}, // "stored", "unauthorized", "not_found", "wrong_class", "invalid", "error"
	)

	// FanoutMessages counts messages written to room members.
	FanoutMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_fanout_messages_total",
			Help: "Total messages fanned out to room members",
		},
		[]string{"namespace"}, // "input", "output"
	)

	// RoomMembers tracks current room membership count across all rooms.
	RoomMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxmesh_room_members",
			Help: "Current total room memberships",
		},
	)

	// RuleEvalDuration observes rule evaluation latency by mode.
	RuleEvalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxmesh_rule_eval_duration_seconds",
			Help:    "Duration of rule evaluations in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"mode"}, // "triggered", "dryrun"
	)

	// RuleEvalFailures counts failed rule evaluations by mode and reason.
	RuleEvalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_rule_eval_failures_total",
			Help: "Total failed rule evaluations by mode and reason",
		},
		[]string{"mode", "reason"}, // reason: "syntax", "runtime", "budget"
	)

	// StoreOpDuration observes document store operation latency.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxmesh_store_op_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "entity"},
	)
)
