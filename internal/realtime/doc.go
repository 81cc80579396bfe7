// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package realtime implements the live dispatch engine: websocket
// connections, the room-scoped action router, stream subscriptions and
// telemetry ingestion.
//
// Each connection runs two goroutines (readPump and writePump) bridged by a
// buffered send channel. Identity is bound exactly once during the
// handshake; every later policy decision reads the immutable claims attached
// to the connection. Inbound frames name a room and an action; the router
// parses the room once and dispatches on (namespace, kind, action).
//
// Room membership lives only in the Hub's memory. Fan-out iterates a
// snapshot of the membership under a read lock while joins and leaves take
// the write lock, so a join racing a fan-out either receives the in-flight
// frame or misses it, and delivery is at-most-once with no replay.
//
// Ingestion persists a datapoint, fans it out to the device's input stream
// room, and hands the stored point to the rule pipeline over an in-process
// bus. The publish acknowledgement never waits for rule evaluation.
package realtime
