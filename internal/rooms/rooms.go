// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package rooms defines the room-name grammar shared by the realtime router
// and the rule fan-out path. Rooms are logical, non-persistent channel names
// of the form {namespace}:{kind}[:{deviceId}]; the single parser here keeps
// handlers working with parsed descriptors instead of raw strings.
package rooms

import "regexp"

// Namespaces.
const (
	NamespaceInput  = "input"
	NamespaceOutput = "output"
)

// Kinds.
const (
	KindAdd    = "add"
	KindStream = "stream"
)

// Actions carried by request frames.
const (
	ActionPublish     = "publish"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// pattern is the full room grammar. The device id segment is required for
// stream rooms and absent for add rooms; that constraint is checked after the
// regexp match.
var pattern = regexp.MustCompile(`^(input|output):(add|stream):?([0-9a-fA-F]{24})?$`)

// Descriptor is a parsed room name.
type Descriptor struct {
	Namespace string
	Kind      string
	DeviceID  string // empty for add rooms
}

// Parse parses a room name into a descriptor. ok is false when the name does
// not follow the grammar, including a stream room without a device id or an
// add room with one.
func Parse(room string) (Descriptor, bool) {
	m := pattern.FindStringSubmatch(room)
	if m == nil {
		return Descriptor{}, false
	}
	d := Descriptor{Namespace: m[1], Kind: m[2], DeviceID: m[3]}
	if d.Kind == KindStream && d.DeviceID == "" {
		return Descriptor{}, false
	}
	if d.Kind == KindAdd && d.DeviceID != "" {
		return Descriptor{}, false
	}
	return d, true
}

// String rebuilds the canonical room name.
func (d Descriptor) String() string {
	if d.DeviceID == "" {
		return d.Namespace + ":" + d.Kind
	}
	return d.Namespace + ":" + d.Kind + ":" + d.DeviceID
}

// InputStream returns the telemetry stream room name for a device.
func InputStream(deviceID string) string {
	return NamespaceInput + ":" + KindStream + ":" + deviceID
}

// OutputStream returns the command stream room name for a device.
func OutputStream(deviceID string) string {
	return NamespaceOutput + ":" + KindStream + ":" + deviceID
}

// InputAdd is the publish room for telemetry ingestion.
const InputAdd = NamespaceInput + ":" + KindAdd
