// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package models

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// Entity ids are 24 lowercase hex characters (12 random bytes). The room
// grammar on the realtime surface embeds these ids, so the length and
// alphabet are part of the external interface.
var idPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// NewID returns a fresh 24-hex entity id.
func NewID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic("models: reading random bytes: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// ValidID reports whether s is a well-formed entity id.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}
