// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package models defines the persistent entities of the platform: devices,
// device types, data points, rules and users, plus the response envelope
// shared by the realtime and HTTP surfaces.
package models

import "time"

// Device classes. The class is fixed at device-type creation and constrains
// which operations a device of that type may perform: input devices publish
// telemetry, output devices receive rule results.
const (
	DeviceClassInput  = "input"
	DeviceClassOutput = "output"
)

// Device visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// DataDescriptor describes one named value a device class produces or
// consumes. Min and Max bound dry-run sample values.
type DataDescriptor struct {
	Name        string  `json:"name" validate:"required,lowercase,alpha"`
	Label       string  `json:"label" validate:"required"`
	Description string  `json:"description,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// DeviceType is the schema for a class of devices. Descriptor names are
// unique within a type.
type DeviceType struct {
	ID              string           `json:"id" validate:"required,hexadecimal,len=24"`
	Name            string           `json:"name" validate:"required"`
	Description     string           `json:"description,omitempty"`
	Developer       string           `json:"developer,omitempty"`
	DeviceClass     string           `json:"deviceClass" validate:"required,oneof=input output"`
	DataDescriptors []DataDescriptor `json:"dataDescriptor" validate:"required,min=1,dive"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Device is a registered producer or consumer of telemetry. Address is a
// globally unique token that data producers use instead of the internal id.
type Device struct {
	ID           string    `json:"id" validate:"required,hexadecimal,len=24"`
	Name         string    `json:"name" validate:"required"`
	Description  string    `json:"description,omitempty"`
	DeviceTypeID string    `json:"deviceType" validate:"required,hexadecimal,len=24"`
	OwnerID      string    `json:"owner" validate:"required,hexadecimal,len=24"`
	Visibility   string    `json:"visibility" validate:"required,oneof=public private"`
	Address      string    `json:"address" validate:"required,min=8,max=64"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DataValue is one named reading inside a data point. Value is unvalidated:
// zero is a legitimate reading, which rules out the required tag.
type DataValue struct {
	Name  string      `json:"name" validate:"required,lowercase,alpha"`
	Value interface{} `json:"value"`
}

// DataPoint is one immutable, timestamped telemetry record for a device.
// The most recent two points of a device feed rule evaluation as "input"
// and "previous".
type DataPoint struct {
	ID        string      `json:"id" validate:"required,hexadecimal,len=24"`
	DeviceID  string      `json:"device" validate:"required,hexadecimal,len=24"`
	Data      []DataValue `json:"data" validate:"required,min=1,dive"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Rule is a user-authored transformation from an input device's telemetry to
// an output device's command. For a given output device at most one rule may
// be enabled at any time.
type Rule struct {
	ID             string    `json:"id" validate:"required,hexadecimal,len=24"`
	Name           string    `json:"name" validate:"required"`
	Description    string    `json:"description,omitempty"`
	InputDeviceID  string    `json:"input" validate:"required,hexadecimal,len=24"`
	OutputDeviceID string    `json:"output" validate:"required,hexadecimal,len=24"`
	Body           string    `json:"rule" validate:"required"`
	Enabled        bool      `json:"enabled"`
	OwnerID        string    `json:"owner,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UserName holds the human name parts of a user.
type UserName struct {
	Given  string `json:"given" validate:"required"`
	Family string `json:"family" validate:"required"`
}

// User is an account that owns devices and rules. Credentials and token
// issuance live outside this system; only identity and role are kept here.
type User struct {
	ID       string   `json:"id" validate:"required,hexadecimal,len=24"`
	Username string   `json:"username" validate:"required"`
	Email    string   `json:"email" validate:"required,email"`
	Name     UserName `json:"name"`
	Role     string   `json:"role" validate:"required,oneof=admin user"`
}
