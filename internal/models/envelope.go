// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package models

// Response statuses. "fail" denotes a caller-correctable condition (bad
// input, authorization, not found); "error" denotes an unexpected or
// infrastructure condition.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

// Paginate carries pagination metadata on list responses.
type Paginate struct {
	Total    int  `json:"total"`
	Previous *int `json:"previous"`
	Next     *int `json:"next"`
}

// Meta carries the human-readable message plus optional routing and
// validation details of a response.
type Meta struct {
	Message    string            `json:"message,omitempty"`
	Room       string            `json:"room,omitempty"`
	Action     string            `json:"action,omitempty"`
	Validation map[string]string `json:"validation,omitempty"`
	Paginate   *Paginate         `json:"paginate,omitempty"`
}

// Response is the uniform envelope for acknowledgements, server pushes and
// HTTP responses.
type Response struct {
	Status string      `json:"status"`
	Meta   Meta        `json:"meta"`
	Data   interface{} `json:"data"`
	ID     uint64      `json:"id,omitempty"`
}

// Success builds a success response with the given message and data.
func Success(message string, data interface{}) Response {
	return Response{Status: StatusSuccess, Meta: Meta{Message: message}, Data: data}
}

// Fail builds a fail response with the given message.
func Fail(message string) Response {
	return Response{Status: StatusFail, Meta: Meta{Message: message}, Data: nil}
}

// FailValidation builds a fail response carrying field-level validation
// messages.
func FailValidation(message string, fields map[string]string) Response {
	return Response{Status: StatusFail, Meta: Meta{Message: message, Validation: fields}, Data: nil}
}

// Error builds an error response for unexpected conditions.
func Error(message string) Response {
	return Response{Status: StatusError, Meta: Meta{Message: message}, Data: nil}
}
