// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package validation provides struct validation using go-playground/validator
// v10 behind a thread-safe singleton. Validation failures translate to
// field-level messages suitable for the `validation` field of the response
// envelope.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the singleton validator instance. The instance caches
// struct metadata, so sharing it is both safe and faster.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FieldErrors is a collection of per-field validation failures.
type FieldErrors struct {
	fields map[string]string
}

// Fields returns the field → message map.
func (e *FieldErrors) Fields() map[string]string {
	return e.fields
}

// Error implements the error interface, joining all field messages.
func (e *FieldErrors) Error() string {
	if len(e.fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.fields))
	for field, msg := range e.fields {
		msgs = append(msgs, field+": "+msg)
	}
	return strings.Join(msgs, "; ")
}

// ValidateStruct validates v and returns a *FieldErrors describing every
// failing field, or nil when v is valid.
func ValidateStruct(v interface{}) *FieldErrors {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// InvalidValidationError: caller passed something unvalidatable
		return &FieldErrors{fields: map[string]string{"_struct": err.Error()}}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = message(fe)
	}
	return &FieldErrors{fields: fields}
}

// fieldPath strips the root struct name from the namespace so messages read
// "data[0].name" rather than "DataPoint.Data[0].Name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("must have at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "hexadecimal":
		return "must be hexadecimal"
	case "lowercase":
		return "must be lowercase"
	case "alpha":
		return "must contain letters only"
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
