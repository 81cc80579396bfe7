// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package rules

import (
	"errors"
	"fmt"

	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/store"
	"github.com/fluxmesh/fluxmesh/internal/validation"
)

// Sentinel errors for the lifecycle pipeline. Handlers map them onto the
// response envelope.
var (
	// ErrUnauthorized covers identity, ownership and visibility failures.
	ErrUnauthorized = errors.New("not authorised")

	// ErrWrongClass is returned when a rule references devices whose classes
	// do not match their role (input must be deviceClass=input, output must
	// be deviceClass=output).
	ErrWrongClass = errors.New("devices are not of the correct class")
)

// Draft is the caller-supplied definition for creating or updating a rule.
// Enabled defaults to true when nil, matching the data model default.
type Draft struct {
	Name           string `json:"name" validate:"required"`
	Description    string `json:"description,omitempty"`
	InputDeviceID  string `json:"input" validate:"required,hexadecimal,len=24"`
	OutputDeviceID string `json:"output" validate:"required,hexadecimal,len=24"`
	Body           string `json:"rule" validate:"required"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

// Manager drives rule mutations through a linear pipeline: structural
// validation, device population, authorization, dry-run evaluation,
// persistence. Each stage short-circuits the pipeline with a tagged error;
// later stages are never reached once one fails.
type Manager struct {
	store  *store.Store
	engine *Engine
}

// NewManager creates a lifecycle manager.
func NewManager(s *store.Store, e *Engine) *Manager {
	return &Manager{store: s, engine: e}
}

// populated carries the devices a draft references, joined with their types.
type populated struct {
	input  *store.PopulatedDevice
	output *store.PopulatedDevice
}

// populate loads both referenced devices. A missing device fails the stage
// with store.ErrNotFound.
func (m *Manager) populate(inputID, outputID string) (*populated, error) {
	input, err := m.store.GetDeviceWithType(inputID)
	if err != nil {
		return nil, fmt.Errorf("input device %s: %w", inputID, err)
	}
	output, err := m.store.GetDeviceWithType(outputID)
	if err != nil {
		return nil, fmt.Errorf("output device %s: %w", outputID, err)
	}
	return &populated{input: input, output: output}, nil
}

// authorize applies the rule authorization policy: the input device must be
// class input and visible to the requester (public or owned); the output
// device must be class output and owned by the requester. Class failures are
// reported before authorization failures so callers learn the most specific
// problem first.
func (m *Manager) authorize(claims *auth.Claims, p *populated) error {
	if p.input.Type.DeviceClass != models.DeviceClassInput ||
		p.output.Type.DeviceClass != models.DeviceClassOutput {
		return ErrWrongClass
	}

	inputOK := p.input.Visibility == models.VisibilityPublic || auth.IsOwner(claims, p.input.OwnerID)
	outputOK := auth.IsOwner(claims, p.output.OwnerID)
	if !inputOK || !outputOK {
		return ErrUnauthorized
	}
	return nil
}

// Create runs the full pipeline for a new rule and persists it. When the
// rule is enabled, persisting atomically disables every other rule on the
// same output device.
func (m *Manager) Create(claims *auth.Claims, draft *Draft) (*models.Rule, error) {
	return m.save(claims, models.NewID(), draft, true)
}

// Update re-runs the same pipeline against an existing rule.
func (m *Manager) Update(claims *auth.Claims, id string, draft *Draft) (*models.Rule, error) {
	existing, err := m.store.GetRule(id)
	if err != nil {
		return nil, err
	}
	// updating also requires authorization against the devices the rule
	// currently references, not only the new ones
	current, err := m.populate(existing.InputDeviceID, existing.OutputDeviceID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(claims, current); err != nil {
		return nil, err
	}
	return m.save(claims, id, draft, false)
}

func (m *Manager) save(claims *auth.Claims, id string, draft *Draft, create bool) (*models.Rule, error) {
	if ferr := validation.ValidateStruct(draft); ferr != nil {
		return nil, &store.ValidationError{Fields: ferr.Fields()}
	}

	p, err := m.populate(draft.InputDeviceID, draft.OutputDeviceID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(claims, p); err != nil {
		return nil, err
	}

	// dry-run smoke test against synthetic descriptor-bounded values; a
	// body that cannot evaluate is never persisted
	if _, err := m.engine.DryRun(draft.Body, p.input.Type.DataDescriptors); err != nil {
		return nil, err
	}

	enabled := true
	if draft.Enabled != nil {
		enabled = *draft.Enabled
	}

	rule := &models.Rule{
		ID:             id,
		Name:           draft.Name,
		Description:    draft.Description,
		InputDeviceID:  draft.InputDeviceID,
		OutputDeviceID: draft.OutputDeviceID,
		Body:           draft.Body,
		Enabled:        enabled,
	}
	if claims != nil {
		rule.OwnerID = claims.ID
	}
	if !create {
		existing, err := m.store.GetRule(id)
		if err != nil {
			return nil, err
		}
		rule.OwnerID = existing.OwnerID
		rule.CreatedAt = existing.CreatedAt
	}

	if err := m.store.SaveRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// SetEnabled flips a rule's enabled flag. Enabling atomically disables every
// other rule targeting the same output device; after the call returns, at
// most one rule per output is enabled.
func (m *Manager) SetEnabled(claims *auth.Claims, id string, enabled bool) (*models.Rule, error) {
	rule, err := m.store.GetRule(id)
	if err != nil {
		return nil, err
	}

	p, err := m.populate(rule.InputDeviceID, rule.OutputDeviceID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(claims, p); err != nil {
		return nil, err
	}

	rule.Enabled = enabled
	if err := m.store.SaveRule(rule); err != nil {
		return nil, err
	}

	logging.Info().
		Str("rule", rule.ID).
		Str("output_device", rule.OutputDeviceID).
		Bool("enabled", enabled).
		Msg("rule enabled flag changed")
	return rule, nil
}

// Delete removes a rule. The same authorization as update applies.
func (m *Manager) Delete(claims *auth.Claims, id string) error {
	rule, err := m.store.GetRule(id)
	if err != nil {
		return err
	}

	p, err := m.populate(rule.InputDeviceID, rule.OutputDeviceID)
	if err != nil {
		return err
	}
	if err := m.authorize(claims, p); err != nil {
		return err
	}

	return m.store.DeleteRule(id)
}

// DryRun smoke-tests a draft without persisting anything. Population
// failures and evaluation failures surface to the caller; the result holds
// the sandbox bindings on success.
func (m *Manager) DryRun(claims *auth.Claims, draft *Draft) (map[string]interface{}, error) {
	if ferr := validation.ValidateStruct(draft); ferr != nil {
		return nil, &store.ValidationError{Fields: ferr.Fields()}
	}
	p, err := m.populate(draft.InputDeviceID, draft.OutputDeviceID)
	if err != nil {
		return nil, err
	}
	return m.engine.DryRun(draft.Body, p.input.Type.DataDescriptors)
}

// ListByOutput returns one page of the rules targeting an output device.
// Read access requires owning the device or the admin role.
func (m *Manager) ListByOutput(claims *auth.Claims, outputDeviceID string, page, limit int) ([]models.Rule, int, error) {
	device, err := m.store.GetDevice(outputDeviceID)
	if err != nil {
		return nil, 0, err
	}
	if !auth.IsOwner(claims, device.OwnerID) &&
		(claims == nil || !auth.Authorize(models.RoleAdmin, claims.Role)) {
		return nil, 0, ErrUnauthorized
	}
	return m.store.ListRulesByOutput(outputDeviceID, page, limit)
}
