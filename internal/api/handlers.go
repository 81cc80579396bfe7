// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rules"
	"github.com/fluxmesh/fluxmesh/internal/store"
)

const pageSize = 20

func writeJSON(w http.ResponseWriter, code int, resp models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

// paginate builds the envelope pagination block from a page number and a
// total row count.
func paginate(page, total int) *models.Paginate {
	p := &models.Paginate{Total: total}
	if page > 1 {
		prev := page - 1
		p.Previous = &prev
	}
	if pageSize*page < total {
		next := page + 1
		p.Next = &next
	}
	return p
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// writeRuleError maps lifecycle pipeline failures onto the envelope. Every
// stage failure is caller-correctable (status fail) except infrastructure
// errors.
func writeRuleError(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusOK, models.FailValidation("The rule could not be saved. Check validation.", verr.Fields))
		return
	}
	var eerr *rules.EvaluationError
	if errors.As(err, &eerr) {
		writeJSON(w, http.StatusOK, models.FailValidation("The rule could not be evaluated. Check validation.", map[string]string{
			"rule": eerr.Message,
		}))
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusOK, models.Fail("The rule could not be populated."))
	case errors.Is(err, rules.ErrWrongClass):
		writeJSON(w, http.StatusOK, models.Fail("The devices are not of the correct class."))
	case errors.Is(err, rules.ErrUnauthorized):
		writeJSON(w, http.StatusOK, models.Fail("You are not authorised."))
	default:
		logging.Error().Err(err).Msg("rule operation failed")
		writeJSON(w, http.StatusInternalServerError, models.Error("The rule could not be saved."))
	}
}

func decodeDraft(w http.ResponseWriter, r *http.Request) (*rules.Draft, bool) {
	var draft rules.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeJSON(w, http.StatusOK, models.Fail("The rule could not be parsed."))
		return nil, false
	}
	return &draft, true
}

// createRule handles POST /api/rules.
func (rt *Router) createRule(w http.ResponseWriter, r *http.Request) {
	draft, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	rule, err := rt.manager.Create(Identity(r), draft)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	message := "The rule was saved."
	if rule.Enabled {
		message = "The rule was saved and is now active."
	}
	writeJSON(w, http.StatusOK, models.Success(message, rule))
}

// updateRule handles PUT /api/rules/{id}.
func (rt *Router) updateRule(w http.ResponseWriter, r *http.Request) {
	draft, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	rule, err := rt.manager.Update(Identity(r), chi.URLParam(r, "id"), draft)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	message := "The rule was saved."
	if rule.Enabled {
		message = "The rule was saved and is now active."
	}
	writeJSON(w, http.StatusOK, models.Success(message, rule))
}

// deleteRule handles DELETE /api/rules/{id}.
func (rt *Router) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := rt.manager.Delete(Identity(r), chi.URLParam(r, "id")); err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Success("The rule was deleted.", nil))
}

// setRuleEnabled handles POST /api/rules/{id}/enable and /disable.
func (rt *Router) setRuleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := rt.manager.SetEnabled(Identity(r), chi.URLParam(r, "id"), enabled)
		if err != nil {
			writeRuleError(w, err)
			return
		}
		message := "The rule is now disabled."
		if enabled {
			message = "The rule was saved and is now active."
		}
		writeJSON(w, http.StatusOK, models.Success(message, rule))
	}
}

// evaluateRule handles POST /api/rules/evaluate: a dry run without
// persistence, returning the sandbox bindings.
func (rt *Router) evaluateRule(w http.ResponseWriter, r *http.Request) {
	draft, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	sandbox, err := rt.manager.DryRun(Identity(r), draft)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Success("The rule was successfully evaluated.", sandbox))
}

// listRules handles GET /api/rules?device=<outputDeviceID>&page=<n>.
func (rt *Router) listRules(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	if deviceID == "" {
		writeJSON(w, http.StatusOK, models.Fail("You have not provided an output device ID."))
		return
	}

	page := pageParam(r)
	ruleSet, total, err := rt.manager.ListByOutput(Identity(r), deviceID, page, pageSize)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusOK, models.Fail(fmt.Sprintf("There is no device with the id %s.", deviceID)))
		case errors.Is(err, rules.ErrUnauthorized):
			writeJSON(w, http.StatusOK, models.Fail("You are not authorised."))
		default:
			logging.Error().Err(err).Msg("rule listing failed")
			writeJSON(w, http.StatusInternalServerError, models.Error("The query could not be executed."))
		}
		return
	}

	resp := models.Success("", ruleSet)
	resp.Meta.Paginate = paginate(page, total)
	writeJSON(w, http.StatusOK, resp)
}

// listData handles GET /api/data?device=<deviceID>&page=<n>. Data for public
// devices is readable by anyone; private device data needs the owner or an
// admin.
func (rt *Router) listData(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	device, err := rt.store.GetDevice(deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, models.Fail("Data could not be retrieved - the specified device could not be found."))
			return
		}
		logging.Error().Err(err).Msg("data listing device lookup failed")
		writeJSON(w, http.StatusInternalServerError, models.Error("The query could not be executed."))
		return
	}

	if !auth.CanRead(Identity(r), device.Visibility, device.OwnerID) {
		writeJSON(w, http.StatusOK, models.Fail("You are not authorised."))
		return
	}

	page := pageParam(r)
	points, total, err := rt.store.ListDataPoints(deviceID, page, pageSize)
	if err != nil {
		logging.Error().Err(err).Msg("data listing failed")
		writeJSON(w, http.StatusInternalServerError, models.Error("The query could not be executed."))
		return
	}

	resp := models.Success("", points)
	resp.Meta.Paginate = paginate(page, total)
	writeJSON(w, http.StatusOK, resp)
}

// healthz reports process liveness.
func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.Success("The service is healthy.", nil))
}
