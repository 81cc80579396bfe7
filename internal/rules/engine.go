// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package rules evaluates user-authored rule bodies and manages the rule
// lifecycle. Rule bodies run in the sandboxed expression language of the
// nested lang package; nothing a rule does can reach process state, and every
// evaluation carries a step budget and wall-clock deadline.
package rules

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/metrics"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rules/lang"
)

// Evaluation failure reasons, used for metrics and error classification.
const (
	ReasonSyntax  = "syntax"
	ReasonRuntime = "runtime"
	ReasonBudget  = "budget"
)

// Evaluation modes, used to label metrics.
const (
	EvalModeTriggered = "triggered"
	EvalModeDryRun    = "dryrun"
)

// EvaluationError is any failure produced by a rule body: malformed source,
// a runtime type error, or an exhausted budget. It never escapes as a panic
// and never carries partial output.
type EvaluationError struct {
	Reason  string
	Message string
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule evaluation failed (%s): %s", e.Reason, e.Message)
}

// Engine executes rule bodies against data-point bindings.
type Engine struct {
	maxSteps     int
	timeout      time.Duration
	maxScriptLen int
}

// NewEngine creates an engine with the configured budgets.
func NewEngine(cfg config.RulesConfig) *Engine {
	return &Engine{
		maxSteps:     cfg.MaxSteps,
		timeout:      cfg.EvalTimeout,
		maxScriptLen: cfg.MaxScriptLen,
	}
}

// Evaluate runs a rule body with `previous` and `input` bound to the given
// data lists (previous may be nil when no prior point exists) and returns the
// populated output bindings. The mode labels metrics only.
func (e *Engine) Evaluate(mode string, previous, input []models.DataValue, body string) (map[string]interface{}, error) {
	start := time.Now()
	defer func() {
		metrics.RuleEvalDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	out, err := e.run(previous, input, body)
	if err != nil {
		var evalErr *EvaluationError
		if errors.As(err, &evalErr) {
			metrics.RuleEvalFailures.WithLabelValues(mode, evalErr.Reason).Inc()
		}
		return nil, err
	}
	return out, nil
}

func (e *Engine) run(previous, input []models.DataValue, body string) (map[string]interface{}, error) {
	if e.maxScriptLen > 0 && len(body) > e.maxScriptLen {
		return nil, &EvaluationError{
			Reason:  ReasonSyntax,
			Message: fmt.Sprintf("rule body exceeds %d bytes", e.maxScriptLen),
		}
	}

	prog, err := lang.Parse(body)
	if err != nil {
		return nil, &EvaluationError{Reason: ReasonSyntax, Message: err.Error()}
	}

	env := &lang.Env{
		Previous: toBindings(previous),
		Input:    toBindings(input),
		Output:   make(map[string]interface{}),
		MaxSteps: e.maxSteps,
		Deadline: time.Now().Add(e.timeout),
	}

	if err := prog.Run(env); err != nil {
		reason := ReasonRuntime
		var langErr *lang.Error
		if errors.As(err, &langErr) && langErr.Budget {
			reason = ReasonBudget
		}
		return nil, &EvaluationError{Reason: reason, Message: err.Error()}
	}
	return env.Output, nil
}

// DryRun smoke-tests a rule body against synthetic values sampled inside
// each input descriptor's [min, max] range. No side effects; the returned
// map holds the sandbox bindings for inspection.
func (e *Engine) DryRun(body string, inputDescriptors []models.DataDescriptor) (map[string]interface{}, error) {
	previous := sampleValues(inputDescriptors)
	input := sampleValues(inputDescriptors)

	out, err := e.Evaluate(EvalModeDryRun, previous, input, body)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"previous": toBindings(previous),
		"input":    toBindings(input),
		"output":   out,
	}, nil
}

// toBindings turns a data list into the by-name map the sandbox exposes.
// Integral JSON numbers arrive as float64 already; other numeric Go types
// are coerced so engine callers can construct values directly.
func toBindings(values []models.DataValue) map[string]interface{} {
	m := make(map[string]interface{}, len(values))
	for _, v := range values {
		m[v.Name] = coerce(v.Value)
	}
	return m
}

func coerce(v interface{}) interface{} {
	switch v := v.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

// sampleValues draws one random value per descriptor, uniform over the
// integer range [min, max]. A descriptor without a usable range defaults to
// [0, 100].
func sampleValues(descriptors []models.DataDescriptor) []models.DataValue {
	values := make([]models.DataValue, 0, len(descriptors))
	for _, d := range descriptors {
		lo, hi := d.Min, d.Max
		if hi <= lo {
			lo, hi = 0, 100
		}
		v := float64(int(rand.Float64()*(hi-lo+1)) + int(lo))
		values = append(values, models.DataValue{Name: d.Name, Value: v})
	}
	return values
}
