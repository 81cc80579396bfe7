// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package rules

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/models"
)

func testEngine() *Engine {
	return NewEngine(config.RulesConfig{
		EvalTimeout:  250 * time.Millisecond,
		MaxSteps:     10000,
		MaxScriptLen: 16 * 1024,
	})
}

func TestEvaluate(t *testing.T) {
	e := testEngine()

	input := []models.DataValue{{Name: "temp", Value: float64(10)}}
	out, err := e.Evaluate(EvalModeTriggered, nil, input, "output.x = input.temp * 2")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got := out["x"]; got != float64(20) {
		t.Errorf("output.x = %v, want 20", got)
	}
}

func TestEvaluateIntValuesCoerced(t *testing.T) {
	e := testEngine()

	// values constructed in Go arrive as int, not float64
	input := []models.DataValue{{Name: "temp", Value: 21}}
	out, err := e.Evaluate(EvalModeTriggered, nil, input, "output.hot = input.temp > 20")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got := out["hot"]; got != true {
		t.Errorf("output.hot = %v, want true", got)
	}
}

func TestEvaluateFailureReasons(t *testing.T) {
	e := testEngine()
	input := []models.DataValue{{Name: "temp", Value: float64(1)}}

	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"syntax error", "output.x === ;", ReasonSyntax},
		{"runtime type error", "output.x = \"a\" * 2", ReasonRuntime},
		{"assignment outside output", "input.x = 1", ReasonRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(EvalModeTriggered, nil, input, tt.body)
			if err == nil {
				t.Fatalf("Evaluate(%q) succeeded, want error", tt.body)
			}
			var eerr *EvaluationError
			if !errors.As(err, &eerr) {
				t.Fatalf("error type = %T, want *EvaluationError", err)
			}
			if eerr.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", eerr.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluateBudgetExhaustion(t *testing.T) {
	e := NewEngine(config.RulesConfig{
		EvalTimeout:  time.Second,
		MaxSteps:     10,
		MaxScriptLen: 16 * 1024,
	})

	body := "output.x = 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1"
	_, err := e.Evaluate(EvalModeTriggered, nil, nil, body)
	var eerr *EvaluationError
	if !errors.As(err, &eerr) {
		t.Fatalf("err = %v, want *EvaluationError", err)
	}
	if eerr.Reason != ReasonBudget {
		t.Errorf("Reason = %q, want %q", eerr.Reason, ReasonBudget)
	}
}

func TestEvaluateScriptLengthCap(t *testing.T) {
	e := NewEngine(config.RulesConfig{
		EvalTimeout:  time.Second,
		MaxSteps:     10000,
		MaxScriptLen: 32,
	})

	body := "output.x = 1 " + strings.Repeat("+ 1 ", 32)
	if _, err := e.Evaluate(EvalModeTriggered, nil, nil, body); err == nil {
		t.Fatal("Evaluate accepted a script over the length cap, want error")
	}
}

func TestDryRun(t *testing.T) {
	e := testEngine()

	descriptors := []models.DataDescriptor{
		{Name: "temp", Min: 10, Max: 30},
		{Name: "hum", Min: 0, Max: 100},
	}

	sandbox, err := e.DryRun("output.x = input.temp * 2", descriptors)
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}

	for _, binding := range []string{"previous", "input", "output"} {
		if _, ok := sandbox[binding]; !ok {
			t.Errorf("sandbox missing %q binding", binding)
		}
	}

	input, ok := sandbox["input"].(map[string]interface{})
	if !ok {
		t.Fatalf("input binding type = %T, want map", sandbox["input"])
	}
	temp, ok := input["temp"].(float64)
	if !ok {
		t.Fatalf("sampled temp type = %T, want float64", input["temp"])
	}
	if temp < 10 || temp > 30 {
		t.Errorf("sampled temp = %v, want within [10, 30]", temp)
	}

	output, ok := sandbox["output"].(map[string]interface{})
	if !ok {
		t.Fatalf("output binding type = %T, want map", sandbox["output"])
	}
	if want := temp * 2; output["x"] != want {
		t.Errorf("output.x = %v, want %v", output["x"], want)
	}
}

func TestDryRunSurfacesEvaluationError(t *testing.T) {
	e := testEngine()
	_, err := e.DryRun("output.x === ;", []models.DataDescriptor{{Name: "temp"}})
	var eerr *EvaluationError
	if !errors.As(err, &eerr) {
		t.Fatalf("err = %v, want *EvaluationError", err)
	}
}
