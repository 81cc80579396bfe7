// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package lang

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func run(t *testing.T, src string, env *Env) error {
	t.Helper()
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", src, err)
	}
	return prog.Run(env)
}

func TestRunAssignments(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		input map[string]interface{}
		prev  map[string]interface{}
		want  map[string]interface{}
	}{
		{
			name:  "arithmetic on input",
			src:   "output.x = input.temp * 2",
			input: map[string]interface{}{"temp": float64(10)},
			want:  map[string]interface{}{"x": float64(20)},
		},
		{
			name:  "multiple statements",
			src:   "output.a = 1\noutput.b = output.a + 1",
			input: map[string]interface{}{},
			want:  map[string]interface{}{"a": float64(1), "b": float64(2)},
		},
		{
			name:  "ternary on previous presence, empty",
			src:   "output.v = previous ? 1 : 0",
			input: map[string]interface{}{"temp": float64(3)},
			prev:  map[string]interface{}{},
			want:  map[string]interface{}{"v": float64(0)},
		},
		{
			name:  "ternary on previous presence, populated",
			src:   "output.v = previous ? 1 : 0",
			input: map[string]interface{}{"temp": float64(3)},
			prev:  map[string]interface{}{"temp": float64(2)},
			want:  map[string]interface{}{"v": float64(1)},
		},
		{
			name:  "comparison drives ternary",
			src:   "output.state = input.temp > previous.temp ? \"rising\" : \"falling\"",
			input: map[string]interface{}{"temp": float64(21)},
			prev:  map[string]interface{}{"temp": float64(18)},
			want:  map[string]interface{}{"state": "rising"},
		},
		{
			name:  "logical operators short-circuit on missing fields",
			src:   "output.ok = input.temp > 10 && input.hum < 90",
			input: map[string]interface{}{"temp": float64(15), "hum": float64(40)},
			want:  map[string]interface{}{"ok": true},
		},
		{
			name:  "string concatenation",
			src:   "output.label = \"t=\" + \"high\"",
			input: map[string]interface{}{},
			want:  map[string]interface{}{"label": "t=high"},
		},
		{
			name:  "unary minus and modulo",
			src:   "output.a = -input.temp\noutput.b = input.temp % 3",
			input: map[string]interface{}{"temp": float64(10)},
			want:  map[string]interface{}{"a": float64(-10), "b": float64(1)},
		},
		{
			name:  "loose equality tolerates strict operators",
			src:   "output.same = input.temp === 10",
			input: map[string]interface{}{"temp": float64(10)},
			want:  map[string]interface{}{"same": true},
		},
		{
			name:  "missing field reads as null",
			src:   "output.missing = input.nope == 1 ? 1 : 0",
			input: map[string]interface{}{},
			want:  map[string]interface{}{"missing": float64(0)},
		},
		{
			name:  "comments are skipped",
			src:   "// threshold check\noutput.hot = input.temp >= 30",
			input: map[string]interface{}{"temp": float64(35)},
			want:  map[string]interface{}{"hot": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Env{Previous: tt.prev, Input: tt.input}
			if err := run(t, tt.src, env); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(env.Output) != len(tt.want) {
				t.Fatalf("Output = %v, want %v", env.Output, tt.want)
			}
			for k, want := range tt.want {
				if got := env.Output[k]; got != want {
					t.Errorf("Output[%q] = %v (%T), want %v (%T)", k, got, got, want, want)
				}
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"dangling operator", "output.x === ;"},
		{"missing value", "output.x ="},
		{"not an assignment", "input.temp * 2"},
		{"unterminated string", "output.x = \"abc"},
		{"bad member target", "output = 1"},
		{"unknown token", "output.x = 1 @ 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.src); err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.src)
			}
		})
	}
}

func TestParseDepthLimit(t *testing.T) {
	src := "output.x = " + strings.Repeat("(", 100) + "1" + strings.Repeat(")", 100)
	if _, err := Parse(src); err == nil {
		t.Fatal("Parse accepted 100 levels of nesting, want error")
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"assignment to input", "input.x = 1"},
		{"assignment to previous", "previous.x = 1"},
		{"division by zero", "output.x = 1 / 0"},
		{"type error in arithmetic", "output.x = \"a\" * 2"},
		{"unknown identifier", "output.x = bogus.y"},
		{"bare binding assignment", "output.x = input"},
		{"bare binding via ternary", "output.x = input ? input : 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Env{Input: map[string]interface{}{"temp": float64(1)}}
			prog, err := Parse(tt.src)
			if err != nil {
				// assignment-target violations surface at parse or run
				// time depending on shape; either is a failure
				return
			}
			if err := prog.Run(env); err == nil {
				t.Fatalf("Run(%q) succeeded, want error", tt.src)
			}
		})
	}
}

func TestStepBudget(t *testing.T) {
	env := &Env{
		Input:    map[string]interface{}{"temp": float64(1)},
		MaxSteps: 3,
	}
	err := run(t, "output.x = input.temp + input.temp + input.temp + input.temp", env)
	if err == nil {
		t.Fatal("Run succeeded under a 3-step budget, want error")
	}
	var lerr *Error
	if !errors.As(err, &lerr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if !lerr.Budget {
		t.Errorf("Budget = false, want true for step exhaustion")
	}
}

func TestDeadline(t *testing.T) {
	env := &Env{
		Input:    map[string]interface{}{"temp": float64(1)},
		Deadline: time.Now().Add(-time.Second),
	}
	// enough nodes that the 64-step deadline poll fires
	expr := "input.temp"
	for i := 0; i < 70; i++ {
		expr += " + input.temp"
	}
	err := run(t, "output.x = "+expr, env)
	if err == nil {
		t.Fatal("Run succeeded past an expired deadline, want error")
	}
	var lerr *Error
	if !errors.As(err, &lerr) || !lerr.Budget {
		t.Fatalf("err = %v, want budget-tagged *Error", err)
	}
}
