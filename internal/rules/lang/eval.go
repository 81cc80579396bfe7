// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package lang

import (
	"fmt"
	"strconv"
	"time"
)

// Binding names visible to rule bodies.
const (
	BindingPrevious = "previous"
	BindingInput    = "input"
	BindingOutput   = "output"
)

// Env is one evaluation's sandbox. Previous and Input are read-only views of
// data values by name; Output collects the values assigned by the rule body.
// Values are float64, string, bool or nil.
type Env struct {
	Previous map[string]interface{}
	Input    map[string]interface{}
	Output   map[string]interface{}

	// MaxSteps bounds evaluated nodes; Deadline bounds wall-clock time.
	// Zero values disable the respective bound.
	MaxSteps int
	Deadline time.Time

	steps int
}

// Run evaluates the program against env. On failure the env's Output may be
// partially populated; callers treat any error as a failed evaluation and
// discard it.
func (p *Program) Run(env *Env) error {
	if env.Output == nil {
		env.Output = make(map[string]interface{})
	}
	for i := range p.stmts {
		stmt := &p.stmts[i]
		if stmt.object != BindingOutput {
			return errAt(stmt.pos, "only %q fields can be assigned, not %q", BindingOutput, stmt.object)
		}
		val, err := env.eval(stmt.value)
		if err != nil {
			return err
		}
		if ref, ok := val.(bindingRef); ok {
			return errAt(stmt.pos, "cannot assign %q itself, assign one of its fields", ref.name)
		}
		env.Output[stmt.field] = val
	}
	return nil
}

// step charges one unit of budget and checks the deadline. The deadline is
// polled every 64 steps to keep time.Now off the hot path.
func (e *Env) step(pos int) error {
	e.steps++
	if e.MaxSteps > 0 && e.steps > e.MaxSteps {
		return &Error{Pos: pos, Msg: fmt.Sprintf("evaluation budget of %d steps exceeded", e.MaxSteps), Budget: true}
	}
	if !e.Deadline.IsZero() && e.steps%64 == 0 && time.Now().After(e.Deadline) {
		return &Error{Pos: pos, Msg: "evaluation deadline exceeded", Budget: true}
	}
	return nil
}

func (e *Env) eval(n exprNode) (interface{}, error) {
	if err := e.step(n.exprPos()); err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case *literalNode:
		return n.val, nil

	case *identNode:
		b, err := e.binding(n.name, n.pos)
		if err != nil {
			return nil, err
		}
		return bindingRef{name: n.name, values: b}, nil

	case *memberNode:
		b, err := e.binding(n.object, n.pos)
		if err != nil {
			return nil, err
		}
		return b[n.field], nil // missing fields read as null

	case *unaryNode:
		x, err := e.eval(n.x)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case tokMinus:
			f, ok := x.(float64)
			if !ok {
				return nil, errAt(n.pos, "unary - requires a number")
			}
			return -f, nil
		case tokNot:
			return !truthy(x), nil
		}
		return nil, errAt(n.pos, "unknown unary operator")

	case *binaryNode:
		return e.evalBinary(n)

	case *ternaryNode:
		cond, err := e.eval(n.cond)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return e.eval(n.then)
		}
		return e.eval(n.alt)
	}
	return nil, errAt(n.exprPos(), "unknown expression")
}

func (e *Env) evalBinary(n *binaryNode) (interface{}, error) {
	// logical operators short-circuit
	switch n.op {
	case tokAnd:
		l, err := e.eval(n.l)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := e.eval(n.r)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case tokOr:
		l, err := e.eval(n.l)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := e.eval(n.r)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := e.eval(n.l)
	if err != nil {
		return nil, err
	}
	r, err := e.eval(n.r)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokEq:
		return looseEqual(l, r), nil
	case tokNeq:
		return !looseEqual(l, r), nil
	}

	// ordering and arithmetic
	lf, lIsNum := l.(float64)
	rf, rIsNum := r.(float64)
	ls, lIsStr := l.(string)
	rs, rIsStr := r.(string)

	switch n.op {
	case tokPlus:
		switch {
		case lIsNum && rIsNum:
			return lf + rf, nil
		case lIsStr && rIsStr:
			return ls + rs, nil
		}
		return nil, errAt(n.pos, "+ requires two numbers or two strings")
	case tokMinus, tokStar, tokSlash, tokPercent:
		if !lIsNum || !rIsNum {
			return nil, errAt(n.pos, "%s requires numbers", arithmeticName(n.op))
		}
		switch n.op {
		case tokMinus:
			return lf - rf, nil
		case tokStar:
			return lf * rf, nil
		case tokSlash:
			if rf == 0 {
				return nil, errAt(n.pos, "division by zero")
			}
			return lf / rf, nil
		default: // tokPercent
			if rf == 0 {
				return nil, errAt(n.pos, "division by zero")
			}
			return float64(int64(lf) % int64(rf)), nil
		}
	case tokLt, tokGt, tokLte, tokGte:
		switch {
		case lIsNum && rIsNum:
			return compareFloats(n.op, lf, rf), nil
		case lIsStr && rIsStr:
			return compareStrings(n.op, ls, rs), nil
		}
		return nil, errAt(n.pos, "comparison requires two numbers or two strings")
	}
	return nil, errAt(n.pos, "unknown operator")
}

func (e *Env) binding(name string, pos int) (map[string]interface{}, error) {
	switch name {
	case BindingPrevious:
		return e.Previous, nil
	case BindingInput:
		return e.Input, nil
	case BindingOutput:
		return e.Output, nil
	default:
		return nil, errAt(pos, "unknown identifier %q", name)
	}
}

// bindingRef is the value of a bare binding name in expression position. It
// only participates in truthiness (non-empty) and equality checks.
type bindingRef struct {
	name   string
	values map[string]interface{}
}

func truthy(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case bindingRef:
		return len(v.values) > 0
	default:
		return true
	}
}

func looseEqual(l, r interface{}) bool {
	if l == nil && r == nil {
		return true
	}
	switch l := l.(type) {
	case float64:
		r, ok := r.(float64)
		return ok && l == r
	case string:
		r, ok := r.(string)
		return ok && l == r
	case bool:
		r, ok := r.(bool)
		return ok && l == r
	default:
		return false
	}
}

func compareFloats(op tokenKind, l, r float64) bool {
	switch op {
	case tokLt:
		return l < r
	case tokGt:
		return l > r
	case tokLte:
		return l <= r
	default:
		return l >= r
	}
}

func compareStrings(op tokenKind, l, r string) bool {
	switch op {
	case tokLt:
		return l < r
	case tokGt:
		return l > r
	case tokLte:
		return l <= r
	default:
		return l >= r
	}
}

func arithmeticName(op tokenKind) string {
	switch op {
	case tokMinus:
		return "-"
	case tokStar:
		return "*"
	case tokSlash:
		return "/"
	case tokPercent:
		return "%"
	default:
		return "?"
	}
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
