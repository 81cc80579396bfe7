// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package lang implements the rule expression language: a sequence of
// assignment statements over the bindings `previous`, `input` and `output`,
// with arithmetic, comparison, logical and ternary expressions. The language
// has no loops, no function calls and no access to anything outside the three
// bindings, which keeps evaluation auditable and linear in script size.
// Evaluation additionally enforces a step budget and a wall-clock deadline.
package lang

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokNull
	tokAssign    // =
	tokEq        // ==
	tokNeq       // !=
	tokLt        // <
	tokGt        // >
	tokLte       // <=
	tokGte       // >=
	tokPlus      // +
	tokMinus     // -
	tokStar      // *
	tokSlash     // /
	tokPercent   // %
	tokNot       // !
	tokAnd       // &&
	tokOr        // ||
	tokQuestion  // ?
	tokColon     // :
	tokDot       // .
	tokSemicolon // ; or newline
	tokLParen    // (
	tokRParen    // )
)

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset in source, for error messages
}

// Error is a syntax or runtime failure inside a rule body. Pos is a byte
// offset into the source, -1 when not applicable. Budget marks step-budget
// and deadline violations.
type Error struct {
	Pos    int
	Msg    string
	Budget bool
}

func (e *Error) Error() string {
	if e.Pos < 0 {
		return e.Msg
	}
	return fmt.Sprintf("%s (at offset %d)", e.Msg, e.Pos)
}

func errAt(pos int, format string, args ...interface{}) *Error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// next returns the next token. Newlines are significant: they terminate
// statements, like semicolons.
func (l *lexer) next() (token, error) {
	// skip horizontal whitespace and comments
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\r' {
			l.pos++
			continue
		}
		if c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}

	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := l.src[l.pos]
	switch {
	case c == '\n':
		l.pos++
		return token{kind: tokSemicolon, text: "\\n", pos: start}, nil
	case c == ';':
		l.pos++
		return token{kind: tokSemicolon, text: ";", pos: start}, nil
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == '.':
		l.pos++
		return token{kind: tokDot, text: ".", pos: start}, nil
	case c == '?':
		l.pos++
		return token{kind: tokQuestion, text: "?", pos: start}, nil
	case c == ':':
		l.pos++
		return token{kind: tokColon, text: ":", pos: start}, nil
	case c == '+':
		l.pos++
		return token{kind: tokPlus, text: "+", pos: start}, nil
	case c == '-':
		l.pos++
		return token{kind: tokMinus, text: "-", pos: start}, nil
	case c == '*':
		l.pos++
		return token{kind: tokStar, text: "*", pos: start}, nil
	case c == '/':
		l.pos++
		return token{kind: tokSlash, text: "/", pos: start}, nil
	case c == '%':
		l.pos++
		return token{kind: tokPercent, text: "%", pos: start}, nil
	case c == '=':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			// tolerate === as ==
			if l.peek() == '=' {
				l.pos++
			}
			return token{kind: tokEq, text: "==", pos: start}, nil
		}
		return token{kind: tokAssign, text: "=", pos: start}, nil
	case c == '!':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			if l.peek() == '=' {
				l.pos++
			}
			return token{kind: tokNeq, text: "!=", pos: start}, nil
		}
		return token{kind: tokNot, text: "!", pos: start}, nil
	case c == '<':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokLte, text: "<=", pos: start}, nil
		}
		return token{kind: tokLt, text: "<", pos: start}, nil
	case c == '>':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokGte, text: ">=", pos: start}, nil
		}
		return token{kind: tokGt, text: ">", pos: start}, nil
	case c == '&':
		l.pos++
		if l.peek() != '&' {
			return token{}, errAt(start, "unexpected character %q", "&")
		}
		l.pos++
		return token{kind: tokAnd, text: "&&", pos: start}, nil
	case c == '|':
		l.pos++
		if l.peek() != '|' {
			return token{}, errAt(start, "unexpected character %q", "|")
		}
		l.pos++
		return token{kind: tokOr, text: "||", pos: start}, nil
	case c == '"' || c == '\'':
		return l.lexString(c)
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case isIdentStart(rune(c)):
		return l.lexIdent()
	default:
		return token{}, errAt(start, "unexpected character %q", string(c))
	}
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quote:
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case '\n':
			return token{}, errAt(start, "unterminated string")
		case '\\':
			l.pos++
			if l.pos >= len(l.src) {
				return token{}, errAt(start, "unterminated string")
			}
			switch l.src[l.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '\'', '"':
				sb.WriteByte(l.src[l.pos])
			default:
				return token{}, errAt(l.pos, "unknown escape \\%s", string(l.src[l.pos]))
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, errAt(start, "unterminated string")
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	text := l.src[start:l.pos]
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return token{}, errAt(start, "malformed number %q", text)
	}
	return token{kind: tokNumber, text: text, pos: start}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
		l.pos++
	}
	text := l.src[start:l.pos]
	switch text {
	case "true":
		return token{kind: tokTrue, text: text, pos: start}, nil
	case "false":
		return token{kind: tokFalse, text: text, pos: start}, nil
	case "null":
		return token{kind: tokNull, text: text, pos: start}, nil
	}
	return token{kind: tokIdent, text: text, pos: start}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
