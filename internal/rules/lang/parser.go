// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package lang

// Grammar (statements separated by newline or semicolon):
//
//	program    = { assign }
//	assign     = ident "." ident "=" expr
//	expr       = ternary
//	ternary    = or [ "?" expr ":" expr ]
//	or         = and { "||" and }
//	and        = equality { "&&" equality }
//	equality   = comparison { ("==" | "!=") comparison }
//	comparison = term { ("<" | ">" | "<=" | ">=") term }
//	term       = factor { ("+" | "-") factor }
//	factor     = unary { ("*" | "/" | "%") unary }
//	unary      = ("-" | "!") unary | primary
//	primary    = number | string | "true" | "false" | "null"
//	           | ident [ "." ident ] | "(" expr ")"

// maxDepth bounds expression nesting so hostile scripts cannot exhaust the
// goroutine stack during parsing or evaluation.
const maxDepth = 64

type exprNode interface{ exprPos() int }

type literalNode struct {
	pos int
	val interface{} // float64, string, bool or nil
}

type identNode struct {
	pos  int
	name string
}

type memberNode struct {
	pos    int
	object string
	field  string
}

type unaryNode struct {
	pos int
	op  tokenKind
	x   exprNode
}

type binaryNode struct {
	pos  int
	op   tokenKind
	l, r exprNode
}

type ternaryNode struct {
	pos        int
	cond       exprNode
	then, alt  exprNode
}

func (n *literalNode) exprPos() int { return n.pos }
func (n *identNode) exprPos() int   { return n.pos }
func (n *memberNode) exprPos() int  { return n.pos }
func (n *unaryNode) exprPos() int   { return n.pos }
func (n *binaryNode) exprPos() int  { return n.pos }
func (n *ternaryNode) exprPos() int { return n.pos }

type assignStmt struct {
	pos    int
	object string
	field  string
	value  exprNode
}

// Program is a parsed rule body ready for evaluation.
type Program struct {
	stmts []assignStmt
}

type parser struct {
	lex   *lexer
	tok   token
	depth int
}

// Parse compiles a rule body. Any malformed input returns an *Error.
func Parse(src string) (*Program, error) {
	p := &parser{lex: &lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}

	prog := &Program{}
	for {
		// tolerate blank lines and stray separators between statements
		for p.tok.kind == tokSemicolon {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if p.tok.kind == tokEOF {
			break
		}

		stmt, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		prog.stmts = append(prog.stmts, stmt)

		switch p.tok.kind {
		case tokSemicolon:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokEOF:
		default:
			return nil, errAt(p.tok.pos, "expected end of statement, got %q", p.tok.text)
		}
	}
	return prog, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if p.tok.kind != kind {
		return token{}, errAt(p.tok.pos, "expected %s, got %q", what, p.tok.text)
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *parser) parseAssign() (assignStmt, error) {
	obj, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return assignStmt{}, err
	}
	if _, err := p.expect(tokDot, `"."`); err != nil {
		return assignStmt{}, err
	}
	field, err := p.expect(tokIdent, "field name")
	if err != nil {
		return assignStmt{}, err
	}
	if _, err := p.expect(tokAssign, `"="`); err != nil {
		return assignStmt{}, err
	}
	value, err := p.parseExpr()
	if err != nil {
		return assignStmt{}, err
	}
	return assignStmt{pos: obj.pos, object: obj.text, field: field.text, value: value}, nil
}

func (p *parser) parseExpr() (exprNode, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return nil, errAt(p.tok.pos, "expression nesting exceeds %d levels", maxDepth)
	}
	return p.parseTernary()
}

func (p *parser) parseTernary() (exprNode, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokQuestion {
		return cond, nil
	}
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon, `":"`); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ternaryNode{pos: pos, cond: cond, then: then, alt: els}, nil
}

func (p *parser) parseBinaryLevel(
	next func() (exprNode, error),
	ops ...tokenKind,
) (exprNode, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.tok.kind == op {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		op := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{pos: op.pos, op: op.kind, l: left, r: right}
	}
}

func (p *parser) parseOr() (exprNode, error) {
	return p.parseBinaryLevel(p.parseAnd, tokOr)
}

func (p *parser) parseAnd() (exprNode, error) {
	return p.parseBinaryLevel(p.parseEquality, tokAnd)
}

func (p *parser) parseEquality() (exprNode, error) {
	return p.parseBinaryLevel(p.parseComparison, tokEq, tokNeq)
}

func (p *parser) parseComparison() (exprNode, error) {
	return p.parseBinaryLevel(p.parseTerm, tokLt, tokGt, tokLte, tokGte)
}

func (p *parser) parseTerm() (exprNode, error) {
	return p.parseBinaryLevel(p.parseFactor, tokPlus, tokMinus)
}

func (p *parser) parseFactor() (exprNode, error) {
	return p.parseBinaryLevel(p.parseUnary, tokStar, tokSlash, tokPercent)
}

func (p *parser) parseUnary() (exprNode, error) {
	if p.tok.kind == tokMinus || p.tok.kind == tokNot {
		op := p.tok
		p.depth++
		defer func() { p.depth-- }()
		if p.depth > maxDepth {
			return nil, errAt(op.pos, "expression nesting exceeds %d levels", maxDepth)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{pos: op.pos, op: op.kind, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	tok := p.tok
	switch tok.kind {
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		// lexNumber already verified the literal parses
		f, _ := parseFloat(tok.text)
		return &literalNode{pos: tok.pos, val: f}, nil
	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{pos: tok.pos, val: tok.text}, nil
	case tokTrue, tokFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{pos: tok.pos, val: tok.kind == tokTrue}, nil
	case tokNull:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{pos: tok.pos, val: nil}, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokDot {
			if err := p.advance(); err != nil {
				return nil, err
			}
			field, err := p.expect(tokIdent, "field name")
			if err != nil {
				return nil, err
			}
			return &memberNode{pos: tok.pos, object: tok.text, field: field.text}, nil
		}
		return &identNode{pos: tok.pos, name: tok.text}, nil
	default:
		return nil, errAt(tok.pos, "unexpected %q", tok.text)
	}
}
