// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filterexpr compiles a small boolean/comparison mini-language
// over a fixed set of named fields into predicate objects.
//
// Grammar:
//
//	expr   := and ('or' and)*
//	and    := unary ('and' unary)*
//	unary  := 'not' unary | '(' expr ')' | cmp
//	cmp    := field (op literal)?
//	op     := '==' | '!=' | '<' | '<=' | '>' | '>='
//
// Literals are integers, single- or double-quoted strings, and
// true/false.  A bare boolean field is shorthand for `field == true`.
// Field names and their types are declared per domain (read fields,
// variant fields) by the caller; unknown fields are compile errors.
// There is deliberately no function-call or attribute-access syntax:
// this replaces an earlier design that handed filter strings to a
// general-purpose evaluator.
package filterexpr

import (
	"strconv"

	"github.com/pkg/errors"
)

// Kind is the type of a field or literal value.
type Kind int

const (
	// Bool values support ==, != and bare-field form.
	Bool Kind = iota
	// Int values support all comparison operators.
	Int
	// String values support all comparison operators (lexicographic).
	String
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case String:
		return "string"
	}
	return "unknown"
}

// Value is a runtime value produced by a field lookup or literal.
type Value struct {
	Kind Kind
	Bool bool
	Int  int64
	Str  string
}

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: Bool, Bool: b} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{Kind: Int, Int: i} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: String, Str: s} }

// FieldSet declares the fields an expression may reference and their
// types.  Lookup of field values happens at evaluation time through the
// Bindings callback.
type FieldSet map[string]Kind

// Bindings resolves a field name to its value for one record.  It is
// only ever called with names present in the FieldSet the expression
// was compiled against.
type Bindings func(field string) Value

// Expr is a compiled predicate expression.
type Expr struct {
	root node
	text string
}

// Compile parses and type-checks text against fields.
func Compile(text string, fields FieldSet) (*Expr, error) {
	p := &parser{lexer: lexer{input: text}, fields: fields}
	p.next()
	root, err := p.parseOr()
	if err != nil {
		return nil, errors.Wrapf(err, "compiling filter %q", text)
	}
	if p.tok.kind != tokEOF {
		return nil, errors.Errorf("compiling filter %q: unexpected %q", text, p.tok.text)
	}
	if root.kind() != Bool {
		return nil, errors.Errorf("compiling filter %q: expression is %s, not bool", text, root.kind())
	}
	return &Expr{root: root, text: text}, nil
}

// Eval evaluates the expression for one record's bindings.
func (e *Expr) Eval(b Bindings) bool {
	return e.root.eval(b).Bool
}

// String returns the original expression text.
func (e *Expr) String() string { return e.text }

// AST

type node interface {
	eval(b Bindings) Value
	kind() Kind
}

type fieldNode struct {
	name      string
	fieldKind Kind
}

func (n fieldNode) eval(b Bindings) Value { return b(n.name) }
func (n fieldNode) kind() Kind            { return n.fieldKind }

type literalNode struct{ value Value }

func (n literalNode) eval(Bindings) Value { return n.value }
func (n literalNode) kind() Kind          { return n.value.Kind }

type notNode struct{ operand node }

func (n notNode) eval(b Bindings) Value { return BoolValue(!n.operand.eval(b).Bool) }
func (n notNode) kind() Kind            { return Bool }

type binaryNode struct {
	op          string
	left, right node
}

func (n binaryNode) kind() Kind { return Bool }

func (n binaryNode) eval(b Bindings) Value {
	switch n.op {
	case "and":
		return BoolValue(n.left.eval(b).Bool && n.right.eval(b).Bool)
	case "or":
		return BoolValue(n.left.eval(b).Bool || n.right.eval(b).Bool)
	}
	l, r := n.left.eval(b), n.right.eval(b)
	var cmp int
	switch l.Kind {
	case Bool:
		cmp = 0
		if l.Bool != r.Bool {
			cmp = 1
		}
	case Int:
		switch {
		case l.Int < r.Int:
			cmp = -1
		case l.Int > r.Int:
			cmp = 1
		}
	case String:
		switch {
		case l.Str < r.Str:
			cmp = -1
		case l.Str > r.Str:
			cmp = 1
		}
	}
	switch n.op {
	case "==":
		return BoolValue(cmp == 0)
	case "!=":
		return BoolValue(cmp != 0)
	case "<":
		return BoolValue(cmp < 0)
	case "<=":
		return BoolValue(cmp <= 0)
	case ">":
		return BoolValue(cmp > 0)
	case ">=":
		return BoolValue(cmp >= 0)
	}
	panic("filterexpr: unreachable operator " + n.op)
}

// Parser

type parser struct {
	lexer  lexer
	fields FieldSet
	tok    token
}

func (p *parser) next() {
	p.tok = p.lexer.next()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && p.tok.text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if left.kind() != Bool || right.kind() != Bool {
			return nil, errors.New("'or' operands must be bool")
		}
		left = binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && p.tok.text == "and" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if left.kind() != Bool || right.kind() != Bool {
			return nil, errors.New("'and' operands must be bool")
		}
		left = binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	switch {
	case p.tok.kind == tokIdent && p.tok.text == "not":
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if operand.kind() != Bool {
			return nil, errors.New("'not' operand must be bool")
		}
		return notNode{operand: operand}, nil
	case p.tok.kind == tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, errors.New("missing ')'")
		}
		p.next()
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokOp {
		// Bare operand: must already be boolean.
		if left.kind() != Bool {
			return nil, errors.Errorf("bare %s operand is not a predicate", left.kind())
		}
		return left, nil
	}
	op := p.tok.text
	p.next()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if left.kind() != right.kind() {
		return nil, errors.Errorf("type mismatch: %s %s %s", left.kind(), op, right.kind())
	}
	if left.kind() == Bool && op != "==" && op != "!=" {
		return nil, errors.Errorf("operator %q not defined for bool", op)
	}
	return binaryNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.tok
	switch tok.kind {
	case tokIdent:
		p.next()
		switch tok.text {
		case "true":
			return literalNode{value: BoolValue(true)}, nil
		case "false":
			return literalNode{value: BoolValue(false)}, nil
		case "and", "or", "not":
			return nil, errors.Errorf("unexpected keyword %q", tok.text)
		}
		fieldKind, ok := p.fields[tok.text]
		if !ok {
			return nil, errors.Errorf("unknown field %q", tok.text)
		}
		return fieldNode{name: tok.text, fieldKind: fieldKind}, nil
	case tokInt:
		p.next()
		i, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, errors.Errorf("bad integer %q", tok.text)
		}
		return literalNode{value: IntValue(i)}, nil
	case tokString:
		p.next()
		return literalNode{value: StringValue(tok.text)}, nil
	case tokEOF:
		return nil, errors.New("unexpected end of expression")
	}
	return nil, errors.Errorf("unexpected %q", tok.text)
}

// Lexer

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokString
	tokOp
	tokLParen
	tokRParen
	tokInvalid
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	input string
	pos   int
}

func isIdentByte(c byte, first bool) bool {
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	return !first && c >= '0' && c <= '9'
}

func (l *lexer) next() token {
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF}
	}
	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "("}
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}
	case c == '\'' || c == '"':
		quote := c
		end := l.pos + 1
		for end < len(l.input) && l.input[end] != quote {
			end++
		}
		if end >= len(l.input) {
			bad := l.input[l.pos:]
			l.pos = len(l.input)
			return token{kind: tokInvalid, text: bad}
		}
		text := l.input[l.pos+1 : end]
		l.pos = end + 1
		return token{kind: tokString, text: text}
	case c == '=' || c == '!' || c == '<' || c == '>':
		start := l.pos
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '=' {
			l.pos++
		}
		text := l.input[start:l.pos]
		if text == "=" || text == "!" {
			return token{kind: tokInvalid, text: text}
		}
		return token{kind: tokOp, text: text}
	case c >= '0' && c <= '9' || c == '-':
		start := l.pos
		l.pos++
		for l.pos < len(l.input) && l.input[l.pos] >= '0' && l.input[l.pos] <= '9' {
			l.pos++
		}
		return token{kind: tokInt, text: l.input[start:l.pos]}
	case isIdentByte(c, true):
		start := l.pos
		for l.pos < len(l.input) && isIdentByte(l.input[l.pos], false) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos]}
	}
	l.pos++
	return token{kind: tokInvalid, text: string(c)}
}
