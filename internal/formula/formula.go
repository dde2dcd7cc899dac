// Package formula implements parsing and evaluation of the ordering-factor
// arithmetic expressions. Expressions support +, -, *, /, parentheses, unary
// minus, decimal literals, and named variables written in square brackets,
// e.g. "[clicks] / [impressions] * 100".
package formula

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Evaluation and parse errors.
var (
	ErrEmptyFormula     = errors.New("formula is empty")
	ErrDivisionByZero   = errors.New("division by zero")
	ErrNotFinite        = errors.New("result is not a finite number")
	ErrUnknownVariable  = errors.New("unknown variable")
	ErrUnexpectedToken  = errors.New("unexpected token")
	ErrUnterminatedName = errors.New("unterminated variable name")
)

// Resolver maps a variable name to its numeric value. Returning an error
// wrapping ErrUnknownVariable marks the variable as unresolvable.
type Resolver func(name string) (float64, error)

// Expr is a parsed formula ready for repeated evaluation.
type Expr struct {
	root node
	vars []string
	src  string
}

// node is a node of the expression tree.
type node interface {
	eval(resolve Resolver) (float64, error)
}

type literal struct {
	value float64
}

func (l literal) eval(Resolver) (float64, error) {
	return l.value, nil
}

type variable struct {
	name string
}

func (v variable) eval(resolve Resolver) (float64, error) {
	val, err := resolve(v.name)
	if err != nil {
		return 0, fmt.Errorf("variable [%s]: %w", v.name, err)
	}
	return val, nil
}

type unary struct {
	operand node
}

func (u unary) eval(resolve Resolver) (float64, error) {
	val, err := u.operand.eval(resolve)
	if err != nil {
		return 0, err
	}
	return -val, nil
}

type binary struct {
	op          byte
	left, right node
}

func (b binary) eval(resolve Resolver) (float64, error) {
	left, err := b.left.eval(resolve)
	if err != nil {
		return 0, err
	}
	right, err := b.right.eval(resolve)
	if err != nil {
		return 0, err
	}

	switch b.op {
	case '+':
		return left + right, nil
	case '-':
		return left - right, nil
	case '*':
		return left * right, nil
	case '/':
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		return left / right, nil
	}
	return 0, fmt.Errorf("%w: operator %q", ErrUnexpectedToken, string(b.op))
}

// Parse parses a formula into an expression tree.
// An empty or whitespace-only formula returns ErrEmptyFormula; callers treat
// that case as a constant zero ranking.
func Parse(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrEmptyFormula
	}

	p := &parser{src: src}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("%w: trailing input %q at offset %d", ErrUnexpectedToken, p.src[p.pos:], p.pos)
	}

	return &Expr{root: root, vars: p.vars, src: src}, nil
}

// Eval evaluates the expression with the given variable resolver.
func (e *Expr) Eval(resolve Resolver) (float64, error) {
	val, err := e.root.eval(resolve)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, ErrNotFinite
	}
	return val, nil
}

// Variables returns the variable names referenced by the formula, in order of
// first appearance.
func (e *Expr) Variables() []string {
	out := make([]string, len(e.vars))
	copy(out, e.vars)
	return out
}

// String returns the original formula source.
func (e *Expr) String() string {
	return e.src
}

// Validate parses the formula and dry-runs it with every variable bound to 1.
// It reports syntax errors without needing real variable data; division by
// zero against constant zero denominators is also caught here.
func Validate(src string) error {
	expr, err := Parse(src)
	if err != nil {
		return err
	}
	_, err = expr.Eval(func(string) (float64, error) { return 1, nil })
	return err
}

// parser is a recursive-descent parser over the formula grammar:
//
//	expr    = term { ("+" | "-") term }
//	term    = factor { ("*" | "/") factor }
//	factor  = "-" factor | number | "[" name "]" | "(" expr ")"
type parser struct {
	src  string
	pos  int
	vars []string
	seen map[string]bool
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		switch p.peek() {
		case '+', '-':
			op := p.src[p.pos]
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = binary{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}

	for {
		switch p.peek() {
		case '*', '/':
			op := p.src[p.pos]
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return nil, err
			}
			left = binary{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseFactor() (node, error) {
	switch c := p.peek(); {
	case c == '-':
		p.pos++
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return unary{operand: operand}, nil

	case c == '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("%w: expected ')' at offset %d", ErrUnexpectedToken, p.pos)
		}
		p.pos++
		return inner, nil

	case c == '[':
		return p.parseVariable()

	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()

	case c == 0:
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrUnexpectedToken)

	default:
		return nil, fmt.Errorf("%w: %q at offset %d", ErrUnexpectedToken, string(c), p.pos)
	}
}

func (p *parser) parseNumber() (node, error) {
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
		p.pos++
	}

	val, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid number %q at offset %d", ErrUnexpectedToken, p.src[start:p.pos], start)
	}
	return literal{value: val}, nil
}

func (p *parser) parseVariable() (node, error) {
	p.pos++ // consume '['
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != ']' {
		c := rune(p.src[p.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			return nil, fmt.Errorf("%w: invalid character %q in variable name at offset %d", ErrUnexpectedToken, string(c), p.pos)
		}
		p.pos++
	}
	if p.pos >= len(p.src) {
		return nil, ErrUnterminatedName
	}

	name := p.src[start:p.pos]
	p.pos++ // consume ']'
	if name == "" {
		return nil, fmt.Errorf("%w: empty variable name at offset %d", ErrUnexpectedToken, start)
	}

	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	if !p.seen[name] {
		p.seen[name] = true
		p.vars = append(p.vars, name)
	}

	return variable{name: name}, nil
}
