package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pitabwire/formflow/model"
)

// Expression is a compiled step condition. The grammar is:
//
//	or      = and { ("OR" | "||") and }
//	and     = not { ("AND" | "&&") not }
//	not     = ("NOT" | "!") not | compare
//	compare = operand [ ("==" | "=" | "!=" | "<>" | "<" | ">" | "<=" | ">=") operand ]
//	operand = number | string | true | false | null | identifier | "(" or ")"
//
// Keywords are case-insensitive. Identifiers may contain letters, digits,
// '_', '-' and '.', and resolve against the variable snapshot; undefined
// identifiers are null.
type Expression struct {
	source string
	root   node
	vars   []string
}

// Compile parses an expression.
func Compile(src string) (*Expression, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, seen: map[string]bool{}}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("condition %q: unexpected %q at offset %d", src, p.peek().text, p.peek().pos)
	}
	return &Expression{source: src, root: root, vars: p.vars}, nil
}

// MustCompile is Compile for expressions known to be valid.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expression) String() string { return e.source }

// Variables returns the identifiers referenced, in first-use order.
func (e *Expression) Variables() []string { return e.vars }

// Eval evaluates the expression against vars and returns its truthiness.
func (e *Expression) Eval(vars model.Values) (bool, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", e.source, err)
	}
	return truthy(v), nil
}

// StepEligible reports whether a step guarded by cond runs. A nil condition
// holds; evaluation errors count as false; a parent condition must also hold.
func StepEligible(cond *model.StepCondition, vars model.Values) bool {
	for c := cond; c != nil; c = c.Parent {
		if strings.TrimSpace(c.Expression) == "" {
			continue
		}
		expr, err := Compile(c.Expression)
		if err != nil {
			return false
		}
		ok, err := expr.Eval(vars)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// --- AST ---

type node interface {
	eval(vars model.Values) (model.Value, error)
}

type literalNode struct{ v model.Value }

func (n literalNode) eval(model.Values) (model.Value, error) { return n.v, nil }

type identNode struct{ name string }

func (n identNode) eval(vars model.Values) (model.Value, error) { return vars.Get(n.name), nil }

type notNode struct{ x node }

func (n notNode) eval(vars model.Values) (model.Value, error) {
	v, err := n.x.eval(vars)
	if err != nil {
		return model.Null(), err
	}
	return model.Bool(!truthy(v)), nil
}

type logicNode struct {
	and         bool
	left, right node
}

func (n logicNode) eval(vars model.Values) (model.Value, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return model.Null(), err
	}
	if n.and && !truthy(l) {
		return model.Bool(false), nil
	}
	if !n.and && truthy(l) {
		return model.Bool(true), nil
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return model.Null(), err
	}
	return model.Bool(truthy(r)), nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n compareNode) eval(vars model.Values) (model.Value, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return model.Null(), err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return model.Null(), err
	}

	switch n.op {
	case "==", "=":
		return model.Bool(looseEqual(l, r)), nil
	case "!=", "<>":
		return model.Bool(!looseEqual(l, r)), nil
	}

	if l.IsNull() || r.IsNull() {
		return model.Bool(false), nil
	}
	c, err := order(l, r)
	if err != nil {
		return model.Null(), err
	}
	switch n.op {
	case "<":
		return model.Bool(c < 0), nil
	case ">":
		return model.Bool(c > 0), nil
	case "<=":
		return model.Bool(c <= 0), nil
	case ">=":
		return model.Bool(c >= 0), nil
	}
	return model.Null(), fmt.Errorf("unknown operator %q", n.op)
}

func truthy(v model.Value) bool {
	switch v.Kind() {
	case model.KindBool:
		b, _ := v.Boolean()
		return b
	case model.KindNumber:
		n, _ := v.Num()
		return n != 0
	case model.KindString:
		s, _ := v.Str()
		return s != ""
	case model.KindList:
		return len(v.Items()) > 0
	case model.KindRaw:
		return true
	}
	return false
}

// asNumber coerces numbers, numeric strings and booleans.
func asNumber(v model.Value) (float64, bool) {
	switch v.Kind() {
	case model.KindNumber:
		return v.Num()
	case model.KindString:
		s, _ := v.Str()
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	case model.KindBool:
		if b, _ := v.Boolean(); b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func looseEqual(l, r model.Value) bool {
	if l.Kind() == r.Kind() {
		return l.Equal(r)
	}
	if l.IsNull() || r.IsNull() {
		return false
	}
	a, okA := asNumber(l)
	b, okB := asNumber(r)
	return okA && okB && a == b
}

func order(l, r model.Value) (int, error) {
	if ls, ok := l.Str(); ok {
		if rs, ok := r.Str(); ok {
			return strings.Compare(ls, rs), nil
		}
	}
	a, okA := asNumber(l)
	b, okB := asNumber(r)
	if !okA || !okB {
		return 0, fmt.Errorf("cannot order %s and %s", l.Kind(), r.Kind())
	}
	switch {
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	}
	return 0, nil
}

// --- Parser ---

type parser struct {
	toks []token
	pos  int
	vars []string
	seen map[string]bool
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicNode{and: false, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = logicNode{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokCompare {
		return left, nil
	}
	op := p.next().text
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return compareNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", t.text, t.pos)
		}
		return literalNode{v: model.Number(f)}, nil
	case tokString:
		return literalNode{v: model.String(t.text)}, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return literalNode{v: model.Bool(true)}, nil
		case "false":
			return literalNode{v: model.Bool(false)}, nil
		case "null", "undefined":
			return literalNode{v: model.Null()}, nil
		}
		if !p.seen[t.text] {
			p.seen[t.text] = true
			p.vars = append(p.vars, t.text)
		}
		return identNode{name: t.text}, nil
	case tokLParen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing ')' for '(' at offset %d", t.pos)
		}
		return x, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
}

// --- Lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokCompare
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("condition %q: unterminated string at offset %d", src, i)
			}
			toks = append(toks, token{tokString, src[i+1 : i+1+end], i})
			i += end + 2
		case c == '&' || c == '|':
			if i+1 >= len(src) || src[i+1] != c {
				return nil, fmt.Errorf("condition %q: unexpected %q at offset %d", src, c, i)
			}
			kind := tokAnd
			if c == '|' {
				kind = tokOr
			}
			toks = append(toks, token{kind, src[i : i+2], i})
			i += 2
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(src) {
				two := src[i : i+2]
				switch two {
				case "==", "!=", "<>", "<=", ">=":
					op = two
				}
			}
			if op == "!" {
				toks = append(toks, token{tokNot, op, i})
			} else {
				toks = append(toks, token{tokCompare, op, i})
			}
			i += len(op)
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			i++
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			word := src[start:i]
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{tokAnd, word, start})
			case "OR":
				toks = append(toks, token{tokOr, word, start})
			case "NOT":
				toks = append(toks, token{tokNot, word, start})
			default:
				toks = append(toks, token{tokIdent, word, start})
			}
		default:
			return nil, fmt.Errorf("condition %q: unexpected %q at offset %d", src, c, i)
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '-' || r == '.'
}
