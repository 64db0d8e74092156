package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aerovista/skyconform/pkg/result"
)

// The condition grammar is deliberately closed: three macros, comparison and
// boolean operators, literals, and ${{ ... }} references. It is parsed by a
// hand-written recursive-descent parser into a small AST and evaluated
// directly, so evaluation is total and side-effect-free.
//
//	or     := and ( '||' and )*
//	and    := unary ( '&&' unary )*
//	unary  := '!' unary | cmp
//	cmp    := term ( ( '==' | '!=' | '<' | '>' | '<=' | '>=' ) term )?
//	term   := '(' or ')' | literal | macro '(' ')' | reference
//
// A reference is either ${{ path }} or a bare dotted path rooted at steps.,
// loop., or group.; both forms resolve identically.

// EvalCondition evaluates a gating condition against env. The empty string
// means "always run". A malformed expression logs the cause and evaluates
// to false; it never aborts the run.
func EvalCondition(cond string, env *Env) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}
	node, err := ParseCondition(cond)
	if err != nil {
		env.logger().Warn("condition parse failed, treating as false", "condition", cond, "error", err)
		return false
	}
	v, err := node.eval(env)
	if err != nil {
		env.logger().Warn("condition evaluation failed, treating as false", "condition", cond, "error", err)
		return false
	}
	return truthy(v)
}

// UsesFailureBranch reports whether cond opts in to running after an earlier
// failure, i.e. it mentions failure() or always(). Such steps escape the
// automatic skip cascade and get normal condition evaluation instead.
func UsesFailureBranch(cond string) bool {
	node, err := ParseCondition(cond)
	if err != nil {
		return false
	}
	return mentionsMacro(node, "failure") || mentionsMacro(node, "always")
}

// ParseCondition parses cond into its AST. Exposed for validation: scenario
// linting parses every condition up front to report problems before a run.
func ParseCondition(cond string) (Node, error) {
	toks, err := lex(cond)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.toks[p.pos].text, p.toks[p.pos].off)
	}
	return node, nil
}

// --- AST ---

// Node is one node of a parsed condition.
type Node interface {
	eval(env *Env) (any, error)
}

type litNode struct{ val any }

type refNode struct{ path string }

type macroNode struct{ name string }

type notNode struct{ operand Node }

type binNode struct {
	op          string
	left, right Node
}

func (n *litNode) eval(*Env) (any, error) { return n.val, nil }

func (n *refNode) eval(env *Env) (any, error) {
	return resolvePath(n.path, env), nil
}

func (n *macroNode) eval(env *Env) (any, error) {
	switch n.name {
	case "always":
		return true, nil
	case "success":
		return env.LastCompleted == "" || env.LastCompleted == result.StatusPass, nil
	case "failure":
		return env.LastCompleted == result.StatusFail, nil
	}
	return nil, fmt.Errorf("unknown macro %q", n.name)
}

func (n *notNode) eval(env *Env) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

func (n *binNode) eval(env *Env) (any, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	// Short-circuit boolean combinators.
	switch n.op {
	case "&&":
		if !truthy(l) {
			return false, nil
		}
		r, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case "||":
		if truthy(l) {
			return true, nil
		}
		r, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}
	r, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "<", ">", "<=", ">=":
		return order(n.op, l, r)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func mentionsMacro(n Node, name string) bool {
	switch node := n.(type) {
	case *macroNode:
		return node.name == name
	case *notNode:
		return mentionsMacro(node.operand, name)
	case *binNode:
		return mentionsMacro(node.left, name) || mentionsMacro(node.right, name)
	}
	return false
}

// --- value semantics ---

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

// equal compares numerically when both sides are numbers (or numeric
// strings), otherwise by string rendering. References yield typed values,
// literals arrive as string/float64/bool.
func equal(l, r any) bool {
	if lf, lok := asNumber(l); lok {
		if rf, rok := asNumber(r); rok {
			return lf == rf
		}
	}
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	return fmt.Sprint(l) == fmt.Sprint(r)
}

func order(op string, l, r any) (any, error) {
	lf, lok := asNumber(l)
	rf, rok := asNumber(r)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case ">":
			return lf > rf, nil
		case "<=":
			return lf <= rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lsok := l.(string)
	rs, rsok := r.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case ">":
			return ls > rs, nil
		case "<=":
			return ls <= rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("cannot order %T and %T with %s", l, r, op)
}

func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}

// --- lexer ---

type tokKind int

const (
	tokLit tokKind = iota // string/number/bool literal
	tokRef                // ${{ ... }}
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	val  any
	off  int
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.HasPrefix(s[i:], "${{"):
			end := strings.Index(s[i:], "}}")
			if end < 0 {
				return nil, fmt.Errorf("unterminated reference at offset %d", i)
			}
			inner := strings.TrimSpace(s[i+3 : i+end])
			toks = append(toks, token{kind: tokRef, text: inner, off: i})
			i += end + 2
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", off: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", off: i})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{kind: tokLit, text: s[i : i+end+2], val: s[i+1 : i+1+end], off: i})
			i += end + 2
		case strings.HasPrefix(s[i:], "&&"), strings.HasPrefix(s[i:], "||"),
			strings.HasPrefix(s[i:], "=="), strings.HasPrefix(s[i:], "!="),
			strings.HasPrefix(s[i:], "<="), strings.HasPrefix(s[i:], ">="):
			toks = append(toks, token{kind: tokOp, text: s[i : i+2], off: i})
			i += 2
		case c == '<' || c == '>' || c == '!':
			toks = append(toks, token{kind: tokOp, text: string(c), off: i})
			i++
		case c >= '0' && c <= '9' || c == '-':
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			f, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q at offset %d", s[i:j], i)
			}
			toks = append(toks, token{kind: tokLit, text: s[i:j], val: f, off: i})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			word := s[i:j]
			switch {
			case word == "true":
				toks = append(toks, token{kind: tokLit, text: word, val: true, off: i})
			case word == "false":
				toks = append(toks, token{kind: tokLit, text: word, val: false, off: i})
			case isRefRoot(word) && j < len(s) && s[j] == '.':
				// Bare dotted reference: steps.u.status is shorthand for
				// ${{ steps.u.status }}.
				for j < len(s) && isPathChar(s[j]) {
					j++
				}
				toks = append(toks, token{kind: tokRef, text: s[i:j], off: i})
			default:
				toks = append(toks, token{kind: tokIdent, text: word, off: i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func isRefRoot(word string) bool {
	return word == "steps" || word == "loop" || word == "group"
}

// isPathChar covers reference paths: dotted segments, hyphenated step ids,
// and loop-instance indices like probe[2].
func isPathChar(c byte) bool {
	return isIdentChar(c) || c == '.' || c == '-' || c == '[' || c == ']'
}

// --- parser ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || t.text != "||" {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || t.text != "&&" {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if t, ok := p.peek(); ok && t.kind == tokOp && t.text == "!" {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseCmp()
}

var cmpOps = map[string]bool{"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

func (p *parser) parseCmp() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	t, ok := p.peek()
	if !ok || t.kind != tokOp || !cmpOps[t.text] {
		return left, nil
	}
	p.pos++
	right, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return &binNode{op: t.text, left: left, right: right}, nil
}

func (p *parser) parseTerm() (Node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of condition")
	}
	switch t.kind {
	case tokLit:
		p.pos++
		return &litNode{val: t.val}, nil
	case tokRef:
		p.pos++
		return &refNode{path: t.text}, nil
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if nxt, ok := p.peek(); !ok || nxt.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case tokIdent:
		// Only the three macros are legal identifiers, and only as calls.
		switch t.text {
		case "success", "failure", "always":
			p.pos++
			if lp, ok := p.peek(); !ok || lp.kind != tokLParen {
				return nil, fmt.Errorf("%s must be called as %s()", t.text, t.text)
			}
			p.pos++
			if rp, ok := p.peek(); !ok || rp.kind != tokRParen {
				return nil, fmt.Errorf("%s(): missing closing parenthesis", t.text)
			}
			p.pos++
			return &macroNode{name: t.text}, nil
		}
		return nil, fmt.Errorf("unknown identifier %q at offset %d", t.text, t.off)
	}
	return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.off)
}
