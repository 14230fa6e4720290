// Package filter compiles flow filter expressions into predicates.
//
// Two dialects are accepted. The default is the proxy filter syntax:
//
//	~u /ws$            request URL matches a regex
//	~d example\.com    host matches a regex
//	~m GET             method matches a regex
//	~h, ~hq, ~hs       any, request or response header line "Name: value"
//	~t, ~tq, ~ts       any, request or response Content-Type
//	~b, ~bq, ~bs       any, client or server websocket message content
//	~c 403             response status code
//	~all ~http ~websocket ~q ~s
//
// combined with !, & (or juxtaposition), | and parentheses. A bare value is
// a URL regex. Expressions prefixed with "cel:" are compiled as CEL.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/sunbk201/flowguard/internal/common"
)

var ErrSyntax = errors.New("filter syntax error")

const celPrefix = "cel:"

// Filter is a compiled filter expression.
type Filter struct {
	expr string
	root node
}

func (f *Filter) Match(s *common.FlowSnapshot) bool {
	return f.root.match(s)
}

func (f *Filter) String() string {
	return f.expr
}

func (f *Filter) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("expr", f.expr),
		slog.String("tree", f.root.String()),
	)
}

// Compile parses expr. An empty expression is an error: callers treat an
// empty option as a disabled rule before compiling.
func Compile(expr string) (common.Predicate, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	if strings.HasPrefix(trimmed, celPrefix) {
		f, err := compileCEL(expr, strings.TrimSpace(strings.TrimPrefix(trimmed, celPrefix)))
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	tokens, err := lex(trimmed)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.peek().text, p.peek().pos)
	}
	return &Filter{expr: expr, root: root}, nil
}

type tokenKind int

const (
	tokOperator tokenKind = iota
	tokValue
	tokNot
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(s string) ([]token, error) {
	var tokens []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '!':
			tokens = append(tokens, token{kind: tokNot, text: "!", pos: i})
			i++
		case r == '&':
			tokens = append(tokens, token{kind: tokAnd, text: "&", pos: i})
			i++
		case r == '|':
			tokens = append(tokens, token{kind: tokOr, text: "|", pos: i})
			i++
		case r == '~':
			start := i
			i++
			for i < len(runes) && unicode.IsLetter(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokOperator, text: string(runes[start:i]), pos: start})
		case r == '"' || r == '\'':
			start := i
			quote := r
			var sb strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) && runes[i+1] == quote {
					sb.WriteRune(quote)
					i += 2
					continue
				}
				if runes[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, start)
			}
			tokens = append(tokens, token{kind: tokValue, text: sb.String(), pos: start})
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && runes[i] != '(' && runes[i] != ')' {
				i++
			}
			tokens = append(tokens, token{kind: tokValue, text: string(runes[start:i]), pos: start})
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	nodes := []node{first}
	for !p.done() && p.peek().kind == tokOr {
		p.next()
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return orNode{nodes: nodes}, nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	nodes := []node{first}
	for !p.done() {
		switch p.peek().kind {
		case tokAnd:
			p.next()
		case tokOr, tokRParen:
			return collapseAnd(nodes), nil
		}
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return collapseAnd(nodes), nil
}

func collapseAnd(nodes []node) node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return andNode{nodes: nodes}
}

func (p *parser) parseUnary() (node, error) {
	if p.done() {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return nil, fmt.Errorf("%w: missing ) for ( at offset %d", ErrSyntax, t.pos)
		}
		p.next()
		return n, nil
	case tokOperator:
		if fn, ok := flags[t.text]; ok {
			return flagMatch{op: t.text, fn: fn}, nil
		}
		if p.done() || p.peek().kind != tokValue {
			return nil, fmt.Errorf("%w: %s at offset %d requires an argument", ErrSyntax, t.text, t.pos)
		}
		arg := p.next()
		n, err := newOperator(t.text, arg.text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		return n, nil
	case tokValue:
		n, err := newOperator("~u", t.text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, t.text, t.pos)
	}
}
