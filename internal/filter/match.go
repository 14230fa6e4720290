package filter

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/sunbk201/flowguard/internal/common"
)

const matchTimeout = 100 * time.Millisecond

type node interface {
	match(s *common.FlowSnapshot) bool
	String() string
}

type rex struct {
	op    string
	expr  string
	regex *regexp2.Regexp
}

func newRex(op, expr string, opts regexp2.RegexOptions) (*rex, error) {
	regex, err := regexp2.Compile(expr, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: regexp2.Compile %q: %w", op, expr, err)
	}
	regex.MatchTimeout = matchTimeout
	return &rex{op: op, expr: expr, regex: regex}, nil
}

func (r *rex) matchString(s string) bool {
	matched, err := r.regex.MatchString(s)
	if err != nil {
		slog.Debug("regexp2.MatchString", slog.String("op", r.op), slog.Any("error", err))
		return false
	}
	return matched
}

func (r *rex) String() string {
	return r.op + " " + strconv.Quote(r.expr)
}

type urlMatch struct{ *rex }

func (m urlMatch) match(s *common.FlowSnapshot) bool {
	return m.matchString(s.URL)
}

type domainMatch struct{ *rex }

func (m domainMatch) match(s *common.FlowSnapshot) bool {
	return m.matchString(s.Host)
}

type methodMatch struct{ *rex }

func (m methodMatch) match(s *common.FlowSnapshot) bool {
	return m.matchString(s.Method)
}

type headerMatch struct {
	*rex
	request  bool
	response bool
}

func (m headerMatch) match(s *common.FlowSnapshot) bool {
	if m.request && m.matchHeader(s.RequestHeader) {
		return true
	}
	return m.response && s.HasResponse && m.matchHeader(s.ResponseHeader)
}

// matchHeader tests every "Name: value" line.
func (m headerMatch) matchHeader(h http.Header) bool {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h[name] {
			if m.matchString(name + ": " + v) {
				return true
			}
		}
	}
	return false
}

type contentTypeMatch struct {
	*rex
	request  bool
	response bool
}

func (m contentTypeMatch) match(s *common.FlowSnapshot) bool {
	if m.request && m.matchString(s.RequestHeader.Get("Content-Type")) {
		return true
	}
	return m.response && s.HasResponse && m.matchString(s.ResponseHeader.Get("Content-Type"))
}

// messageMatch tests websocket message contents.
type messageMatch struct {
	*rex
	client bool
	server bool
}

func (m messageMatch) match(s *common.FlowSnapshot) bool {
	for _, msg := range s.Messages {
		if msg.FromClient && !m.client || !msg.FromClient && !m.server {
			continue
		}
		if m.matchString(string(msg.Content)) {
			return true
		}
	}
	return false
}

type codeMatch struct {
	code int
}

func (m codeMatch) match(s *common.FlowSnapshot) bool {
	return s.HasResponse && s.StatusCode == m.code
}

func (m codeMatch) String() string {
	return "~c " + strconv.Itoa(m.code)
}

type flagMatch struct {
	op string
	fn func(s *common.FlowSnapshot) bool
}

func (m flagMatch) match(s *common.FlowSnapshot) bool {
	return m.fn(s)
}

func (m flagMatch) String() string {
	return m.op
}

type notNode struct {
	inner node
}

func (n notNode) match(s *common.FlowSnapshot) bool {
	return !n.inner.match(s)
}

func (n notNode) String() string {
	return "!" + n.inner.String()
}

type andNode struct {
	nodes []node
}

func (n andNode) match(s *common.FlowSnapshot) bool {
	for _, c := range n.nodes {
		if !c.match(s) {
			return false
		}
	}
	return true
}

func (n andNode) String() string {
	return join(n.nodes, " & ")
}

type orNode struct {
	nodes []node
}

func (n orNode) match(s *common.FlowSnapshot) bool {
	for _, c := range n.nodes {
		if c.match(s) {
			return true
		}
	}
	return false
}

func (n orNode) String() string {
	return join(n.nodes, " | ")
}

func join(nodes []node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

var flags = map[string]func(s *common.FlowSnapshot) bool{
	"~all":       func(*common.FlowSnapshot) bool { return true },
	"~http":      func(s *common.FlowSnapshot) bool { return s.Method != "" },
	"~websocket": func(s *common.FlowSnapshot) bool { return s.WebSocket },
	"~q":         func(s *common.FlowSnapshot) bool { return !s.HasResponse },
	"~s":         func(s *common.FlowSnapshot) bool { return s.HasResponse },
}

// newOperator builds the node for an operator taking an argument.
func newOperator(op, arg string) (node, error) {
	switch op {
	case "~u":
		r, err := newRex(op, arg, regexp2.None)
		if err != nil {
			return nil, err
		}
		return urlMatch{r}, nil
	case "~d":
		r, err := newRex(op, arg, regexp2.IgnoreCase)
		if err != nil {
			return nil, err
		}
		return domainMatch{r}, nil
	case "~m":
		r, err := newRex(op, arg, regexp2.IgnoreCase)
		if err != nil {
			return nil, err
		}
		return methodMatch{r}, nil
	case "~h", "~hq", "~hs":
		r, err := newRex(op, arg, regexp2.IgnoreCase)
		if err != nil {
			return nil, err
		}
		return headerMatch{rex: r, request: op != "~hs", response: op != "~hq"}, nil
	case "~t", "~tq", "~ts":
		r, err := newRex(op, arg, regexp2.IgnoreCase)
		if err != nil {
			return nil, err
		}
		return contentTypeMatch{rex: r, request: op != "~ts", response: op != "~tq"}, nil
	case "~b", "~bq", "~bs":
		r, err := newRex(op, arg, regexp2.None)
		if err != nil {
			return nil, err
		}
		return messageMatch{rex: r, client: op != "~bs", server: op != "~bq"}, nil
	case "~c":
		code, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("~c: invalid status code %q", arg)
		}
		return codeMatch{code: code}, nil
	default:
		return nil, fmt.Errorf("unknown operator %s", op)
	}
}
