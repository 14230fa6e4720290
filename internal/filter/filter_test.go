package filter

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunbk201/flowguard/internal/common"
)

func newSnapshot(t *testing.T, method, target string) *common.FlowSnapshot {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	flow := common.NewFlow("flow-1", req)
	return flow.Snapshot()
}

func withResponse(s *common.FlowSnapshot, code int, header http.Header) *common.FlowSnapshot {
	s.HasResponse = true
	s.StatusCode = code
	s.ResponseHeader = header
	return s
}

func withMessages(s *common.FlowSnapshot, msgs ...common.MessageView) *common.FlowSnapshot {
	s.WebSocket = true
	s.Messages = msgs
	return s
}

func TestCompileAndMatch(t *testing.T) {
	ws := func(t *testing.T) *common.FlowSnapshot {
		return withMessages(newSnapshot(t, "GET", "http://example.com/ws"),
			common.MessageView{FromClient: true, Type: websocket.TextMessage, Content: []byte("hello")},
			common.MessageView{FromClient: false, Type: websocket.TextMessage, Content: []byte("server says hi")},
		)
	}
	blocked := func(t *testing.T) *common.FlowSnapshot {
		return withResponse(newSnapshot(t, "POST", "https://api.example.com/blocked?x=1"), 200,
			http.Header{"Content-Type": {"application/json"}, "X-Trace": {"abc"}})
	}

	tests := []struct {
		name     string
		expr     string
		snapshot func(t *testing.T) *common.FlowSnapshot
		want     bool
	}{
		{"url suffix", "~u /ws$", ws, true},
		{"url suffix miss", "~u /blocked$", ws, false},
		{"url with query does not end in path", "~u /blocked$", blocked, false},
		{"url contains", "~u /blocked", blocked, true},
		{"bare value is url", "/ws$", ws, true},
		{"domain case insensitive", "~d EXAMPLE\\.COM", ws, true},
		{"domain miss", "~d ^other", ws, false},
		{"method", "~m post", blocked, true},
		{"request header", "~hq \"user-agent: mozilla\"", ws, true},
		{"response header on request-only flow", "~hs x-trace", ws, false},
		{"response header", "~hs \"X-Trace: abc\"", blocked, true},
		{"any header", "~h x-trace", blocked, true},
		{"content type", "~ts json", blocked, true},
		{"status code", "~c 200", blocked, true},
		{"status code miss", "~c 404", blocked, false},
		{"websocket flag", "~websocket", ws, true},
		{"websocket flag on http", "~websocket", blocked, false},
		{"has response", "~s", blocked, true},
		{"no response", "~q", ws, true},
		{"all", "~all", blocked, true},
		{"server message body", "~bs \"says\"", ws, true},
		{"client message body", "~bq \"says\"", ws, false},
		{"not", "!~websocket", blocked, true},
		{"and explicit", "~u /ws$ & ~websocket", ws, true},
		{"and implicit", "~u /ws$ ~m POST", ws, false},
		{"or", "~u /nope | ~websocket", ws, true},
		{"parens", "!(~u /nope | ~m GET)", blocked, true},
		{"precedence and over or", "~m GET | ~m POST & ~c 404", blocked, false},
		{"single quoted", "~u '/blocked\\?x=1'", blocked, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.snapshot(t)))
			assert.Equal(t, tt.expr, p.String())
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"missing argument", "~u"},
		{"unknown operator", "~zz foo"},
		{"bad regex", "~u ("},
		{"bad regex quoted", "~u \"[a-\""},
		{"unbalanced paren", "(~u foo"},
		{"stray paren", "~u foo )"},
		{"dangling and", "~u foo &"},
		{"dangling not", "!"},
		{"unterminated string", "~u \"abc"},
		{"bad code", "~c abc"},
		{"cel syntax", "cel: url ==="},
		{"cel not bool", "cel: url"},
		{"cel unknown variable", "cel: body == 'x'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.expr)
			assert.Nil(t, p)
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrSyntax), "error %v should wrap ErrSyntax", err)
		})
	}
}

func TestCELFilter(t *testing.T) {
	ws := withMessages(newSnapshot(t, "GET", "http://example.com/ws"),
		common.MessageView{FromClient: false, Type: websocket.BinaryMessage, Content: []byte("tick")},
	)
	blocked := withResponse(newSnapshot(t, "GET", "http://example.com/blocked"), 502,
		http.Header{"Server": {"nginx"}})

	tests := []struct {
		name     string
		expr     string
		snapshot *common.FlowSnapshot
		want     bool
	}{
		{"path suffix", "cel: path.endsWith('/ws')", ws, true},
		{"last message from server", "cel: websocket && !last_message.from_client", ws, true},
		{"message content", "cel: messages.exists(m, m.content == 'tick')", ws, true},
		{"status", "cel: has_response && status >= 500", blocked, true},
		{"response header", "cel: response_headers['Server'] == 'nginx'", blocked, true},
		{"request header", "cel: request_headers['User-Agent'].startsWith('Mozilla')", blocked, true},
		{"missing key evaluates false", "cel: last_message.from_client", blocked, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.snapshot))
		})
	}
}

func TestFilterIsPure(t *testing.T) {
	p, err := Compile("~u /ws$ & ~bs tick")
	require.NoError(t, err)

	s := withMessages(newSnapshot(t, "GET", "http://example.com/ws"),
		common.MessageView{FromClient: false, Content: []byte("tick")})
	for i := 0; i < 3; i++ {
		assert.True(t, p.Match(s))
	}
	assert.Equal(t, "tick", string(s.Messages[0].Content))
	assert.Equal(t, "http://example.com/ws", s.URL)
}
