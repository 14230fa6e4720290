package intercept

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunbk201/flowguard/internal/addon"
	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/rule"
)

type frameSink struct {
	mu     sync.Mutex
	frames []*common.Frame
}

func (s *frameSink) Inject(f *common.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func start(t *testing.T, i *Interceptor, values map[string]any) *addon.Options {
	t.Helper()
	opts := addon.NewOptions()
	require.NoError(t, i.Load(opts))
	_, err := opts.Update(values)
	require.NoError(t, err)
	require.NoError(t, i.Configure(opts, addon.Updated(opts.Names()...)))
	return opts
}

func newWebSocketFlow(id string, sink *frameSink, fromClient bool) (*common.Flow, *common.WebSocketMessage) {
	flow := common.NewFlow(id, httptest.NewRequest("GET", "http://example.com/ws", nil))
	flow.WebSocket = common.NewWebSocketSession(sink)
	msg := common.NewWebSocketMessage(fromClient, websocket.TextMessage, []byte("payload"))
	flow.WebSocket.AddMessage(msg)
	return flow, msg
}

func newResponseFlow(id, target string) *common.Flow {
	flow := common.NewFlow(id, httptest.NewRequest("GET", target, nil))
	flow.SetResponse(&http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("ok")),
	})
	return flow
}

func TestInterceptorLifecycle(t *testing.T) {
	i, err := New(16, nil)
	require.NoError(t, err)
	opts := start(t, i, map[string]any{
		"flow_expr":  "~u /ws$",
		"code":       4000,
		"flow_expr2": "~u /blocked$",
		"code2":      403,
	})

	sink := &frameSink{}
	flow, msg := newWebSocketFlow("f1", sink, false)
	i.WebSocketMessage(flow)
	assert.True(t, msg.Dropped())
	assert.Equal(t, 1, sink.count())

	blocked := newResponseFlow("f2", "http://example.com/blocked")
	i.Response(blocked)
	assert.Equal(t, http.StatusForbidden, blocked.Response().StatusCode)
	assert.Equal(t, "text/plain", blocked.Response().Header.Get("Content-Type"))

	updated, err := opts.Update(map[string]any{"flow_expr2": ""})
	require.NoError(t, err)
	require.NoError(t, i.Configure(opts, updated))

	open := newResponseFlow("f3", "http://example.com/blocked")
	i.Response(open)
	assert.Equal(t, http.StatusOK, open.Response().StatusCode)
}

func TestInterceptorSwallowsErrors(t *testing.T) {
	i, err := New(16, nil)
	require.NoError(t, err)
	start(t, i, map[string]any{"flow_expr": "~all", "code": 4000, "flow_expr2": "~all", "code2": 403})

	plain := common.NewFlow("f1", httptest.NewRequest("GET", "http://example.com/", nil))
	assert.NotPanics(t, func() {
		i.WebSocketMessage(plain)
		i.Response(plain)
		i.WebSocketMessage(nil)
		i.Response(nil)
	})
	assert.Nil(t, plain.Response())
}

func TestInterceptorRecoversPanics(t *testing.T) {
	compile := func(expr string) (common.Predicate, error) {
		return common.PredicateFunc{Expr: expr, Fn: func(*common.FlowSnapshot) bool {
			panic("predicate exploded")
		}}, nil
	}
	store := rule.NewStore(compile, nil)
	engine, err := rule.NewEngine(store, 16, nil)
	require.NoError(t, err)
	i := &Interceptor{Store: store, Engine: engine}
	start(t, i, map[string]any{"flow_expr": "x", "code": 4000})

	sink := &frameSink{}
	flow, msg := newWebSocketFlow("f1", sink, false)
	assert.NotPanics(t, func() { i.WebSocketMessage(flow) })
	assert.False(t, msg.Dropped())

	other := newResponseFlow("f2", "http://example.com/other")
	assert.NotPanics(t, func() { i.Response(other) })
	assert.Equal(t, http.StatusOK, other.Response().StatusCode)
}

func TestInterceptorConcurrentFlows(t *testing.T) {
	i, err := New(1024, nil)
	require.NoError(t, err)
	start(t, i, map[string]any{"flow_expr": "~u /ws$", "code": 4001})

	var wg sync.WaitGroup
	sinks := make([]*frameSink, 50)
	for n := range sinks {
		sinks[n] = &frameSink{}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			flow, _ := newWebSocketFlow(fmt.Sprintf("flow-%d", n), sinks[n], n%2 == 1)
			i.WebSocketMessage(flow)
		}(n)
	}
	wg.Wait()

	for n, sink := range sinks {
		if n%2 == 1 {
			assert.Equal(t, 0, sink.count())
		} else {
			assert.Equal(t, 1, sink.count())
		}
	}
}
