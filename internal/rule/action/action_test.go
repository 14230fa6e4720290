package action

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunbk201/flowguard/internal/common"
)

type frameSink struct {
	frames []*common.Frame
	err    error
}

func (s *frameSink) Inject(f *common.Frame) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func newWebSocketFlow(sink *frameSink, msgs ...*common.WebSocketMessage) *common.Flow {
	flow := common.NewFlow("flow-ws", httptest.NewRequest("GET", "http://example.com/ws", nil))
	flow.WebSocket = common.NewWebSocketSession(sink)
	for _, m := range msgs {
		flow.WebSocket.AddMessage(m)
	}
	return flow
}

func newResponseFlow(status int, header http.Header, body string) *common.Flow {
	flow := common.NewFlow("flow-http", httptest.NewRequest("GET", "http://example.com/blocked", nil))
	flow.SetResponse(&http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	})
	return flow
}

func TestNewAction(t *testing.T) {
	a, err := NewAction(common.ActionCloseWebSocket, 4000, nil)
	require.NoError(t, err)
	assert.Equal(t, common.TriggerWebSocketMessage, a.Trigger())

	a, err = NewAction(common.ActionOverrideResponse, 403, nil)
	require.NoError(t, err)
	assert.Equal(t, common.TriggerHTTPResponse, a.Trigger())

	a, err = NewAction("REDIRECT", 302, nil)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestCloseWebSocketServerMessage(t *testing.T) {
	sink := &frameSink{}
	server := common.NewWebSocketMessage(false, websocket.TextMessage, []byte("push"))
	flow := newWebSocketFlow(sink,
		common.NewWebSocketMessage(true, websocket.TextMessage, []byte("hi")),
		server,
	)

	applied, err := NewCloseWebSocket(4000, nil).Apply(flow)
	require.NoError(t, err)
	assert.True(t, applied)

	assert.True(t, server.Dropped())
	require.Len(t, sink.frames, 1)
	frame := sink.frames[0]
	assert.Equal(t, common.TargetClient, frame.Target)
	assert.Equal(t, 4000, frame.Code)
	assert.Equal(t, []byte(DefaultCloseReason), frame.Reason)
	assert.False(t, frame.Text)
	assert.True(t, frame.Close)
	assert.False(t, frame.InitiatedByServer)
	assert.Equal(t, websocket.FormatCloseMessage(4000, DefaultCloseReason), frame.Payload)

	code, closing := flow.WebSocket.CloseCode()
	assert.True(t, closing)
	assert.Equal(t, 4000, code)
}

func TestCloseWebSocketClientMessage(t *testing.T) {
	sink := &frameSink{}
	client := common.NewWebSocketMessage(true, websocket.TextMessage, []byte("hi"))
	flow := newWebSocketFlow(sink, client)

	applied, err := NewCloseWebSocket(4000, nil).Apply(flow)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, client.Dropped())
	assert.Empty(t, sink.frames)
	assert.False(t, flow.WebSocket.Closing())
}

func TestCloseWebSocketErrors(t *testing.T) {
	a := NewCloseWebSocket(4000, nil)

	t.Run("no session", func(t *testing.T) {
		flow := common.NewFlow("f", httptest.NewRequest("GET", "http://example.com/ws", nil))
		err := a.Execute(flow)
		assert.ErrorIs(t, err, common.ErrPrecondition)
	})

	t.Run("no messages", func(t *testing.T) {
		err := a.Execute(newWebSocketFlow(&frameSink{}))
		assert.ErrorIs(t, err, common.ErrPrecondition)
	})

	t.Run("transport rejects", func(t *testing.T) {
		boom := errors.New("broken pipe")
		flow := newWebSocketFlow(&frameSink{err: boom},
			common.NewWebSocketMessage(false, websocket.BinaryMessage, []byte{1}))
		err := a.Execute(flow)
		assert.ErrorIs(t, err, common.ErrActuator)
		assert.ErrorIs(t, err, boom)
		assert.False(t, flow.WebSocket.Closing())
	})

	t.Run("already closing", func(t *testing.T) {
		sink := &frameSink{}
		flow := newWebSocketFlow(sink,
			common.NewWebSocketMessage(false, websocket.TextMessage, []byte("a")))
		require.NoError(t, a.Execute(flow))
		flow.WebSocket.AddMessage(common.NewWebSocketMessage(false, websocket.TextMessage, []byte("b")))

		err := a.Execute(flow)
		assert.ErrorIs(t, err, common.ErrActuator)
		assert.ErrorIs(t, err, common.ErrSessionClosing)
		assert.Len(t, sink.frames, 1)
	})
}

func TestOverrideResponse(t *testing.T) {
	header := http.Header{
		"Content-Type": {"application/json"},
		"Set-Cookie":   {"a=1", "b=2"},
	}
	flow := newResponseFlow(200, header, `{"ok":true}`)

	applied, err := NewOverrideResponse(403, nil).Apply(flow)
	require.NoError(t, err)
	assert.True(t, applied)

	resp := flow.Response()
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "403 Forbidden", resp.Status)
	assert.Equal(t, header, resp.Header)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)

	resp.Header.Set("X-Extra", "1")
	assert.Empty(t, header.Get("X-Extra"), "override must not alias the upstream header map")
}

func TestOverrideResponseWithoutResponse(t *testing.T) {
	flow := common.NewFlow("f", httptest.NewRequest("GET", "http://example.com/blocked", nil))
	err := NewOverrideResponse(403, nil).Execute(flow)
	assert.ErrorIs(t, err, common.ErrPrecondition)
	assert.Nil(t, flow.Response())
}
