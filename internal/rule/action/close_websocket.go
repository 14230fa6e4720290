package action

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/log"
	"github.com/sunbk201/flowguard/internal/statistics"
)

const DefaultCloseReason = "Closed by proxy"

// CloseWebSocket drops the last server message of a session and injects a
// close frame towards the client. Client messages are left alone.
type CloseWebSocket struct {
	recorder          *statistics.Recorder
	code              int
	reason            []byte
	initiatedByServer bool
}

func (c *CloseWebSocket) Type() common.ActionType {
	return common.ActionCloseWebSocket
}

func (c *CloseWebSocket) Trigger() common.Trigger {
	return common.TriggerWebSocketMessage
}

func (c *CloseWebSocket) Code() int {
	return c.code
}

func (c *CloseWebSocket) Execute(flow *common.Flow) error {
	_, err := c.Apply(flow)
	return err
}

// Apply is Execute that also reports whether the flow was changed. A client
// originated last message yields (false, nil).
func (c *CloseWebSocket) Apply(flow *common.Flow) (bool, error) {
	if flow == nil || flow.WebSocket == nil {
		return false, fmt.Errorf("%s: %w: flow has no websocket session", c.Type(), common.ErrPrecondition)
	}
	last, index := flow.WebSocket.LastMessage()
	if last == nil {
		return false, fmt.Errorf("%s: %w: websocket session has no messages", c.Type(), common.ErrPrecondition)
	}
	if last.FromClient {
		log.LogDebugWithFlow(flow, "Skip close on client message", slog.Int("index", index))
		return false, nil
	}

	if _, err := flow.WebSocket.DropLastMessage(); err != nil {
		return false, fmt.Errorf("%s: %w", c.Type(), err)
	}
	if err := flow.WebSocket.InjectClose(common.TargetClient, c.reason, c.code, c.initiatedByServer); err != nil {
		return false, fmt.Errorf("%s: %w: %w", c.Type(), common.ErrActuator, err)
	}

	log.LogInfoWithFlow(flow, "WebSocket closed", slog.Int("code", c.code), slog.Int("index", index))
	c.recorder.AddRecord(&statistics.ActionRecord{
		Host:   flow.Host(),
		Action: string(c.Type()),
		Code:   c.code,
	})
	return true, nil
}

func (c *CloseWebSocket) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":                c.Type(),
		"code":                c.code,
		"reason":              string(c.reason),
		"initiated_by_server": c.initiatedByServer,
	})
}

func (c *CloseWebSocket) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(c.Type())),
		slog.Int("code", c.code),
		slog.String("reason", string(c.reason)),
	)
}

func NewCloseWebSocket(code int, recorder *statistics.Recorder) *CloseWebSocket {
	return &CloseWebSocket{
		recorder:          recorder,
		code:              code,
		reason:            []byte(DefaultCloseReason),
		initiatedByServer: false,
	}
}
