// Package intercept exposes the rule engine to a proxy runtime as an addon.
package intercept

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/sunbk201/flowguard/internal/addon"
	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/log"
	"github.com/sunbk201/flowguard/internal/rule"
	"github.com/sunbk201/flowguard/internal/statistics"
)

var _ addon.Addon = (*Interceptor)(nil)

// Interceptor closes websocket flows and overrides responses according to
// the configured rules. Errors are logged, never returned to the runtime.
type Interceptor struct {
	Store  *rule.Store
	Engine *rule.Engine

	recorder *statistics.Recorder
}

func New(dedupSize int, recorder *statistics.Recorder) (*Interceptor, error) {
	store := rule.NewStore(nil, recorder)
	engine, err := rule.NewEngine(store, dedupSize, recorder)
	if err != nil {
		return nil, err
	}
	return &Interceptor{
		Store:    store,
		Engine:   engine,
		recorder: recorder,
	}, nil
}

func (i *Interceptor) Load(loader addon.Loader) error {
	return i.Store.Load(loader)
}

func (i *Interceptor) Configure(opts addon.OptionReader, updated map[string]struct{}) error {
	if len(updated) == 0 {
		return nil
	}
	return i.Store.Configure(opts, updated)
}

func (i *Interceptor) WebSocketMessage(flow *common.Flow) {
	defer i.recoverHook(flow, "websocket_message")
	if err := i.Engine.OnWebSocketMessage(flow); err != nil {
		log.LogWarnWithFlow(flow, "WebSocket message handling failed", slog.Any("error", err))
	}
}

func (i *Interceptor) Response(flow *common.Flow) {
	defer i.recoverHook(flow, "response")
	if err := i.Engine.OnHTTPResponse(flow); err != nil {
		log.LogWarnWithFlow(flow, "Response handling failed", slog.Any("error", err))
	}
}

func (i *Interceptor) recoverHook(flow *common.Flow, hook string) {
	if r := recover(); r != nil {
		log.LogErrorWithFlow(flow, fmt.Sprintf("Panic in %s hook", hook),
			slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		i.recorder.ActionResult(hook, statistics.ResultFailed)
	}
}
