package rule

import (
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/config"
	"github.com/sunbk201/flowguard/internal/log"
	"github.com/sunbk201/flowguard/internal/statistics"
)

// applier is implemented by actions that can tell whether they changed the
// flow.
type applier interface {
	Apply(flow *common.Flow) (bool, error)
}

// Engine dispatches flow events to the rules of the current generation. Each
// event instance is actuated at most once.
type Engine struct {
	store    *Store
	applied  *lru.Cache[string, struct{}]
	recorder *statistics.Recorder
}

func NewEngine(store *Store, dedupSize int, recorder *statistics.Recorder) (*Engine, error) {
	if dedupSize <= 0 {
		dedupSize = config.DefaultDedupSize
	}
	applied, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("lru.New: %w", err)
	}
	return &Engine{
		store:    store,
		applied:  applied,
		recorder: recorder,
	}, nil
}

// OnWebSocketMessage handles the arrival of the newest message of a
// websocket flow.
func (e *Engine) OnWebSocketMessage(flow *common.Flow) error {
	rules := e.enabled(common.TriggerWebSocketMessage)
	if len(rules) == 0 {
		return nil
	}
	if err := checkFlow(flow); err != nil {
		return fmt.Errorf("websocket message event: %w", err)
	}
	if flow.WebSocket == nil {
		return fmt.Errorf("websocket message event: %w: flow has no websocket session", common.ErrPrecondition)
	}
	_, index := flow.WebSocket.LastMessage()
	if index < 0 {
		return fmt.Errorf("websocket message event: %w: websocket session has no messages", common.ErrPrecondition)
	}
	return e.dispatch(rules, flow, fmt.Sprintf("%s/ws/%d", flow.ID, index))
}

// OnHTTPResponse handles a received upstream response.
func (e *Engine) OnHTTPResponse(flow *common.Flow) error {
	rules := e.enabled(common.TriggerHTTPResponse)
	if len(rules) == 0 {
		return nil
	}
	if err := checkFlow(flow); err != nil {
		return fmt.Errorf("response event: %w", err)
	}
	return e.dispatch(rules, flow, flow.ID+"/response")
}

// Evaluate returns the first rule bound to trigger that matches flow without
// actuating it.
func (e *Engine) Evaluate(trigger common.Trigger, flow *common.Flow) (*Rule, bool) {
	if flow == nil {
		return nil, false
	}
	snapshot := flow.Snapshot()
	for _, r := range e.store.Rules().ForTrigger(trigger) {
		if r.Match(snapshot) {
			return r, true
		}
	}
	return nil, false
}

// Ledger keys are derived from the flow ID, so a flow without one cannot be
// told apart from any other.
func checkFlow(flow *common.Flow) error {
	switch {
	case flow == nil:
		return fmt.Errorf("%w: nil flow", common.ErrPrecondition)
	case flow.ID == "":
		return fmt.Errorf("%w: flow has no id", common.ErrPrecondition)
	}
	return nil
}

func (e *Engine) enabled(trigger common.Trigger) []*Rule {
	var rules []*Rule
	for _, r := range e.store.Rules().ForTrigger(trigger) {
		if r.Enabled() {
			rules = append(rules, r)
		}
	}
	return rules
}

func (e *Engine) dispatch(rules []*Rule, flow *common.Flow, event string) error {
	snapshot := flow.Snapshot()

	var errs []error
	for _, r := range rules {
		if !r.Match(snapshot) {
			continue
		}
		e.recorder.RuleMatched(r.ID)
		log.LogDebugWithFlow(flow, "Rule matched", slog.Any("rule", r))

		if r.Action == nil {
			log.LogDebugWithFlow(flow, "Rule has no code, skipping", slog.String("rule", r.ID))
			continue
		}
		key := event + "/" + r.ID
		if seen, _ := e.applied.ContainsOrAdd(key, struct{}{}); seen {
			log.LogDebugWithFlow(flow, "Event already handled", slog.String("rule", r.ID), slog.String("event", event))
			continue
		}
		if err := e.execute(r, flow); err != nil {
			// The event never reached the actuator, a later one may still.
			if errors.Is(err, common.ErrPrecondition) {
				e.applied.Remove(key)
			}
			errs = append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) execute(r *Rule, flow *common.Flow) error {
	actionType := string(r.Action.Type())
	var (
		applied bool
		err     error
	)
	if a, ok := r.Action.(applier); ok {
		applied, err = a.Apply(flow)
	} else {
		err = r.Action.Execute(flow)
		applied = err == nil
	}

	switch {
	case err != nil:
		e.recorder.ActionResult(actionType, statistics.ResultFailed)
	case applied:
		e.recorder.ActionResult(actionType, statistics.ResultApplied)
	default:
		e.recorder.ActionResult(actionType, statistics.ResultSkipped)
	}
	return err
}
