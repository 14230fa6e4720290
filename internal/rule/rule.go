package rule

import (
	"log/slog"

	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/config"
)

type Slot string

const (
	SlotWebSocketClose   Slot = "websocket-close"
	SlotResponseOverride Slot = "response-override"
)

// slotDef binds a rule slot to the options that configure it.
type slotDef struct {
	slot       Slot
	exprOption string
	codeOption string
	trigger    common.Trigger
	action     common.ActionType
	codeRule   string
	exprHelp   string
	codeHelp   string
}

var slotDefs = []slotDef{
	{
		slot:       SlotWebSocketClose,
		exprOption: config.OptionFlowExpr,
		codeOption: config.OptionCode,
		trigger:    common.TriggerWebSocketMessage,
		action:     common.ActionCloseWebSocket,
		codeRule:   "min=1000,max=4999",
		exprHelp:   `Filter for websocket flows to close. Eg: "~u <regex>"`,
		codeHelp:   "Code to close the websocket connection with",
	},
	{
		slot:       SlotResponseOverride,
		exprOption: config.OptionFlowExpr2,
		codeOption: config.OptionCode2,
		trigger:    common.TriggerHTTPResponse,
		action:     common.ActionOverrideResponse,
		codeRule:   "min=100,max=599",
		exprHelp:   `Filter for responses to override. Eg: "~u <regex>"`,
		codeHelp:   "Status code of the overriding response",
	},
}

// Rule is one generation of a slot. It is never modified after it has been
// published; reconfiguration builds a new one.
type Rule struct {
	ID        string
	Slot      Slot
	Trigger   common.Trigger
	Expr      string
	Predicate common.Predicate
	Code      config.Optional[int]
	Action    common.Action
}

// Enabled reports whether the rule has a filter. A disabled rule never
// matches.
func (r *Rule) Enabled() bool {
	return r != nil && r.Predicate != nil
}

// Active reports whether a match would actuate anything.
func (r *Rule) Active() bool {
	return r.Enabled() && r.Action != nil
}

func (r *Rule) Match(s *common.FlowSnapshot) bool {
	if !r.Enabled() {
		return false
	}
	return r.Predicate.Match(s)
}

func (r *Rule) LogValue() slog.Value {
	action := ""
	if r.Action != nil {
		action = string(r.Action.Type())
	}
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("trigger", string(r.Trigger)),
		slog.String("expr", r.Expr),
		slog.String("code", r.Code.String()),
		slog.String("action", action),
	)
}

// RuleSet is an immutable generation of all rule slots.
type RuleSet struct {
	generation uint64
	rules      map[Slot]*Rule
}

func newRuleSet() *RuleSet {
	rs := &RuleSet{rules: make(map[Slot]*Rule, len(slotDefs))}
	for _, def := range slotDefs {
		rs.rules[def.slot] = &Rule{
			ID:      string(def.slot),
			Slot:    def.slot,
			Trigger: def.trigger,
		}
	}
	return rs
}

func (s *RuleSet) Generation() uint64 {
	return s.generation
}

func (s *RuleSet) Rule(slot Slot) *Rule {
	return s.rules[slot]
}

// ForTrigger returns the rules bound to trigger in slot order.
func (s *RuleSet) ForTrigger(trigger common.Trigger) []*Rule {
	var rules []*Rule
	for _, def := range slotDefs {
		if r := s.rules[def.slot]; r != nil && r.Trigger == trigger {
			rules = append(rules, r)
		}
	}
	return rules
}

// Active counts the rules with both a filter and an action.
func (s *RuleSet) Active() int {
	n := 0
	for _, r := range s.rules {
		if r.Active() {
			n++
		}
	}
	return n
}

func (s *RuleSet) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Uint64("generation", s.generation)}
	for _, def := range slotDefs {
		if r := s.rules[def.slot]; r != nil {
			attrs = append(attrs, slog.Any(string(def.slot), r))
		}
	}
	return slog.GroupValue(attrs...)
}
