package rule

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/sunbk201/flowguard/internal/addon"
	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/config"
	"github.com/sunbk201/flowguard/internal/filter"
	"github.com/sunbk201/flowguard/internal/rule/action"
	"github.com/sunbk201/flowguard/internal/statistics"
)

// Compiler turns a filter expression into a predicate.
type Compiler func(expr string) (common.Predicate, error)

// Store holds the current rule generation. Readers never block; writers
// are serialised and publish whole generations.
type Store struct {
	mu       sync.Mutex
	current  atomic.Pointer[RuleSet]
	compile  Compiler
	validate *validator.Validate
	recorder *statistics.Recorder
}

func NewStore(compile Compiler, recorder *statistics.Recorder) *Store {
	if compile == nil {
		compile = filter.Compile
	}
	s := &Store{
		compile:  compile,
		validate: validator.New(),
		recorder: recorder,
	}
	s.current.Store(newRuleSet())
	return s
}

func (s *Store) Rules() *RuleSet {
	return s.current.Load()
}

// Load registers the options of every rule slot.
func (s *Store) Load(loader addon.Loader) error {
	for _, def := range slotDefs {
		if err := loader.AddOption(addon.Option{
			Name:    def.exprOption,
			Kind:    addon.KindString,
			Default: "",
			Help:    def.exprHelp,
		}); err != nil {
			return err
		}
		if err := loader.AddOption(addon.Option{
			Name:    def.codeOption,
			Kind:    addon.KindOptionalInt,
			Default: nil,
			Help:    def.codeHelp,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Configure applies the updated options and publishes the result as a new
// generation. An option that fails to compile or validate keeps its previous
// value; the other options of the batch still apply. The returned error
// joins every rejected option.
func (s *Store) Configure(opts addon.OptionReader, updated map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next := &RuleSet{
		generation: cur.generation + 1,
		rules:      make(map[Slot]*Rule, len(cur.rules)),
	}

	var errs []error
	changed := false
	for _, def := range slotDefs {
		r, err := s.configureSlot(def, cur.rules[def.slot], opts, updated)
		if err != nil {
			slog.Warn("Invalid rule option", slog.String("rule", string(def.slot)), slog.Any("error", err))
			errs = append(errs, err)
		}
		if r != cur.rules[def.slot] {
			changed = true
		}
		next.rules[def.slot] = r
	}

	if changed {
		s.current.Store(next)
		slog.Info("Rules configured", slog.Any("rules", next))
	}
	err := errors.Join(errs...)
	s.recorder.ConfigReloaded(err == nil, s.current.Load().Active())
	return err
}

// configureSlot returns prev itself when nothing in the slot changed.
func (s *Store) configureSlot(def slotDef, prev *Rule, opts addon.OptionReader, updated map[string]struct{}) (*Rule, error) {
	r := *prev
	changed := false
	var errs []error

	if _, ok := updated[def.exprOption]; ok {
		expr, err := opts.String(def.exprOption)
		if err == nil {
			err = s.setExpr(&r, expr)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: option %s: %w", common.ErrConfiguration, def.exprOption, err))
		} else {
			changed = true
		}
	}

	if _, ok := updated[def.codeOption]; ok {
		code, err := opts.OptionalInt(def.codeOption)
		if err == nil {
			err = s.setCode(&r, def, code)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: option %s: %w", common.ErrConfiguration, def.codeOption, err))
		} else {
			changed = true
		}
	}

	if !changed {
		return prev, errors.Join(errs...)
	}
	return &r, errors.Join(errs...)
}

// setExpr compiles expr into r. An empty expression disables the rule.
func (s *Store) setExpr(r *Rule, expr string) error {
	if strings.TrimSpace(expr) == "" {
		r.Expr = ""
		r.Predicate = nil
		return nil
	}
	p, err := s.compile(expr)
	if err != nil {
		return err
	}
	r.Expr = expr
	r.Predicate = p
	return nil
}

// setCode stores a validated code in r. An unset code keeps the current one.
func (s *Store) setCode(r *Rule, def slotDef, code config.Optional[int]) error {
	v, ok := code.Get()
	if !ok {
		return nil
	}
	if err := s.validate.Var(v, def.codeRule); err != nil {
		return fmt.Errorf("code %d out of range (%s)", v, def.codeRule)
	}
	a, err := action.NewAction(def.action, v, s.recorder)
	if err != nil {
		return err
	}
	r.Code = code
	r.Action = a
	return nil
}
