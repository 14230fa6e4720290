package addon

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/config"
)

// Options is the runtime's typed option registry.
type Options struct {
	mu     sync.RWMutex
	defs   map[string]Option
	values map[string]any
}

func NewOptions() *Options {
	return &Options{
		defs:   make(map[string]Option),
		values: make(map[string]any),
	}
}

func (o *Options) AddOption(opt Option) error {
	if opt.Name == "" {
		return errors.New("option name is empty")
	}
	def, err := coerce(opt.Kind, opt.Default)
	if err != nil {
		return fmt.Errorf("option %s: invalid default: %w", opt.Name, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.defs[opt.Name]; exists {
		return fmt.Errorf("option %s already registered", opt.Name)
	}
	o.defs[opt.Name] = opt
	o.values[opt.Name] = def
	return nil
}

// Update applies a batch of raw values and returns the names whose value
// changed. Values that cannot be coerced are reported and left unchanged;
// the rest of the batch still applies.
func (o *Options) Update(values map[string]any) (map[string]struct{}, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	o.mu.Lock()
	defer o.mu.Unlock()

	updated := make(map[string]struct{})
	var errs []error
	for _, name := range names {
		def, ok := o.defs[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: unknown option %s", common.ErrConfiguration, name))
			continue
		}
		v, err := coerce(def.Kind, values[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: option %s: %w", common.ErrConfiguration, name, err))
			continue
		}
		if o.values[name] == v {
			continue
		}
		o.values[name] = v
		updated[name] = struct{}{}
	}
	return updated, errors.Join(errs...)
}

func (o *Options) String(name string) (string, error) {
	v, err := o.get(name, KindString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *Options) OptionalInt(name string) (config.Optional[int], error) {
	v, err := o.get(name, KindOptionalInt)
	if err != nil {
		return config.None[int](), err
	}
	return v.(config.Optional[int]), nil
}

// Names returns the registered option names in sorted order.
func (o *Options) Names() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.defs))
	for name := range o.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Options) Lookup(name string) (Option, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	opt, ok := o.defs[name]
	return opt, ok
}

func (o *Options) get(name string, kind Kind) (any, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	def, ok := o.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown option %s", name)
	}
	if def.Kind != kind {
		return nil, fmt.Errorf("option %s is %s, not %s", name, def.Kind, kind)
	}
	return o.values[name], nil
}

func coerce(kind Kind, raw any) (any, error) {
	switch kind {
	case KindString:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, fmt.Errorf("expected string: %w", err)
		}
		return s, nil
	case KindOptionalInt:
		return coerceOptionalInt(raw)
	default:
		return nil, fmt.Errorf("unknown option kind %q", kind)
	}
}

// coerceOptionalInt maps nil and blank strings to an unset value. Booleans,
// fractional numbers and values outside the int range are rejected rather
// than rounded or wrapped.
func coerceOptionalInt(raw any) (config.Optional[int], error) {
	switch v := raw.(type) {
	case nil:
		return config.None[int](), nil
	case config.Optional[int]:
		return v, nil
	case *int:
		return config.OptionalFromPtr(v), nil
	case bool:
		return config.None[int](), fmt.Errorf("expected integer, got %T", raw)
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return config.None[int](), nil
		}
		raw = v
	case float32:
		raw = float64(v)
	case uint:
		raw = uint64(v)
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || v < math.MinInt || v >= math.MaxInt {
			return config.None[int](), fmt.Errorf("expected integer, got %v", v)
		}
	case int64:
		if v < math.MinInt || v > math.MaxInt {
			return config.None[int](), fmt.Errorf("integer %d out of range", v)
		}
	case uint64:
		if v > math.MaxInt {
			return config.None[int](), fmt.Errorf("integer %d out of range", v)
		}
	}

	n, err := cast.ToIntE(raw)
	if err != nil {
		return config.None[int](), fmt.Errorf("expected integer: %w", err)
	}
	return config.Some(n), nil
}
