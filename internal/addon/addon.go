// Package addon defines the lifecycle a proxy runtime drives: options are
// registered on Load, pushed on Configure, and flow events are delivered
// through the event hooks.
package addon

import (
	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/config"
)

type Kind string

const (
	KindString      Kind = "STRING"
	KindOptionalInt Kind = "OPTIONAL-INT"
)

type Option struct {
	Name    string
	Kind    Kind
	Default any
	Help    string
}

// Loader registers options at load time.
type Loader interface {
	AddOption(opt Option) error
}

// OptionReader reads the current typed option values.
type OptionReader interface {
	String(name string) (string, error)
	OptionalInt(name string) (config.Optional[int], error)
}

// Addon is implemented by interceptors and called by the runtime. For a
// single flow, hooks are invoked in the order events occur on it; different
// flows may be processed concurrently.
type Addon interface {
	Load(loader Loader) error
	Configure(opts OptionReader, updated map[string]struct{}) error
	WebSocketMessage(flow *common.Flow)
	Response(flow *common.Flow)
}

// Updated builds an update set from option names.
func Updated(names ...string) map[string]struct{} {
	updated := make(map[string]struct{}, len(names))
	for _, name := range names {
		updated[name] = struct{}{}
	}
	return updated
}
