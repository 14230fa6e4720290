package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	OptionFlowExpr  = "flow_expr"
	OptionCode      = "code"
	OptionFlowExpr2 = "flow_expr2"
	OptionCode2     = "code2"
)

const DefaultDedupSize = 4096

type Config struct {
	LogLevel       string `mapstructure:"log-level" yaml:"log-level" validate:"oneof=debug info warn error"`
	StatsFile      string `mapstructure:"stats-file" yaml:"stats-file,omitempty"`
	MetricsAddress string `mapstructure:"metrics-address" yaml:"metrics-address,omitempty" validate:"omitempty,hostname_port"`
	DedupSize      int    `mapstructure:"dedup-size" yaml:"dedup-size" validate:"min=1"`

	Options Options `mapstructure:",squash" yaml:",inline"`
}

// Options are the interception options handed to the add-on. A nil code is
// unset.
type Options struct {
	FlowExpr  string `mapstructure:"flow_expr" yaml:"flow_expr"`
	Code      *int   `mapstructure:"code" yaml:"code,omitempty"`
	FlowExpr2 string `mapstructure:"flow_expr2" yaml:"flow_expr2"`
	Code2     *int   `mapstructure:"code2" yaml:"code2,omitempty"`
}

// Values returns the options keyed by option name, with unset codes as nil.
func (o Options) Values() map[string]any {
	values := map[string]any{
		OptionFlowExpr:  o.FlowExpr,
		OptionFlowExpr2: o.FlowExpr2,
		OptionCode:      nil,
		OptionCode2:     nil,
	}
	if o.Code != nil {
		values[OptionCode] = *o.Code
	}
	if o.Code2 != nil {
		values[OptionCode2] = *o.Code2
	}
	return values
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("dedup-size", DefaultDedupSize)
	v.SetDefault(OptionFlowExpr, "")
	v.SetDefault(OptionFlowExpr2, "")
}

func BuildConfigFromViper() (*Config, error) {
	return BuildConfig(viper.GetViper())
}

func BuildConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		emptyStringToNilHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("v.Unmarshal: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// emptyStringToNilHook maps "" to an unset *int, so an empty --code flag or
// FLOWGUARD_CODE= leaves the code unset instead of zero.
func emptyStringToNilHook() mapstructure.DecodeHookFuncType {
	intPtr := reflect.TypeOf((*int)(nil))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != intPtr || from.Kind() != reflect.String {
			return data, nil
		}
		if strings.TrimSpace(data.(string)) == "" {
			return nil, nil
		}
		return data, nil
	}
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("Log Level", c.LogLevel),
		slog.String("Stats File", c.StatsFile),
		slog.String("Metrics Address", c.MetricsAddress),
		slog.Int("Dedup Size", c.DedupSize),
		slog.String("Flow Expr", c.Options.FlowExpr),
		slog.String("Code", OptionalFromPtr(c.Options.Code).String()),
		slog.String("Flow Expr2", c.Options.FlowExpr2),
		slog.String("Code2", OptionalFromPtr(c.Options.Code2).String()),
	)
}
