package addon

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/config"
)

func newTestOptions(t *testing.T) *Options {
	t.Helper()
	opts := NewOptions()
	require.NoError(t, opts.AddOption(Option{Name: "flow_expr", Kind: KindString, Default: ""}))
	require.NoError(t, opts.AddOption(Option{Name: "code", Kind: KindOptionalInt}))
	return opts
}

func TestAddOption(t *testing.T) {
	opts := newTestOptions(t)

	assert.Equal(t, []string{"code", "flow_expr"}, opts.Names())

	err := opts.AddOption(Option{Name: "code", Kind: KindOptionalInt})
	assert.Error(t, err, "duplicate option must be rejected")

	err = opts.AddOption(Option{Name: "", Kind: KindString})
	assert.Error(t, err)

	err = opts.AddOption(Option{Name: "bad", Kind: KindOptionalInt, Default: "abc"})
	assert.Error(t, err)

	opt, ok := opts.Lookup("flow_expr")
	assert.True(t, ok)
	assert.Equal(t, KindString, opt.Kind)
}

func TestUpdateReportsChangedKeys(t *testing.T) {
	opts := newTestOptions(t)

	updated, err := opts.Update(map[string]any{"flow_expr": "~u /ws$", "code": 4000})
	require.NoError(t, err)
	assert.Equal(t, Updated("flow_expr", "code"), updated)

	updated, err = opts.Update(map[string]any{"flow_expr": "~u /ws$", "code": "4000"})
	require.NoError(t, err)
	assert.Empty(t, updated, "unchanged values are not reported")

	updated, err = opts.Update(map[string]any{"code": nil})
	require.NoError(t, err)
	assert.Equal(t, Updated("code"), updated)

	code, err := opts.OptionalInt("code")
	require.NoError(t, err)
	assert.False(t, code.IsSet())
}

func TestUpdateCoercion(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    config.Optional[int]
		wantErr bool
	}{
		{"int", 4000, config.Some(4000), false},
		{"int64", int64(403), config.Some(403), false},
		{"integral float", float64(1000), config.Some(1000), false},
		{"numeric string", " 4001 ", config.Some(4001), false},
		{"zero", 0, config.Some(0), false},
		{"empty string", "", config.None[int](), false},
		{"nil", nil, config.None[int](), false},
		{"fractional float", 1.5, config.None[int](), true},
		{"word", "close", config.None[int](), true},
		{"bool", true, config.None[int](), true},
		{"int8", int8(100), config.Some(100), false},
		{"uint16", uint16(4999), config.Some(4999), false},
		{"float32", float32(451), config.Some(451), false},
		{"optional", config.Some(1001), config.Some(1001), false},
		{"unset pointer", (*int)(nil), config.None[int](), false},
		{"oversized uint64", uint64(math.MaxUint64), config.None[int](), true},
		{"oversized uint", uint(math.MaxUint), config.None[int](), true},
		{"oversized float", 1e300, config.None[int](), true},
		{"trailing junk", "4000x", config.None[int](), true},
		{"fractional string", "1.5", config.None[int](), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := newTestOptions(t)
			_, err := opts.Update(map[string]any{"code": tt.raw})
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			got, err := opts.OptionalInt("code")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdatePartialFailure(t *testing.T) {
	opts := newTestOptions(t)
	_, err := opts.Update(map[string]any{"code": 4000})
	require.NoError(t, err)

	updated, err := opts.Update(map[string]any{
		"flow_expr": "~u /chat$",
		"code":      "not-a-number",
		"unknown":   1,
	})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConfiguration))
	assert.Equal(t, Updated("flow_expr"), updated)

	code, err := opts.OptionalInt("code")
	require.NoError(t, err)
	assert.Equal(t, config.Some(4000), code, "rejected value keeps the previous one")
}

func TestReadWrongKind(t *testing.T) {
	opts := newTestOptions(t)

	_, err := opts.String("code")
	assert.Error(t, err)
	_, err = opts.OptionalInt("flow_expr")
	assert.Error(t, err)
	_, err = opts.String("missing")
	assert.Error(t, err)
}
