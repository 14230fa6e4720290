package filter

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/sunbk201/flowguard/internal/common"
)

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("url", cel.StringType),
		cel.Variable("scheme", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("status", cel.IntType),
		cel.Variable("has_response", cel.BoolType),
		cel.Variable("websocket", cel.BoolType),
		cel.Variable("request_headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("response_headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("messages", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
		cel.Variable("last_message", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
})

// CELFilter is a filter compiled from a CEL expression. The program is
// built once and evaluated per snapshot.
type CELFilter struct {
	expr    string
	source  string
	program cel.Program
}

func compileCEL(expr, source string) (*CELFilter, error) {
	env, err := celEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: CEL expression validation failed: %w", ErrSyntax, issues.Err())
	}
	// dyn is allowed for map lookups; a non-bool result evaluates to false.
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: filter expression must return bool, got %v", ErrSyntax, out)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &CELFilter{expr: expr, source: source, program: program}, nil
}

func (f *CELFilter) Match(s *common.FlowSnapshot) bool {
	out, _, err := f.program.Eval(activation(s))
	if err != nil {
		slog.Debug("CEL evaluation failed", slog.String("expr", f.source), slog.Any("error", err))
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func (f *CELFilter) String() string {
	return f.expr
}

func (f *CELFilter) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("expr", f.expr),
		slog.String("dialect", "cel"),
	)
}

func activation(s *common.FlowSnapshot) map[string]any {
	messages := make([]map[string]any, 0, len(s.Messages))
	for _, m := range s.Messages {
		messages = append(messages, messageValue(m))
	}
	last := map[string]any{}
	if m, ok := s.LastMessage(); ok {
		last = messageValue(m)
	}
	return map[string]any{
		"url":              s.URL,
		"scheme":           s.Scheme,
		"host":             s.Host,
		"path":             s.Path,
		"method":           s.Method,
		"status":           int64(s.StatusCode),
		"has_response":     s.HasResponse,
		"websocket":        s.WebSocket,
		"request_headers":  flatten(s.RequestHeader),
		"response_headers": flatten(s.ResponseHeader),
		"messages":         messages,
		"last_message":     last,
	}
}

func messageValue(m common.MessageView) map[string]any {
	return map[string]any{
		"from_client": m.FromClient,
		"type":        int64(m.Type),
		"content":     string(m.Content),
	}
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
