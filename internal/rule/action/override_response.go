package action

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/log"
	"github.com/sunbk201/flowguard/internal/statistics"
)

// OverrideResponse replaces the upstream response with an empty one carrying
// the configured status. Headers are carried over verbatim.
type OverrideResponse struct {
	recorder     *statistics.Recorder
	statusCode   int
	headerPolicy common.HeaderPolicy
}

func (o *OverrideResponse) Type() common.ActionType {
	return common.ActionOverrideResponse
}

func (o *OverrideResponse) Trigger() common.Trigger {
	return common.TriggerHTTPResponse
}

func (o *OverrideResponse) Code() int {
	return o.statusCode
}

func (o *OverrideResponse) Execute(flow *common.Flow) error {
	_, err := o.Apply(flow)
	return err
}

func (o *OverrideResponse) Apply(flow *common.Flow) (bool, error) {
	if flow == nil {
		return false, fmt.Errorf("%s: %w: nil flow", o.Type(), common.ErrPrecondition)
	}
	orig := flow.Response()
	if orig == nil {
		return false, fmt.Errorf("%s: %w: flow has no response", o.Type(), common.ErrPrecondition)
	}

	resp := flow.BuildResponse(o.statusCode, orig.Header)
	if prev := flow.SetResponse(resp); prev != nil && prev.Body != nil {
		if err := prev.Body.Close(); err != nil {
			log.LogDebugWithFlow(flow, "Close upstream body", slog.Any("error", err))
		}
	}

	log.LogInfoWithFlow(flow, "Response overridden",
		slog.Int("from", orig.StatusCode), slog.Int("to", o.statusCode))
	o.recorder.AddRecord(&statistics.ActionRecord{
		Host:   flow.Host(),
		Action: string(o.Type()),
		Code:   o.statusCode,
	})
	return true, nil
}

func (o *OverrideResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":          o.Type(),
		"status_code":   o.statusCode,
		"header_policy": o.headerPolicy,
	})
}

func (o *OverrideResponse) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(o.Type())),
		slog.Int("status_code", o.statusCode),
		slog.String("header_policy", string(o.headerPolicy)),
	)
}

func NewOverrideResponse(statusCode int, recorder *statistics.Recorder) *OverrideResponse {
	return &OverrideResponse{
		recorder:     recorder,
		statusCode:   statusCode,
		headerPolicy: common.HeaderPolicyPreserve,
	}
}
