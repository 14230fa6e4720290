package action

import (
	"fmt"

	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/statistics"
)

// NewAction builds the action bound to a rule slot. code must already be
// validated for the action type.
func NewAction(actionType common.ActionType, code int, recorder *statistics.Recorder) (common.Action, error) {
	switch actionType {
	case common.ActionCloseWebSocket:
		return NewCloseWebSocket(code, recorder), nil
	case common.ActionOverrideResponse:
		return NewOverrideResponse(code, recorder), nil
	default:
		return nil, fmt.Errorf("%w: unsupported action type %q", common.ErrConfiguration, actionType)
	}
}
