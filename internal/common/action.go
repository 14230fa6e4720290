package common

type ActionType string

const (
	ActionCloseWebSocket   ActionType = "CLOSE-WEBSOCKET"
	ActionOverrideResponse ActionType = "OVERRIDE-RESPONSE"
)

// Trigger is the flow event kind an action is bound to.
type Trigger string

const (
	TriggerWebSocketMessage Trigger = "WEBSOCKET-MESSAGE"
	TriggerHTTPResponse     Trigger = "HTTP-RESPONSE"
)

type HeaderPolicy string

const (
	// HeaderPolicyPreserve carries the original response headers verbatim.
	HeaderPolicyPreserve HeaderPolicy = "PRESERVE"
)

type Action interface {
	Type() ActionType
	Trigger() Trigger
	Execute(flow *Flow) error
}
