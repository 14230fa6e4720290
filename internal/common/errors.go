package common

import "errors"

var (
	// ErrConfiguration marks a rejected option value. The previous value
	// of that option stays in effect.
	ErrConfiguration = errors.New("configuration error")

	// ErrPrecondition marks an actuator invoked on a flow that lacks the
	// state it acts on (no response, no websocket session).
	ErrPrecondition = errors.New("precondition failed")

	// ErrActuator marks a close or response substitution rejected by the
	// transport.
	ErrActuator = errors.New("actuator failure")

	ErrSessionClosing = errors.New("websocket session is closing")
	ErrNoInjector     = errors.New("websocket session has no frame injector")
)
