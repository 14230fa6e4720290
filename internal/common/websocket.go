package common

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type FrameTarget string

const (
	TargetClient FrameTarget = "CLIENT"
	TargetServer FrameTarget = "SERVER"
)

// Frame is a control or data frame injected into a live session by the
// proxy. Payload holds the wire payload; for close frames it is the
// status code followed by the reason.
type Frame struct {
	Target            FrameTarget
	Opcode            int
	Payload           []byte
	Code              int
	Reason            []byte
	Text              bool
	Close             bool
	InitiatedByServer bool
}

func (f *Frame) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("target", string(f.Target)),
		slog.Int("opcode", f.Opcode),
		slog.Int("code", f.Code),
		slog.String("reason", string(f.Reason)),
	)
}

// FrameInjector is implemented by the transport that owns the connection.
type FrameInjector interface {
	Inject(frame *Frame) error
}

type InjectorFunc func(frame *Frame) error

func (f InjectorFunc) Inject(frame *Frame) error {
	return f(frame)
}

type WebSocketMessage struct {
	FromClient bool
	Type       int
	Content    []byte
	Timestamp  time.Time

	dropped atomic.Bool
}

func NewWebSocketMessage(fromClient bool, msgType int, content []byte) *WebSocketMessage {
	return &WebSocketMessage{
		FromClient: fromClient,
		Type:       msgType,
		Content:    content,
		Timestamp:  time.Now(),
	}
}

// Drop marks the message as not to be delivered to the peer. It reports
// whether this call was the one that dropped it.
func (m *WebSocketMessage) Drop() bool {
	return m.dropped.CompareAndSwap(false, true)
}

func (m *WebSocketMessage) Dropped() bool {
	return m.dropped.Load()
}

func (m *WebSocketMessage) IsText() bool {
	return m.Type == websocket.TextMessage
}

func (m *WebSocketMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("from_client", m.FromClient),
		slog.Int("type", m.Type),
		slog.Int("length", len(m.Content)),
		slog.Bool("dropped", m.Dropped()),
	)
}

type WebSocketSession struct {
	mu        sync.Mutex
	messages  []*WebSocketMessage
	injector  FrameInjector
	closing   bool
	closeCode int
}

func NewWebSocketSession(injector FrameInjector) *WebSocketSession {
	return &WebSocketSession{
		injector: injector,
	}
}

// AddMessage appends a message and returns its index in the session.
func (s *WebSocketSession) AddMessage(m *WebSocketMessage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return len(s.messages) - 1
}

func (s *WebSocketSession) Messages() []*WebSocketMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WebSocketMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *WebSocketSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LastMessage returns the most recent message and its index, or nil and -1
// when the session has none.
func (s *WebSocketSession) LastMessage() (*WebSocketMessage, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return nil, -1
	}
	return s.messages[len(s.messages)-1], len(s.messages) - 1
}

func (s *WebSocketSession) DropLastMessage() (*WebSocketMessage, error) {
	m, _ := s.LastMessage()
	if m == nil {
		return nil, fmt.Errorf("drop last message: %w: no websocket messages", ErrPrecondition)
	}
	m.Drop()
	return m, nil
}

// InjectClose hands a close frame to the transport. Only one close frame is
// ever injected per session.
func (s *WebSocketSession) InjectClose(target FrameTarget, reason []byte, code int, initiatedByServer bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return ErrSessionClosing
	}
	if s.injector == nil {
		return ErrNoInjector
	}

	frame := &Frame{
		Target:            target,
		Opcode:            websocket.CloseMessage,
		Payload:           websocket.FormatCloseMessage(code, string(reason)),
		Code:              code,
		Reason:            reason,
		Text:              false,
		Close:             true,
		InitiatedByServer: initiatedByServer,
	}
	if err := s.injector.Inject(frame); err != nil {
		return err
	}
	s.closing = true
	s.closeCode = code
	return nil
}

func (s *WebSocketSession) Closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *WebSocketSession) CloseCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closing
}
