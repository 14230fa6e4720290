package common

import (
	"log/slog"
	"net/http"
)

// MessageView is a read-only view of a websocket message. Content shares
// the live message buffer and must not be modified.
type MessageView struct {
	FromClient bool
	Type       int
	Content    []byte
	Dropped    bool
}

// FlowSnapshot is what predicates evaluate. It is never written back to the
// flow.
type FlowSnapshot struct {
	ID     string
	URL    string
	Scheme string
	Host   string
	Path   string
	Method string

	RequestHeader http.Header

	HasResponse    bool
	StatusCode     int
	ResponseHeader http.Header

	WebSocket bool
	Messages  []MessageView
}

func (s *FlowSnapshot) LastMessage() (MessageView, bool) {
	if len(s.Messages) == 0 {
		return MessageView{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s *FlowSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.ID),
		slog.String("url", s.URL),
		slog.String("method", s.Method),
		slog.Int("status", s.StatusCode),
		slog.Int("messages", len(s.Messages)),
	)
}
