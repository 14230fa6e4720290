package common

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// Flow is one proxied HTTP exchange, optionally upgraded to a websocket
// session. The transport owns it; actuators mutate it only through the
// methods below.
type Flow struct {
	ID        string
	Request   *http.Request
	WebSocket *WebSocketSession

	mu       sync.RWMutex
	response *http.Response
}

func NewFlow(id string, req *http.Request) *Flow {
	return &Flow{
		ID:      id,
		Request: req,
	}
}

func (f *Flow) Response() *http.Response {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.response
}

// SetResponse installs resp as the response sent to the client and returns
// the one it replaced.
func (f *Flow) SetResponse(resp *http.Response) *http.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.response
	f.response = resp
	return prev
}

// BuildResponse makes an empty-bodied response for this flow's request with
// a copy of header.
func (f *Flow) BuildResponse(statusCode int, header http.Header) *http.Response {
	if header == nil {
		header = make(http.Header)
	} else {
		header = header.Clone()
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		StatusCode:    statusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          http.NoBody,
		ContentLength: 0,
		Request:       f.Request,
	}
}

func (f *Flow) SrcAddr() string {
	if f.Request != nil {
		return f.Request.RemoteAddr
	}
	return ""
}

func (f *Flow) Host() string {
	if f.Request == nil {
		return ""
	}
	host := f.Request.Host
	if host == "" && f.Request.URL != nil {
		host = f.Request.URL.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func (f *Flow) Scheme() string {
	if f.Request == nil {
		return ""
	}
	if f.Request.URL != nil && f.Request.URL.Scheme != "" {
		return f.Request.URL.Scheme
	}
	if f.Request.TLS != nil {
		return "https"
	}
	return "http"
}

// URL returns the absolute request URL as seen by the client.
func (f *Flow) URL() string {
	if f.Request == nil || f.Request.URL == nil {
		return ""
	}
	host := f.Request.Host
	if host == "" {
		host = f.Request.URL.Host
	}
	return f.Scheme() + "://" + host + f.Request.URL.RequestURI()
}

// Snapshot copies the parts of the flow a predicate may look at.
func (f *Flow) Snapshot() *FlowSnapshot {
	s := &FlowSnapshot{
		ID:     f.ID,
		URL:    f.URL(),
		Scheme: f.Scheme(),
		Host:   f.Host(),
	}
	if f.Request != nil {
		s.Method = f.Request.Method
		s.RequestHeader = f.Request.Header.Clone()
		if f.Request.URL != nil {
			s.Path = f.Request.URL.Path
		}
	}
	if resp := f.Response(); resp != nil {
		s.HasResponse = true
		s.StatusCode = resp.StatusCode
		s.ResponseHeader = resp.Header.Clone()
	}
	if f.WebSocket != nil {
		s.WebSocket = true
		for _, m := range f.WebSocket.Messages() {
			s.Messages = append(s.Messages, MessageView{
				FromClient: m.FromClient,
				Type:       m.Type,
				Content:    m.Content,
				Dropped:    m.Dropped(),
			})
		}
	}
	return s
}

func (f *Flow) LogValue() slog.Value {
	if f == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("id", f.ID),
		slog.String("src_addr", f.SrcAddr()),
		slog.String("url", f.URL()),
		slog.Bool("websocket", f.WebSocket != nil),
	)
}
