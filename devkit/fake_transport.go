package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-banklink/transport"
)

type TransportScript struct {
	Response transport.Response
	Err      error
}

// FakeTransportAdapter replays scripted responses in order and repeats the
// last one once the script runs out.
type FakeTransportAdapter struct {
	mu       sync.Mutex
	kind     string
	scripts  []TransportScript
	requests []transport.Request
}

func NewFakeTransportAdapter(kind string, scripts ...TransportScript) *FakeTransportAdapter {
	return &FakeTransportAdapter{
		kind:    strings.TrimSpace(strings.ToLower(kind)),
		scripts: append([]TransportScript(nil), scripts...),
	}
}

// JSONScript builds a script entry returning body with a JSON content type.
func JSONScript(status int, body string) TransportScript {
	return TransportScript{Response: transport.Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(body),
	}}
}

func (a *FakeTransportAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *FakeTransportAdapter) Do(_ context.Context, req transport.Request) (transport.Response, error) {
	if a == nil {
		return transport.Response{}, fmt.Errorf("devkit: fake transport adapter is nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, cloneTransportRequest(req))
	index := len(a.requests) - 1
	if index < len(a.scripts) {
		script := a.scripts[index]
		return cloneTransportResponse(script.Response), script.Err
	}
	if len(a.scripts) > 0 {
		last := a.scripts[len(a.scripts)-1]
		return cloneTransportResponse(last.Response), last.Err
	}
	return transport.Response{
		StatusCode: 200,
		Headers:    map[string]string{},
		Body:       []byte("{}"),
	}, nil
}

func (a *FakeTransportAdapter) Requests() []transport.Request {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]transport.Request, 0, len(a.requests))
	for _, item := range a.requests {
		out = append(out, cloneTransportRequest(item))
	}
	return out
}

func cloneTransportRequest(in transport.Request) transport.Request {
	out := transport.Request{
		Method:  in.Method,
		URL:     in.URL,
		Headers: map[string]string{},
		Body:    append([]byte(nil), in.Body...),
		Timeout: in.Timeout,
	}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	return out
}

func cloneTransportResponse(in transport.Response) transport.Response {
	out := transport.Response{
		StatusCode: in.StatusCode,
		Headers:    map[string]string{},
		Body:       append([]byte(nil), in.Body...),
	}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	return out
}

var _ transport.Adapter = (*FakeTransportAdapter)(nil)
