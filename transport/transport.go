package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Adapter executes one outbound request.
type Adapter interface {
	Kind() string
	Do(ctx context.Context, req Request) (Response, error)
}

// Success reports a 2xx status code.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NewJSONRequest builds a request with payload encoded as the JSON body.
func NewJSONRequest(method, url string, payload any) (Request, error) {
	req := Request{
		Method:  method,
		URL:     url,
		Headers: map[string]string{"Content-Type": "application/json", "Accept": "application/json"},
	}
	if payload == nil {
		return req, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, transportError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: encode json body", map[string]any{"url": strings.TrimSpace(url)})
	}
	req.Body = body
	return req, nil
}

// DecodeJSON decodes the response body into out.
func (r Response) DecodeJSON(out any) error {
	if len(r.Body) == 0 {
		return transportError(nil, goerrors.CategoryExternal, http.StatusBadGateway,
			fmt.Sprintf("transport: empty response body (status %d)", r.StatusCode),
			map[string]any{"status_code": r.StatusCode})
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return transportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: decode json response", map[string]any{"status_code": r.StatusCode})
	}
	return nil
}
