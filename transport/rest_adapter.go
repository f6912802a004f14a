package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const KindREST = "rest"

const (
	defaultRESTClientTimeout = 30 * time.Second
	defaultResponseBodyLimit = int64(1 << 20)
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter sends requests over an HTTPDoer and refuses response bodies
// larger than MaxResponseBodyBytes.
type RESTAdapter struct {
	Client               HTTPDoer
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{Client: client, MaxResponseBodyBytes: defaultResponseBodyLimit}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, transportError(nil, goerrors.CategoryInternal, http.StatusInternalServerError,
			"transport: rest adapter requires an http client", nil)
	}

	target := strings.TrimSpace(req.URL)
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if target == "" {
		return Response{}, transportError(nil, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: request url is required", nil)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, transportError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: create http request", map[string]any{"method": method, "url": target})
	}
	for key, value := range req.Headers {
		if key = strings.TrimSpace(key); key != "" {
			httpReq.Header.Set(key, strings.TrimSpace(value))
		}
	}

	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, transportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: execute http request", map[string]any{"method": method, "host": httpReq.URL.Host})
	}
	defer httpRes.Body.Close()

	limit := a.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, transportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: read response body", map[string]any{"status_code": httpRes.StatusCode})
	}
	if int64(len(body)) > limit {
		return Response{}, transportError(nil, goerrors.CategoryExternal, http.StatusBadGateway,
			fmt.Sprintf("transport: response body exceeds %d bytes", limit),
			map[string]any{"status_code": httpRes.StatusCode})
	}

	headers := make(map[string]string, len(httpRes.Header))
	for key, values := range httpRes.Header {
		headers[key] = strings.Join(values, ",")
	}
	return Response{StatusCode: httpRes.StatusCode, Headers: headers, Body: body}, nil
}

var _ Adapter = (*RESTAdapter)(nil)
