package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-banklink/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestRESTAdapter_SendsJSONRequest(t *testing.T) {
	var gotMethod, gotContentType, gotQuery, gotVersion string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotVersion = r.Header.Get("Plaid-Version")
		gotQuery = r.URL.Query().Get("env")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("X-Request-Id", "req-1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())

	req, err := NewJSONRequest(http.MethodPost, server.URL+"/link/token/create?env=sandbox", map[string]any{"client_name": "Acme"})
	if err != nil {
		t.Fatalf("new json request: %v", err)
	}
	req.Headers[" Plaid-Version "] = "2020-09-14"
	req.Timeout = time.Second

	res, err := adapter.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !res.Success() || res.Headers["X-Request-Id"] != "req-1" {
		t.Fatalf("unexpected response %#v", res)
	}
	if gotMethod != http.MethodPost || gotContentType != "application/json" || gotVersion != "2020-09-14" || gotQuery != "sandbox" {
		t.Fatalf("unexpected request method=%q content_type=%q version=%q query=%q", gotMethod, gotContentType, gotVersion, gotQuery)
	}
	if gotBody["client_name"] != "Acme" {
		t.Fatalf("unexpected request body %#v", gotBody)
	}

	var decoded struct {
		OK bool `json:"ok"`
	}
	if err := res.DecodeJSON(&decoded); err != nil || !decoded.OK {
		t.Fatalf("decode json: %v (%#v)", err, decoded)
	}
}

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal || rich.TextCode != core.LinkErrorAggregatorFailure {
		t.Fatalf("unexpected envelope %q/%q", rich.Category, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestRESTAdapter_NilClientReturnsRichError(t *testing.T) {
	adapter := &RESTAdapter{}
	_, err := adapter.Do(context.Background(), Request{URL: "http://localhost"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.LinkErrorInternal || rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal envelope, got %#v", err)
	}
}

func TestRESTAdapter_ErrorsCarryLinkTextCodes(t *testing.T) {
	adapter := NewRESTAdapter(failingDoer{})
	_, err := adapter.Do(context.Background(), Request{Method: http.MethodPost, URL: "http://aggregator.test/item/get"})
	rich := core.AsLinkError(err)
	if rich.TextCode != core.LinkErrorAggregatorFailure || rich.Code != http.StatusBadGateway {
		t.Fatalf("expected aggregator failure envelope, got %q/%d", rich.TextCode, rich.Code)
	}
	_, err = adapter.Do(context.Background(), Request{URL: " "})
	if rich := core.AsLinkError(err); rich.TextCode != core.LinkTextCode(goerrors.CategoryBadInput) || rich.Code != http.StatusBadRequest {
		t.Fatalf("expected bad input envelope, got %q/%d", rich.TextCode, rich.Code)
	}
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestResponse_DecodeJSONErrors(t *testing.T) {
	var out map[string]any
	if err := (Response{StatusCode: http.StatusOK}).DecodeJSON(&out); err == nil {
		t.Fatalf("expected empty body error")
	}
	err := (Response{StatusCode: http.StatusOK, Body: []byte("<html>")}).DecodeJSON(&out)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code != http.StatusBadGateway {
		t.Fatalf("expected bad gateway envelope, got %#v", err)
	}
}
