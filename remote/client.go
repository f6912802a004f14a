// Package remote lets a link orchestrator in one process drive the backend
// link service exposed by httpapi in another.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/httpapi"
	"github.com/goliatone/go-banklink/transport"
	goerrors "github.com/goliatone/go-errors"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Headers are added to every request. Set Authorization to the caller's
	// bearer token; httpapi acts only for the user it names.
	Headers map[string]string
}

// Client implements core.TokenProvider and core.CredentialExchanger over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
	headers map[string]string
	adapter transport.Adapter
}

func New(cfg Config, adapter transport.Adapter) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote: base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	headers := make(map[string]string, len(cfg.Headers))
	for key, value := range cfg.Headers {
		headers[key] = value
	}
	return &Client{
		baseURL: baseURL,
		timeout: cfg.Timeout,
		headers: headers,
		adapter: adapter,
	}, nil
}

func (c *Client) CreateLinkToken(ctx context.Context, user core.UserIdentity) (core.LinkTokenResult, error) {
	var out httpapi.LinkTokenResponse
	err := c.do(ctx, http.MethodPost, httpapi.PathLinkToken, httpapi.LinkTokenRequest{
		User: httpapi.NewUserPayload(user),
	}, &out)
	if err != nil {
		return core.LinkTokenResult{}, err
	}
	return core.LinkTokenResult{
		LinkToken:  out.LinkToken,
		Expiration: out.Expiration,
		RequestID:  out.RequestID,
	}, nil
}

func (c *Client) ExchangePublicToken(ctx context.Context, req core.ExchangeRequest) (core.ExchangeReceipt, error) {
	var out httpapi.ExchangeResponse
	err := c.do(ctx, http.MethodPost, httpapi.PathExchange, httpapi.ExchangeRequest{
		PublicToken: req.PublicToken,
		User:        httpapi.NewUserPayload(req.User),
		Metadata:    req.Metadata,
	}, &out)
	if err != nil {
		return core.ExchangeReceipt{}, err
	}
	return core.ExchangeReceipt{ItemID: out.ItemID, RequestID: out.RequestID}, nil
}

func (c *Client) ListItems(ctx context.Context, userID string) ([]core.LinkedItem, error) {
	var out httpapi.ItemsResponse
	path := httpapi.PathItems + "?user_id=" + url.QueryEscape(strings.TrimSpace(userID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	items := make([]core.LinkedItem, 0, len(out.Items))
	for _, item := range out.Items {
		items = append(items, core.LinkedItem{
			ItemID:          item.ItemID,
			UserID:          item.UserID,
			InstitutionID:   item.InstitutionID,
			InstitutionName: item.InstitutionName,
			Status:          core.ItemStatus(item.Status),
			LastError:       item.LastError,
			LinkedAt:        item.LinkedAt,
			RevokedAt:       item.RevokedAt,
		})
	}
	return items, nil
}

func (c *Client) RevokeItem(ctx context.Context, itemID string, reason string) error {
	path := httpapi.PathItems + "/" + url.PathEscape(strings.TrimSpace(itemID))
	var out httpapi.RevokeResponse
	return c.do(ctx, http.MethodDelete, path, httpapi.RevokeRequest{Reason: reason}, &out)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil || c.adapter == nil {
		return fmt.Errorf("remote: client is not configured")
	}
	req, err := transport.NewJSONRequest(method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	for key, value := range c.headers {
		req.Headers[key] = value
	}
	req.Timeout = c.timeout

	res, err := c.adapter.Do(ctx, req)
	if err != nil {
		return err
	}
	if !res.Success() {
		return decodeRemoteError(res)
	}
	if out == nil {
		return nil
	}
	return res.DecodeJSON(out)
}

// decodeRemoteError rebuilds the go-errors envelope the server answered with
// so callers see the same text code locally.
func decodeRemoteError(res transport.Response) error {
	var body httpapi.ErrorResponse
	if err := res.DecodeJSON(&body); err != nil || strings.TrimSpace(body.Error.Code) == "" {
		return goerrors.New(
			fmt.Sprintf("remote: unexpected status %d", res.StatusCode),
			goerrors.CategoryExternal,
		).
			WithCode(res.StatusCode).
			WithTextCode(core.LinkErrorAggregatorFailure)
	}
	category := goerrors.Category(body.Error.Category)
	if strings.TrimSpace(body.Error.Category) == "" {
		category = goerrors.CategoryExternal
	}
	rich := goerrors.New(body.Error.Message, category).
		WithCode(res.StatusCode).
		WithTextCode(body.Error.Code)
	if len(body.Error.Metadata) > 0 {
		rich = rich.WithMetadata(body.Error.Metadata)
	}
	return rich
}

var (
	_ core.TokenProvider       = (*Client)(nil)
	_ core.CredentialExchanger = (*Client)(nil)
)
