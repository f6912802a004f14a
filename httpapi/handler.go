// Package httpapi exposes the backend link service as a small JSON API:
// link token creation, public token exchange, item management and aggregator
// webhooks. Link routes act for the authenticated caller only; items owned by
// another user read as missing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/webhooks"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultMaxBodyBytes int64 = 64 << 10

// LinkService is the backend surface served over HTTP.
type LinkService interface {
	CreateLinkToken(ctx context.Context, user core.UserIdentity) (core.LinkTokenResult, error)
	ExchangePublicToken(ctx context.Context, req core.ExchangeRequest) (core.ExchangeReceipt, error)
	ListItems(ctx context.Context, userID string) ([]core.LinkedItem, error)
	GetItem(ctx context.Context, itemID string) (core.LinkedItem, error)
	RevokeItem(ctx context.Context, itemID string, reason string) error
}

// RevokeScheduler queues a revocation instead of running it inline.
type RevokeScheduler interface {
	ScheduleRevoke(ctx context.Context, itemID string, reason string) error
}

type WebhookProcessor interface {
	Process(ctx context.Context, req webhooks.Request) (webhooks.Result, error)
}

type Option func(*Handler)

func WithLogger(logger glog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRevokeScheduler makes DELETE /link/items/{item_id} enqueue the revoke
// and answer 202.
func WithRevokeScheduler(scheduler RevokeScheduler) Option {
	return func(h *Handler) {
		h.scheduler = scheduler
	}
}

// WithWebhookProcessor serves POST /link/webhooks/{aggregator}.
func WithWebhookProcessor(processor WebhookProcessor) Option {
	return func(h *Handler) {
		h.webhooks = processor
	}
}

func WithMaxBodyBytes(limit int64) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

type Handler struct {
	service      LinkService
	identity     IdentityResolver
	scheduler    RevokeScheduler
	webhooks     WebhookProcessor
	logger       glog.Logger
	maxBodyBytes int64
	mux          *http.ServeMux
}

func New(service LinkService, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("httpapi: link service is required")
	}
	h := &Handler{
		service:      service,
		identity:     contextCaller,
		logger:       glog.Nop(),
		maxBodyBytes: defaultMaxBodyBytes,
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.RegisterRoutes(h.mux)
	return h, nil
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+PathLinkToken, h.createLinkToken)
	mux.HandleFunc("POST "+PathExchange, h.exchangePublicToken)
	mux.HandleFunc("GET "+PathItems, h.listItems)
	mux.HandleFunc("GET "+PathItems+"/{item_id}", h.getItem)
	mux.HandleFunc("DELETE "+PathItems+"/{item_id}", h.revokeItem)
	if h.webhooks != nil {
		mux.HandleFunc("POST "+PathWebhooks+"/{aggregator}", h.receiveWebhook)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) createLinkToken(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req LinkTokenRequest
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	user, err := bindUser(caller, req.User)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.CreateLinkToken(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, LinkTokenResponse{
		LinkToken:  result.LinkToken,
		Expiration: result.Expiration,
		RequestID:  result.RequestID,
	})
}

func (h *Handler) exchangePublicToken(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req ExchangeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := bindUser(caller, req.User)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := h.service.ExchangePublicToken(r.Context(), core.ExchangeRequest{
		PublicToken: req.PublicToken,
		User:        user,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExchangeResponse{ItemID: receipt.ItemID, RequestID: receipt.RequestID})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if requested := strings.TrimSpace(r.URL.Query().Get("user_id")); requested != "" && requested != caller.ID {
		h.writeError(w, r, forbidden("httpapi: items of another user cannot be listed"))
		return
	}
	items, err := h.service.ListItems(r.Context(), caller.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := ItemsResponse{Items: make([]ItemPayload, 0, len(items))}
	for _, item := range items {
		out.Items = append(out.Items, NewItemPayload(item))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ownedItem(r, r.PathValue("item_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewItemPayload(item))
}

func (h *Handler) revokeItem(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	itemID := r.PathValue("item_id")
	if _, err := h.ownedItem(r, itemID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.scheduler != nil {
		if err := h.scheduler.ScheduleRevoke(r.Context(), itemID, req.Reason); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, RevokeResponse{ItemID: itemID, Status: "scheduled"})
		return
	}
	if err := h.service.RevokeItem(r.Context(), itemID, req.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RevokeResponse{ItemID: itemID, Status: string(core.ItemStatusRevoked)})
}

func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, r, goerrors.Wrap(err, goerrors.CategoryBadInput, "httpapi: read webhook body").
			WithTextCode(core.LinkErrorBadInput))
		return
	}
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	result, err := h.webhooks.Process(r.Context(), webhooks.Request{
		Aggregator: r.PathValue("aggregator"),
		Headers:    headers,
		Body:       body,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	deduped, _ := result.Metadata["deduped"].(bool)
	writeJSON(w, status, WebhookResponse{Accepted: result.Accepted, Deduped: deduped})
}

func (h *Handler) caller(r *http.Request) (core.UserIdentity, error) {
	user, err := h.identity(r)
	if err != nil {
		return core.UserIdentity{}, unauthenticated(err, "httpapi: request is not authenticated")
	}
	if strings.TrimSpace(user.ID) == "" {
		return core.UserIdentity{}, unauthenticated(nil, "httpapi: request is not authenticated")
	}
	return user, nil
}

// ownedItem loads itemID for the caller. Another user's item is reported as
// not found so ids cannot be enumerated across accounts.
func (h *Handler) ownedItem(r *http.Request, itemID string) (core.LinkedItem, error) {
	caller, err := h.caller(r)
	if err != nil {
		return core.LinkedItem{}, err
	}
	item, err := h.service.GetItem(r.Context(), itemID)
	if err != nil {
		return core.LinkedItem{}, err
	}
	if item.UserID != caller.ID {
		return core.LinkedItem{}, itemNotFound(itemID)
	}
	return item, nil
}

// bindUser merges profile fields from the body into caller. A body naming a
// different user is refused.
func bindUser(caller core.UserIdentity, body UserPayload) (core.UserIdentity, error) {
	if id := strings.TrimSpace(body.ID); id != "" && id != caller.ID {
		return core.UserIdentity{}, forbidden("httpapi: request user does not match the authenticated caller")
	}
	if caller.Email == "" {
		caller.Email = body.Email
	}
	if caller.FirstName == "" {
		caller.FirstName = body.FirstName
	}
	if caller.LastName == "" {
		caller.LastName = body.LastName
	}
	return caller, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return goerrors.New("httpapi: request body is required", goerrors.CategoryBadInput).
				WithTextCode(core.LinkErrorBadInput)
		}
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "httpapi: invalid json body").
			WithTextCode(core.LinkErrorBadInput)
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rich := core.AsLinkError(err)
	status := rich.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	message := rich.Message
	if status >= http.StatusInternalServerError && rich.Category == goerrors.CategoryInternal {
		message = "An unexpected error occurred"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("link api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"text_code", rich.TextCode,
			"error", err,
		)
	}
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:     strings.TrimSpace(rich.TextCode),
		Message:  message,
		Category: string(rich.Category),
		Metadata: core.RedactSensitiveMap(rich.Metadata),
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
