package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/providers/plaid"
	"github.com/goliatone/go-banklink/webhooks"
)

type stubLinkService struct {
	calls        int
	lastUser     core.UserIdentity
	lastExchange core.ExchangeRequest
	revoked      []string
	items        []core.LinkedItem
	err          error
}

func (s *stubLinkService) CreateLinkToken(_ context.Context, user core.UserIdentity) (core.LinkTokenResult, error) {
	s.calls++
	s.lastUser = user
	if s.err != nil {
		return core.LinkTokenResult{}, s.err
	}
	expiration := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return core.LinkTokenResult{LinkToken: "link-sandbox-1", Expiration: &expiration, RequestID: "req-1"}, nil
}

func (s *stubLinkService) ExchangePublicToken(_ context.Context, req core.ExchangeRequest) (core.ExchangeReceipt, error) {
	s.calls++
	s.lastExchange = req
	if s.err != nil {
		return core.ExchangeReceipt{}, s.err
	}
	return core.ExchangeReceipt{ItemID: "item_1", RequestID: "req-2"}, nil
}

func (s *stubLinkService) ListItems(_ context.Context, userID string) ([]core.LinkedItem, error) {
	s.calls++
	if strings.TrimSpace(userID) == "" {
		return nil, core.ErrInvalidUserIdentity
	}
	var out []core.LinkedItem
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, s.err
}

func (s *stubLinkService) GetItem(_ context.Context, itemID string) (core.LinkedItem, error) {
	for _, item := range s.items {
		if item.ItemID == itemID {
			return item, nil
		}
	}
	return core.LinkedItem{}, core.ErrItemNotFound
}

func (s *stubLinkService) RevokeItem(_ context.Context, itemID string, reason string) error {
	s.revoked = append(s.revoked, itemID+"|"+reason)
	return s.err
}

type stubScheduler struct {
	scheduled []string
}

func (s *stubScheduler) ScheduleRevoke(_ context.Context, itemID string, _ string) error {
	s.scheduled = append(s.scheduled, itemID)
	return nil
}

const testUserHeader = "X-Test-User"

// headerIdentity trusts a test header so tests can switch callers cheaply.
func headerIdentity(r *http.Request) (core.UserIdentity, error) {
	id := r.Header.Get(testUserHeader)
	if id == "" {
		return core.UserIdentity{}, errors.New("no test user")
	}
	return core.UserIdentity{ID: id}, nil
}

func newTestHandler(t *testing.T, service LinkService, opts ...Option) *Handler {
	t.Helper()
	opts = append([]Option{WithIdentityResolver(headerIdentity)}, opts...)
	handler, err := New(service, opts...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	return serveAs(handler, "u1", method, path, body)
}

func serveAs(handler http.Handler, user, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var out ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return out.Error
}

func TestCreateLinkToken(t *testing.T) {
	service := &stubLinkService{}
	handler := newTestHandler(t, service)

	rec := serve(handler, http.MethodPost, PathLinkToken, `{"user":{"first_name":"Ada"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var out LinkTokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.LinkToken != "link-sandbox-1" || out.Expiration == nil || out.RequestID != "req-1" {
		t.Fatalf("unexpected response %#v", out)
	}
	if service.lastUser.ID != "u1" || service.lastUser.FirstName != "Ada" {
		t.Fatalf("unexpected user forwarded %#v", service.lastUser)
	}

	rec = serve(handler, http.MethodPost, PathLinkToken, "")
	if rec.Code != http.StatusCreated || service.lastUser.ID != "u1" {
		t.Fatalf("expected bodiless request to link the caller, got %d %#v", rec.Code, service.lastUser)
	}
}

func TestLinkRoutes_RequireCaller(t *testing.T) {
	service := &stubLinkService{items: []core.LinkedItem{{ItemID: "item_1", UserID: "u1"}}}
	handler := newTestHandler(t, service)

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, PathLinkToken, `{"user":{"id":"u1"}}`},
		{http.MethodPost, PathExchange, `{"public_token":"public-1","user":{"id":"u1"}}`},
		{http.MethodGet, PathItems + "?user_id=u1", ""},
		{http.MethodGet, PathItems + "/item_1", ""},
		{http.MethodDelete, PathItems + "/item_1", ""},
	}
	for _, route := range routes {
		rec := serveAs(handler, "", route.method, route.path, route.body)
		if rec.Code != http.StatusUnauthorized || decodeError(t, rec).Code != core.LinkErrorUnauthorized {
			t.Fatalf("expected 401 for anonymous %s %s, got %d %s", route.method, route.path, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 0 || len(service.revoked) != 0 {
		t.Fatalf("expected anonymous requests to stop before the service")
	}
}

func TestLinkRoutes_RejectBodyUserMismatch(t *testing.T) {
	service := &stubLinkService{}
	handler := newTestHandler(t, service)

	bodies := map[string]string{
		PathLinkToken: `{"user":{"id":"u2"}}`,
		PathExchange:  `{"public_token":"public-1","user":{"id":"u2"}}`,
	}
	for path, body := range bodies {
		rec := serve(handler, http.MethodPost, path, body)
		if rec.Code != http.StatusForbidden || decodeError(t, rec).Code != core.LinkErrorForbidden {
			t.Fatalf("expected 403 for %s on behalf of another user, got %d %s", path, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 0 {
		t.Fatalf("expected mismatched users to stop before the service")
	}

	rec := serve(handler, http.MethodPost, PathExchange, `{"public_token":"public-1"}`)
	if rec.Code != http.StatusOK || service.lastExchange.User.ID != "u1" {
		t.Fatalf("expected exchange for the caller, got %d %#v", rec.Code, service.lastExchange.User)
	}
}

func TestDefaultIdentity_ReadsContextCaller(t *testing.T) {
	service := &stubLinkService{}
	handler, err := New(service)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if rec := serve(handler, http.MethodPost, PathLinkToken, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an authenticated context, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, PathLinkToken, nil)
	req = req.WithContext(ContextWithCaller(req.Context(), core.UserIdentity{ID: "u7", Email: "u7@example.com"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated || service.lastUser.ID != "u7" || service.lastUser.Email != "u7@example.com" {
		t.Fatalf("expected context caller to be linked, got %d %#v", rec.Code, service.lastUser)
	}
}

func TestCreateLinkToken_BadBodies(t *testing.T) {
	handler := newTestHandler(t, &stubLinkService{})
	for _, body := range []string{"{", `{"user":{"id":"u1"},"extra":true}`} {
		rec := serve(handler, http.MethodPost, PathLinkToken, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for body %q, got %d", body, rec.Code)
		}
		if got := decodeError(t, rec).Code; got != core.LinkErrorBadInput {
			t.Fatalf("expected %s for body %q, got %s", core.LinkErrorBadInput, body, got)
		}
	}
}

func TestExchangePublicToken_MapsErrors(t *testing.T) {
	service := &stubLinkService{}
	handler := newTestHandler(t, service)

	rec := serve(handler, http.MethodPost, PathExchange, `{"public_token":"public-1","user":{"id":"u1"},"metadata":{"institution_id":"ins_1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if service.lastExchange.PublicToken != "public-1" || service.lastExchange.Metadata["institution_id"] != "ins_1" {
		t.Fatalf("unexpected exchange forwarded %#v", service.lastExchange)
	}

	cases := []struct {
		err      error
		status   int
		textCode string
	}{
		{core.ErrPublicTokenAlreadyClaimed, http.StatusConflict, core.LinkErrorPublicTokenReused},
		{core.ErrPublicTokenRequired, http.StatusBadRequest, core.LinkErrorBadInput},
		{core.NewLinkFailureError(core.LinkFailureExchange, errors.New("INVALID_PUBLIC_TOKEN")), http.StatusBadGateway, core.LinkErrorExchangeFailed},
	}
	for _, tc := range cases {
		service.err = tc.err
		rec := serve(handler, http.MethodPost, PathExchange, `{"public_token":"public-1","user":{"id":"u1"}}`)
		if rec.Code != tc.status {
			t.Fatalf("expected %d for %v, got %d", tc.status, tc.err, rec.Code)
		}
		if got := decodeError(t, rec).Code; got != tc.textCode {
			t.Fatalf("expected %s for %v, got %s", tc.textCode, tc.err, got)
		}
	}
}

func TestItemsRoutes(t *testing.T) {
	linkedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	service := &stubLinkService{items: []core.LinkedItem{{
		ItemID:              "item_1",
		UserID:              "u1",
		Status:              core.ItemStatusActive,
		EncryptedCredential: []byte("cipher"),
		LinkedAt:            linkedAt,
	}}}
	handler := newTestHandler(t, service)

	rec := serve(handler, http.MethodGet, PathItems+"?user_id=u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "cipher") || strings.Contains(rec.Body.String(), "credential") {
		t.Fatalf("expected no credential material in listing: %s", rec.Body.String())
	}
	var out ItemsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].ItemID != "item_1" || !out.Items[0].LinkedAt.Equal(linkedAt) {
		t.Fatalf("unexpected items %#v", out.Items)
	}

	if rec := serve(handler, http.MethodGet, PathItems, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected listing to default to the caller, got %d", rec.Code)
	}
	rec = serve(handler, http.MethodGet, PathItems+"?user_id=u2", "")
	if rec.Code != http.StatusForbidden || decodeError(t, rec).Code != core.LinkErrorForbidden {
		t.Fatalf("expected 403 listing another user's items, got %d", rec.Code)
	}
	if rec := serve(handler, http.MethodGet, PathItems+"/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown item, got %d", rec.Code)
	}
	if rec := serve(handler, http.MethodGet, PathItems+"/item_1", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for known item, got %d", rec.Code)
	}
}

func TestItemRoutes_HideOtherUsersItems(t *testing.T) {
	service := &stubLinkService{items: []core.LinkedItem{{ItemID: "item_9", UserID: "u2", Status: core.ItemStatusActive}}}
	scheduler := &stubScheduler{}
	inline := newTestHandler(t, service)
	scheduled := newTestHandler(t, service, WithRevokeScheduler(scheduler))

	rec := serveAs(inline, "u1", http.MethodGet, PathItems+"/item_9", "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != core.LinkErrorItemNotFound {
		t.Fatalf("expected 404 reading another user's item, got %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "u2") {
		t.Fatalf("expected owner to stay hidden: %s", rec.Body.String())
	}

	for _, handler := range []http.Handler{inline, scheduled} {
		rec := serveAs(handler, "u1", http.MethodDelete, PathItems+"/item_9", `{"reason":"not mine"}`)
		if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != core.LinkErrorItemNotFound {
			t.Fatalf("expected 404 revoking another user's item, got %d %s", rec.Code, rec.Body.String())
		}
	}
	if len(service.revoked) != 0 || len(scheduler.scheduled) != 0 {
		t.Fatalf("expected cross-user revoke to be refused, revoked=%v scheduled=%v", service.revoked, scheduler.scheduled)
	}

	if rec := serveAs(inline, "u2", http.MethodGet, PathItems+"/item_9", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected owner to read the item, got %d", rec.Code)
	}
	if rec := serveAs(inline, "u2", http.MethodDelete, PathItems+"/item_9", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected owner to revoke the item, got %d", rec.Code)
	}
}

func TestRevokeItem_InlineAndScheduled(t *testing.T) {
	service := &stubLinkService{items: []core.LinkedItem{
		{ItemID: "item_1", UserID: "u1"},
		{ItemID: "item_2", UserID: "u1"},
	}}
	handler := newTestHandler(t, service)

	rec := serve(handler, http.MethodDelete, PathItems+"/item_1", `{"reason":"user request"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(service.revoked) != 1 || service.revoked[0] != "item_1|user request" {
		t.Fatalf("unexpected revoke calls %v", service.revoked)
	}

	scheduler := &stubScheduler{}
	scheduled := newTestHandler(t, service, WithRevokeScheduler(scheduler))
	rec = serve(scheduled, http.MethodDelete, PathItems+"/item_2", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(scheduler.scheduled) != 1 || len(service.revoked) != 1 {
		t.Fatalf("expected revoke to be scheduled, not run inline")
	}
}

func TestHandler_HidesInternalErrors(t *testing.T) {
	service := &stubLinkService{err: errors.New("pq: connection refused")}
	handler := newTestHandler(t, service)

	rec := serve(handler, http.MethodPost, PathLinkToken, `{"user":{"id":"u1"}}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != core.LinkErrorInternal || strings.Contains(body.Message, "pq:") {
		t.Fatalf("expected opaque internal error, got %#v", body)
	}
}

func TestNew_RequiresService(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected missing service error")
	}
}

type stubWebhookVerifier struct {
	header string
}

func (v stubWebhookVerifier) Verify(_ context.Context, req webhooks.Request) error {
	if req.Headers[v.header] == "" {
		return errors.New("missing signature")
	}
	return nil
}

type stubItemStatusApplier struct {
	applied []string
}

func (a *stubItemStatusApplier) ApplyItemStatus(_ context.Context, itemID string, status core.ItemStatus, reason string) error {
	a.applied = append(a.applied, itemID+"|"+string(status)+"|"+reason)
	return nil
}

func TestReceiveWebhook(t *testing.T) {
	applier := &stubItemStatusApplier{}
	itemHandler, err := webhooks.NewItemStatusHandler(plaid.DecodeWebhook, applier)
	if err != nil {
		t.Fatalf("item handler: %v", err)
	}
	processor := webhooks.NewProcessor(stubWebhookVerifier{header: "Plaid-Verification"}, core.NewMemoryReplayLedger(time.Hour), itemHandler)
	handler := newTestHandler(t, &stubLinkService{}, WithWebhookProcessor(processor))

	body := `{"webhook_type":"ITEM","webhook_code":"USER_PERMISSION_REVOKED","item_id":"item_1"}`
	send := func(signed bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, PathWebhooks+"/plaid", strings.NewReader(body))
		if signed {
			req.Header.Set("Plaid-Verification", "token")
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(false)
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec).Code != core.LinkErrorUnauthorized {
		t.Fatalf("expected 401 for unsigned webhook, got %d %s", rec.Code, rec.Body.String())
	}

	rec = send(true)
	var out WebhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || rec.Code != http.StatusOK || !out.Accepted || out.Deduped {
		t.Fatalf("expected accepted webhook, got %d %s", rec.Code, rec.Body.String())
	}
	if len(applier.applied) != 1 || applier.applied[0] != "item_1|revoked|USER_PERMISSION_REVOKED" {
		t.Fatalf("unexpected applied statuses %#v", applier.applied)
	}

	rec = send(true)
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || !out.Deduped {
		t.Fatalf("expected redelivery to be deduped, got %s", rec.Body.String())
	}
	if len(applier.applied) != 1 {
		t.Fatalf("expected redelivery to skip the handler")
	}
}

func TestWebhookRoute_OnlyWithProcessor(t *testing.T) {
	handler := newTestHandler(t, &stubLinkService{})
	rec := serve(handler, http.MethodPost, PathWebhooks+"/plaid", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a webhook processor, got %d", rec.Code)
	}
}
