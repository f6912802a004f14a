package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-banklink/core"
)

// StaticTokenProvider hands out the same link token on every call.
type StaticTokenProvider struct {
	mu    sync.Mutex
	Token string
	Err   error
	users []core.UserIdentity
}

func (p *StaticTokenProvider) CreateLinkToken(_ context.Context, user core.UserIdentity) (core.LinkTokenResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, user)
	if p.Err != nil {
		return core.LinkTokenResult{}, p.Err
	}
	return core.LinkTokenResult{LinkToken: p.Token, RequestID: fmt.Sprintf("devkit-token-%d", len(p.users))}, nil
}

func (p *StaticTokenProvider) Users() []core.UserIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.UserIdentity(nil), p.users...)
}

// RecordingExchanger captures exchange requests and answers with ItemID.
type RecordingExchanger struct {
	mu       sync.Mutex
	ItemID   string
	Err      error
	requests []core.ExchangeRequest
}

func (e *RecordingExchanger) ExchangePublicToken(_ context.Context, req core.ExchangeRequest) (core.ExchangeReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.Err != nil {
		return core.ExchangeReceipt{}, e.Err
	}
	return core.ExchangeReceipt{ItemID: e.ItemID}, nil
}

func (e *RecordingExchanger) Requests() []core.ExchangeRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.ExchangeRequest(nil), e.requests...)
}

type RecordingNavigator struct {
	mu     sync.Mutex
	routes []string
	Err    error
}

func (n *RecordingNavigator) Navigate(_ context.Context, route string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
	return n.Err
}

func (n *RecordingNavigator) Routes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.routes...)
}

type RecordingFailureHook struct {
	mu       sync.Mutex
	failures []core.LinkFailure
}

func (h *RecordingFailureHook) OnLinkFailure(_ context.Context, failure core.LinkFailure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, failure)
}

func (h *RecordingFailureHook) Failures() []core.LinkFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.LinkFailure(nil), h.failures...)
}

// MemoryAggregator is an in-process aggregator. Public tokens of the form
// "public-<item>" exchange to item "<item>" with access token "access-<item>".
type MemoryAggregator struct {
	mu        sync.Mutex
	next      int
	granted   map[string]string
	removed   []string
	Now       func() time.Time
	TokenTTL  time.Duration
	RemoveErr error
}

func NewMemoryAggregator() *MemoryAggregator {
	return &MemoryAggregator{granted: map[string]string{}, TokenTTL: 4 * time.Hour}
}

func (a *MemoryAggregator) CreateLinkToken(_ context.Context, req core.AggregatorLinkTokenRequest) (core.AggregatorLinkToken, error) {
	if strings.TrimSpace(req.User.ID) == "" {
		return core.AggregatorLinkToken{}, fmt.Errorf("devkit: client_user_id is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now().UTC()
	}
	return core.AggregatorLinkToken{
		LinkToken:  fmt.Sprintf("link-devkit-%d", a.next),
		Expiration: now.Add(a.TokenTTL),
		RequestID:  fmt.Sprintf("devkit-req-%d", a.next),
	}, nil
}

func (a *MemoryAggregator) ExchangePublicToken(_ context.Context, publicToken string) (core.AggregatorAccessGrant, error) {
	itemID, ok := strings.CutPrefix(strings.TrimSpace(publicToken), "public-")
	if !ok || itemID == "" {
		return core.AggregatorAccessGrant{}, fmt.Errorf("devkit: INVALID_PUBLIC_TOKEN")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	accessToken := "access-" + itemID
	a.granted[accessToken] = itemID
	return core.AggregatorAccessGrant{AccessToken: accessToken, ItemID: itemID, RequestID: "devkit-exchange-" + itemID}, nil
}

func (a *MemoryAggregator) RemoveItem(_ context.Context, accessToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RemoveErr != nil {
		return a.RemoveErr
	}
	itemID, ok := a.granted[accessToken]
	if !ok {
		return fmt.Errorf("devkit: INVALID_ACCESS_TOKEN")
	}
	delete(a.granted, accessToken)
	a.removed = append(a.removed, itemID)
	return nil
}

func (a *MemoryAggregator) Removed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.removed...)
}

var (
	_ core.TokenProvider       = (*StaticTokenProvider)(nil)
	_ core.CredentialExchanger = (*RecordingExchanger)(nil)
	_ core.Navigator           = (*RecordingNavigator)(nil)
	_ core.FailureHook         = (*RecordingFailureHook)(nil)
	_ core.Aggregator          = (*MemoryAggregator)(nil)
)
