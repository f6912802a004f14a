package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
}

func (testSecretProvider) KeyID() string {
	return "test-key"
}

type fakeWidget struct {
	mu      sync.Mutex
	cfg     WidgetConfig
	ready   bool
	opened  int
	closed  bool
	openErr error
}

func (w *fakeWidget) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openErr != nil {
		return w.openErr
	}
	w.opened++
	return nil
}

func (w *fakeWidget) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready && !w.closed
}

func (w *fakeWidget) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWidget) markReady() {
	w.mu.Lock()
	w.ready = true
	onReady := w.cfg.OnReady
	w.mu.Unlock()
	if onReady != nil {
		onReady()
	}
}

func (w *fakeWidget) openCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opened
}

func (w *fakeWidget) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type recordingWidgetFactory struct {
	mu        sync.Mutex
	widgets   []*fakeWidget
	autoReady bool
	err       error
	created   chan *fakeWidget
}

func newRecordingWidgetFactory(autoReady bool) *recordingWidgetFactory {
	return &recordingWidgetFactory{autoReady: autoReady, created: make(chan *fakeWidget, 16)}
}

func (f *recordingWidgetFactory) NewWidget(_ context.Context, cfg WidgetConfig) (Widget, error) {
	if f.err != nil {
		return nil, f.err
	}
	widget := &fakeWidget{cfg: cfg, ready: f.autoReady}
	f.mu.Lock()
	f.widgets = append(f.widgets, widget)
	f.mu.Unlock()
	f.created <- widget
	return widget, nil
}

func (f *recordingWidgetFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.widgets)
}

func (f *recordingWidgetFactory) last(t *testing.T) *fakeWidget {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.widgets) == 0 {
		t.Fatalf("expected a widget to be created")
	}
	return f.widgets[len(f.widgets)-1]
}

type recordingTokenProvider struct {
	mu      sync.Mutex
	users   []UserIdentity
	tokens  map[string]string
	err     error
	release chan struct{}
}

func newRecordingTokenProvider(token string) *recordingTokenProvider {
	return &recordingTokenProvider{tokens: map[string]string{"*": token}}
}

func (p *recordingTokenProvider) CreateLinkToken(ctx context.Context, user UserIdentity) (LinkTokenResult, error) {
	p.mu.Lock()
	p.users = append(p.users, user)
	release := p.release
	token, ok := p.tokens[user.ID]
	if !ok {
		token = p.tokens["*"]
	}
	err := p.err
	p.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return LinkTokenResult{}, ctx.Err()
		}
	}
	if err != nil {
		return LinkTokenResult{}, err
	}
	return LinkTokenResult{LinkToken: token, RequestID: "req-" + user.ID}, nil
}

func (p *recordingTokenProvider) calls() []UserIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]UserIdentity(nil), p.users...)
}

type recordingExchanger struct {
	mu       sync.Mutex
	requests []ExchangeRequest
	receipt  ExchangeReceipt
	err      error
	panicMsg string
	release  chan struct{}
}

func (e *recordingExchanger) ExchangePublicToken(_ context.Context, req ExchangeRequest) (ExchangeReceipt, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	release := e.release
	receipt, err, panicMsg := e.receipt, e.err, e.panicMsg
	e.mu.Unlock()

	if release != nil {
		<-release
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	return receipt, err
}

func (e *recordingExchanger) calls() []ExchangeRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExchangeRequest(nil), e.requests...)
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
	done   chan string
}

func newRecordingNavigator() *recordingNavigator {
	return &recordingNavigator{done: make(chan string, 16)}
}

func (n *recordingNavigator) Navigate(_ context.Context, route string) error {
	n.mu.Lock()
	n.routes = append(n.routes, route)
	n.mu.Unlock()
	n.done <- route
	return nil
}

func (n *recordingNavigator) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.routes...)
}

type recordingFailureHook struct {
	mu       sync.Mutex
	failures []LinkFailure
	done     chan LinkFailure
}

func newRecordingFailureHook() *recordingFailureHook {
	return &recordingFailureHook{done: make(chan LinkFailure, 16)}
}

func (h *recordingFailureHook) OnLinkFailure(_ context.Context, failure LinkFailure) {
	h.mu.Lock()
	h.failures = append(h.failures, failure)
	h.mu.Unlock()
	h.done <- failure
}

func (h *recordingFailureHook) calls() []LinkFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LinkFailure(nil), h.failures...)
}

func receiveWithin[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case value := <-ch:
		return value
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func eventually(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type memoryItemStore struct {
	mu    sync.Mutex
	next  int
	items map[string]LinkedItem
	err   error
}

func newMemoryItemStore() *memoryItemStore {
	return &memoryItemStore{items: map[string]LinkedItem{}}
}

func (s *memoryItemStore) Upsert(_ context.Context, in SaveItemInput) (LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return LinkedItem{}, s.err
	}
	item, ok := s.items[in.ItemID]
	if !ok {
		s.next++
		item = LinkedItem{ID: fmt.Sprintf("itm_%d", s.next), CreatedAt: in.LinkedAt}
	}
	item.UserID = in.UserID
	item.ItemID = in.ItemID
	item.InstitutionID = in.InstitutionID
	item.InstitutionName = in.InstitutionName
	item.Status = ItemStatusActive
	item.EncryptedCredential = append([]byte(nil), in.EncryptedCredential...)
	item.PayloadFormat = in.PayloadFormat
	item.EncryptionKeyID = in.EncryptionKeyID
	item.LinkedAt = in.LinkedAt
	item.RevokedAt = nil
	item.LastError = ""
	item.UpdatedAt = in.LinkedAt
	s.items[in.ItemID] = item
	return item, nil
}

func (s *memoryItemStore) GetByItemID(_ context.Context, itemID string) (LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return LinkedItem{}, ErrItemNotFound
	}
	return item, nil
}

func (s *memoryItemStore) ListByUser(_ context.Context, userID string) ([]LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []LinkedItem{}
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryItemStore) UpdateStatus(_ context.Context, itemID string, status ItemStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if err := item.TransitionTo(status, reason, time.Now().UTC()); err != nil {
		return err
	}
	s.items[itemID] = item
	return nil
}

type memoryEventStore struct {
	mu     sync.Mutex
	events []LinkEvent
}

func (s *memoryEventStore) Append(_ context.Context, event LinkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memoryEventStore) byType(eventType LinkEventType) []LinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []LinkEvent{}
	for _, event := range s.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakeAggregator struct {
	mu            sync.Mutex
	tokenRequests []AggregatorLinkTokenRequest
	exchanged     []string
	removed       []string
	linkToken     string
	tokenErr      error
	grant         AggregatorAccessGrant
	exchangeErr   error
	removeErr     error
}

func (a *fakeAggregator) CreateLinkToken(_ context.Context, req AggregatorLinkTokenRequest) (AggregatorLinkToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokenRequests = append(a.tokenRequests, req)
	if a.tokenErr != nil {
		return AggregatorLinkToken{}, a.tokenErr
	}
	return AggregatorLinkToken{
		LinkToken:  a.linkToken,
		Expiration: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		RequestID:  "agg-req-1",
	}, nil
}

func (a *fakeAggregator) ExchangePublicToken(_ context.Context, publicToken string) (AggregatorAccessGrant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanged = append(a.exchanged, publicToken)
	if a.exchangeErr != nil {
		return AggregatorAccessGrant{}, a.exchangeErr
	}
	return a.grant, nil
}

func (a *fakeAggregator) RemoveItem(_ context.Context, accessToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, accessToken)
	return a.removeErr
}
