package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const successReplayPrefix = "link_success:"

// SuccessHandler receives the widget success event for one identity of a
// session. The session hands the widget the same handler until the identity
// changes, so widgets can compare handlers by pointer.
type SuccessHandler struct {
	session    *Session
	generation uint64
	user       UserIdentity
}

// Handle starts the credential exchange for publicToken. It reports whether
// the event was accepted; events for a stale identity, an unmounted session,
// or a session that already started an exchange are ignored.
func (h *SuccessHandler) Handle(publicToken string, metadata SuccessMetadata) bool {
	if h == nil || h.session == nil {
		return false
	}
	return h.session.acceptSuccess(h, publicToken, metadata)
}

func (h *SuccessHandler) User() UserIdentity {
	if h == nil {
		return UserIdentity{}
	}
	return h.user
}

// Session is one mount of the link orchestrator.
type Session struct {
	orchestrator *Orchestrator
	id           string

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	changed    chan struct{}
	generation uint64
	genCtx     context.Context
	genCancel  context.CancelFunc
	user       UserIdentity
	handler    *SuccessHandler
	state      LinkState
	token      string
	widget     Widget
	itemID     string
	lastErr    error
	closed     bool
}

func newSession(ctx context.Context, o *Orchestrator) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	return &Session{
		orchestrator: o,
		id:           o.idGenerator(),
		ctx:          sessionCtx,
		cancel:       cancel,
		changed:      make(chan struct{}),
		state:        LinkStateInitializing,
	}
}

func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *Session) start(user UserIdentity) {
	s.mu.Lock()
	gen, ctx, handler := s.beginGenerationLocked(user)
	s.mu.Unlock()
	go s.acquireToken(ctx, gen, handler)
}

// beginGenerationLocked resets the session to Initializing for user and
// returns what the token fetch needs.
func (s *Session) beginGenerationLocked(user UserIdentity) (uint64, context.Context, *SuccessHandler) {
	if s.genCancel != nil {
		s.genCancel()
	}
	s.generation++
	s.genCtx, s.genCancel = context.WithCancel(s.ctx)
	s.user = user
	s.handler = &SuccessHandler{session: s, generation: s.generation, user: user}
	s.state = LinkStateInitializing
	s.token = ""
	s.widget = nil
	s.itemID = ""
	s.lastErr = nil
	s.broadcastLocked()
	return s.generation, s.genCtx, s.handler
}

func (s *Session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) transitionLocked(next LinkState) error {
	if err := transitionLinkState(s.state, next); err != nil {
		return err
	}
	s.state = next
	s.broadcastLocked()
	return nil
}

func (s *Session) currentLocked(gen uint64) bool {
	return !s.closed && s.generation == gen
}

func (s *Session) acquireToken(ctx context.Context, gen uint64, handler *SuccessHandler) {
	o := s.orchestrator
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"session_id": s.id,
		"user_id":    handler.user.ID,
		"generation": gen,
	}
	ctx, span := o.telemetry.startSpan(ctx, "token_fetch", fields)

	result, err := s.callTokenProvider(ctx, handler.user)
	token := strings.TrimSpace(result.LinkToken)
	if err == nil && token == "" {
		err = ErrEmptyLinkToken
	}

	var widget Widget
	if err == nil {
		s.mu.Lock()
		stale := !s.currentLocked(gen)
		s.mu.Unlock()
		if stale {
			s.discard(ctx, span, startedAt, "token_fetch", fields, nil)
			return
		}
		widget, err = s.createWidget(ctx, gen, token, handler)
	}

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		s.discard(ctx, span, startedAt, "token_fetch", fields, widget)
		return
	}
	if err != nil {
		failure := o.mapError(NewLinkFailureError(LinkFailureTokenAcquisition, err))
		s.lastErr = failure
		transitionErr := s.transitionLocked(LinkStateTokenFailed)
		s.mu.Unlock()
		if transitionErr != nil {
			failure = transitionErr
		}
		fields["state"] = LinkStateTokenFailed
		fields["failure_kind"] = LinkFailureTokenAcquisition
		o.telemetry.observeOperation(ctx, span, startedAt, "token_fetch", failure, fields)
		o.reportFailure(ctx, LinkFailure{
			Kind:      LinkFailureTokenAcquisition,
			SessionID: s.id,
			User:      handler.user,
			Err:       failure,
			At:        o.now(),
		})
		return
	}
	s.token = token
	s.widget = widget
	transitionErr := s.transitionLocked(LinkStateTokenReady)
	s.mu.Unlock()

	fields["state"] = LinkStateTokenReady
	fields["request_id"] = result.RequestID
	o.telemetry.observeOperation(ctx, span, startedAt, "token_fetch", transitionErr, fields)
}

func (s *Session) callTokenProvider(ctx context.Context, user UserIdentity) (result LinkTokenResult, err error) {
	o := s.orchestrator
	defer recoverCollaborator(&err, "token provider")
	callCtx, cancel := withOptionalTimeout(ctx, o.config.TokenTimeout)
	defer cancel()
	return o.tokenProvider.CreateLinkToken(callCtx, user)
}

func (s *Session) createWidget(ctx context.Context, gen uint64, token string, handler *SuccessHandler) (widget Widget, err error) {
	o := s.orchestrator
	defer recoverCollaborator(&err, "widget factory")
	widget, err = o.widgetFactory.NewWidget(ctx, WidgetConfig{
		Token:     token,
		OnSuccess: handler,
		OnReady: func() {
			s.widgetReady(gen)
		},
	})
	if err == nil && widget == nil {
		err = fmt.Errorf("core: widget factory returned no widget")
	}
	return widget, err
}

func (s *Session) widgetReady(gen uint64) {
	s.mu.Lock()
	current := s.currentLocked(gen)
	if current {
		s.broadcastLocked()
	}
	s.mu.Unlock()
	if current {
		s.orchestrator.telemetry.logInfo(s.ctx, "widget ready", map[string]any{
			"session_id": s.id,
			"generation": gen,
		})
	}
}

// discard drops a result that arrived after unmount or an identity change.
func (s *Session) discard(ctx context.Context, span trace.Span, startedAt time.Time, operation string, fields map[string]any, widget Widget) {
	if widget != nil {
		closeWidget(widget)
	}
	if span != nil {
		span.End()
	}
	fields = cloneFields(fields)
	fields["duration_ms"] = time.Since(startedAt).Milliseconds()
	s.orchestrator.telemetry.logInfo(ctx, operation+" result discarded", fields)
}

// Open opens the widget when the control is enabled. It reports whether the
// widget was opened; calls while disabled have no effect.
func (s *Session) Open() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	gen := s.generation
	state := s.state
	widget := s.widget
	closed := s.closed
	s.mu.Unlock()

	if closed || !state.AcceptsSuccess() || widget == nil || !isWidgetReady(widget) {
		return false
	}

	o := s.orchestrator
	startedAt := time.Now().UTC()
	fields := map[string]any{"session_id": s.id, "generation": gen}
	ctx, span := o.telemetry.startSpan(s.ctx, "open", fields)
	var err error
	defer func() {
		o.telemetry.observeOperation(ctx, span, startedAt, "open", err, fields)
	}()

	err = openWidget(widget)
	if err != nil {
		return false
	}

	s.mu.Lock()
	if s.currentLocked(gen) && s.state == LinkStateTokenReady {
		err = s.transitionLocked(LinkStateWidgetOpen)
	}
	fields["state"] = s.state
	s.mu.Unlock()
	return err == nil
}

func (s *Session) acceptSuccess(handler *SuccessHandler, publicToken string, metadata SuccessMetadata) bool {
	o := s.orchestrator
	publicToken = strings.TrimSpace(publicToken)
	fields := map[string]any{
		"session_id": s.id,
		"generation": handler.generation,
		"user_id":    handler.user.ID,
	}
	if publicToken == "" {
		o.telemetry.logWarn(s.ctx, "success event ignored: empty public token", fields)
		return false
	}

	s.mu.Lock()
	if !s.currentLocked(handler.generation) || !s.state.AcceptsSuccess() {
		fields["state"] = s.state
		s.mu.Unlock()
		o.telemetry.logWarn(s.ctx, "success event ignored", fields)
		return false
	}
	if err := s.transitionLocked(LinkStateLinkSucceeded); err != nil {
		s.mu.Unlock()
		o.telemetry.logError(s.ctx, "success event rejected", fields)
		return false
	}
	ctx := s.genCtx
	s.mu.Unlock()

	go s.exchange(ctx, handler, publicToken, metadata)
	return true
}

func (s *Session) exchange(ctx context.Context, handler *SuccessHandler, publicToken string, metadata SuccessMetadata) {
	o := s.orchestrator
	gen := handler.generation
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"session_id":     s.id,
		"user_id":        handler.user.ID,
		"generation":     gen,
		"institution_id": metadata.InstitutionID,
	}
	ctx, span := o.telemetry.startSpan(ctx, "exchange", fields)

	err := s.claimSuccess(ctx, publicToken)
	var receipt ExchangeReceipt
	if err == nil {
		receipt, err = s.callExchanger(ctx, ExchangeRequest{
			PublicToken: publicToken,
			User:        handler.user,
			Metadata:    metadata.Map(),
		})
	}

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		s.discard(ctx, span, startedAt, "exchange", fields, nil)
		return
	}
	if err != nil {
		failure := o.mapError(NewLinkFailureError(LinkFailureExchange, err))
		s.lastErr = failure
		transitionErr := s.transitionLocked(LinkStateExchangeFailed)
		s.mu.Unlock()
		if transitionErr != nil {
			failure = transitionErr
		}
		fields["state"] = LinkStateExchangeFailed
		fields["failure_kind"] = LinkFailureExchange
		o.telemetry.observeOperation(ctx, span, startedAt, "exchange", failure, fields)
		o.reportFailure(ctx, LinkFailure{
			Kind:      LinkFailureExchange,
			SessionID: s.id,
			User:      handler.user,
			Err:       failure,
			At:        o.now(),
		})
		return
	}
	s.itemID = strings.TrimSpace(receipt.ItemID)
	transitionErr := s.transitionLocked(LinkStateExchanged)
	s.mu.Unlock()

	fields["state"] = LinkStateExchanged
	fields["item_id"] = receipt.ItemID
	fields["request_id"] = receipt.RequestID
	o.telemetry.observeOperation(ctx, span, startedAt, "exchange", transitionErr, fields)
	if transitionErr == nil {
		s.navigate(ctx, gen)
	}
}

func (s *Session) claimSuccess(ctx context.Context, publicToken string) error {
	o := s.orchestrator
	if o.replayLedger == nil {
		return nil
	}
	accepted, err := o.replayLedger.Claim(ctx, successReplayKey(publicToken), o.config.ReplayTTL)
	if err != nil {
		// The exchange backend claims the token again, so a ledger outage
		// does not block linking.
		o.telemetry.logWarn(ctx, "replay ledger claim failed", map[string]any{
			"session_id": s.id,
			"error":      err.Error(),
		})
		return nil
	}
	if !accepted {
		return ErrPublicTokenAlreadyClaimed
	}
	return nil
}

func successReplayKey(publicToken string) string {
	return successReplayPrefix + strings.TrimPrefix(PublicTokenReplayKey(publicToken), publicTokenReplayPrefix)
}

func (s *Session) callExchanger(ctx context.Context, req ExchangeRequest) (receipt ExchangeReceipt, err error) {
	o := s.orchestrator
	defer recoverCollaborator(&err, "credential exchanger")
	callCtx, cancel := withOptionalTimeout(ctx, o.config.ExchangeTimeout)
	defer cancel()
	return o.exchanger.ExchangePublicToken(callCtx, req)
}

func (s *Session) navigate(ctx context.Context, gen uint64) {
	o := s.orchestrator
	route := o.config.DefaultRoute
	startedAt := time.Now().UTC()
	fields := map[string]any{"session_id": s.id, "generation": gen, "route": route}
	ctx, span := o.telemetry.startSpan(ctx, "navigate", fields)
	err := func() (err error) {
		defer recoverCollaborator(&err, "navigator")
		return o.navigator.Navigate(ctx, route)
	}()
	o.telemetry.observeOperation(ctx, span, startedAt, "navigate", err, fields)
}

// SetUser changes the session identity. A different identity restarts the
// sequence from Initializing with a new token fetch and a new success
// handler; the same identity is a no-op.
func (s *Session) SetUser(ctx context.Context, user UserIdentity) error {
	if s == nil {
		return ErrSessionClosed
	}
	o := s.orchestrator
	user = user.Normalized()
	if err := user.Validate(); err != nil {
		return o.mapError(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return o.mapError(ErrSessionClosed)
	}
	if s.user.SameAs(user) {
		s.mu.Unlock()
		return nil
	}
	previous := s.widget
	gen, genCtx, handler := s.beginGenerationLocked(user)
	s.mu.Unlock()

	if previous != nil {
		closeWidget(previous)
	}
	o.telemetry.logInfo(ctx, "identity changed, restarting link session", map[string]any{
		"session_id": s.id,
		"user_id":    user.ID,
		"generation": gen,
	})
	go s.acquireToken(genCtx, gen, handler)
	return nil
}

// SuccessHandler returns the handler bound to the current identity.
func (s *Session) SuccessHandler() *SuccessHandler {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{Closed: true}
	}
	s.mu.Lock()
	snap := Snapshot{
		SessionID:  s.id,
		Generation: s.generation,
		User:       s.user,
		State:      s.state,
		Token:      s.token,
		ItemID:     s.itemID,
		LastError:  s.lastErr,
		Closed:     s.closed,
	}
	widget := s.widget
	s.mu.Unlock()

	snap.IsLoading = !snap.Closed && snap.State == LinkStateInitializing
	snap.IsReady = !snap.Closed && snap.Token != "" && widget != nil && isWidgetReady(widget)
	snap.ControlEnabled = !snap.IsLoading && snap.IsReady && snap.State.AcceptsSuccess()
	return snap
}

func (s *Session) State() LinkState {
	return s.Snapshot().State
}

// Wait blocks until the session reaches one of states, the session is
// unmounted or ctx is done.
func (s *Session) Wait(ctx context.Context, states ...LinkState) (Snapshot, error) {
	return s.WaitFor(ctx, func(snap Snapshot) bool {
		for _, state := range states {
			if snap.State == state {
				return true
			}
		}
		return false
	})
}

// WaitFor blocks until match reports true for a snapshot.
func (s *Session) WaitFor(ctx context.Context, match func(Snapshot) bool) (Snapshot, error) {
	if s == nil {
		return Snapshot{Closed: true}, ErrSessionClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		changed := s.changed
		s.mu.Unlock()

		snap := s.Snapshot()
		if match != nil && match(snap) {
			return snap, nil
		}
		if snap.Closed {
			return snap, ErrSessionClosed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
}

// Unmount cancels in-flight work and closes the widget. Late results are
// ignored. Calling Unmount more than once is safe.
func (s *Session) Unmount() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	widget := s.widget
	s.widget = nil
	if s.genCancel != nil {
		s.genCancel()
	}
	s.cancel()
	s.broadcastLocked()
	state := s.state
	s.mu.Unlock()

	if widget != nil {
		closeWidget(widget)
	}
	s.orchestrator.telemetry.logInfo(context.Background(), "link session unmounted", map[string]any{
		"session_id": s.id,
		"state":      state,
	})
}

func isWidgetReady(widget Widget) (ready bool) {
	defer func() {
		if recover() != nil {
			ready = false
		}
	}()
	return widget.Ready()
}

func openWidget(widget Widget) (err error) {
	defer recoverCollaborator(&err, "widget open")
	return widget.Open()
}

func closeWidget(widget Widget) {
	defer func() { _ = recover() }()
	_ = widget.Close()
}

// Map flattens the metadata for an exchange request.
func (m SuccessMetadata) Map() map[string]any {
	out := map[string]any{}
	for key, value := range m.Extra {
		out[key] = value
	}
	if m.InstitutionID != "" {
		out["institution_id"] = m.InstitutionID
	}
	if m.InstitutionName != "" {
		out["institution_name"] = m.InstitutionName
	}
	if m.LinkSessionID != "" {
		out["link_session_id"] = m.LinkSessionID
	}
	if len(m.Accounts) > 0 {
		accounts := make([]any, 0, len(m.Accounts))
		for _, account := range m.Accounts {
			accounts = append(accounts, map[string]any{
				"id":      account.ID,
				"name":    account.Name,
				"mask":    account.Mask,
				"type":    account.Type,
				"subtype": account.Subtype,
			})
		}
		out["accounts"] = accounts
	}
	return out
}
