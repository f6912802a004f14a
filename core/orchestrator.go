package core

import (
	"context"
	"fmt"
	"time"
)

// Orchestrator mounts link sessions. It holds the collaborators shared by
// every session and is safe for concurrent use.
type Orchestrator struct {
	config         Config
	telemetry      telemetry
	loggerProvider LoggerProvider
	errorMapper    ErrorMapper
	tokenProvider  TokenProvider
	exchanger      CredentialExchanger
	widgetFactory  WidgetFactory
	navigator      Navigator
	failureHook    FailureHook
	replayLedger   ReplayLedger
	idGenerator    func() string
	now            func() time.Time
}

func NewOrchestrator(cfg Config, opts ...Option) (*Orchestrator, error) {
	b := newBuilder(cfg, opts)
	provider, logger := b.resolveLogger()

	finalConfig, err := b.resolveConfig(context.Background())
	if err != nil {
		return nil, err
	}

	switch {
	case b.tokenProvider == nil:
		return nil, mapBuildError(b.errorMapper, fmt.Errorf("core: token provider is required"))
	case b.credentialExchanger == nil:
		return nil, mapBuildError(b.errorMapper, fmt.Errorf("core: credential exchanger is required"))
	case b.widgetFactory == nil:
		return nil, mapBuildError(b.errorMapper, fmt.Errorf("core: widget factory is required"))
	}

	navigator := b.navigator
	if navigator == nil {
		navigator = NavigatorFunc(func(context.Context, string) error { return nil })
	}
	ledger := b.replayLedger
	if ledger == nil {
		ledger = NewMemoryReplayLedger(finalConfig.ReplayTTL)
	}

	return &Orchestrator{
		config:         finalConfig,
		telemetry:      newTelemetry(logger, b.metricsRecorder, b.tracer),
		loggerProvider: provider,
		errorMapper:    b.errorMapper,
		tokenProvider:  b.tokenProvider,
		exchanger:      b.credentialExchanger,
		widgetFactory:  b.widgetFactory,
		navigator:      navigator,
		failureHook:    b.failureHook,
		replayLedger:   ledger,
		idGenerator:    b.idGenerator,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (o *Orchestrator) Config() Config {
	if o == nil {
		return Config{}
	}
	return o.config
}

// Mount starts a link session for user and begins token acquisition in the
// background. The session lives until Unmount is called or ctx is done.
func (o *Orchestrator) Mount(ctx context.Context, user UserIdentity) (session *Session, err error) {
	if o == nil {
		return nil, fmt.Errorf("core: orchestrator is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": user.ID}
	ctx, span := o.telemetry.startSpan(ctx, "mount", fields)
	defer func() {
		o.telemetry.observeOperation(ctx, span, startedAt, "mount", err, fields)
	}()

	user = user.Normalized()
	if err = user.Validate(); err != nil {
		err = o.mapError(err)
		return nil, err
	}

	session = newSession(ctx, o)
	fields["session_id"] = session.id
	session.start(user)
	return session, nil
}

func (o *Orchestrator) mapError(err error) error {
	return mapBuildError(o.errorMapper, err)
}

func (o *Orchestrator) reportFailure(ctx context.Context, failure LinkFailure) {
	if o.failureHook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.telemetry.logError(ctx, "failure hook panicked", map[string]any{
				"session_id": failure.SessionID,
				"panic":      fmt.Sprint(r),
			})
		}
	}()
	o.failureHook.OnLinkFailure(ctx, failure)
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func recoverCollaborator(err *error, name string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrCollaboratorPanicked, name, r)
	}
}
