package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDRevokeItem = "banklink.item.revoke"

	paramItemID = "item_id"
	paramReason = "reason"

	terminalRevokeRejected job.TerminalErrorCode = "revoke_rejected"
)

// DefaultRetryPolicy retries transient aggregator failures with capped
// exponential backoff before dead lettering.
func DefaultRetryPolicy() worker.RetryPolicy {
	return worker.DefaultRetryPolicy{
		MaxAttempts: 5,
		Backoff: worker.BackoffConfig{
			Strategy:    worker.BackoffExponential,
			Interval:    time.Second,
			MaxInterval: time.Minute,
			Jitter:      true,
		},
	}
}

// RevokeMessage builds the queue message for revoking one item. The item id
// doubles as the idempotency key.
func RevokeMessage(itemID, reason string) (*job.ExecutionMessage, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("gojob: item id is required")
	}
	return &job.ExecutionMessage{
		JobID:      JobIDRevokeItem,
		ScriptPath: JobIDRevokeItem,
		Parameters: map[string]any{
			paramItemID: itemID,
			paramReason: strings.TrimSpace(reason),
		},
		IdempotencyKey: "revoke:" + itemID,
		DedupPolicy:    job.DedupPolicyIgnore,
	}, nil
}

// RevokeScheduler queues item revocations instead of calling the aggregator
// inline.
type RevokeScheduler struct {
	enqueuer queue.Enqueuer
}

func NewRevokeScheduler(enqueuer queue.Enqueuer) *RevokeScheduler {
	return &RevokeScheduler{enqueuer: enqueuer}
}

func (s *RevokeScheduler) ScheduleRevoke(ctx context.Context, itemID string, reason string) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := RevokeMessage(itemID, reason)
	if err != nil {
		return err
	}
	if _, err := s.enqueuer.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("gojob: enqueue revoke %s: %w", msg.Parameters[paramItemID], err)
	}
	return nil
}

// ItemRevoker is the part of core.Service a revoke task calls.
type ItemRevoker interface {
	RevokeItem(ctx context.Context, itemID string, reason string) error
}

// RevokeTask is the job.Task the worker dispatches revoke messages to.
type RevokeTask struct {
	revoker ItemRevoker
}

func NewRevokeTask(revoker ItemRevoker) (*RevokeTask, error) {
	if revoker == nil {
		return nil, fmt.Errorf("gojob: item revoker is required")
	}
	return &RevokeTask{revoker: revoker}, nil
}

func (t *RevokeTask) GetID() string   { return JobIDRevokeItem }
func (t *RevokeTask) GetPath() string { return JobIDRevokeItem }

func (t *RevokeTask) GetHandler() func() error {
	return func() error {
		return fmt.Errorf("gojob: revoke task runs from queued messages only")
	}
}

func (t *RevokeTask) GetHandlerConfig() job.HandlerOptions { return job.HandlerOptions{} }
func (t *RevokeTask) GetConfig() job.Config                 { return job.Config{} }
func (t *RevokeTask) GetEngine() job.Engine                 { return nil }

// Execute revokes the item named by the message. Errors a retry cannot fix
// are marked terminal so the worker dead letters them.
func (t *RevokeTask) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return job.NewTerminalError(terminalRevokeRejected, "revoke message is required", nil)
	}
	itemID, reason := revokeParameters(msg.Parameters)
	if itemID == "" {
		return job.NewTerminalError(terminalRevokeRejected, "revoke message has no item id", nil)
	}
	err := t.revoker.RevokeItem(ctx, itemID, reason)
	if err == nil {
		return nil
	}
	if permanentRevokeFailure(err) {
		return job.NewTerminalError(terminalRevokeRejected, err.Error(), err)
	}
	return err
}

type workerConfig struct {
	retry       worker.RetryPolicy
	hooks       []worker.Hook
	logger      glog.Logger
	concurrency int
	idleDelay   time.Duration
}

type WorkerOption func(*workerConfig)

func WithRetryPolicy(policy worker.RetryPolicy) WorkerOption {
	return func(cfg *workerConfig) {
		if policy != nil {
			cfg.retry = policy
		}
	}
}

func WithWorkerHook(hook worker.Hook) WorkerOption {
	return func(cfg *workerConfig) {
		if hook != nil {
			cfg.hooks = append(cfg.hooks, hook)
		}
	}
}

func WithWorkerLogger(logger glog.Logger) WorkerOption {
	return func(cfg *workerConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

func WithConcurrency(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.concurrency = n
		}
	}
}

func WithIdleDelay(delay time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if delay > 0 {
			cfg.idleDelay = delay
		}
	}
}

// RevokeWorker runs a go-job worker with the revoke task registered.
type RevokeWorker struct {
	worker *worker.Worker
	task   *RevokeTask
}

func NewRevokeWorker(dequeuer queue.Dequeuer, revoker ItemRevoker, opts ...WorkerOption) (*RevokeWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	task, err := NewRevokeTask(revoker)
	if err != nil {
		return nil, err
	}
	cfg := workerConfig{
		retry:       DefaultRetryPolicy(),
		logger:      glog.Nop(),
		concurrency: 1,
		idleDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	hooks := append([]worker.Hook{logHook(cfg.logger)}, cfg.hooks...)
	w := worker.NewWorker(dequeuer,
		worker.WithConcurrency(cfg.concurrency),
		worker.WithIdleDelay(cfg.idleDelay),
		worker.WithLogger(jobLogger{cfg.logger}),
		worker.WithRetryPolicy(cfg.retry),
		worker.WithHooks(hooks...),
	)
	if err := w.Register(task); err != nil {
		return nil, fmt.Errorf("gojob: register revoke task: %w", err)
	}
	return &RevokeWorker{worker: w, task: task}, nil
}

// Start spawns the worker goroutines and returns immediately.
func (w *RevokeWorker) Start(ctx context.Context) error {
	if w == nil || w.worker == nil {
		return fmt.Errorf("gojob: revoke worker is not configured")
	}
	return w.worker.Start(ctx)
}

// Stop cancels the worker and waits for in-flight revokes or ctx.
func (w *RevokeWorker) Stop(ctx context.Context) error {
	if w == nil || w.worker == nil {
		return nil
	}
	return w.worker.Stop(ctx)
}

func logHook(logger glog.Logger) worker.Hook {
	return worker.HookFuncs{
		OnRetryFunc: func(_ context.Context, event worker.Event) {
			logger.Warn("revoke job will retry",
				"item_id", eventItemID(event),
				"attempt", event.Attempt,
				"delay", event.Delay,
				"error", event.Err,
			)
		},
		OnFailureFunc: func(_ context.Context, event worker.Event) {
			logger.Error("revoke job dead lettered",
				"item_id", eventItemID(event),
				"attempt", event.Attempt,
				"error", event.Err,
			)
		},
	}
}

func eventItemID(event worker.Event) string {
	if event.Message == nil {
		return ""
	}
	itemID, _ := revokeParameters(event.Message.Parameters)
	return itemID
}

func revokeParameters(params map[string]any) (string, string) {
	itemID, _ := params[paramItemID].(string)
	reason, _ := params[paramReason].(string)
	return strings.TrimSpace(itemID), strings.TrimSpace(reason)
}

// permanentRevokeFailure reports errors a retry cannot fix.
func permanentRevokeFailure(err error) bool {
	return errors.Is(err, core.ErrItemNotFound) || errors.Is(err, core.ErrInvalidItemStatusTransition)
}

type jobLogger struct {
	glog.Logger
}

func (l jobLogger) WithContext(ctx context.Context) job.Logger {
	return jobLogger{l.Logger.WithContext(ctx)}
}

var (
	_ job.Task   = (*RevokeTask)(nil)
	_ job.Logger = jobLogger{}
)
