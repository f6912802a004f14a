package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-banklink/core"
	goerrors "github.com/goliatone/go-errors"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies one throttling bucket at an aggregator, usually an API path.
type Key struct {
	Aggregator string
	Bucket     string
}

func (k Key) normalized() Key {
	return Key{
		Aggregator: strings.ToLower(strings.TrimSpace(k.Aggregator)),
		Bucket:     strings.ToLower(strings.TrimSpace(k.Bucket)),
	}
}

// State is what the policy remembers about a bucket between calls. Attempts
// counts consecutive throttled responses.
type State struct {
	Key            Key
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	Attempts       int
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

// Observation is what the policy learns from one aggregator response.
type Observation struct {
	StatusCode int
	Headers    map[string]string
}

type ThrottledError struct {
	Aggregator string
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: %s %s throttled for %s", e.Aggregator, e.Bucket, e.RetryAfter)
}

// ToLinkError converts the throttle into the LINK_RATE_LIMITED envelope.
func (e ThrottledError) ToLinkError() *goerrors.Error {
	metadata := map[string]any{"aggregator": e.Aggregator, "bucket": e.Bucket}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.LinkErrorRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy learns throttle windows from aggregator responses and refuses
// calls into a bucket until its window has passed. Without a Retry-After hint
// the window doubles from InitialBackoff up to MaxBackoff.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, key.normalized())
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if wait := blockedFor(state, p.now()); wait > 0 {
		return ThrottledError{Aggregator: state.Key.Aggregator, Bucket: state.Key.Bucket, RetryAfter: wait}
	}
	return nil
}

// blockedFor is how long a call into state's bucket must still wait.
func blockedFor(state State, now time.Time) time.Duration {
	var until time.Time
	if state.ThrottledUntil != nil {
		until = *state.ThrottledUntil
	}
	if state.Remaining == 0 && state.ResetAt != nil && state.ResetAt.After(until) {
		until = *state.ResetAt
	}
	if until.After(now) {
		return until.Sub(now)
	}
	return 0
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, obs Observation) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = key.normalized()
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}

	q := readQuota(obs.Headers, now)
	if q.limit != nil {
		state.Limit = *q.limit
	}
	if q.remaining != nil {
		state.Remaining = *q.remaining
	}
	if q.resetAt != nil {
		state.ResetAt = q.resetAt
	}
	state.RetryAfter = q.retryAfter

	if !q.throttles(obs.StatusCode) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	delay := p.backoff(state.Attempts)
	if q.retryAfter != nil {
		delay = *q.retryAfter
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	delay, ceiling := p.InitialBackoff, p.MaxBackoff
	if delay <= 0 {
		delay = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	for ; attempt > 1 && delay < ceiling; attempt-- {
		delay *= 2
	}
	return min(delay, ceiling)
}

// quota holds the rate limit headers present on one response.
type quota struct {
	limit      *int
	remaining  *int
	resetAt    *time.Time
	retryAfter *time.Duration
}

func readQuota(headers map[string]string, now time.Time) quota {
	var q quota
	lookup := make(map[string]string, len(headers))
	for name, value := range headers {
		lookup[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	if n, err := strconv.Atoi(lookup["x-ratelimit-limit"]); err == nil {
		q.limit = &n
	}
	if n, err := strconv.Atoi(lookup["x-ratelimit-remaining"]); err == nil {
		q.remaining = &n
	}
	if unix, err := strconv.ParseInt(lookup["x-ratelimit-reset"], 10, 64); err == nil && unix > 0 {
		at := time.Unix(unix, 0).UTC()
		q.resetAt = &at
	}
	if raw := lookup["retry-after"]; raw != "" {
		var wait time.Duration
		if seconds, err := strconv.Atoi(raw); err == nil {
			wait = time.Duration(seconds) * time.Second
		} else if at, err := http.ParseTime(raw); err == nil {
			wait = at.Sub(now)
		}
		if wait > 0 {
			q.retryAfter = &wait
		}
	}
	return q
}

// throttles reports whether a response opens a throttle window. 429 always
// does; an exhausted quota does unless the aggregator itself is failing.
func (q quota) throttles(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= http.StatusInternalServerError || q.remaining == nil {
		return false
	}
	return *q.remaining == 0
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[Key]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[Key]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[key.normalized()]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	state.Key = state.Key.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key] = state
	return nil
}
