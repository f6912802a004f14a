package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-banklink/transport"
)

// Adapter decorates a transport adapter with an AdaptivePolicy. Requests into
// a throttled bucket fail fast with a LINK_RATE_LIMITED error instead of
// reaching the aggregator.
type Adapter struct {
	next       transport.Adapter
	policy     *AdaptivePolicy
	aggregator string
}

func Wrap(next transport.Adapter, policy *AdaptivePolicy, aggregator string) (*Adapter, error) {
	if next == nil {
		return nil, fmt.Errorf("ratelimit: transport adapter is required")
	}
	if policy == nil {
		policy = NewAdaptivePolicy(NewMemoryStateStore())
	}
	return &Adapter{
		next:       next,
		policy:     policy,
		aggregator: strings.TrimSpace(aggregator),
	}, nil
}

func (a *Adapter) Kind() string {
	return a.next.Kind()
}

func (a *Adapter) Do(ctx context.Context, req transport.Request) (transport.Response, error) {
	key := Key{Aggregator: a.aggregator, Bucket: bucketFor(req)}
	if err := a.policy.BeforeCall(ctx, key); err != nil {
		if throttled, ok := err.(ThrottledError); ok {
			return transport.Response{}, throttled.ToLinkError()
		}
		return transport.Response{}, err
	}

	res, err := a.next.Do(ctx, req)
	if err != nil {
		return res, err
	}
	if err := a.policy.AfterCall(ctx, key, Observation{StatusCode: res.StatusCode, Headers: res.Headers}); err != nil {
		return res, fmt.Errorf("ratelimit: record response: %w", err)
	}
	return res, nil
}

func bucketFor(req transport.Request) string {
	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || parsed.Path == "" {
		return "default"
	}
	return parsed.Path
}

var _ transport.Adapter = (*Adapter)(nil)
