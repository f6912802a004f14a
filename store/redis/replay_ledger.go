// Package redisstore holds Redis backed stores shared by every banklink
// process behind a load balancer.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "go-banklink:replay:"
	defaultClaimTTL  = 30 * time.Minute
)

// Options configures the Redis connection used by NewReplayLedgerFromURL.
type Options struct {
	URL            string
	KeyPrefix      string
	DefaultTTL     time.Duration
	ConnectTimeout time.Duration
}

// ReplayLedger claims keys with SET NX so a public token is exchanged at most
// once across processes.
type ReplayLedger struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

func NewReplayLedger(client redis.UniversalClient, prefix string, defaultTTL time.Duration) (*ReplayLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultClaimTTL
	}
	return &ReplayLedger{client: client, prefix: prefix, defaultTTL: defaultTTL}, nil
}

// NewReplayLedgerFromURL dials Redis and pings it before returning.
func NewReplayLedgerFromURL(ctx context.Context, opts Options) (*ReplayLedger, error) {
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse redis url: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect to redis: %w", err)
	}
	return NewReplayLedger(client, opts.KeyPrefix, opts.DefaultTTL)
}

func (l *ReplayLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("redisstore: replay ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("redisstore: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	claimed, err := l.client.SetNX(ctx, l.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: claim replay key: %w", err)
	}
	return claimed, nil
}

func (l *ReplayLedger) Release(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("redisstore: replay ledger is not configured")
	}
	if err := l.client.Del(ctx, l.prefix+strings.TrimSpace(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: release replay key: %w", err)
	}
	return nil
}

func (l *ReplayLedger) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

var (
	_ core.ReplayLedger   = (*ReplayLedger)(nil)
	_ core.ReplayReleaser = (*ReplayLedger)(nil)
)
