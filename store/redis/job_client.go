package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jobredis "github.com/goliatone/go-job/queue/adapters/redis"
	"github.com/redis/go-redis/v9"
)

const DefaultRevokeQueue = "go-banklink:revoke"

// JobClient exposes a go-redis client through the command set the go-job
// redis queue storage expects. Missing keys read as empty values.
type JobClient struct {
	client redis.UniversalClient
}

func NewJobClient(client redis.UniversalClient) (*JobClient, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	return &JobClient{client: client}, nil
}

// NewRevokeQueue builds the durable revoke queue on top of the ledger's
// connection so both share one pool.
func NewRevokeQueue(ledger *ReplayLedger, queueName string, visibility time.Duration) (*jobredis.Adapter, error) {
	if ledger == nil || ledger.client == nil {
		return nil, fmt.Errorf("redisstore: replay ledger is not configured")
	}
	client, err := NewJobClient(ledger.client)
	if err != nil {
		return nil, err
	}
	if queueName == "" {
		queueName = DefaultRevokeQueue
	}
	opts := []jobredis.Option{jobredis.WithQueueName(queueName)}
	if visibility > 0 {
		opts = append(opts, jobredis.WithVisibilityTimeout(visibility))
	}
	return jobredis.NewAdapter(jobredis.NewStorage(client, opts...)), nil
}

func (c *JobClient) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for field, value := range values {
		args = append(args, field, value)
	}
	return c.client.HSet(ctx, key, args...).Err()
}

func (c *JobClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, key).Result()
}

func (c *JobClient) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := c.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (c *JobClient) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return c.client.HDel(ctx, key, fields...).Err()
}

func (c *JobClient) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, value := range values {
		args[i] = value
	}
	return c.client.LPush(ctx, key, args...).Err()
}

func (c *JobClient) RPop(ctx context.Context, key string) (string, error) {
	value, err := c.client.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (c *JobClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *JobClient) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, member := range members {
		args[i] = member
	}
	return c.client.ZRem(ctx, key, args...).Err()
}

func (c *JobClient) ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]jobredis.ZItem, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}
	if limit > 0 {
		opt.Count = limit
	}
	entries, err := c.client.ZRangeByScoreWithScores(ctx, key, opt).Result()
	if err != nil {
		return nil, err
	}
	items := make([]jobredis.ZItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, jobredis.ZItem{Member: fmt.Sprint(entry.Member), Score: entry.Score})
	}
	return items, nil
}

func (c *JobClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	raw, err := c.client.Eval(ctx, script, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return raw, err
}

func (c *JobClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *JobClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

var _ jobredis.Client = (*JobClient)(nil)
