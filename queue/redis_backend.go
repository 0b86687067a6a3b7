package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/DubKit/types"
)

// Redis key layout.
const (
	redisQueueKey  = "dubkit:queue"
	redisSeqKey    = "dubkit:queue:seq"
	redisJobPrefix = "dubkit:job:"

	// redisPopTimeout bounds each blocking pop so Dequeue stays responsive
	// to context cancellation across server round trips.
	redisPopTimeout = time.Second

	// priorityShift packs priority above the enqueue sequence in the sorted
	// set score. float64 holds 53 integer bits, so priority stays exact up
	// to 2^21 and sequence up to 2^32.
	priorityShift = 32
)

// RedisBackend stores queued envelopes in a Redis sorted set, making the
// queue survive daemon restarts. The score packs priority and an enqueue
// sequence so ZPOPMIN yields priority order with FIFO ties.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackendFromClient wraps an existing client (tests).
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Enqueue stores the envelope JSON at a keyed record and scores the job id
// into the queue set.
func (b *RedisBackend) Enqueue(ctx context.Context, env *types.JobEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	seq, err := b.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	if err := b.client.Set(ctx, redisJobPrefix+env.JobID, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store envelope: %w", err)
	}

	score := float64(int64(env.Priority)<<priorityShift | (seq & (1<<priorityShift - 1)))
	if err := b.client.ZAdd(ctx, redisQueueKey, redis.Z{Score: score, Member: env.JobID}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue pops the lowest-scored job id and loads its envelope.
func (b *RedisBackend) Dequeue(ctx context.Context) (*types.JobEnvelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		popped, err := b.client.BZPopMin(ctx, redisPopTimeout, redisQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}

		jobID, ok := popped.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected queue member type %T", popped.Member)
		}

		payload, err := b.client.GetDel(ctx, redisJobPrefix+jobID).Result()
		if errors.Is(err, redis.Nil) {
			// Envelope record gone; skip the orphaned id.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load envelope: %w", err)
		}

		var env types.JobEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
		}
		return &env, nil
	}
}

// Len returns the number of waiting envelopes.
func (b *RedisBackend) Len(ctx context.Context) (int, error) {
	n, err := b.client.ZCard(ctx, redisQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
