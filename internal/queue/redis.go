package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mind-engage/mindengage-grading/internal/config"
)

// ErrEmpty is returned by Pop when nothing arrived within the block timeout.
var ErrEmpty = errors.New("queue empty")

const pendingTTL = 10 * time.Minute

// RedisQueue is a FIFO of triggers on a Redis list. A pending marker per
// dedupe key coalesces triggers that are queued but not yet picked up.
type RedisQueue struct {
	rdb   *goredis.Client
	key   string
	block time.Duration
}

func NewRedisQueue(ctx context.Context, cfg config.RedisConfig) (*RedisQueue, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &RedisQueue{rdb: rdb, key: cfg.Queue, block: 5 * time.Second}, nil
}

func (q *RedisQueue) Close() error { return q.rdb.Close() }

func (q *RedisQueue) pendingKey(t Trigger) string { return q.key + ":pending:" + t.dedupeKey() }

// Push enqueues t unless an equivalent trigger is already waiting.
func (q *RedisQueue) Push(ctx context.Context, t Trigger) error {
	payload, err := encode(t)
	if err != nil {
		return err
	}
	fresh, err := q.rdb.SetNX(ctx, q.pendingKey(t), "1", pendingTTL).Result()
	if err != nil {
		return fmt.Errorf("redis: mark pending: %w", err)
	}
	if !fresh {
		return nil
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		_ = q.rdb.Del(ctx, q.pendingKey(t)).Err()
		return fmt.Errorf("redis: push: %w", err)
	}
	return nil
}

// Pop blocks up to the block timeout for the oldest trigger.
func (q *RedisQueue) Pop(ctx context.Context) (Trigger, error) {
	res, err := q.rdb.BRPop(ctx, q.block, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return Trigger{}, ErrEmpty
	}
	if err != nil {
		return Trigger{}, err
	}
	// res is [key, value]
	t, err := decode(res[1])
	if err != nil {
		return Trigger{}, err
	}
	// cleared before processing so a change made meanwhile queues a new run;
	// must happen even when ctx was cancelled after BRPOP returned
	_ = q.rdb.Del(context.WithoutCancel(ctx), q.pendingKey(t)).Err()
	return t, nil
}

// Len reports how many triggers are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
