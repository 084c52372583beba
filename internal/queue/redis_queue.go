// Package queue implements the durable work queue between the submitter and
// the worker on top of Redis: a ready list of JSON message bodies plus an
// in-flight sorted set scored by visibility deadline. Delivery is
// at-least-once; consumers acknowledge manually after durable persistence.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tts-pipeline/internal/config"
	"tts-pipeline/internal/models"
)

// RedisQueue coordinates the ready and in-flight sides of one named queue.
type RedisQueue struct {
	client        *redis.Client
	name          string
	visibilityTTL time.Duration
}

// New builds a queue client from config.
func New(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewWithClient(client, cfg.QueueName, cfg.VisibilityTimeout)
}

// NewWithClient wires an existing Redis client, mainly for tests.
func NewWithClient(client *redis.Client, name string, visibility time.Duration) *RedisQueue {
	if name == "" {
		name = "tts_jobs"
	}
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		name:          name,
		visibilityTTL: visibility,
	}
}

// Name returns the queue name callers report back to API clients.
func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) readyKey() string {
	return fmt.Sprintf("queue:ready:%s", q.name)
}

func (q *RedisQueue) inflightKey() string {
	return fmt.Sprintf("queue:inflight:%s", q.name)
}

// Publish appends a job message to the ready list.
func (q *RedisQueue) Publish(ctx context.Context, msg models.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := q.client.RPush(ctx, q.readyKey(), body).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Dequeue pops one message body and places it in-flight with a visibility
// deadline. It returns nil with no error when the queue is empty. The worker
// calls this once per loop iteration, so at most one message is leased per
// worker instance.
func (q *RedisQueue) Dequeue(ctx context.Context) ([]byte, error) {
	keys := []string{q.readyKey(), q.inflightKey()}
	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	body, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return []byte(body), nil
}

// Ack removes a delivered message from in-flight tracking. Acknowledgement
// is always the consumer's last step, after the outcome is durably recorded.
func (q *RedisQueue) Ack(ctx context.Context, body []byte) error {
	return q.client.ZRem(ctx, q.inflightKey(), string(body)).Err()
}

// RequeueExpired reclaims leases whose visibility deadline passed, moving the
// bodies back to the ready list. It returns how many were redelivered.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) (int, error) {
	bodies, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(bodies) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, body := range bodies {
		pipe.ZRem(ctx, q.inflightKey(), body)
		pipe.RPush(ctx, q.readyKey(), body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(bodies), nil
}

// Depth returns the length of the ready list.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey()).Result()
}

var dequeueScript = redis.NewScript(`
local body = redis.call('LPOP', KEYS[1])
if body then
  redis.call('ZADD', KEYS[2], ARGV[1], body)
  return body
end
return nil
`)
