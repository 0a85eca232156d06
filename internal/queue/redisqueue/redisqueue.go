// Package redisqueue backs the Work Queue contract with a Redis list for
// ready messages and a sorted set (scored by lease-expiry unix time) for
// in-flight visibility tracking, so a reaper can requeue expired leases
// across process restarts.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/sentinela/sentinela/internal/queue"
)

// Queue is a Redis-backed Work Queue. Multiple Executor processes can
// share one Redis instance and compete for the same ready list.
type Queue struct {
	client    *redis.Client
	keyPrefix string
}

type envelope struct {
	Kind    queue.Kind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// New wraps an existing *redis.Client. keyPrefix namespaces the list/hash/
// zset keys (e.g. "sentinela:queue") so one Redis instance can host
// multiple logical queues.
func New(client *redis.Client, keyPrefix string) *Queue {
	return &Queue{client: client, keyPrefix: keyPrefix}
}

var _ queue.Queue = (*Queue)(nil)

func (q *Queue) readyKey() string   { return q.keyPrefix + ":ready" }
func (q *Queue) leaseKey() string   { return q.keyPrefix + ":leases" } // zset: handle -> expiry unix
func (q *Queue) payloadKey(handle string) string {
	return q.keyPrefix + ":payload:" + handle
}

func (q *Queue) Send(ctx context.Context, kind queue.Kind, payload any) error {
	raw, err := toRawMessage(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope{Kind: kind, Payload: raw})
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.readyKey(), body).Err()
}

func (q *Queue) Receive(ctx context.Context, wait, visibility time.Duration) (*queue.Message, error) {
	if err := q.reapExpired(ctx); err != nil {
		return nil, err
	}

	result, err := q.client.BRPop(ctx, wait, q.readyKey()).Result()
	if err == redis.Nil {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("redisqueue: unexpected BRPOP reply shape")
	}

	var env envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return nil, fmt.Errorf("redisqueue: decode message: %w", err)
	}

	handle := uuid.NewString()
	expiresAt := time.Now().Add(visibility)
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.payloadKey(handle), result[1], visibility+time.Minute)
	pipe.ZAdd(ctx, q.leaseKey(), &redis.Z{Score: float64(expiresAt.Unix()), Member: handle})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return &queue.Message{ReceiptHandle: handle, Kind: env.Kind, Payload: env.Payload, Attempts: 1}, nil
}

// reapExpired requeues any lease whose expiry score has passed, so a
// worker that died mid-handler eventually yields its message back.
func (q *Queue) reapExpired(ctx context.Context) error {
	now := float64(time.Now().Unix())
	expired, err := q.client.ZRangeByScore(ctx, q.leaseKey(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return err
	}
	for _, handle := range expired {
		body, err := q.client.Get(ctx, q.payloadKey(handle)).Result()
		if err == redis.Nil {
			q.client.ZRem(ctx, q.leaseKey(), handle)
			continue
		}
		if err != nil {
			return err
		}
		pipe := q.client.TxPipeline()
		pipe.LPush(ctx, q.readyKey(), body)
		pipe.ZRem(ctx, q.leaseKey(), handle)
		pipe.Del(ctx, q.payloadKey(handle))
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) ExtendVisibility(ctx context.Context, msg *queue.Message, visibility time.Duration) error {
	expiresAt := time.Now().Add(visibility)
	return q.client.ZAdd(ctx, q.leaseKey(), &redis.Z{Score: float64(expiresAt.Unix()), Member: msg.ReceiptHandle}).Err()
}

func (q *Queue) Ack(ctx context.Context, msg *queue.Message) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.leaseKey(), msg.ReceiptHandle)
	pipe.Del(ctx, q.payloadKey(msg.ReceiptHandle))
	_, err := pipe.Exec(ctx)
	return err
}

func (q *Queue) Nack(ctx context.Context, msg *queue.Message) error {
	body, err := q.client.Get(ctx, q.payloadKey(msg.ReceiptHandle)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.readyKey(), body)
	pipe.ZRem(ctx, q.leaseKey(), msg.ReceiptHandle)
	pipe.Del(ctx, q.payloadKey(msg.ReceiptHandle))
	_, err = pipe.Exec(ctx)
	return err
}

func toRawMessage(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
