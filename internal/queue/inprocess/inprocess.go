// Package inprocess is a bounded-FIFO, single-container Work Queue backed
// by a container/list, a wake-up channel and a visibility-tracking map, for deployments with one
// Executor process sharing memory with its Controller.
package inprocess

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinela/sentinela/internal/queue"
)

type leased struct {
	msg        queue.Message
	visibleAt  time.Time
	redelivery int
}

// Queue is an in-process FIFO honoring visibility leases; ready messages
// live in `ready`, leased-but-unacked messages live in `inFlight` keyed by
// receipt handle until Ack removes them or their lease expires and a
// reaper moves them back to `ready`.
type Queue struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	ready    *list.List // of queue.Message
	inFlight map[string]*leased
	capacity int
}

// New creates an empty in-process queue bounded to capacity pending
// messages (0 means unbounded).
func New(capacity int) *Queue {
	return &Queue{
		notEmpty: make(chan struct{}, 1),
		ready:    list.New(),
		inFlight: make(map[string]*leased),
		capacity: capacity,
	}
}

var _ queue.Queue = (*Queue)(nil)

func (q *Queue) Send(_ context.Context, kind queue.Kind, payload any) error {
	raw, err := toRawMessage(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.capacity > 0 && q.ready.Len() >= q.capacity {
		q.mu.Unlock()
		return fmt.Errorf("queue/inprocess: at capacity (%d)", q.capacity)
	}
	q.ready.PushBack(queue.Message{Kind: kind, Payload: raw})
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context, wait, visibility time.Duration) (*queue.Message, error) {
	deadline := time.Now().Add(wait)
	for {
		if msg, ok := q.tryReceive(visibility); ok {
			return msg, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, queue.ErrEmpty
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notEmpty:
			timer.Stop()
		case <-timer.C:
			return nil, queue.ErrEmpty
		}
	}
}

func (q *Queue) tryReceive(visibility time.Duration) (*queue.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reapExpiredLocked()

	front := q.ready.Front()
	if front == nil {
		return nil, false
	}
	q.ready.Remove(front)
	msg := front.Value.(queue.Message)
	msg.ReceiptHandle = uuid.NewString()
	msg.Attempts++

	q.inFlight[msg.ReceiptHandle] = &leased{msg: msg, visibleAt: time.Now().Add(visibility)}
	out := msg
	return &out, true
}

// reapExpiredLocked moves any message whose visibility lease has expired
// back onto the ready list for redelivery. Callers must hold q.mu.
func (q *Queue) reapExpiredLocked() {
	now := time.Now()
	for handle, l := range q.inFlight {
		if now.After(l.visibleAt) {
			delete(q.inFlight, handle)
			redelivered := l.msg
			redelivered.ReceiptHandle = ""
			redelivered.Attempts = l.redelivery + 1
			q.ready.PushFront(redelivered)
		}
	}
}

func (q *Queue) ExtendVisibility(_ context.Context, msg *queue.Message, visibility time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.inFlight[msg.ReceiptHandle]
	if !ok {
		return fmt.Errorf("queue/inprocess: receipt %q not in flight", msg.ReceiptHandle)
	}
	l.visibleAt = time.Now().Add(visibility)
	return nil
}

func (q *Queue) Ack(_ context.Context, msg *queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, msg.ReceiptHandle)
	return nil
}

func (q *Queue) Nack(_ context.Context, msg *queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.inFlight[msg.ReceiptHandle]
	if !ok {
		return nil
	}
	delete(q.inFlight, msg.ReceiptHandle)
	redelivered := l.msg
	redelivered.ReceiptHandle = ""
	redelivered.Attempts = l.redelivery + 1
	q.ready.PushBack(redelivered)
	return nil
}

func toRawMessage(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
