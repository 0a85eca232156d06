// Package queue defines the Work Queue contract: a FIFO message transport
// with per-message visibility leases and explicit ack/nack, pluggable
// between an in-process backend and an external broker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Kind distinguishes the three message shapes the Executor dispatches.
type Kind string

const (
	KindMonitor Kind = "monitor"
	KindEvent   Kind = "event"
	KindRequest Kind = "request"
)

// ErrEmpty is returned by Receive when no message arrived within wait.
var ErrEmpty = errors.New("queue: no message available")

// Message is a received, still-leased unit of work. ReceiptHandle is
// opaque to callers and must be passed back unchanged to ExtendVisibility,
// Ack, or Nack.
type Message struct {
	ReceiptHandle string
	Kind          Kind
	Payload       json.RawMessage
	Attempts      int
}

// Queue is the Work Queue contract. A received message is invisible to
// other receivers for its visibility window; on expiry without an Ack it
// becomes redeliverable. Implementations must be safe for concurrent use
// by multiple Executor workers.
type Queue interface {
	Send(ctx context.Context, kind Kind, payload any) error
	// Receive waits up to `wait` for a message, returning ErrEmpty on
	// timeout. visibility sets the initial lease duration.
	Receive(ctx context.Context, wait, visibility time.Duration) (*Message, error)
	ExtendVisibility(ctx context.Context, msg *Message, visibility time.Duration) error
	Ack(ctx context.Context, msg *Message) error
	Nack(ctx context.Context, msg *Message) error
}
