// Package queue carries ingestion jobs between the webhook handler and the
// consumer. Two implementations ship: an in-process channel-backed pool for
// tests and single-node runs, and an AMQP-backed one for deployments.
package queue

import (
	"context"
	"time"

	"github.com/atendelabs/atende/internal/tools"
)

// JobKind discriminates what a job carries.
type JobKind string

const (
	KindInbound JobKind = "inbound"
	KindIntent  JobKind = "intent"
)

// Job is one unit of asynchronous work. Inbound jobs carry a user message;
// intent jobs carry side-effect requests collected from tool outputs.
// MessageID doubles as the idempotency key for inbound jobs.
type Job struct {
	Kind       JobKind   `json:"kind"`
	TenantID   string    `json:"tenant_id"`
	MessageID  string    `json:"message_id"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Name       string    `json:"name,omitempty"`
	Content    string    `json:"content,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	UserPhone      string         `json:"user_phone,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Intents        []tools.Intent `json:"intents,omitempty"`
}

// Handler processes one job. A non-nil error means the job failed; delivery
// semantics (redelivery, dead-lettering) belong to the implementation.
type Handler func(ctx context.Context, job *Job) error

// Options tune consumption.
type Options struct {
	// Concurrency bounds the worker pool. Defaults to 3.
	Concurrency int
}

// Queue is the transport between producer and consumer.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	StartConsumer(ctx context.Context, handler Handler, opts Options) error
	Close() error
}

const defaultConcurrency = 3

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return defaultConcurrency
	}
	return o.Concurrency
}
