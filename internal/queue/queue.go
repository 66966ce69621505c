// Package queue provides the asynchronous plumbing behind the gateway's
// fire-and-forget writes. Two backends implement the same interfaces:
//
// 1. Memory Queue (in-memory, channel-based):
//   - No persistence, data lost on restart
//   - Zero external dependencies
//   - Suited to single-node deployments and tests
//
// 2. Redis Queue (Redis List-based):
//   - Persistent across restarts
//   - Shared by every gateway instance pointed at the same Redis
//
// Architecture:
//
//	┌─────────────┐
//	│  Dispatch   │
//	└──────┬──────┘
//	       │
//	       ├─────────────────────────┐
//	       │                         │
//	       ▼                         ▼
//	┌──────────────┐         ┌──────────────┐
//	│ Call         │         │ Usage        │
//	│ Queue        │         │ Queue        │
//	└──────┬───────┘         └──────┬───────┘
//	       │                         │
//	       ▼                         ▼
//	┌──────────────┐         ┌──────────────┐
//	│ Call         │         │ Usage        │──► Meter Queue ──► Meter Worker ──► Ledger
//	│ Worker       │         │ Worker       │
//	└──────┬───────┘         └──────┬───────┘
//	       │ (retry)                 │ (retry)
//	       ├─────────┐               ├─────────┐
//	       ▼         ▼               ▼         ▼
//	 ┌──────────┐ ┌─────┐      ┌──────────┐ ┌─────┐
//	 │   DB     │ │ DLQ │      │   DB     │ │ DLQ │
//	 │  Calls   │ └─────┘      │  Usages  │ └─────┘
//	 └──────────┘              └──────────┘
//
// Every worker retries an item with exponential backoff, parks it in its
// dead-letter queue once retries are exhausted, and drains what is left in
// its queue on shutdown.
package queue

import (
	"context"
	"time"
)

// Queue defines the interface for message queuing
type Queue[T any] interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item T) error

	// Dequeue retrieves items from the queue (up to maxItems).
	// Blocks until at least one item is available or context is cancelled
	Dequeue(ctx context.Context, maxItems int) ([]T, error)

	// DequeueWithTimeout retrieves items with a timeout.
	// Returns an empty slice when nothing arrived before the timeout
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue defines the interface for handling failed items
type DeadLetterQueue[T any] interface {
	// Add adds a failed item to the dead letter queue with error info
	Add(ctx context.Context, item T, err error) error

	// List retrieves items from the dead letter queue
	List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error)

	// Remove removes an item from the dead letter queue
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem[T any] struct {
	ID        string    `json:"id"`
	Item      T         `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Retries   int       `json:"retries"`
}

// Config holds queue and worker configuration
type Config struct {
	// QueueName is the name/key for the queue
	QueueName string

	// Capacity bounds the in-memory queue
	Capacity int

	// BatchSize is the maximum number of items dequeued at once
	BatchSize int

	// BatchTimeout is how long a dequeue waits for the first item
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of attempts per item
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// EnqueueTimeout bounds how long a producer waits on a full queue
	EnqueueTimeout time.Duration

	// ProcessTimeout bounds a single handler invocation
	ProcessTimeout time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		QueueName:      queueName,
		Capacity:       1000,
		BatchSize:      100,
		BatchTimeout:   time.Second,
		MaxRetries:     3,
		RetryBackoff:   500 * time.Millisecond,
		EnqueueTimeout: time.Second,
		ProcessTimeout: 5 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig(c.QueueName)
	out := *c
	if out.Capacity <= 0 {
		out.Capacity = d.Capacity
	}
	if out.BatchSize <= 0 {
		out.BatchSize = d.BatchSize
	}
	if out.BatchTimeout <= 0 {
		out.BatchTimeout = d.BatchTimeout
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = d.MaxRetries
	}
	if out.RetryBackoff < 0 {
		out.RetryBackoff = 0
	}
	if out.EnqueueTimeout <= 0 {
		out.EnqueueTimeout = d.EnqueueTimeout
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = d.ProcessTimeout
	}
	return &out
}
