package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"aigateway/internal/utils"
)

// Handler processes one item. A returned error triggers a retry.
type Handler[T any] func(ctx context.Context, item T) error

// WorkerStats is a snapshot of a worker's counters.
type WorkerStats struct {
	Processed  int64 `json:"processed"`
	Retried    int64 `json:"retried"`
	DeadLetter int64 `json:"deadLetter"`
	Dropped    int64 `json:"dropped"`
}

// Worker drains a queue in batches, retries failed items with exponential
// backoff and parks exhausted ones in the dead letter queue.
type Worker[T any] struct {
	queue  Queue[T]
	dlq    DeadLetterQueue[T]
	handle Handler[T]
	config *Config
	logger *utils.Logger

	cancel      context.CancelFunc
	drainCtx    context.Context
	stopChan    chan struct{}
	stoppedChan chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once

	processed  atomic.Int64
	retried    atomic.Int64
	deadLetter atomic.Int64
	dropped    atomic.Int64
}

// NewWorker creates a worker. dlq may be nil, in which case exhausted items are dropped.
func NewWorker[T any](q Queue[T], dlq DeadLetterQueue[T], config *Config, handle Handler[T]) *Worker[T] {
	if config == nil {
		config = DefaultConfig("worker")
	}
	config = config.withDefaults()

	return &Worker[T]{
		queue:       q,
		dlq:         dlq,
		handle:      handle,
		config:      config,
		logger:      utils.NewLogger(config.QueueName),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start begins processing in the background
func (w *Worker[T]) Start() {
	w.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		go w.run(ctx)
		w.logger.Info("Worker started", "batchSize", w.config.BatchSize, "maxRetries", w.config.MaxRetries)
	})
}

// Stop stops the worker after draining the queue. ctx bounds the drain.
func (w *Worker[T]) Stop(ctx context.Context) error {
	started := false
	w.startOnce.Do(func() {}) // a never-started worker has nothing to drain
	w.stopOnce.Do(func() {
		if w.cancel == nil {
			close(w.stoppedChan)
			return
		}
		started = true
		w.drainCtx = ctx
		close(w.stopChan)
		w.cancel()
	})

	select {
	case <-w.stoppedChan:
		if started {
			w.logger.Info("Worker stopped", "processed", w.processed.Load(), "deadLetter", w.deadLetter.Load())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", w.config.QueueName, ctx.Err())
	}
}

// Enqueue adds an item, waiting at most the configured enqueue timeout.
func (w *Worker[T]) Enqueue(ctx context.Context, item T) error {
	ctx, cancel := context.WithTimeout(ctx, w.config.EnqueueTimeout)
	defer cancel()

	if err := w.queue.Enqueue(ctx, item); err != nil {
		w.dropped.Add(1)
		return fmt.Errorf("enqueue %s: %w", w.config.QueueName, err)
	}
	return nil
}

// run is the main processing loop
func (w *Worker[T]) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.drain()
			return
		default:
		}

		if err := w.processBatch(ctx, w.config.BatchTimeout); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				<-w.stopChan
				continue
			}
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error("Failed to dequeue", "error", err)
			select {
			case <-time.After(w.config.RetryBackoff):
			case <-w.stopChan:
			}
		}
	}
}

// drain processes whatever is still queued once Stop was called.
func (w *Worker[T]) drain() {
	ctx := w.drainCtx
	for ctx.Err() == nil {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		if err := w.processBatch(ctx, 10*time.Millisecond); err != nil {
			return
		}
	}
}

// processBatch processes a batch of items
func (w *Worker[T]) processBatch(ctx context.Context, wait time.Duration) error {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, wait)
	if err != nil {
		return err
	}

	for _, item := range items {
		w.processItem(item)
	}
	return nil
}

// processItem runs the handler with retries. It never panics.
func (w *Worker[T]) processItem(item T) {
	var lastErr error

	for attempt := 0; attempt < w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			w.retried.Add(1)
			backoff := w.config.RetryBackoff * time.Duration(1<<(attempt-1))
			time.Sleep(backoff)
		}

		if lastErr = w.invoke(item); lastErr == nil {
			w.processed.Add(1)
			return
		}

		w.logger.Warn("Item processing failed", "attempt", attempt+1, "maxRetries", w.config.MaxRetries, "error", lastErr)
	}

	w.deadLetter.Add(1)
	if w.dlq == nil {
		w.logger.Error("Dropping item after retries", "error", lastErr)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.ProcessTimeout)
	defer cancel()
	if err := w.dlq.Add(ctx, item, lastErr); err != nil {
		w.logger.Error("Failed to add item to dead letter queue", "error", err)
		return
	}
	w.logger.Warn("Item moved to dead letter queue", "error", lastErr)
}

func (w *Worker[T]) invoke(item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.config.ProcessTimeout)
	defer cancel()
	return w.handle(ctx, item)
}

// GetQueueLength returns the current queue length
func (w *Worker[T]) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems retrieves items from the dead letter queue
func (w *Worker[T]) GetDeadLetterItems(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error) {
	if w.dlq == nil {
		return nil, nil
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a dead letter item
func (w *Worker[T]) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return ErrItemNotFound
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return err
	}

	for _, item := range items {
		if item.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, item.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		return w.dlq.Remove(ctx, id)
	}

	return ErrItemNotFound
}

// Stats returns the worker counters
func (w *Worker[T]) Stats() WorkerStats {
	return WorkerStats{
		Processed:  w.processed.Load(),
		Retried:    w.retried.Load(),
		DeadLetter: w.deadLetter.Load(),
		Dropped:    w.dropped.Load(),
	}
}
