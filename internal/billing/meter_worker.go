package billing

import (
	"context"
	"fmt"

	"aigateway/internal/queue"
	"aigateway/internal/utils"
)

// CreditInvalidator drops cached balances.
type CreditInvalidator interface {
	ClearCreditCache(userDids ...string)
}

// MeterWorker reports meter events to the ledger from a queue, retrying
// failures and keeping exhausted events in a dead letter queue.
type MeterWorker struct {
	worker *queue.Worker[MeterEvent]
	ledger Ledger
	cache  CreditInvalidator
	logger *utils.Logger
}

// NewMeterWorker creates a meter worker
func NewMeterWorker(q queue.Queue[MeterEvent], dlq queue.DeadLetterQueue[MeterEvent], config *queue.Config, ledger Ledger, cache CreditInvalidator) *MeterWorker {
	mw := &MeterWorker{
		ledger: ledger,
		cache:  cache,
		logger: utils.NewLogger("meter-worker"),
	}
	mw.worker = queue.NewWorker(q, dlq, config, mw.process)
	return mw
}

// Start begins processing in the background
func (mw *MeterWorker) Start() {
	mw.worker.Start()
}

// Stop drains pending events and stops the worker
func (mw *MeterWorker) Stop(ctx context.Context) error {
	return mw.worker.Stop(ctx)
}

// Enqueue queues a meter event
func (mw *MeterWorker) Enqueue(ctx context.Context, event MeterEvent) error {
	return mw.worker.Enqueue(ctx, event)
}

func (mw *MeterWorker) process(ctx context.Context, event MeterEvent) error {
	if err := mw.ledger.RecordMeterEvent(ctx, event); err != nil {
		return fmt.Errorf("meter event %s: %w", event.ID, err)
	}
	// the balance moved; the next credit check must ask the ledger
	mw.cache.ClearCreditCache(event.UserDid)
	mw.logger.Debug("Meter event recorded", "userDid", event.UserDid, "amount", event.Amount.String())
	return nil
}

// GetQueueLength returns the number of pending events
func (mw *MeterWorker) GetQueueLength(ctx context.Context) (int, error) {
	return mw.worker.GetQueueLength(ctx)
}

// GetDeadLetterItems lists events that exhausted their retries
func (mw *MeterWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[MeterEvent], error) {
	return mw.worker.GetDeadLetterItems(ctx, maxItems)
}

// RetryDeadLetterItem re-queues a dead letter event
func (mw *MeterWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	return mw.worker.RetryDeadLetterItem(ctx, id)
}

// Stats returns worker counters
func (mw *MeterWorker) Stats() queue.WorkerStats {
	return mw.worker.Stats()
}
