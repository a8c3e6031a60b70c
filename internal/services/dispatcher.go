package services

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/CyberwizD/webpush-service/internal/models"
)

// BulkDispatcher fans one payload out to many subscriptions.
type BulkDispatcher struct {
	provider    PushProvider
	concurrency int
	logger      *slog.Logger
}

// NewBulkDispatcher builds a dispatcher. A concurrency of zero or less starts
// one attempt per recipient at once.
func NewBulkDispatcher(provider PushProvider, concurrency int, logger *slog.Logger) *BulkDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkDispatcher{
		provider:    provider,
		concurrency: concurrency,
		logger:      logger,
	}
}

type slotOutcome struct {
	index   int
	outcome models.DeliveryOutcome
}

// DeliverBulk attempts delivery to every subscription and waits for all of
// them. The report is index-aligned with subs. If ctx is cancelled first, the
// attempts that have not reported yet are recorded as cancelled.
func (d *BulkDispatcher) DeliverBulk(ctx context.Context, subs []*models.Subscription, payload *models.Payload) (*models.BulkReport, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvariantViolation)
	}
	for i, sub := range subs {
		if sub == nil {
			return nil, fmt.Errorf("%w: nil subscription at index %d", ErrInvariantViolation, i)
		}
	}
	if len(subs) == 0 {
		return models.NewBulkReport(nil), nil
	}

	limit := d.concurrency
	if limit <= 0 || limit > len(subs) {
		limit = len(subs)
	}

	// Buffered to len(subs) so workers never block after the collector returns.
	results := make(chan slotOutcome, len(subs))
	sem := semaphore.NewWeighted(int64(limit))

	go func() {
		for i, sub := range subs {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(i int, sub *models.Subscription) {
				out := d.attempt(ctx, i, sub, payload)
				results <- slotOutcome{index: i, outcome: out}
				sem.Release(1)
			}(i, sub)
		}
	}()

	outcomes := make([]models.DeliveryOutcome, len(subs))
	done := make([]bool, len(subs))
	collected := 0
	for collected < len(subs) {
		select {
		case r := <-results:
			outcomes[r.index], done[r.index] = r.outcome, true
			collected++
		case <-ctx.Done():
			collected += drain(results, outcomes, done)
			cancelled := 0
			for i := range outcomes {
				if !done[i] {
					outcomes[i] = models.Cancelled()
					cancelled++
				}
			}
			d.logger.Warn("bulk dispatch cancelled",
				slog.Int("total", len(subs)),
				slog.Int("completed", collected),
				slog.Int("cancelled", cancelled))
			return models.NewBulkReport(outcomes), nil
		}
	}
	return models.NewBulkReport(outcomes), nil
}

func drain(results <-chan slotOutcome, outcomes []models.DeliveryOutcome, done []bool) int {
	n := 0
	for {
		select {
		case r := <-results:
			outcomes[r.index], done[r.index] = r.outcome, true
			n++
		default:
			return n
		}
	}
}

// attempt runs one delivery and converts anything unexpected into a transient
// failure so the batch always completes.
func (d *BulkDispatcher) attempt(ctx context.Context, index int, sub *models.Subscription, payload *models.Payload) (out models.DeliveryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("delivery attempt panicked", slog.Int("index", index), slog.Any("panic", r))
			out = models.TransientFailure(fmt.Sprintf("panic: %v", r), 0)
		}
	}()

	if ctx.Err() != nil {
		return models.Cancelled()
	}
	outcome, err := d.provider.Deliver(ctx, sub, payload)
	if err != nil {
		return models.TransientFailure(err.Error(), 0)
	}
	if outcome.Kind == 0 {
		return models.TransientFailure("provider returned no outcome", 0)
	}
	return outcome
}
