package service

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/haatos/readycheck/internal/store"
	"go.uber.org/zap"
)

const dispatchBatchSize = 50

type IntentDeliverer interface {
	Deliver(context.Context, store.OutboxIntent) error
}

// OutboxDispatcher delivers pending intents. A failed delivery stays pending
// until maxAttempts deliveries have failed.
type OutboxDispatcher struct {
	store       store.OutboxStore
	deliverer   IntentDeliverer
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

func NewOutboxDispatcher(
	store store.OutboxStore,
	deliverer IntentDeliverer,
	logger *zap.Logger,
	maxAttempts int,
) *OutboxDispatcher {
	return &OutboxDispatcher{
		store:       store,
		deliverer:   deliverer,
		logger:      logger,
		maxAttempts: max(1, maxAttempts),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type DispatchStats struct {
	Sent   int
	Failed int
}

func (d *OutboxDispatcher) DispatchPending(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats
	intents, err := d.store.ListPendingIntents(ctx, dispatchBatchSize)
	if err != nil {
		return stats, err
	}
	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := d.deliverer.Deliver(ctx, intent); err != nil {
			stats.Failed++
			d.logger.Warn("err delivering intent",
				zap.String("intent_id", intent.IntentID),
				zap.String("kind", string(intent.Kind)),
				zap.Int("attempt", intent.Attempts+1),
				zap.Error(err),
			)
			if err := d.store.MarkIntentAttemptFailed(
				context.WithoutCancel(ctx), intent.IntentID, err.Error(), d.maxAttempts,
			); err != nil {
				return stats, err
			}
			continue
		}
		stats.Sent++
		if err := d.store.MarkIntentSent(context.WithoutCancel(ctx), intent.IntentID, d.now()); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// ScheduleDispatch runs DispatchPending every interval. A dispatch still in
// progress when the next one is due skips that tick.
func (d *OutboxDispatcher) ScheduleDispatch(s gocron.Scheduler, interval time.Duration) error {
	_, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			stats, err := d.DispatchPending(context.Background())
			if err != nil {
				d.logger.Error("err dispatching outbox", zap.Error(err))
			}
			if stats.Sent+stats.Failed > 0 {
				d.logger.Info("outbox dispatched", zap.Int("sent", stats.Sent), zap.Int("failed", stats.Failed))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return err
}

// ScheduleDailyCleanUp removes intents delivered longer than retention ago.
func (d *OutboxDispatcher) ScheduleDailyCleanUp(s gocron.Scheduler, retention time.Duration) error {
	_, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(func() {
			deleted, err := d.store.DeleteSentIntentsBefore(context.Background(), d.now().Add(-retention))
			if err != nil {
				d.logger.Error("err deleting sent intents", zap.Error(err))
				return
			}
			d.logger.Info("sent intents deleted", zap.Int64("deleted", deleted))
		}),
	)
	return err
}
