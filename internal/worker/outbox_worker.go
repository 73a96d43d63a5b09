package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Relayer republishes the notification events of purchases that were saved
// while the queue was unreachable. service.PurchaseService implements it.
type Relayer interface {
	RelayPending(ctx context.Context, minAge time.Duration, limit int) (int, error)
}

// OutboxWorker polls for unnotified purchases and hands them to the
// Relayer. Purchases younger than minAge are left alone so the relay does not
// race the save request that is still publishing them.
type OutboxWorker struct {
	relayer  Relayer
	interval time.Duration
	minAge   time.Duration
	batch    int
	logger   *zap.Logger
}

func NewOutboxWorker(
	relayer Relayer,
	interval, minAge time.Duration,
	batch int,
	logger *zap.Logger,
) *OutboxWorker {
	return &OutboxWorker{
		relayer:  relayer,
		interval: interval,
		minAge:   minAge,
		batch:    batch,
		logger:   logger,
	}
}

// Run ticks every interval and relays pending purchases.
// Stops cleanly when ctx is cancelled.
func (ow *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(ow.interval)
	defer ticker.Stop()

	ow.logger.Info("outbox worker started",
		zap.Duration("interval", ow.interval),
		zap.Duration("min_age", ow.minAge),
	)

	for {
		select {
		case <-ctx.Done():
			ow.logger.Info("outbox worker stopping")
			return
		case <-ticker.C:
			ow.poll(ctx)
		}
	}
}

func (ow *OutboxWorker) poll(ctx context.Context) {
	n, err := ow.relayer.RelayPending(ctx, ow.minAge, ow.batch)
	if err != nil {
		ow.logger.Error("outbox poll error", zap.Error(err))
		return
	}
	if n > 0 {
		ow.logger.Info("relayed pending purchase notifications", zap.Int("count", n))
	}
}
