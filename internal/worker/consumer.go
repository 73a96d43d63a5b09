package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/queue"
)

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	OutcomeAcked        Outcome = "acked"
	OutcomeRequeued     Outcome = "requeued"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// settleTimeout bounds a single ack/nack/dead-letter call. Settling uses a
// context detached from handler cancellation so a forced stop still settles.
const settleTimeout = 5 * time.Second

// ConsumerConfig is shared by every consumer of a pool.
type ConsumerConfig struct {
	Subscribe queue.SubscribeOptions
	// MaxDeliveries is the attempt at which a failing delivery is
	// dead-lettered instead of nacked.
	MaxDeliveries int
	// ReconnectBackoff is the wait between resubscribe attempts; the last
	// entry repeats.
	ReconnectBackoff []time.Duration
}

// Consumer runs one consumption loop: receive a delivery, decode it,
// dispatch it to the handler, settle it. Per-message failures never stop the
// loop; a broken subscription is closed and reopened with backoff.
type Consumer struct {
	id      int
	sub     queue.Subscriber
	handler domain.EventHandler
	cfg     ConsumerConfig
	logger  *zap.Logger
	hooks   MetricHooks
	stats   *counters
}

func NewConsumer(
	id int,
	sub queue.Subscriber,
	handler domain.EventHandler,
	cfg ConsumerConfig,
	logger *zap.Logger,
	hooks MetricHooks,
) *Consumer {
	return newConsumer(id, sub, handler, cfg, logger, hooks.withDefaults(), &counters{})
}

func newConsumer(
	id int,
	sub queue.Subscriber,
	handler domain.EventHandler,
	cfg ConsumerConfig,
	logger *zap.Logger,
	hooks MetricHooks,
	stats *counters,
) *Consumer {
	if len(cfg.ReconnectBackoff) == 0 {
		cfg.ReconnectBackoff = []time.Duration{time.Second}
	}
	return &Consumer{
		id: id, sub: sub, handler: handler, cfg: cfg,
		logger: logger, hooks: hooks, stats: stats,
	}
}

// Run blocks until recvCtx is cancelled. Handlers run under workCtx, which
// the pool cancels only when the shutdown grace period runs out.
func (c *Consumer) Run(recvCtx, workCtx context.Context) {
	c.logger.Info("consumer started", zap.Int("id", c.id), zap.String("queue", c.cfg.Subscribe.Queue))
	defer c.logger.Info("consumer stopping", zap.Int("id", c.id))

	failures := 0
	for {
		sub, err := c.sub.Subscribe(recvCtx, c.cfg.Subscribe)
		if err != nil {
			if recvCtx.Err() != nil {
				return
			}
			wait := c.backoff(failures)
			c.logger.Error("subscribe failed",
				zap.Int("id", c.id), zap.Duration("retry_in", wait), zap.Error(err))
			failures++
			if !sleep(recvCtx, wait) {
				return
			}
			continue
		}
		failures = 0

		err = c.consume(recvCtx, workCtx, sub)
		sub.Close()
		if recvCtx.Err() != nil {
			return
		}

		wait := c.backoff(failures)
		c.logger.Warn("subscription lost, resubscribing",
			zap.Int("id", c.id), zap.Duration("retry_in", wait), zap.Error(err))
		failures++
		if !sleep(recvCtx, wait) {
			return
		}
	}
}

func (c *Consumer) consume(recvCtx, workCtx context.Context, sub queue.Subscription) error {
	for {
		d, err := sub.Receive(recvCtx)
		if err != nil {
			return err
		}
		c.process(workCtx, d)
	}
}

// process handles exactly one delivery and settles it exactly once.
func (c *Consumer) process(ctx context.Context, d *queue.Delivery) Outcome {
	start := time.Now()
	c.stats.inFlight.Add(1)
	defer c.stats.inFlight.Add(-1)

	log := c.logger.With(
		zap.String("message_id", d.ID),
		zap.String("message_key", d.Key),
		zap.Int("attempt", d.Attempt),
	)

	eventType := "unknown"
	var outcome Outcome

	ev, err := domain.Decode(d.Body)
	if err == nil {
		eventType = string(ev.Type())
		log = log.With(
			zap.String("type", eventType),
			zap.String("correlation_id", ev.Correlation()),
		)
		err = ev.Accept(ctx, c.handler)
	}

	switch {
	case err == nil:
		outcome = c.ack(ctx, d, log)
	case domain.IsPoison(err):
		log.Warn("poison message", zap.Error(err))
		outcome = c.deadLetter(ctx, d, err.Error(), log)
	case d.Attempt >= c.cfg.MaxDeliveries:
		log.Error("delivery attempts exhausted", zap.Int("max_deliveries", c.cfg.MaxDeliveries), zap.Error(err))
		outcome = c.deadLetter(ctx, d, fmt.Sprintf("after %d attempts: %v", d.Attempt, err), log)
	default:
		log.Warn("handler failed, requeueing", zap.Error(err))
		outcome = c.nack(ctx, d, log)
	}

	c.stats.record(outcome)
	c.hooks.OnOutcome(eventType, outcome, time.Since(start))
	return outcome
}

func (c *Consumer) ack(ctx context.Context, d *queue.Delivery, log *zap.Logger) Outcome {
	sctx, cancel := settleContext(ctx)
	defer cancel()

	// The broker will redeliver; handlers tolerate duplicates.
	if err := d.Ack(sctx); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
	return OutcomeAcked
}

func (c *Consumer) nack(ctx context.Context, d *queue.Delivery, log *zap.Logger) Outcome {
	sctx, cancel := settleContext(ctx)
	defer cancel()

	if err := d.Nack(sctx); err != nil {
		log.Error("nack failed", zap.Error(err))
	}
	return OutcomeRequeued
}

// deadLetter falls back to nack when the dead-letter queue is unreachable;
// the broker's own redelivery limit then takes over.
func (c *Consumer) deadLetter(ctx context.Context, d *queue.Delivery, reason string, log *zap.Logger) Outcome {
	sctx, cancel := settleContext(ctx)
	defer cancel()

	if err := d.DeadLetter(sctx, reason); err != nil {
		if d.Settled() {
			log.Warn("delivery already settled", zap.Error(err))
			return OutcomeDeadLettered
		}
		log.Error("dead-letter failed, nacking instead", zap.Error(err))
		return c.nack(ctx, d, log)
	}
	log.Info("message dead-lettered", zap.String("reason", reason))
	return OutcomeDeadLettered
}

func (c *Consumer) backoff(failures int) time.Duration {
	idx := failures
	if idx >= len(c.cfg.ReconnectBackoff) {
		idx = len(c.cfg.ReconnectBackoff) - 1
	}
	return c.cfg.ReconnectBackoff[idx]
}

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// sleep waits for d or until ctx is done; it reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// counters are shared by all consumers of a pool.
type counters struct {
	acked        atomic.Int64
	requeued     atomic.Int64
	deadLettered atomic.Int64
	inFlight     atomic.Int64
}

func (s *counters) record(o Outcome) {
	switch o {
	case OutcomeAcked:
		s.acked.Add(1)
	case OutcomeRequeued:
		s.requeued.Add(1)
	case OutcomeDeadLettered:
		s.deadLettered.Add(1)
	}
}

func (s *counters) snapshot() Stats {
	return Stats{
		Acked:        s.acked.Load(),
		Requeued:     s.requeued.Load(),
		DeadLettered: s.deadLettered.Load(),
		InFlight:     s.inFlight.Load(),
	}
}
