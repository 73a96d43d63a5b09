package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/queue"
)

var (
	ErrAlreadyRunning = errors.New("notification consumer already running")
	ErrNotRunning     = errors.New("notification consumer not running")
)

// MetricHooks carries the metric callbacks injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnOutcome func(eventType string, outcome Outcome, latency time.Duration)
	OnRunning func(running bool)
}

func (h MetricHooks) withDefaults() MetricHooks {
	if h.OnOutcome == nil {
		h.OnOutcome = func(string, Outcome, time.Duration) {}
	}
	if h.OnRunning == nil {
		h.OnRunning = func(bool) {}
	}
	return h
}

// Stats are cumulative since the pool was created.
type Stats struct {
	Acked        int64 `json:"acked"`
	Requeued     int64 `json:"requeued"`
	DeadLettered int64 `json:"dead_lettered"`
	InFlight     int64 `json:"in_flight"`
}

type Status struct {
	Running   bool       `json:"running"`
	Workers   int        `json:"workers"`
	Queue     string     `json:"queue"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Stats     Stats      `json:"stats"`
}

// Pool owns the lifecycle of the notification consumers. It can be started
// and stopped repeatedly; at most one generation of consumers runs at a time.
type Pool struct {
	workers int
	sub     queue.Subscriber
	handler domain.EventHandler
	cfg     ConsumerConfig
	logger  *zap.Logger
	hooks   MetricHooks
	stats   *counters

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	stopRecv  context.CancelFunc
	stopWork  context.CancelFunc
	done      chan struct{}
}

func NewPool(
	workers int,
	sub queue.Subscriber,
	handler domain.EventHandler,
	cfg ConsumerConfig,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		sub:     sub,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		hooks:   hooks.withDefaults(),
		stats:   &counters{},
	}
}

// Start launches the consumers and returns immediately.
// Cancelling ctx stops receiving, like Stop without a grace deadline;
// handlers already running are allowed to finish.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	recvCtx, stopRecv := context.WithCancel(ctx)
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		c := newConsumer(i, p.sub, p.handler, p.cfg,
			p.logger.With(zap.Int("worker_id", i)), p.hooks, p.stats)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(recvCtx, workCtx)
		}()
	}

	go func() {
		wg.Wait()
		stopWork()
		p.mu.Lock()
		if p.done == done {
			p.running = false
			p.stopRecv, p.stopWork = nil, nil
		}
		p.mu.Unlock()
		p.hooks.OnRunning(false)
		close(done)
	}()

	p.running = true
	p.startedAt = time.Now().UTC()
	p.stopRecv, p.stopWork, p.done = stopRecv, stopWork, done
	p.hooks.OnRunning(true)

	p.logger.Info("notification consumer started",
		zap.Int("workers", p.workers),
		zap.String("queue", p.cfg.Subscribe.Queue),
		zap.Int("prefetch", p.cfg.Subscribe.Prefetch),
	)
	return nil
}

// Stop stops receiving and waits for in-flight deliveries to be settled.
// When ctx expires first, handler contexts are cancelled and Stop waits for
// the consumers to exit before returning ctx's error.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	stopRecv, stopWork, done := p.stopRecv, p.stopWork, p.done
	p.mu.Unlock()

	stopRecv()

	select {
	case <-done:
		p.logger.Info("notification consumer stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("shutdown grace period expired, cancelling in-flight handlers",
			zap.Int64("in_flight", p.stats.inFlight.Load()))
		stopWork()
		<-done
		return fmt.Errorf("forced stop: %w", ctx.Err())
	}
}

// Wait blocks until the current generation of consumers has exited.
func (p *Pool) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		Running: p.running,
		Workers: p.workers,
		Queue:   p.cfg.Subscribe.Queue,
		Stats:   p.stats.snapshot(),
	}
	if p.running {
		t := p.startedAt
		s.StartedAt = &t
	}
	return s
}
