package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/provider"
	"github.com/notifyhub/purchase-notify/internal/ratelimiter"
)

// Provider call results reported to MetricHooks.OnProviderResult.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultCircuitOpen = "circuit_open"
	ResultRejected    = "rejected"
)

// Policy bounds one provider call on one channel.
//
// Each attempt gets Timeout. A failed attempt is retried after Backoff[i]
// for i = 0..len(Backoff)-1, so len(Backoff) is the retry budget; an empty
// slice disables retries.
type Policy struct {
	Timeout time.Duration
	Backoff []time.Duration
}

// BreakerSettings configures the per-channel circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker; 0 disables it.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
}

// guard wraps every call to one channel's provider with rate limiting,
// a circuit breaker, a per-attempt timeout and bounded retries.
type guard struct {
	channel  domain.Channel
	policy   Policy
	limiter  *ratelimiter.ChannelLimiters
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	onResult func(domain.Channel, string)
}

func newGuard(
	ch domain.Channel,
	policy Policy,
	bs BreakerSettings,
	limiter *ratelimiter.ChannelLimiters,
	logger *zap.Logger,
	onResult func(domain.Channel, string),
) *guard {
	g := &guard{
		channel:  ch,
		policy:   policy,
		limiter:  limiter,
		logger:   logger,
		onResult: onResult,
	}
	if bs.ConsecutiveFailures > 0 {
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(ch),
			MaxRequests: 1,
			Timeout:     bs.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= bs.ConsecutiveFailures
			},
			// the caller giving up or a refused address says nothing about
			// the provider's health
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || rejected(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("provider circuit state changed",
					zap.String("channel", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return g
}

// do runs fn until it succeeds, the retry budget is spent, the breaker is
// open or ctx is done.
func (g *guard) do(ctx context.Context, fn func(context.Context) (*provider.Receipt, error)) (*provider.Receipt, error) {
	for attempt := 0; ; attempt++ {
		r, err := g.once(ctx, fn)
		if err == nil {
			g.onResult(g.channel, ResultSuccess)
			return r, nil
		}

		open := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
		switch {
		case open:
			g.onResult(g.channel, ResultCircuitOpen)
		case rejected(err):
			g.onResult(g.channel, ResultRejected)
			return nil, err
		default:
			g.onResult(g.channel, ResultFailure)
		}

		if open || ctx.Err() != nil || attempt >= len(g.policy.Backoff) {
			return nil, err
		}

		wait := g.policy.Backoff[attempt]
		g.logger.Warn("provider call failed, retrying",
			zap.String("channel", string(g.channel)),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, err
		case <-t.C:
		}
	}
}

func (g *guard) once(ctx context.Context, fn func(context.Context) (*provider.Receipt, error)) (*provider.Receipt, error) {
	if err := g.limiter.Wait(ctx, g.channel); err != nil {
		return nil, fmt.Errorf("%w: %s rate limit: %w", domain.ErrProvider, g.channel, err)
	}

	actx := ctx
	if g.policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
	}

	if g.breaker == nil {
		return asProviderErr(fn(actx))
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(actx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s circuit open: %w", domain.ErrProvider, g.channel, err)
		}
		return asProviderErr(nil, err)
	}
	r, _ := res.(*provider.Receipt)
	return r, nil
}

func rejected(err error) bool {
	return errors.Is(err, domain.ErrRecipientRejected)
}

func asProviderErr(r *provider.Receipt, err error) (*provider.Receipt, error) {
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, domain.ErrProvider) {
		err = fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	return nil, err
}
