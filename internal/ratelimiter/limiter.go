package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// ChannelLimiters holds one token bucket per delivery channel so a burst of
// emails cannot eat the SMS or voice quota of the provider account.
// Burst equals the rate: no tokens are saved up beyond one second's worth.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per channel.
func New(ratePerSec int) *ChannelLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec

	return &ChannelLimiters{
		limiters: map[domain.Channel]*rate.Limiter{
			domain.ChannelEmail: rate.NewLimiter(r, burst),
			domain.ChannelSMS:   rate.NewLimiter(r, burst),
			domain.ChannelCall:  rate.NewLimiter(r, burst),
		},
	}
}

// Wait blocks until the channel's limiter grants a token.
// Returns a non-nil error if ctx is cancelled (or its deadline would pass)
// while waiting, or if the channel is unknown.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return fmt.Errorf("no rate limiter for channel %q", ch)
	}
	return l.Wait(ctx)
}
