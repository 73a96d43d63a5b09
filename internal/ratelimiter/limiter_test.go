package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/ratelimiter"
)

func TestChannelLimiters_BurstThenBlocks(t *testing.T) {
	l := ratelimiter.New(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Wait(ctx, domain.ChannelSMS); err != nil {
			t.Fatalf("token %d: %v", i, err)
		}
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(short, domain.ChannelSMS); err == nil {
		t.Fatal("expected third token within 50ms to be refused")
	}
}

func TestChannelLimiters_ChannelsAreIndependent(t *testing.T) {
	l := ratelimiter.New(1)
	ctx := context.Background()

	if err := l.Wait(ctx, domain.ChannelSMS); err != nil {
		t.Fatal(err)
	}
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(short, domain.ChannelEmail); err != nil {
		t.Fatalf("email should not be limited by sms traffic: %v", err)
	}
	if err := l.Wait(short, domain.ChannelCall); err != nil {
		t.Fatalf("call should not be limited by sms traffic: %v", err)
	}
}

func TestChannelLimiters_UnknownChannel(t *testing.T) {
	if err := ratelimiter.New(1).Wait(context.Background(), domain.Channel("fax")); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
