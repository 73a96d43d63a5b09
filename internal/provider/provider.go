package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// Receipt is what a provider hands back for an accepted request.
type Receipt struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type EmailMessage struct {
	To      string
	Subject string
	Body    string
}

type SMSMessage struct {
	To   string
	From string
	Body string
}

// CallRequest places an outbound call that plays the audio or TwiML found at
// ScriptURL.
type CallRequest struct {
	To        string
	From      string
	ScriptURL string
	Record    bool
}

// EmailSender, SMSSender and Caller abstract the third-party channels.
// Implementations make exactly one attempt per call and report every failure
// wrapped with domain.ErrProvider; retry policy lives with the caller.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) (*Receipt, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) (*Receipt, error)
}

type Caller interface {
	PlaceCall(ctx context.Context, req CallRequest) (*Receipt, error)
}

func providerErr(name, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", domain.ErrProvider, name, op, err)
}
