// Package notify turns notification events and API requests into provider
// calls, one guarded pipeline per channel.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/provider"
	"github.com/notifyhub/purchase-notify/internal/ratelimiter"
)

// Config carries the message defaults and call policies of a Notifier.
type Config struct {
	EmailSubject   string
	SMSFrom        string
	CallScriptURL  string
	AnswerGreeting string
	AnswerAudioURL string

	// Policies per channel; channels without an entry use DefaultPolicy.
	Policies      map[domain.Channel]Policy
	DefaultPolicy Policy
	Breaker       BreakerSettings
}

// MetricHooks carries the metric callback injected by main.
type MetricHooks struct {
	OnProviderResult func(channel domain.Channel, result string)
}

// Notifier implements domain.EventHandler for the queue consumer and the
// synchronous operations behind the HTTP API.
type Notifier struct {
	email  provider.EmailSender
	sms    provider.SMSSender
	caller provider.Caller
	cfg    Config
	guards map[domain.Channel]*guard
	logger *zap.Logger
}

func New(
	email provider.EmailSender,
	sms provider.SMSSender,
	caller provider.Caller,
	limiter *ratelimiter.ChannelLimiters,
	cfg Config,
	logger *zap.Logger,
	hooks MetricHooks,
) *Notifier {
	onResult := hooks.OnProviderResult
	if onResult == nil {
		onResult = func(domain.Channel, string) {}
	}

	for ch := range cfg.Policies {
		if !ch.IsValid() {
			logger.Warn("ignoring policy for unknown channel", zap.String("channel", string(ch)))
		}
	}

	guards := make(map[domain.Channel]*guard, 3)
	for _, ch := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelCall} {
		policy, ok := cfg.Policies[ch]
		if !ok {
			policy = cfg.DefaultPolicy
		}
		guards[ch] = newGuard(ch, policy, cfg.Breaker, limiter, logger, onResult)
	}

	return &Notifier{
		email:  email,
		sms:    sms,
		caller: caller,
		cfg:    cfg,
		guards: guards,
		logger: logger,
	}
}

// SMSBody is the order confirmation text sent to customers.
func SMSBody(name, product string) string {
	return fmt.Sprintf("Hi %s, your order for %s has been successfully placed", name, product)
}

func (n *Notifier) HandleEmail(ctx context.Context, e domain.EmailEvent) error {
	r, err := n.sendEmail(ctx, e.Email, e.Subject, e.Message)
	if err != nil {
		return err
	}
	n.logger.Info("email sent",
		zap.String("correlation_id", e.CorrelationID),
		zap.String("receipt_id", r.ID),
	)
	return nil
}

func (n *Notifier) HandleSMS(ctx context.Context, e domain.SMSEvent) error {
	r, err := n.SendSMS(ctx, e.Name, e.Product, e.Phone)
	if err != nil {
		return err
	}
	n.logger.Info("sms sent",
		zap.String("correlation_id", e.CorrelationID),
		zap.String("receipt_id", r.ID),
	)
	return nil
}

// SendEmail sends message to the given address with the configured subject.
func (n *Notifier) SendEmail(ctx context.Context, to, message string) (*provider.Receipt, error) {
	return n.sendEmail(ctx, to, "", message)
}

func (n *Notifier) sendEmail(ctx context.Context, to, subject, message string) (*provider.Receipt, error) {
	// malformed addresses never reach the provider or its breaker
	if err := domain.CheckEmail(to); err != nil {
		return nil, err
	}
	if subject == "" {
		subject = n.cfg.EmailSubject
	}
	msg := provider.EmailMessage{To: to, Subject: subject, Body: message}

	return n.guards[domain.ChannelEmail].do(ctx, func(ctx context.Context) (*provider.Receipt, error) {
		return n.email.SendEmail(ctx, msg)
	})
}

// SendSMS texts an order confirmation for product to phone.
func (n *Notifier) SendSMS(ctx context.Context, name, product, phone string) (*provider.Receipt, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, domain.ErrInvalidPhone
	}
	msg := provider.SMSMessage{To: phone, From: n.cfg.SMSFrom, Body: SMSBody(name, product)}

	return n.guards[domain.ChannelSMS].do(ctx, func(ctx context.Context) (*provider.Receipt, error) {
		return n.sms.SendSMS(ctx, msg)
	})
}

// CallCustomer places a recorded outbound call that plays the call script.
// name and product are only logged; the script is the same for every order.
func (n *Notifier) CallCustomer(ctx context.Context, name, product, phone string) (*provider.Receipt, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, domain.ErrInvalidPhone
	}
	req := provider.CallRequest{
		To:        phone,
		From:      n.cfg.SMSFrom,
		ScriptURL: n.cfg.CallScriptURL,
		Record:    true,
	}

	r, err := n.guards[domain.ChannelCall].do(ctx, func(ctx context.Context) (*provider.Receipt, error) {
		return n.caller.PlaceCall(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	n.logger.Info("outbound call placed",
		zap.String("name", name),
		zap.String("product", product),
		zap.String("receipt_id", r.ID),
	)
	return r, nil
}

// AnswerCall returns the TwiML played to inbound callers.
func (n *Notifier) AnswerCall() (string, error) {
	return provider.AnswerCall(n.cfg.AnswerGreeting, n.cfg.AnswerAudioURL)
}

// compile-time check
var _ domain.EventHandler = (*Notifier)(nil)
