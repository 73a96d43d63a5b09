package cli

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/catalog"
	"github.com/notifyhub/purchase-notify/internal/config"
	"github.com/notifyhub/purchase-notify/internal/db"
	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/form"
	"github.com/notifyhub/purchase-notify/internal/metrics"
	"github.com/notifyhub/purchase-notify/internal/notify"
	"github.com/notifyhub/purchase-notify/internal/provider"
	"github.com/notifyhub/purchase-notify/internal/queue"
	"github.com/notifyhub/purchase-notify/internal/ratelimiter"
	"github.com/notifyhub/purchase-notify/internal/repository"
	"github.com/notifyhub/purchase-notify/internal/service"
	"github.com/notifyhub/purchase-notify/internal/worker"
)

type senders struct {
	email  provider.EmailSender
	sms    provider.SMSSender
	caller provider.Caller
}

func buildSenders(ctx context.Context, cfg *config.Config) (senders, error) {
	var s senders

	switch cfg.EmailBackend {
	case "smtp":
		s.email = provider.NewSMTPProvider(provider.SMTPConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Username:   cfg.SMTPUsername,
			Password:   cfg.SMTPPassword,
			From:       cfg.SenderEmail,
			Encryption: cfg.SMTPEncryption,
		})
	case "ses":
		awsCfg, err := awsConfig(ctx, cfg)
		if err != nil {
			return s, fmt.Errorf("%w: aws config: %v", domain.ErrConfiguration, err)
		}
		s.email = provider.NewSESProvider(sesv2.NewFromConfig(awsCfg), cfg.SenderEmail)
	case "webhook":
		s.email = provider.NewWebhookProvider(cfg.WebhookURL, cfg.ProviderTimeout)
	}

	switch cfg.SMSBackend {
	case "twilio":
		tp := provider.NewTwilioProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		s.sms, s.caller = tp, tp
	case "webhook":
		wp := provider.NewWebhookProvider(cfg.WebhookURL, cfg.ProviderTimeout)
		s.sms, s.caller = wp, wp
	}
	return s, nil
}

func buildNotifier(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*notify.Notifier, error) {
	if err := cfg.RequireNotifier(); err != nil {
		return nil, err
	}
	s, err := buildSenders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy := notify.Policy{Timeout: cfg.ProviderTimeout, Backoff: cfg.ProviderRetryBackoff}
	return notify.New(s.email, s.sms, s.caller, ratelimiter.New(cfg.RateLimit), notify.Config{
		EmailSubject:   cfg.EmailSubject,
		SMSFrom:        cfg.TwilioFromNumber,
		CallScriptURL:  cfg.CallScriptURL,
		AnswerGreeting: cfg.AnswerGreeting,
		AnswerAudioURL: cfg.AnswerAudioURL,
		Policies: map[domain.Channel]notify.Policy{
			// a call that timed out may still ring; never place it twice
			domain.ChannelCall: {Timeout: cfg.ProviderTimeout},
		},
		DefaultPolicy: policy,
		Breaker: notify.BreakerSettings{
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenTimeout,
		},
	}, logger.Named("notify"), m.NotifyHooks()), nil
}

func buildPool(cfg *config.Config, broker queue.Subscriber, handler domain.EventHandler, logger *zap.Logger, m *metrics.Metrics) *worker.Pool {
	return worker.NewPool(cfg.ConsumerWorkers, broker, handler, worker.ConsumerConfig{
		Subscribe: queue.SubscribeOptions{
			Queue:           cfg.QueueName,
			Subscription:    cfg.SubscriptionName,
			Prefetch:        cfg.Prefetch,
			MaxDeliveries:   cfg.MaxDeliveries,
			DeadLetterQueue: cfg.DeadLetterQueue,
			NackDelay:       cfg.NackRedeliveryDelay,
		},
		MaxDeliveries:    cfg.MaxDeliveries,
		ReconnectBackoff: cfg.ReconnectBackoff,
	}, logger.Named("consumer"), m.WorkerHooks())
}

// buildForm returns nil when no form bucket is configured.
func buildForm(ctx context.Context, cfg *config.Config, logger *zap.Logger) (form.Source, error) {
	if cfg.FormBucket == "" {
		return nil, nil
	}
	awsCfg, err := awsConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %v", domain.ErrConfiguration, err)
	}
	return form.NewS3Source(s3.NewFromConfig(awsCfg), cfg.FormBucket, cfg.FormKey, logger.Named("form")), nil
}

// buildPurchaseService opens the purchase store and builds the service. pub
// may be nil, in which case no notification events are published. The
// returned close function releases the database pool.
func buildPurchaseService(
	ctx context.Context,
	cfg *config.Config,
	pub queue.Publisher,
	migrate bool,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*service.PurchaseService, func(), error) {
	if err := cfg.RequirePurchase(); err != nil {
		return nil, nil, err
	}

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return nil, nil, err
	}

	var (
		repo    repository.PurchaseRepository
		closeDB = func() {}
	)
	switch cfg.PurchaseStore {
	case "memory":
		logger.Warn("using the in-memory purchase store; purchases do not survive a restart")
		repo = repository.NewMockPurchaseRepository()
	default:
		if migrate {
			if err := db.Migrate(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
				return nil, nil, err
			}
			logger.Info("database migrations applied")
		}
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		repo = repository.NewPgPurchaseRepository(pool)
		closeDB = pool.Close
	}

	if !cfg.PublishNotifications {
		pub = nil
	}
	svc := service.NewPurchaseService(repo, cat, pub, cfg.QueueName, logger.Named("purchase"), m.ServiceHooks())
	return svc, closeDB, nil
}
