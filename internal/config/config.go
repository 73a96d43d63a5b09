package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; credentials that are left empty are
// filled from the secret store by ResolveSecrets.
type Config struct {
	// Server
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"5000"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	// Secret store
	SecretBackend string `envconfig:"SECRET_BACKEND" default:"env"` // env | ssm
	AWSRegion     string `envconfig:"AWS_REGION" default:"us-east-1"`
	Secrets       SecretNames

	// Broker
	Broker              string          `envconfig:"BROKER" default:"pulsar"` // pulsar | memory
	BrokerURL           string          `envconfig:"BROKER_URL"`
	BrokerAdminURL      string          `envconfig:"BROKER_ADMIN_URL" default:"http://localhost:8080"`
	BrokerOpTimeout     time.Duration   `envconfig:"BROKER_OPERATION_TIMEOUT" default:"30s"`
	QueueName           string          `envconfig:"QUEUE_NAME" default:"notification_queue"`
	QueueDurable        bool            `envconfig:"QUEUE_DURABLE" default:"true"`
	QueuePartitions     int             `envconfig:"QUEUE_PARTITIONS" default:"0"`
	DeadLetterQueue     string          `envconfig:"DEAD_LETTER_QUEUE" default:"notification_queue-dlq"`
	SubscriptionName    string          `envconfig:"SUBSCRIPTION_NAME" default:"notification-consumer"`
	Prefetch            int             `envconfig:"PREFETCH" default:"1"`
	MaxDeliveries       int             `envconfig:"MAX_DELIVERIES" default:"5"`
	NackRedeliveryDelay time.Duration   `envconfig:"NACK_REDELIVERY_DELAY" default:"5s"`
	ReconnectBackoff    []time.Duration `envconfig:"RECONNECT_BACKOFF" default:"1s,5s,30s"`

	// Consumer lifecycle
	ConsumerWorkers   int           `envconfig:"CONSUMER_WORKERS" default:"1"`
	ConsumerAutostart bool          `envconfig:"CONSUMER_AUTOSTART" default:"true"`
	ShutdownGrace     time.Duration `envconfig:"SHUTDOWN_GRACE" default:"20s"` // >= HandlerBudget

	// Provider call policy, applied per channel
	ProviderTimeout      time.Duration   `envconfig:"PROVIDER_TIMEOUT" default:"5s"`
	ProviderRetryBackoff []time.Duration `envconfig:"PROVIDER_RETRY_BACKOFF" default:"200ms,1s"`
	RateLimit            int             `envconfig:"RATE_LIMIT_PER_CHANNEL" default:"10"`
	BreakerFailures      uint32          `envconfig:"BREAKER_CONSECUTIVE_FAILURES" default:"5"`
	BreakerOpenTimeout   time.Duration   `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`

	// Email
	EmailBackend   string `envconfig:"EMAIL_BACKEND" default:"smtp"` // smtp | ses | webhook
	SenderEmail    string `envconfig:"SENDER_EMAIL"`
	EmailSubject   string `envconfig:"EMAIL_SUBJECT" default:"Purchase Confirmation"`
	SMTPHost       string `envconfig:"SMTP_HOST" default:"sandbox.smtp.mailtrap.io"`
	SMTPPort       int    `envconfig:"SMTP_PORT" default:"2525"`
	SMTPUsername   string `envconfig:"MAILTRAP_NAME"`
	SMTPPassword   string `envconfig:"MAILTRAP_PASS"`
	SMTPEncryption string `envconfig:"SMTP_ENCRYPTION" default:"starttls"` // none | starttls | ssl_tls

	// Telephony
	SMSBackend       string `envconfig:"SMS_BACKEND" default:"twilio"` // twilio | webhook
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER"`
	CallScriptURL    string `envconfig:"CALL_SCRIPT_URL" default:"http://demo.twilio.com/docs/classic.mp3"`
	AnswerGreeting   string `envconfig:"ANSWER_GREETING" default:"Thanks for calling Tag INC. An agent will get back to you shortly."`
	AnswerAudioURL   string `envconfig:"ANSWER_AUDIO_URL" default:"https://demo.twilio.com/docs/classic.mp3"`

	// Generic HTTP gateway used by the webhook backends
	WebhookURL string `envconfig:"WEBHOOK_URL"`

	// Purchase form
	FormBucket string `envconfig:"FORM_BUCKET" default:"purchase4ormdhanyalproj"`
	FormKey    string `envconfig:"FORM_KEY" default:"index.html"`

	// Purchases
	PurchaseHTTPPort     string `envconfig:"PURCHASE_HTTP_PORT" default:"5001"`
	PurchaseStore        string `envconfig:"PURCHASE_STORE" default:"postgres"` // postgres | memory
	DatabaseURL          string `envconfig:"DATABASE_URL"`
	DBMaxConns           int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns           int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	MigrationsPath       string `envconfig:"MIGRATIONS_PATH" default:"file://migrations"`
	CatalogFile          string `envconfig:"CATALOG_FILE"`
	PublishNotifications bool   `envconfig:"PUBLISH_NOTIFICATIONS" default:"true"`

	// Outbox relay for purchases whose events could not be published
	RelayInterval  time.Duration `envconfig:"RELAY_INTERVAL" default:"30s"`
	RelayMinAge    time.Duration `envconfig:"RELAY_MIN_AGE" default:"1m"`
	RelayBatchSize int           `envconfig:"RELAY_BATCH_SIZE" default:"100"`
}

// SecretNames are the secret-store keys credentials are read from.
type SecretNames struct {
	TwilioAccountSID string `envconfig:"SECRET_TWILIO_ACCOUNT_SID" default:"/twilio/account-sid"`
	TwilioAuthToken  string `envconfig:"SECRET_TWILIO_AUTH_TOKEN" default:"/twilio/auth-token"`
	BrokerURL        string `envconfig:"SECRET_BROKER_URL" default:"/broker/url"`
	DatabaseURL      string `envconfig:"SECRET_DATABASE_URL" default:"/purchase/database-url"`
	SMTPPassword     string `envconfig:"SECRET_SMTP_PASSWORD" default:"/mail/relay-password"`
}

// SecretSource looks up a single named secret. Missing secrets are reported
// as domain.ErrSecretNotFound.
type SecretSource interface {
	Get(ctx context.Context, name string) (string, error)
}

func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges and enumerations. Presence of credentials is
// checked per command by the Require* methods, after secrets are resolved.
func (c *Config) Validate() error {
	var errs []error

	if c.Prefetch < 1 {
		errs = append(errs, errors.New("PREFETCH must be at least 1"))
	}
	if c.MaxDeliveries < 1 {
		errs = append(errs, errors.New("MAX_DELIVERIES must be at least 1"))
	}
	if c.ConsumerWorkers < 1 {
		errs = append(errs, errors.New("CONSUMER_WORKERS must be at least 1"))
	}
	if c.QueuePartitions < 0 {
		errs = append(errs, errors.New("QUEUE_PARTITIONS must not be negative"))
	}
	if c.RateLimit < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_CHANNEL must be at least 1"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if budget := c.HandlerBudget(); c.ShutdownGrace < budget {
		errs = append(errs, fmt.Errorf("SHUTDOWN_GRACE %s is shorter than the worst-case provider call %s", c.ShutdownGrace, budget))
	}
	if c.RelayInterval <= 0 {
		errs = append(errs, errors.New("RELAY_INTERVAL must be positive"))
	}
	if c.RelayBatchSize < 1 {
		errs = append(errs, errors.New("RELAY_BATCH_SIZE must be at least 1"))
	}
	if len(c.ReconnectBackoff) == 0 {
		errs = append(errs, errors.New("RECONNECT_BACKOFF must list at least one delay"))
	}
	if c.QueueName == c.DeadLetterQueue {
		errs = append(errs, errors.New("DEAD_LETTER_QUEUE must differ from QUEUE_NAME"))
	}
	if !oneOf(c.Broker, "pulsar", "memory") {
		errs = append(errs, fmt.Errorf("BROKER %q is not one of pulsar, memory", c.Broker))
	}
	if !oneOf(c.SecretBackend, "env", "ssm") {
		errs = append(errs, fmt.Errorf("SECRET_BACKEND %q is not one of env, ssm", c.SecretBackend))
	}
	if !oneOf(c.EmailBackend, "smtp", "ses", "webhook") {
		errs = append(errs, fmt.Errorf("EMAIL_BACKEND %q is not one of smtp, ses, webhook", c.EmailBackend))
	}
	if !oneOf(c.SMSBackend, "twilio", "webhook") {
		errs = append(errs, fmt.Errorf("SMS_BACKEND %q is not one of twilio, webhook", c.SMSBackend))
	}
	if !oneOf(c.PurchaseStore, "postgres", "memory") {
		errs = append(errs, fmt.Errorf("PURCHASE_STORE %q is not one of postgres, memory", c.PurchaseStore))
	}
	if !oneOf(c.SMTPEncryption, "none", "starttls", "ssl_tls") {
		errs = append(errs, fmt.Errorf("SMTP_ENCRYPTION %q is not one of none, starttls, ssl_tls", c.SMTPEncryption))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// HandlerBudget is the longest one guarded provider call can take: every
// attempt runs into PROVIDER_TIMEOUT and every retry waits its backoff.
func (c *Config) HandlerBudget() time.Duration {
	budget := time.Duration(len(c.ProviderRetryBackoff)+1) * c.ProviderTimeout
	for _, b := range c.ProviderRetryBackoff {
		budget += b
	}
	return budget
}

// ResolveSecrets fills empty credential fields from src. A secret that does
// not exist leaves the field empty (the Require* checks decide whether that
// is fatal); any other lookup failure aborts.
func (c *Config) ResolveSecrets(ctx context.Context, src SecretSource) error {
	targets := []struct {
		name string
		dst  *string
	}{
		{c.Secrets.TwilioAccountSID, &c.TwilioAccountSID},
		{c.Secrets.TwilioAuthToken, &c.TwilioAuthToken},
		{c.Secrets.BrokerURL, &c.BrokerURL},
		{c.Secrets.DatabaseURL, &c.DatabaseURL},
		{c.Secrets.SMTPPassword, &c.SMTPPassword},
	}

	for _, t := range targets {
		if *t.dst != "" || t.name == "" {
			continue
		}
		v, err := src.Get(ctx, t.name)
		if errors.Is(err, domain.ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: secret %s: %w", domain.ErrConfiguration, t.name, err)
		}
		*t.dst = v
	}
	return nil
}

// RequireBroker checks the settings every queue-touching command needs.
func (c *Config) RequireBroker() error {
	if c.Broker == "pulsar" && c.BrokerURL == "" {
		return missing("BROKER_URL", c.Secrets.BrokerURL)
	}
	return nil
}

// RequireNotifier checks the credentials of the selected channel backends.
func (c *Config) RequireNotifier() error {
	if err := c.RequireBroker(); err != nil {
		return err
	}

	switch c.EmailBackend {
	case "smtp":
		if c.SenderEmail == "" {
			return missing("SENDER_EMAIL", "")
		}
		if c.SMTPUsername == "" || c.SMTPPassword == "" {
			return missing("MAILTRAP_NAME/MAILTRAP_PASS", c.Secrets.SMTPPassword)
		}
	case "ses":
		if c.SenderEmail == "" {
			return missing("SENDER_EMAIL", "")
		}
	case "webhook":
		if c.WebhookURL == "" {
			return missing("WEBHOOK_URL", "")
		}
	}

	switch c.SMSBackend {
	case "twilio":
		if c.TwilioAccountSID == "" {
			return missing("TWILIO_ACCOUNT_SID", c.Secrets.TwilioAccountSID)
		}
		if c.TwilioAuthToken == "" {
			return missing("TWILIO_AUTH_TOKEN", c.Secrets.TwilioAuthToken)
		}
		if c.TwilioFromNumber == "" {
			return missing("TWILIO_FROM_NUMBER", "")
		}
	case "webhook":
		if c.WebhookURL == "" {
			return missing("WEBHOOK_URL", "")
		}
	}
	return nil
}

// RequirePurchase checks the settings of the purchase service.
func (c *Config) RequirePurchase() error {
	if c.PurchaseStore == "postgres" && c.DatabaseURL == "" {
		return missing("DATABASE_URL", c.Secrets.DatabaseURL)
	}
	if c.PublishNotifications {
		return c.RequireBroker()
	}
	return nil
}

func missing(env, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrConfiguration, env)
	}
	return fmt.Errorf("%w: %s is required (env or secret %s)", domain.ErrConfiguration, env, secret)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
