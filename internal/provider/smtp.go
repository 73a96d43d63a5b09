package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// SMTPConfig holds the relay settings of SMTPProvider.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Encryption string // none | starttls | ssl_tls
}

// SMTPProvider sends email through an SMTP relay such as Mailtrap.
type SMTPProvider struct {
	config SMTPConfig
}

func NewSMTPProvider(config SMTPConfig) *SMTPProvider {
	return &SMTPProvider{config: config}
}

// SendEmail opens one connection per message. The receipt id is the
// generated Message-ID header.
func (p *SMTPProvider) SendEmail(ctx context.Context, msg EmailMessage) (*Receipt, error) {
	m := mail.NewMsg()
	if err := m.From(p.config.From); err != nil {
		return nil, providerErr("smtp", "from address", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, providerErr("smtp", "recipient", fmt.Errorf("%w: %w", domain.ErrRecipientRejected, err))
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	m.SetMessageID()

	c, err := mail.NewClient(p.config.Host,
		mail.WithPort(p.config.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(p.config.Username),
		mail.WithPassword(p.config.Password),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(p.config.Encryption)),
	)
	if err != nil {
		return nil, providerErr("smtp", "client", err)
	}

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return nil, providerErr("smtp", "send", err)
	}

	return &Receipt{
		ID:        m.GetMessageID(),
		Provider:  "smtp",
		Status:    "sent",
		Timestamp: time.Now().UTC(),
	}, nil
}

func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return mail.TLSMandatory
	case "starttls":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}

// compile-time check
var _ EmailSender = (*SMTPProvider)(nil)
