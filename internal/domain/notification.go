package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Channel is the delivery channel a provider call goes out on.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelCall  Channel = "call"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelCall:
		return true
	}
	return false
}

// EventType is the "type" discriminator carried on the wire.
type EventType string

const (
	EventEmail EventType = "email"
	EventSMS   EventType = "sms"
)

// Event is a notification event taken off the queue. The set of variants is
// closed: only this package can implement Event.
type Event interface {
	Type() EventType
	Correlation() string
	// Accept dispatches the event to the matching EventHandler method.
	Accept(ctx context.Context, h EventHandler) error

	sealed()
}

// EventHandler has one method per Event variant. A new variant means a new
// method here, so every handler stops compiling until it covers it.
type EventHandler interface {
	HandleEmail(ctx context.Context, e EmailEvent) error
	HandleSMS(ctx context.Context, e SMSEvent) error
}

// EmailEvent asks for a transactional email to Email.
type EmailEvent struct {
	Email         string
	Message       string
	Subject       string
	CorrelationID string
}

func (e EmailEvent) Type() EventType     { return EventEmail }
func (e EmailEvent) Correlation() string { return e.CorrelationID }
func (e EmailEvent) sealed()             {}

func (e EmailEvent) Accept(ctx context.Context, h EventHandler) error {
	return h.HandleEmail(ctx, e)
}

func (e EmailEvent) validate() error {
	if strings.TrimSpace(e.Email) == "" || strings.TrimSpace(e.Message) == "" {
		return fmt.Errorf("%w: email events need email and message", ErrInvalidPayload)
	}
	if err := CheckEmail(e.Email); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// SMSEvent asks for an order confirmation text to Phone.
type SMSEvent struct {
	Name          string
	Product       string
	Phone         string
	CorrelationID string
}

func (e SMSEvent) Type() EventType     { return EventSMS }
func (e SMSEvent) Correlation() string { return e.CorrelationID }
func (e SMSEvent) sealed()             {}

func (e SMSEvent) Accept(ctx context.Context, h EventHandler) error {
	return h.HandleSMS(ctx, e)
}

func (e SMSEvent) validate() error {
	if strings.TrimSpace(e.Name) == "" ||
		strings.TrimSpace(e.Product) == "" ||
		strings.TrimSpace(e.Phone) == "" {
		return fmt.Errorf("%w: sms events need name, product and phone", ErrInvalidPayload)
	}
	return nil
}

// envelope is the flat JSON shape of every queue message.
type envelope struct {
	Type          EventType `json:"type"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// email
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
	Subject string `json:"subject,omitempty"`

	// sms
	Name    string `json:"name,omitempty"`
	Product string `json:"product,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Decode parses a raw queue body into a validated Event.
//
// Errors wrap ErrDecode (not JSON / wrong shape), ErrUnknownType (type absent
// or unrecognised) or ErrInvalidPayload (required fields missing).
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var ev interface {
		Event
		validate() error
	}
	switch env.Type {
	case EventEmail:
		ev = EmailEvent{
			Email:         env.Email,
			Message:       env.Message,
			Subject:       env.Subject,
			CorrelationID: env.CorrelationID,
		}
	case EventSMS:
		ev = SMSEvent{
			Name:          env.Name,
			Product:       env.Product,
			Phone:         env.Phone,
			CorrelationID: env.CorrelationID,
		}
	case "":
		return nil, fmt.Errorf("%w: type is missing", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := ev.validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Marshal encodes an Event into its wire form.
func Marshal(e Event) ([]byte, error) {
	env := envelope{Type: e.Type(), CorrelationID: e.Correlation()}
	switch v := e.(type) {
	case EmailEvent:
		env.Email, env.Message, env.Subject = v.Email, v.Message, v.Subject
	case SMSEvent:
		env.Name, env.Product, env.Phone = v.Name, v.Product, v.Phone
	}
	return json.Marshal(env)
}
