package domain

import "errors"

// Sentinel errors used throughout the application.
// Call sites wrap them with %w; handlers translate them to HTTP status codes
// via a single mapError function and the consumer classifies them with IsPoison.
var (
	// Startup / configuration.
	ErrConfiguration         = errors.New("configuration error")
	ErrConfigurationConflict = errors.New("configuration conflict: queue exists with different attributes")
	ErrSecretNotFound        = errors.New("secret not found")

	// Per-message handling.
	ErrDecode         = errors.New("malformed message body")
	ErrUnknownType    = errors.New("unknown or missing notification type")
	ErrInvalidPayload = errors.New("notification payload is missing required fields")

	// Outbound delivery and infrastructure.
	ErrProvider         = errors.New("provider error")
	ErrBrokerConnection = errors.New("broker connection error")
	ErrQueueFull        = errors.New("queue is at capacity, try again later")

	// ErrRecipientRejected marks a provider refusing the address itself;
	// retrying or redelivering cannot help.
	ErrRecipientRejected = errors.New("recipient rejected by provider")

	// Purchases.
	ErrNotFound       = errors.New("not found")
	ErrInvalidProduct = errors.New("invalid product")
	ErrInvalidName    = errors.New("name must not be empty")
	ErrInvalidEmail   = errors.New("email address is malformed")
	ErrInvalidPhone   = errors.New("phone number must not be empty")
)

// IsPoison reports whether err describes a message that cannot succeed no
// matter how often it is redelivered.
func IsPoison(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrRecipientRejected)
}
