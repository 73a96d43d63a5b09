package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Purchase is a saved order. Amount comes from the product catalog, never
// from the caller.
type Purchase struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Product   string    `json:"product"`
	Amount    float64   `json:"amount"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// CorrelationID is copied onto the notification events of this purchase.
	CorrelationID string `json:"correlation_id,omitempty"`
	// NotifiedAt is set once the notification events were published.
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
}

// PurchaseFilter holds query parameters for paginated purchase listing.
type PurchaseFilter struct {
	Product *string
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}

// CreatePurchaseRequest is the inbound payload of the purchase form.
type CreatePurchaseRequest struct {
	Name    string `json:"name"`
	Product string `json:"product"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Validate checks the caller-supplied fields. The product is checked against
// the catalog by the service, not here.
func (r *CreatePurchaseRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidName
	}
	if r.Email != "" {
		if err := CheckEmail(r.Email); err != nil {
			return err
		}
	}
	return nil
}

// CheckEmail returns ErrInvalidEmail unless addr is a single bare or named
// RFC 5322 address.
func CheckEmail(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return ErrInvalidEmail
	}
	return nil
}
