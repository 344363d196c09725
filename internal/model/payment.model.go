package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusExpired   PaymentStatus = "expired"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Terminal payments never change again, except succeeded -> refunded.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

// ProviderBalance tags payments taken from the buyer's wallet.
const ProviderBalance = "balance"

type Payment struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"user_id"`
	NumberID      int64           `json:"number_id"`
	Currency      Currency        `json:"currency"`
	AmountStars   int64           `json:"amount_stars"`
	AmountFiat    decimal.Decimal `json:"amount_fiat"`
	Provider      string          `json:"provider"`
	Status        PaymentStatus   `json:"status"`
	ProviderURL   string          `json:"provider_url,omitempty"`
	ProviderRef   string          `json:"provider_ref,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func (p *Payment) Amount() Money {
	if p.Currency == CurrencyStars {
		return Stars(p.AmountStars)
	}
	return Fiat(p.AmountFiat)
}

func (p *Payment) FromBalance() bool {
	return p.Provider == ProviderBalance
}

// ProviderStatus is what an external provider reports for a payment.
type ProviderStatus string

const (
	ProviderStatusPending   ProviderStatus = "pending"
	ProviderStatusSucceeded ProviderStatus = "succeeded"
	ProviderStatusFailed    ProviderStatus = "failed"
)

// ProviderCallback is the settlement notice a provider posts for a payment.
type ProviderCallback struct {
	PaymentID  string         `json:"payment_id"`
	Status     ProviderStatus `json:"status"`
	ProviderID string         `json:"provider_id"`
	Reason     string         `json:"reason,omitempty"`
}

// Invoice is returned by a provider when a payment is opened.
type Invoice struct {
	URL string `json:"url"`
	Ref string `json:"ref"`
}

// Order is the result of reserving a Number and opening a Payment for it.
type Order struct {
	Number  *Number  `json:"number"`
	Payment *Payment `json:"payment"`
}
