package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type NumberStatus string

const (
	NumberStatusAvailable NumberStatus = "available"
	NumberStatusReserved  NumberStatus = "reserved"
	NumberStatusSold      NumberStatus = "sold"
	NumberStatusRetired   NumberStatus = "retired"
)

type Number struct {
	ID            int64           `json:"id"`
	Phone         string          `json:"phone"`
	Country       string          `json:"country"`
	Description   string          `json:"description"`
	PriceStars    int64           `json:"price_stars"`
	PriceFiat     decimal.Decimal `json:"price_fiat"`
	Status        NumberStatus    `json:"status"`
	SoldTo        *int64          `json:"sold_to,omitempty"`
	SoldAt        *time.Time      `json:"sold_at,omitempty"`
	Code          string          `json:"-"`
	CodeExpires   *time.Time      `json:"-"`
	AccountPhone  string          `json:"account_phone"`
	ReservedUntil *time.Time      `json:"reserved_until,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Price returns the listing price in currency.
func (n *Number) Price(c Currency) Money {
	if c == CurrencyStars {
		return Stars(n.PriceStars)
	}
	return Fiat(n.PriceFiat)
}

// CurrentCode returns the attached code if it has not expired at now.
// Expired codes read as absent.
func (n *Number) CurrentCode(now time.Time) (string, bool) {
	if n.Code == "" || n.CodeExpires == nil || !now.Before(*n.CodeExpires) {
		return "", false
	}
	return n.Code, true
}

type NumberPublishRequest struct {
	AccountPhone string
	Country      string
	Description  string
	PriceStars   int64
	PriceFiat    decimal.Decimal
}

func (p NumberPublishRequest) Validate() error {
	if p.AccountPhone == "" {
		return errors.New("account phone is required")
	}
	if p.PriceStars <= 0 {
		return errors.New("price in stars must be positive")
	}
	if !p.PriceFiat.IsPositive() {
		return errors.New("price in fiat must be positive")
	}
	if !p.PriceFiat.Equal(p.PriceFiat.Round(FiatScale)) {
		return errors.New("price in fiat has more than two fractional digits")
	}
	return nil
}

// NumberFilter controls catalog listing.
type NumberFilter struct {
	Country string // equals, empty for all
	Limit   int    // default 50
	Offset  int
}
