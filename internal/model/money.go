package model

import (
	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyStars Currency = "stars"
	CurrencyFiat  Currency = "fiat"
)

func (c Currency) Valid() bool {
	return c == CurrencyStars || c == CurrencyFiat
}

// FiatScale is the number of fractional digits kept for fiat amounts.
const FiatScale = 2

// Money is an amount in one currency. Stars are whole units; fiat is a
// decimal rounded to FiatScale digits.
type Money struct {
	Currency Currency
	Stars    int64
	Fiat     decimal.Decimal
}

func Stars(n int64) Money {
	return Money{Currency: CurrencyStars, Stars: n}
}

func Fiat(d decimal.Decimal) Money {
	return Money{Currency: CurrencyFiat, Fiat: d.Round(FiatScale)}
}

// FiatFromString parses "150.00" style input.
func FiatFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, Invalid("fiat amount is not a decimal").With("amount", s)
	}
	return Fiat(d), nil
}

// Positive reports whether the amount is strictly greater than zero and
// has no more than FiatScale fractional digits.
func (m Money) Positive() bool {
	switch m.Currency {
	case CurrencyStars:
		return m.Stars > 0
	case CurrencyFiat:
		return m.Fiat.IsPositive() && m.Fiat.Equal(m.Fiat.Round(FiatScale))
	}
	return false
}

func (m Money) String() string {
	if m.Currency == CurrencyStars {
		return decimal.NewFromInt(m.Stars).String()
	}
	return m.Fiat.StringFixed(FiatScale)
}
