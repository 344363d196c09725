package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username,omitempty"`
	FullName     string          `json:"full_name,omitempty"`
	BalanceStars int64           `json:"balance_stars"`
	BalanceFiat  decimal.Decimal `json:"balance_fiat"`
	RegisteredAt time.Time       `json:"registered_at"`
	LastActivity time.Time       `json:"last_activity"`
	IsAdmin      bool            `json:"is_admin"`
	IsBanned     bool            `json:"is_banned"`
}

// Balance returns the balance held in currency.
func (u *User) Balance(c Currency) Money {
	if c == CurrencyStars {
		return Stars(u.BalanceStars)
	}
	return Fiat(u.BalanceFiat)
}

// Contact is what the chat front-end knows about a user on first contact.
type Contact struct {
	ID       int64
	Username string
	FullName string
}
