package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, s *Store, id int64, stars int64) *model.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := s.Users.Ensure(ctx, model.Contact{ID: id, Username: fmt.Sprintf("user%d", id)}, testNow)
	require.NoError(t, err)
	if stars > 0 {
		require.NoError(t, s.Users.AdjustBalance(ctx, id, model.Stars(stars), testNow))
		u.BalanceStars = stars
	}
	return u
}

func seedAccount(t *testing.T, s *Store, phone string, addedBy int64) *model.Account {
	t.Helper()
	acc, err := s.Accounts.Create(context.Background(), &model.Account{
		Phone:       phone,
		SessionName: "session" + phone,
		APIID:       12345,
		APIHash:     "0123456789abcdef0123456789abcdef",
		Status:      model.AccountStatusActive,
		AddedBy:     addedBy,
		AddedAt:     testNow,
	})
	require.NoError(t, err)
	return acc
}

func seedNumber(t *testing.T, s *Store, phone string, stars int64, fiat string) *model.Number {
	t.Helper()
	n, err := s.Numbers.Create(context.Background(), &model.Number{
		Phone:        phone,
		Country:      "RU",
		Description:  "test number",
		PriceStars:   stars,
		PriceFiat:    decimal.RequireFromString(fiat),
		Status:       model.NumberStatusAvailable,
		AccountPhone: phone,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	})
	require.NoError(t, err)
	return n
}
