package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingPayment(numberID, userID int64) *model.Payment {
	return &model.Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		NumberID:    numberID,
		Currency:    model.CurrencyStars,
		AmountStars: 100,
		AmountFiat:  decimal.Zero,
		Provider:    model.ProviderBalance,
		Status:      model.PaymentStatusPending,
		CreatedAt:   testNow,
		ExpiresAt:   testNow.Add(15 * time.Minute),
	}
}

func TestPaymentRepository_Lifecycle(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, 0)
	seedAccount(t, s, "+79001234567", 1)
	n := seedNumber(t, s, "+79001234567", 100, "150.00")

	p, err := s.Payments.Create(ctx, newPendingPayment(n.ID, 1))
	require.NoError(t, err)

	open, err := s.Payments.FindOpen(ctx, 1, n.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, open.ID)

	_, err = s.Payments.Create(ctx, newPendingPayment(n.ID, 1))
	assert.ErrorIs(t, err, model.ErrAlreadyExists, "one pending payment per number")

	require.NoError(t, s.Payments.SetInvoice(ctx, p.ID, model.Invoice{URL: "https://pay.example/1", Ref: "ref-1"}))

	done := testNow.Add(time.Minute)
	ok, err := s.Payments.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusSucceeded, map[string]any{"completed_at": done})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Payments.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusExpired, map[string]any{"completed_at": done})
	require.NoError(t, err)
	assert.False(t, ok, "terminal payments do not move")

	got, err := s.Payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSucceeded, got.Status)
	assert.Equal(t, "https://pay.example/1", got.ProviderURL)
	assert.Equal(t, "ref-1", got.ProviderRef)
	require.NotNil(t, got.CompletedAt)

	_, err = s.Payments.FindOpen(ctx, 1, n.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPaymentRepository_AmountConstraint(t *testing.T) {
	s := NewTestStore(t)
	seedUser(t, s, 1, 0)
	seedAccount(t, s, "+79001234567", 1)
	n := seedNumber(t, s, "+79001234567", 100, "150.00")

	p := newPendingPayment(n.ID, 1)
	p.AmountFiat = decimal.RequireFromString("150.00")
	_, err := s.Payments.Create(context.Background(), p)
	assert.Error(t, err, "mixed currency payments are rejected")
}

func TestPaymentRepository_ExpiredPending(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, 0)
	seedAccount(t, s, "+79000000001", 1)
	seedAccount(t, s, "+79000000002", 1)
	a := seedNumber(t, s, "+79000000001", 10, "1.00")
	b := seedNumber(t, s, "+79000000002", 10, "1.00")

	old := newPendingPayment(a.ID, 1)
	old.ExpiresAt = testNow.Add(-time.Second)
	_, err := s.Payments.Create(ctx, old)
	require.NoError(t, err)

	fresh := newPendingPayment(b.ID, 1)
	fresh.Provider = "card"
	_, err = s.Payments.Create(ctx, fresh)
	require.NoError(t, err)

	expired, err := s.Payments.ExpiredPending(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	external, err := s.Payments.PendingExternal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, external, 1)
	assert.Equal(t, fresh.ID, external[0].ID)
}
