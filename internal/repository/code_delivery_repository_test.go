package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeDeliveryRepository_CreateIfAbsent(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, 0)
	seedAccount(t, s, "+79001234567", 1)
	n := seedNumber(t, s, "+79001234567", 100, "150.00")

	d := &model.CodeDelivery{
		NumberID:  n.ID,
		UserID:    1,
		Phone:     n.Phone,
		Code:      "12345",
		ExpiresAt: testNow.Add(5 * time.Minute),
		CreatedAt: testNow,
	}

	first, created, err := s.CodeDeliveries.CreateIfAbsent(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.CodeDeliveries.CreateIfAbsent(ctx, d)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	latest, err := s.CodeDeliveries.Latest(ctx, n.ID, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "12345", latest.Code)

	_, err = s.CodeDeliveries.Latest(ctx, n.ID, testNow.Add(5*time.Minute))
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.CodeDeliveries.IncrementAttempts(ctx, first.ID))
	got, err := s.CodeDeliveries.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestCodeDeliveryRepository_ExpiryAfterCreation(t *testing.T) {
	s := NewTestStore(t)
	seedUser(t, s, 1, 0)
	seedAccount(t, s, "+79001234567", 1)
	n := seedNumber(t, s, "+79001234567", 100, "150.00")

	_, _, err := s.CodeDeliveries.CreateIfAbsent(context.Background(), &model.CodeDelivery{
		NumberID:  n.ID,
		UserID:    1,
		Phone:     n.Phone,
		Code:      "1",
		ExpiresAt: testNow,
		CreatedAt: testNow,
	})
	assert.Error(t, err)
}
