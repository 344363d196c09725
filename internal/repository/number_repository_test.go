package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberRepository_UniquePhone(t *testing.T) {
	s := NewTestStore(t)
	seedUser(t, s, 1, 0)
	seedAccount(t, s, "+79001234567", 1)
	seedNumber(t, s, "+79001234567", 100, "150.00")

	_, err := s.Numbers.Create(context.Background(), &model.Number{
		Phone:        "+79001234567",
		Country:      "RU",
		PriceStars:   10,
		PriceFiat:    decimal.RequireFromString("1.00"),
		Status:       model.NumberStatusAvailable,
		AccountPhone: "+79001234567",
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	})
	assert.ErrorIs(t, err, model.ErrAlreadyExists)
}

func TestNumberRepository_RequiresAccount(t *testing.T) {
	s := NewTestStore(t)

	_, err := s.Numbers.Create(context.Background(), &model.Number{
		Phone:        "+79001112233",
		Country:      "RU",
		PriceStars:   10,
		PriceFiat:    decimal.RequireFromString("1.00"),
		Status:       model.NumberStatusAvailable,
		AccountPhone: "+79001112233",
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestNumberRepository_ListAvailable(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, 0)

	phones := []string{"+79000000001", "+79000000002", "+79000000003", "+79000000004"}
	prices := []int64{300, 100, 100, 200}
	for i, p := range phones {
		seedAccount(t, s, p, 1)
		seedNumber(t, s, p, prices[i], "10.00")
	}
	n4, err := s.Numbers.GetByPhone(ctx, "+79000000004")
	require.NoError(t, err)
	ok, err := s.Numbers.Retire(ctx, n4.ID, model.NumberStatusAvailable, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	list, total, err := s.Numbers.ListAvailable(ctx, model.NumberFilter{Country: "RU"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, list, 3)
	assert.Equal(t, "+79000000002", list[0].Phone)
	assert.Equal(t, "+79000000003", list[1].Phone)
	assert.Equal(t, "+79000000001", list[2].Phone)

	list, total, err = s.Numbers.ListAvailable(ctx, model.NumberFilter{Country: "DE"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestNumberRepository_Transitions(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, 0)
	seedUser(t, s, 2, 0)
	seedAccount(t, s, "+79001234567", 1)
	n := seedNumber(t, s, "+79001234567", 100, "150.00")
	until := testNow.Add(15 * time.Minute)

	ok, err := s.Numbers.Reserve(ctx, n.ID, 1, until, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Numbers.Reserve(ctx, n.ID, 2, until, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "second reservation must lose")

	ok, err = s.Numbers.Release(ctx, n.ID, 2, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "only the holder releases")

	ok, err = s.Numbers.Retire(ctx, n.ID, model.NumberStatusAvailable, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Numbers.MarkSold(ctx, n.ID, 1, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Numbers.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NumberStatusSold, got.Status)
	require.NotNil(t, got.SoldTo)
	assert.Equal(t, int64(1), *got.SoldTo)
	require.NotNil(t, got.SoldAt)
	assert.Nil(t, got.ReservedUntil)

	ok, err = s.Numbers.Release(ctx, n.ID, 1, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "sold numbers never return to the catalog")

	ok, err = s.Numbers.Retire(ctx, n.ID, model.NumberStatusSold, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Numbers.Reopen(ctx, n.ID, nil, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "a number that was sold stays retired")
}

func TestNumberRepository_ExpiredReservations(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, 0)
	seedAccount(t, s, "+79000000001", 1)
	seedAccount(t, s, "+79000000002", 1)
	a := seedNumber(t, s, "+79000000001", 10, "1.00")
	b := seedNumber(t, s, "+79000000002", 10, "1.00")

	_, err := s.Numbers.Reserve(ctx, a.ID, 1, testNow.Add(-time.Minute), testNow)
	require.NoError(t, err)
	_, err = s.Numbers.Reserve(ctx, b.ID, 1, testNow.Add(time.Minute), testNow)
	require.NoError(t, err)

	expired, err := s.Numbers.ExpiredReservations(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, a.ID, expired[0].ID)
}

func TestNumberRepository_SetCode(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, 0)
	seedAccount(t, s, "+79001234567", 1)
	n := seedNumber(t, s, "+79001234567", 100, "150.00")

	ok, err := s.Numbers.SetCode(ctx, n.ID, "12345", testNow.Add(5*time.Minute), testNow)
	require.NoError(t, err)
	assert.False(t, ok, "available numbers carry no code")

	_, err = s.Numbers.Reserve(ctx, n.ID, 1, testNow.Add(time.Minute), testNow)
	require.NoError(t, err)
	ok, err = s.Numbers.SetCode(ctx, n.ID, "12345", testNow.Add(5*time.Minute), testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	linked, err := s.Numbers.FindLinkedToAccount(ctx, "+79001234567")
	require.NoError(t, err)
	code, live := linked.CurrentCode(testNow)
	assert.True(t, live)
	assert.Equal(t, "12345", code)

	_, live = linked.CurrentCode(testNow.Add(5 * time.Minute))
	assert.False(t, live, "expired codes read as absent")
}
