package services

import (
	"context"
	"testing"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletService_CreditIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.user(t, 10, 0)

	req := model.WalletRequest{UserID: 10, Amount: model.Stars(40), Reason: "top up", OperationID: "op-1"}
	first, err := env.wallet.Credit(ctx, req)
	require.NoError(t, err)
	second, err := env.wallet.Credit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.TransactionKindTopUp, first.Kind)
	assert.Equal(t, int64(40), env.balance(t, 10))
	env.reconciled(t, 10)
}

func TestWalletService_Debit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.user(t, 10, 30)

	fiat, err := model.FiatFromString("12.50")
	require.NoError(t, err)
	_, err = env.wallet.Credit(ctx, model.WalletRequest{UserID: 10, Amount: fiat, OperationID: "op-fiat"})
	require.NoError(t, err)

	_, err = env.wallet.Debit(ctx, model.WalletRequest{UserID: 10, Amount: model.Stars(31), OperationID: "op-2"})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	txn, err := env.wallet.Debit(ctx, model.WalletRequest{UserID: 10, Amount: model.Fiat(decimal.RequireFromString("2.25")), OperationID: "op-3"})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionKindAdjustment, txn.Kind)

	stars, fiatBalance, err := env.wallet.Balance(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(30), stars.Stars)
	assert.True(t, fiatBalance.Fiat.Equal(decimal.RequireFromString("10.25")))
	env.reconciled(t, 10)

	_, err = env.wallet.Debit(ctx, model.WalletRequest{UserID: 10, Amount: model.Stars(0), OperationID: "op-4"})
	assert.ErrorIs(t, err, model.ErrInvalid)
	_, err = env.wallet.Credit(ctx, model.WalletRequest{UserID: 10, Amount: model.Stars(5)})
	assert.ErrorIs(t, err, model.ErrInvalid)
}

func TestWalletService_Transfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.user(t, 10, 100)
	env.user(t, 11, 0)

	debit, credit, err := env.wallet.Transfer(ctx, 10, 11, model.Stars(60), "gift", "tr-1")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionDebit, debit.Direction)
	assert.Equal(t, model.DirectionCredit, credit.Direction)

	_, _, err = env.wallet.Transfer(ctx, 10, 11, model.Stars(60), "gift", "tr-1")
	require.NoError(t, err)

	_, _, err = env.wallet.Transfer(ctx, 10, 11, model.Stars(60), "gift", "tr-2")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, _, err = env.wallet.Transfer(ctx, 10, 10, model.Stars(1), "self", "tr-3")
	assert.ErrorIs(t, err, model.ErrInvalid)

	_, _, err = env.wallet.Transfer(ctx, 10, 999, model.Stars(1), "nobody", "tr-4")
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Equal(t, int64(40), env.balance(t, 10))
	assert.Equal(t, int64(60), env.balance(t, 11))
	env.reconciled(t, 10)
	env.reconciled(t, 11)

	ledger, err := env.wallet.Ledger(ctx, 10, 10, 0)
	require.NoError(t, err)
	assert.Len(t, ledger, 2)
}

func TestWalletService_ReconcileDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.user(t, 10, 20)

	require.NoError(t, env.store.Users.AdjustBalance(ctx, 10, model.Stars(5), testStart))

	ok, err := env.wallet.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}
