package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountPoolService_Add(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.user(t, 10, 0)

	req := model.AccountCreateRequest{
		Phone:       "+7 (900) 123-45-67",
		SessionName: "main",
		APIID:       1,
		APIHash:     "0123456789abcdef0123456789abcdef",
	}

	_, err := env.pool.Add(ctx, 10, req)
	assert.ErrorIs(t, err, model.ErrForbidden)

	acc, err := env.pool.Add(ctx, testAdminID, req)
	require.NoError(t, err)
	assert.Equal(t, testPhone, acc.Phone)
	assert.Equal(t, model.AccountStatusActive, acc.Status)
	assert.Equal(t, testAdminID, acc.AddedBy)

	_, err = env.pool.Add(ctx, testAdminID, req)
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	bad := req
	bad.APIHash = "XYZ"
	_, err = env.pool.Add(ctx, testAdminID, bad)
	assert.ErrorIs(t, err, model.ErrInvalid)

	logs, err := env.audit.Recent(ctx, testPhone, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.SessionResultFailure, logs[0].Result)
	assert.Equal(t, model.SessionResultSuccess, logs[1].Result)

	accounts, total, err := env.pool.List(ctx, repository.AccountFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, accounts, 1)
}

func TestAccountPoolService_RecordFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.account(t, testPhone)

	t.Run("spread out failures do not trip", func(t *testing.T) {
		for i := 0; i < FailureThreshold; i++ {
			tripped, err := env.pool.RecordFailure(ctx, testPhone, "flood wait")
			require.NoError(t, err)
			assert.False(t, tripped)
			env.clock.Advance(8 * time.Minute)
		}
		acc, err := env.pool.Get(ctx, testPhone)
		require.NoError(t, err)
		assert.Equal(t, model.AccountStatusActive, acc.Status)
	})

	t.Run("a success breaks the streak", func(t *testing.T) {
		require.NoError(t, env.pool.RecordSuccess(ctx, testPhone, model.SessionActionUse))
		for i := 0; i < FailureThreshold-1; i++ {
			tripped, err := env.pool.RecordFailure(ctx, testPhone, "timeout")
			require.NoError(t, err)
			assert.False(t, tripped)
		}
	})

	t.Run("three in a row trip", func(t *testing.T) {
		tripped, err := env.pool.RecordFailure(ctx, testPhone, "timeout")
		require.NoError(t, err)
		assert.True(t, tripped)

		acc, err := env.pool.Get(ctx, testPhone)
		require.NoError(t, err)
		assert.Equal(t, model.AccountStatusError, acc.Status)
		assert.False(t, acc.Healthy())

		tripped, err = env.pool.RecordFailure(ctx, testPhone, "timeout")
		require.NoError(t, err)
		assert.False(t, tripped)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := env.pool.RecordFailure(ctx, "+79990000000", "timeout")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestAccountPoolService_BanIsNotAFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.account(t, testPhone)

	tripped, err := env.pool.RecordFailure(ctx, testPhone, "timeout")
	require.NoError(t, err)
	assert.False(t, tripped)

	require.NoError(t, env.pool.MarkBanned(ctx, testPhone, false))
	logs, err := env.audit.Recent(ctx, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.SessionActionBanned, logs[0].Action)
	assert.Equal(t, model.SessionResultFlagged, logs[0].Result)

	tripped, err = env.pool.RecordFailure(ctx, testPhone, "timeout")
	require.NoError(t, err)
	assert.False(t, tripped)

	// the ban row sits inside the run without counting toward it
	tripped, err = env.pool.RecordFailure(ctx, testPhone, "timeout")
	require.NoError(t, err)
	assert.True(t, tripped)
}

func TestAccountPoolService_OwnerCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.account(t, testPhone)

	acc, err := env.pool.OwnerCheck(ctx, testAdminID, testPhone)
	require.NoError(t, err)
	assert.True(t, acc.OwnerChecked)
	assert.Equal(t, int64(777), acc.OwnerID)
	assert.Equal(t, "owner", acc.OwnerHandle)

	env.pool.owners = staticOwner{err: errors.New("session expired")}
	_, err = env.pool.OwnerCheck(ctx, testAdminID, testPhone)
	require.Error(t, err)

	logs, err := env.audit.Recent(ctx, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.SessionActionOwnerCheck, logs[0].Action)
	assert.Equal(t, model.SessionResultFailure, logs[0].Result)
	assert.Equal(t, "session expired", logs[0].Error)
}

func TestAccountPoolService_RecordCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)

	t.Run("available number keeps no code", func(t *testing.T) {
		linked, err := env.pool.RecordCode(ctx, testPhone, "11111")
		require.NoError(t, err)
		assert.Nil(t, linked)

		acc, err := env.pool.Get(ctx, testPhone)
		require.NoError(t, err)
		assert.Equal(t, "11111", acc.LastCode)
		assert.Empty(t, env.number(t, n.ID).Code)
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := env.pool.RecordCode(ctx, testPhone, "  ")
		assert.ErrorIs(t, err, model.ErrInvalid)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := env.pool.RecordCode(ctx, "+79990000000", "22222")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}
