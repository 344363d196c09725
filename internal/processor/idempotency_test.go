package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/number-market/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.NewFromClient(client, "test:")
}

func TestIdempotencyService_FirstAttempt(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	svc := NewIdempotencyService(adapter, DefaultIdempotencyConfig())

	pc, err := svc.AcquireProcessingLock(context.Background(), "pay-1:succeeded")
	require.NoError(t, err)
	assert.Equal(t, "pay-1:succeeded", pc.Key)
	assert.Equal(t, 0, pc.RetryCount)
	assert.False(t, pc.IsRetry)
	assert.True(t, mr.Exists("test:lock:pay-1:succeeded"))
}

func TestIdempotencyService_Concurrent(t *testing.T) {
	_, adapter := setupTestRedis(t)
	svc := NewIdempotencyService(adapter, DefaultIdempotencyConfig())

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AcquireProcessingLock(context.Background(), "pay-2:succeeded")
			if err == nil {
				won.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrLockAcquireFailed)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func TestIdempotencyService_MarkSuccess(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	svc := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	pc, err := svc.AcquireProcessingLock(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, svc.MarkSuccess(ctx, pc))

	assert.False(t, mr.Exists("test:lock:k"))
	done, err := svc.IsProcessed(ctx, "k")
	require.NoError(t, err)
	assert.True(t, done)

	_, err = svc.AcquireProcessingLock(ctx, "k")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	mr.FastForward(25 * time.Hour)
	_, err = svc.AcquireProcessingLock(ctx, "k")
	assert.NoError(t, err)
}

func TestIdempotencyService_MarkFailureThenRetry(t *testing.T) {
	_, adapter := setupTestRedis(t)
	svc := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	pc, err := svc.AcquireProcessingLock(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, svc.MarkFailure(ctx, pc, errors.New("provider down")))

	n, err := svc.GetRetryCount(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pc, err = svc.AcquireProcessingLock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, pc.IsRetry)
	assert.Equal(t, 1, pc.RetryCount)
}

func TestIdempotencyService_MaxRetriesExceeded(t *testing.T) {
	_, adapter := setupTestRedis(t)
	cfg := DefaultIdempotencyConfig()
	cfg.MaxRetries = 2
	svc := NewIdempotencyService(adapter, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		pc, err := svc.AcquireProcessingLock(ctx, "k")
		require.NoError(t, err)
		require.NoError(t, svc.MarkFailure(ctx, pc, assert.AnError))
	}

	_, err := svc.AcquireProcessingLock(ctx, "k")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestIdempotencyService_ReleaseLock(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	svc := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	pc, err := svc.AcquireProcessingLock(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, svc.ReleaseLock(ctx, pc))
	assert.False(t, mr.Exists("test:lock:k"))

	// second release is a no-op
	require.NoError(t, svc.ReleaseLock(ctx, pc))
	require.NoError(t, svc.ReleaseLock(ctx, nil))
}

func TestIdempotencyService_LockExpires(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	svc := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	_, err := svc.AcquireProcessingLock(ctx, "k")
	require.NoError(t, err)
	_, err = svc.AcquireProcessingLock(ctx, "k")
	require.ErrorIs(t, err, ErrLockAcquireFailed)

	mr.FastForward(31 * time.Second)
	_, err = svc.AcquireProcessingLock(ctx, "k")
	assert.NoError(t, err)
}
