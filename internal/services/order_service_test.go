package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buy reserves the listing for userID and settles it from the wallet.
func buy(t *testing.T, env *testEnv, userID, numberID int64) *model.Payment {
	t.Helper()
	ctx := context.Background()
	order, err := env.orders.Purchase(ctx, userID, numberID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)
	p, err := env.orders.PayFromBalance(ctx, userID, order.Payment.ID)
	require.NoError(t, err)
	return p
}

func TestOrderService_HappyPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)
	assert.Equal(t, model.NumberStatusReserved, order.Number.Status)
	assert.Equal(t, model.PaymentStatusPending, order.Payment.Status)
	assert.Equal(t, int64(100), order.Payment.AmountStars)
	assert.True(t, order.Payment.ExpiresAt.Equal(testStart.Add(DefaultReservationTTL)))

	p, err := env.orders.PayFromBalance(ctx, 10, order.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSucceeded, p.Status)

	sold := env.number(t, n.ID)
	assert.Equal(t, model.NumberStatusSold, sold.Status)
	require.NotNil(t, sold.SoldTo)
	assert.Equal(t, int64(10), *sold.SoldTo)
	require.NotNil(t, sold.SoldAt)
	assert.Nil(t, sold.ReservedUntil)
	assert.Equal(t, sold.Phone, sold.AccountPhone)

	assert.Equal(t, int64(0), env.balance(t, 10))

	rows, err := env.store.Transactions.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TransactionStatusPosted, rows[0].Status)
	assert.Equal(t, model.DirectionDebit, rows[0].Direction)
	assert.Equal(t, int64(10), rows[0].UserID)
	require.NotNil(t, rows[0].NumberID)
	assert.Equal(t, n.ID, *rows[0].NumberID)
	assert.Equal(t, int64(100), rows[0].AmountStars)
	assert.True(t, rows[0].AmountFiat.IsZero())

	env.reconciled(t, 10)
}

func TestOrderService_ConcurrentReserve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)

	const buyers = 8
	for i := int64(0); i < buyers; i++ {
		env.user(t, 100+i, 100)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []int64
		notAvail int
		other    []error
	)
	for i := int64(0); i < buyers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := env.orders.Purchase(ctx, userID, n.ID, model.CurrencyStars, model.ProviderBalance)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, userID)
			case errors.Is(err, model.ErrNotAvailable):
				notAvail++
			default:
				other = append(other, err)
			}
		}(100 + i)
	}
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, winners, 1)
	assert.Equal(t, buyers-1, notAvail)

	held := env.number(t, n.ID)
	assert.Equal(t, model.NumberStatusReserved, held.Status)
	require.NotNil(t, held.SoldTo)
	assert.Equal(t, winners[0], *held.SoldTo)

	open, err := env.store.Payments.FindOpen(ctx, winners[0], n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, open.Status)
}

func TestOrderService_PaymentExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)

	freed, err := env.orders.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, freed)

	env.clock.Advance(DefaultReservationTTL + time.Second)
	freed, err = env.orders.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, freed)

	assert.Equal(t, model.PaymentStatusExpired, env.payment(t, order.Payment.ID).Status)
	back := env.number(t, n.ID)
	assert.Equal(t, model.NumberStatusAvailable, back.Status)
	assert.Nil(t, back.SoldTo)
	assert.Nil(t, back.ReservedUntil)

	rows, err := env.store.Transactions.ListByPayment(ctx, order.Payment.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int64(100), env.balance(t, 10))

	_, err = env.orders.PayFromBalance(ctx, 10, order.Payment.ID)
	assert.ErrorIs(t, err, model.ErrPaymentExpired)
}

func TestOrderService_SweepSkipsSettled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)

	// settlement lands after the deadline but before the sweep
	env.clock.Advance(DefaultReservationTTL + time.Second)
	_, err = env.orders.PayFromBalance(ctx, 10, order.Payment.ID)
	require.NoError(t, err)

	freed, err := env.orders.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, freed)
	assert.Equal(t, model.NumberStatusSold, env.number(t, n.ID).Status)
	assert.Equal(t, model.PaymentStatusSucceeded, env.payment(t, order.Payment.ID).Status)
}

func TestOrderService_SweepFreesBareReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 0)

	_, err := env.orders.Reserve(ctx, 10, n.ID)
	require.NoError(t, err)

	env.clock.Advance(DefaultReservationTTL + time.Second)
	freed, err := env.orders.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, freed)
	assert.Equal(t, model.NumberStatusAvailable, env.number(t, n.ID).Status)
}

func TestOrderService_InsufficientStars(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 50)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)

	_, err = env.orders.PayFromBalance(ctx, 10, order.Payment.ID)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	assert.Equal(t, model.NumberStatusAvailable, env.number(t, n.ID).Status)
	failed := env.payment(t, order.Payment.ID)
	assert.Equal(t, model.PaymentStatusFailed, failed.Status)
	assert.Equal(t, "insufficient funds", failed.FailureReason)
	assert.Equal(t, int64(50), env.balance(t, 10))

	rows, err := env.store.Transactions.ListByPayment(ctx, order.Payment.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	env.reconciled(t, 10)
}

func TestOrderService_SettleIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 0)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyFiat, "card")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/"+order.Payment.ID, order.Payment.ProviderURL)
	assert.True(t, order.Payment.AmountFiat.Equal(decimal.RequireFromString("150.00")))
	assert.Equal(t, int64(0), order.Payment.AmountStars)

	assert.Equal(t, "ref-"+order.Payment.ID, order.Payment.ProviderRef)

	cb := model.ProviderCallback{PaymentID: order.Payment.ID, Status: model.ProviderStatusSucceeded, ProviderID: order.Payment.ProviderRef}

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := env.orders.Settle(ctx, cb)
			if err == nil && p.Status != model.PaymentStatusSucceeded {
				err = errors.New("unexpected status " + string(p.Status))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := env.store.Transactions.ListByPayment(ctx, order.Payment.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Wallet)
	assert.Equal(t, "card", rows[0].Provider)
	assert.Equal(t, order.Payment.ProviderRef, rows[0].ProviderID)
	assert.True(t, rows[0].AmountFiat.Equal(decimal.RequireFromString("150.00")))

	assert.Equal(t, model.NumberStatusSold, env.number(t, n.ID).Status)
	env.reconciled(t, 10)
}

func TestOrderService_SettleRejectsForeignCallbacks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 500)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyFiat, "card")
	require.NoError(t, err)
	id := order.Payment.ID

	for _, cb := range []model.ProviderCallback{
		{PaymentID: id, Status: model.ProviderStatusSucceeded, ProviderID: "forged"},
		{PaymentID: id, Status: model.ProviderStatusSucceeded},
		{PaymentID: id, Status: model.ProviderStatusFailed, ProviderID: "forged", Reason: "declined"},
	} {
		_, err := env.orders.Settle(ctx, cb)
		require.ErrorIs(t, err, model.ErrForbidden)
	}
	assert.Equal(t, model.PaymentStatusPending, env.payment(t, id).Status)
	assert.Equal(t, model.NumberStatusReserved, env.number(t, n.ID).Status)

	rows, err := env.store.Transactions.ListByPayment(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// a balance payment only settles through the buyer's wallet
	other := env.listing(t, "+79001234568")
	wallet, err := env.orders.Purchase(ctx, 10, other.ID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)
	_, err = env.orders.Settle(ctx, model.ProviderCallback{PaymentID: wallet.Payment.ID, Status: model.ProviderStatusSucceeded})
	require.ErrorIs(t, err, model.ErrForbidden)
	_, err = env.orders.Settle(ctx, model.ProviderCallback{PaymentID: wallet.Payment.ID, Status: model.ProviderStatusFailed})
	require.ErrorIs(t, err, model.ErrForbidden)
	assert.Equal(t, model.PaymentStatusPending, env.payment(t, wallet.Payment.ID).Status)
	assert.Equal(t, int64(500), env.balance(t, 10))
	env.reconciled(t, 10)
}

func TestOrderService_CapturedPrice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 0)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyFiat, "card")
	require.NoError(t, err)

	// a reserved number cannot be repriced under an open payment
	_, err = env.catalog.Reprice(ctx, testAdminID, n.ID, 500, decimal.RequireFromString("999.00"))
	assert.ErrorIs(t, err, model.ErrNotAvailable)

	again, err := env.orders.OpenPayment(ctx, 10, n.ID, model.CurrencyFiat, "card")
	require.NoError(t, err)
	assert.Equal(t, order.Payment.ID, again.ID)
	assert.Len(t, env.provider.invoices, 1)
}

func TestOrderService_CodeDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)
	buy(t, env, 10, n.ID)

	env.clock.Advance(time.Minute)
	at := env.clock.Now()

	linked, err := env.pool.RecordCode(ctx, "+7 900 123-45-67", "12345")
	require.NoError(t, err)
	require.NotNil(t, linked)
	assert.Equal(t, n.ID, linked.ID)

	stored := env.number(t, n.ID)
	assert.Equal(t, "12345", stored.Code)
	require.NotNil(t, stored.CodeExpires)
	assert.True(t, stored.CodeExpires.Equal(at.Add(300*time.Second)))

	// the same code reported again is not delivered twice
	_, err = env.pool.RecordCode(ctx, testPhone, "12345")
	require.NoError(t, err)

	events := env.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, int64(10), events[0].UserID)
	assert.Equal(t, "12345", events[0].Code)
	assert.Equal(t, testPhone, events[0].Phone)
	assert.False(t, events[0].Redelivery)

	d, err := env.orders.Redeliver(ctx, 10, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Attempts)
	events = env.events.all()
	require.Len(t, events, 2)
	assert.True(t, events[1].Redelivery)

	_, err = env.orders.Redeliver(ctx, 11, n.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	env.clock.Advance(DefaultCodeTTL)
	_, err = env.orders.Redeliver(ctx, 10, n.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	code, live := env.number(t, n.ID).CurrentCode(env.clock.Now())
	assert.False(t, live)
	assert.Empty(t, code)
}

func TestOrderService_CodeDeliverySurvivesPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)
	buy(t, env, 10, n.ID)

	env.events.failNext(errors.New("redis down"))
	_, err := env.pool.RecordCode(ctx, testPhone, "12345")
	require.Error(t, err)
	assert.Empty(t, env.events.all())

	_, err = env.orders.Redeliver(ctx, 10, n.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// the retried code goes out exactly once
	_, err = env.pool.RecordCode(ctx, testPhone, "12345")
	require.NoError(t, err)
	_, err = env.pool.RecordCode(ctx, testPhone, "12345")
	require.NoError(t, err)

	events := env.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, "12345", events[0].Code)
	assert.Equal(t, n.ID, events[0].NumberID)
	assert.NotZero(t, events[0].DeliveryID)
	assert.False(t, events[0].Redelivery)
}

func TestOrderService_CodeBeforeSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)

	_, err = env.pool.RecordCode(ctx, testPhone, "55555")
	require.NoError(t, err)
	assert.Empty(t, env.events.all())

	_, err = env.orders.PayFromBalance(ctx, 10, order.Payment.ID)
	require.NoError(t, err)

	events := env.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, "55555", events[0].Code)
}

func TestOrderService_Refund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)
	p := buy(t, env, 10, n.ID)

	_, err := env.orders.Refund(ctx, 10, p.ID, "")
	assert.ErrorIs(t, err, model.ErrForbidden)

	refunded, err := env.orders.Refund(ctx, testAdminID, p.ID, "customer request")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, refunded.Status)

	_, err = env.orders.Refund(ctx, testAdminID, p.ID, "again")
	require.NoError(t, err)

	rows, err := env.store.Transactions.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byStatus := map[model.TransactionStatus]*model.Transaction{}
	for _, r := range rows {
		byStatus[r.Status] = r
	}
	require.Contains(t, byStatus, model.TransactionStatusPosted)
	require.Contains(t, byStatus, model.TransactionStatusReversed)
	assert.Equal(t, model.DirectionCredit, byStatus[model.TransactionStatusReversed].Direction)
	assert.Equal(t, byStatus[model.TransactionStatusPosted].AmountStars, byStatus[model.TransactionStatusReversed].AmountStars)

	assert.Equal(t, int64(100), env.balance(t, 10))
	env.reconciled(t, 10)

	retired := env.number(t, n.ID)
	assert.Equal(t, model.NumberStatusRetired, retired.Status)
	assert.NotNil(t, retired.SoldAt)

	_, err = env.catalog.Relist(ctx, testAdminID, n.ID)
	assert.ErrorIs(t, err, model.ErrNotAvailable)
}

func TestOrderService_ReserveGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 0)
	env.user(t, 11, 0)

	t.Run("unknown user", func(t *testing.T) {
		_, err := env.orders.Reserve(ctx, 999, n.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("banned user", func(t *testing.T) {
		require.NoError(t, env.users.SetBanned(ctx, testAdminID, 11, true))
		_, err := env.orders.Reserve(ctx, 11, n.ID)
		assert.ErrorIs(t, err, model.ErrForbidden)
	})

	t.Run("unhealthy account", func(t *testing.T) {
		require.NoError(t, env.pool.MarkBanned(ctx, testPhone, true))
		_, err := env.orders.Reserve(ctx, 10, n.ID)
		assert.ErrorIs(t, err, model.ErrAccountUnhealthy)
		assert.Equal(t, model.NumberStatusAvailable, env.number(t, n.ID).Status)
	})
}

func TestOrderService_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)
	env.user(t, 11, 0)

	order, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)

	_, err = env.orders.Cancel(ctx, 11, order.Payment.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	p, err := env.orders.Cancel(ctx, 10, order.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, p.Status)
	assert.Equal(t, model.NumberStatusAvailable, env.number(t, n.ID).Status)

	_, err = env.orders.PayFromBalance(ctx, 10, order.Payment.ID)
	assert.ErrorIs(t, err, model.ErrPaymentFailed)
}

func TestOrderService_InvoiceFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.listing(t, testPhone)
	env.user(t, 10, 0)
	env.provider.invoiceErr = errors.New("provider down")

	_, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyFiat, "card")
	require.ErrorIs(t, err, model.ErrPaymentFailed)
	assert.Equal(t, model.NumberStatusAvailable, env.number(t, n.ID).Status)

	_, err = env.orders.Purchase(ctx, 10, n.ID, model.CurrencyFiat, "paypal")
	assert.ErrorIs(t, err, model.ErrInvalid)
	assert.Equal(t, model.NumberStatusAvailable, env.number(t, n.ID).Status)
}

func TestOrderService_CancelledContextReleases(t *testing.T) {
	env := newTestEnv(t)
	n := env.listing(t, testPhone)
	env.user(t, 10, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.orders.Purchase(ctx, 10, n.ID, model.CurrencyStars, model.ProviderBalance)
	require.Error(t, err)
	assert.Equal(t, model.NumberStatusAvailable, env.number(t, n.ID).Status)
}

func TestOrderService_PollPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.listing(t, testPhone)
	second := env.listing(t, "+79001234568")
	env.user(t, 10, 0)

	a, err := env.orders.Purchase(ctx, 10, first.ID, model.CurrencyFiat, "card")
	require.NoError(t, err)
	b, err := env.orders.Purchase(ctx, 10, second.ID, model.CurrencyFiat, "card")
	require.NoError(t, err)

	env.provider.setStatus(model.ProviderCallback{PaymentID: a.Payment.ID, Status: model.ProviderStatusSucceeded, ProviderID: "ch_a"})
	env.provider.setStatus(model.ProviderCallback{PaymentID: b.Payment.ID, Status: model.ProviderStatusFailed, Reason: "declined"})

	changed, err := env.orders.PollPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	assert.Equal(t, model.PaymentStatusSucceeded, env.payment(t, a.Payment.ID).Status)
	assert.Equal(t, model.NumberStatusSold, env.number(t, first.ID).Status)
	assert.Equal(t, model.PaymentStatusFailed, env.payment(t, b.Payment.ID).Status)
	assert.Equal(t, model.NumberStatusAvailable, env.number(t, second.ID).Status)

	changed, err = env.orders.PollPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}
