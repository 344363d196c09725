package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testAdminID = int64(1)
	testPhone   = "+79001234567"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	mu         sync.Mutex
	invoices   []string
	statuses   map[string]model.ProviderCallback
	invoiceErr error
}

func (p *fakeProvider) CreateInvoice(_ context.Context, pay *model.Payment) (model.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.invoiceErr != nil {
		return model.Invoice{}, p.invoiceErr
	}
	p.invoices = append(p.invoices, pay.ID)
	return model.Invoice{URL: "https://pay.example/" + pay.ID, Ref: "ref-" + pay.ID}, nil
}

func (p *fakeProvider) GetStatus(_ context.Context, pay *model.Payment) (model.ProviderCallback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.statuses[pay.ID]; ok {
		return cb, nil
	}
	return model.ProviderCallback{PaymentID: pay.ID, Status: model.ProviderStatusPending}, nil
}

func (p *fakeProvider) setStatus(cb model.ProviderCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statuses == nil {
		p.statuses = make(map[string]model.ProviderCallback)
	}
	p.statuses[cb.PaymentID] = cb
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.DeliveryEvent
	// failing publishes return this error, one per call
	failing []error
}

func (r *recordingPublisher) PublishDelivery(_ context.Context, ev model.DeliveryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failing) > 0 {
		err := r.failing[0]
		r.failing = r.failing[1:]
		return err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) failNext(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = append(r.failing, err)
}

func (r *recordingPublisher) all() []model.DeliveryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.DeliveryEvent(nil), r.events...)
}

type staticOwner struct {
	owner model.Owner
	err   error
}

func (o staticOwner) ResolveOwner(context.Context, *model.Account) (model.Owner, error) {
	return o.owner, o.err
}

type testEnv struct {
	store    *repository.Store
	clock    *fakeClock
	audit    *AuditService
	users    *UserService
	wallet   *WalletService
	catalog  *CatalogService
	pool     *AccountPoolService
	orders   *OrderService
	provider *fakeProvider
	events   *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s := repository.NewTestStore(t)
	clock := &fakeClock{now: testStart}

	audit := NewAuditService(s.Audit)
	users := NewUserService(s.Users, audit, []int64{testAdminID})
	wallet := NewWalletService(s.DB, s.Users, s.Transactions, audit)
	catalog := NewCatalogService(s.DB, s.Numbers, s.Accounts, users, audit)
	pool := NewAccountPoolService(s.DB, s.Accounts, s.Numbers, users, audit, staticOwner{owner: model.Owner{UserID: 777, Handle: "owner"}}, 0)
	events := &recordingPublisher{}
	orders := NewOrderService(s.DB, s.Users, s.Accounts, s.Numbers, s.Payments, s.CodeDeliveries, wallet, users, audit, events, OrderConfig{})
	provider := &fakeProvider{}
	orders.RegisterProvider("card", provider)
	pool.SetCodeSink(orders)

	audit.now = clock.Now
	users.now = clock.Now
	wallet.now = clock.Now
	catalog.now = clock.Now
	pool.now = clock.Now
	orders.now = clock.Now

	env := &testEnv{
		store:    s,
		clock:    clock,
		audit:    audit,
		users:    users,
		wallet:   wallet,
		catalog:  catalog,
		pool:     pool,
		orders:   orders,
		provider: provider,
		events:   events,
	}
	env.user(t, testAdminID, 0)
	return env
}

// user registers a user and tops the wallet up with stars.
func (e *testEnv) user(t *testing.T, id int64, stars int64) *model.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := e.users.EnsureUser(ctx, model.Contact{ID: id, Username: fmt.Sprintf("user%d", id)})
	require.NoError(t, err)
	if stars > 0 {
		_, err := e.wallet.Credit(ctx, model.WalletRequest{
			UserID:      id,
			Amount:      model.Stars(stars),
			Reason:      "seed",
			OperationID: uuid.NewString(),
		})
		require.NoError(t, err)
	}
	return u
}

func (e *testEnv) account(t *testing.T, phone string) *model.Account {
	t.Helper()
	acc, err := e.pool.Add(context.Background(), testAdminID, model.AccountCreateRequest{
		Phone:       phone,
		SessionName: "session" + phone,
		APIID:       12345,
		APIHash:     "0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, err)
	return acc
}

// listing adds an account and publishes its number at 100 stars / 150.00.
func (e *testEnv) listing(t *testing.T, phone string) *model.Number {
	t.Helper()
	e.account(t, phone)
	n, err := e.catalog.Publish(context.Background(), testAdminID, model.NumberPublishRequest{
		AccountPhone: phone,
		Country:      "RU",
		Description:  "test number",
		PriceStars:   100,
		PriceFiat:    decimal.RequireFromString("150.00"),
	})
	require.NoError(t, err)
	return n
}

func (e *testEnv) number(t *testing.T, id int64) *model.Number {
	t.Helper()
	n, err := e.store.Numbers.Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (e *testEnv) payment(t *testing.T, id string) *model.Payment {
	t.Helper()
	p, err := e.store.Payments.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	stars, _, err := e.wallet.Balance(context.Background(), userID)
	require.NoError(t, err)
	return stars.Stars
}

// reconciled asserts the wallet ledger matches the stored balance.
func (e *testEnv) reconciled(t *testing.T, userID int64) {
	t.Helper()
	ok, err := e.wallet.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, ok, "ledger and balance disagree for user %d", userID)
}
