package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/number-market/internal/config"
	"github.com/nimasrn/number-market/internal/handlers"
	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/processor"
	"github.com/nimasrn/number-market/internal/queue"
	xhttp "github.com/nimasrn/number-market/pkg/http"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const (
	adminID = int64(1)
	buyerID = int64(42)
)

type stubProvider struct{}

func (stubProvider) CreateInvoice(_ context.Context, p *model.Payment) (model.Invoice, error) {
	return model.Invoice{URL: "https://pay.example/" + p.ID, Ref: "ref-" + p.ID}, nil
}

func (stubProvider) GetStatus(_ context.Context, p *model.Payment) (model.ProviderCallback, error) {
	return model.ProviderCallback{PaymentID: p.ID, Status: model.ProviderStatusPending}, nil
}

type deliveries struct {
	mu     sync.Mutex
	events []model.DeliveryEvent
}

func (d *deliveries) handle(_ context.Context, msg *queue.Message) error {
	var ev model.DeliveryEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return nil
	}
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	return nil
}

func (d *deliveries) snapshot() []model.DeliveryEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.DeliveryEvent(nil), d.events...)
}

func testConfig(t *testing.T, redisAddr string) *config.Config {
	cfg := &config.Config{
		AppEnv:                 "dev",
		AppName:                "number_market_test",
		BotToken:               "test-token",
		AdminIDsRaw:            "1",
		MaxBotsPerUser:         1,
		DatabaseURL:            "sqlite://" + filepath.Join(t.TempDir(), "market.db"),
		RedisURL:               "redis://" + redisAddr,
		QueueCallbacks:         "payments:callbacks",
		QueueCodes:             "accounts:codes",
		QueueDeliveries:        "orders:deliveries",
		QueueConsumerName:      "test",
		QueuePollInterval:      20 * time.Millisecond,
		QueueMaxRetries:        3,
		EventSink:              "redis",
		ProviderCallbackSecret: "flow-secret",
		ReservationTTL:         15 * time.Minute,
		CodeTTL:                5 * time.Minute,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T) *App {
	mr := miniredis.RunT(t)
	a, err := New(context.Background(), testConfig(t, mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func publishNumber(t *testing.T, a *App, phone string) *model.Number {
	ctx := context.Background()
	_, err := a.Pool.Add(ctx, adminID, model.AccountCreateRequest{
		Phone:       phone,
		SessionName: "session-" + phone,
		APIID:       1,
		APIHash:     "0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, err)
	n, err := a.Catalog.Publish(ctx, adminID, model.NumberPublishRequest{
		AccountPhone: phone,
		Country:      "RU",
		PriceStars:   100,
		PriceFiat:    decimal.RequireFromString("150.00"),
	})
	require.NoError(t, err)
	return n
}

func startProcessor(t *testing.T, a *App) {
	svc := processor.NewProcessorService(a.Redis, processor.ServiceConfig{
		ConsumerGroup: a.Config.AppName,
		ConsumerName:  "flow-test",
		PollInterval:  20 * time.Millisecond,
		Workers:       2,
	})
	svc.Bind(a.Config.QueueCallbacks, processor.NewCallbackProcessor(a.Orders, processor.NewIdempotencyService(a.Redis, processor.DefaultIdempotencyConfig())))
	svc.Bind(a.Config.QueueCodes, processor.NewCodeProcessor(a.Pool))
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)
}

func TestFlow_BalancePurchaseThenCode(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	_, _, err := a.Users.EnsureUser(ctx, model.Contact{ID: adminID, Username: "admin"})
	require.NoError(t, err)
	_, created, err := a.Users.EnsureUser(ctx, model.Contact{ID: buyerID, Username: "buyer"})
	require.NoError(t, err)
	require.True(t, created)

	n := publishNumber(t, a, "+79001234567")

	_, err = a.Wallet.Credit(ctx, model.WalletRequest{
		UserID:      buyerID,
		Amount:      model.Stars(500),
		Reason:      "top up",
		OperationID: "topup-1",
		Kind:        model.TransactionKindTopUp,
	})
	require.NoError(t, err)

	order, err := a.Orders.Purchase(ctx, buyerID, n.ID, model.CurrencyStars, model.ProviderBalance)
	require.NoError(t, err)
	paid, err := a.Orders.PayFromBalance(ctx, buyerID, order.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSucceeded, paid.Status)

	stars, _, err := a.Wallet.Balance(ctx, buyerID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), stars.Stars)

	got := &deliveries{}
	require.NoError(t, a.Deliveries.Consume(got.handle))
	startProcessor(t, a)

	_, err = queue.PublishCode(ctx, a.Codes, model.IncomingCode{Phone: "+7 900 123-45-67", Code: "52144", ReceivedAt: time.Now().UTC()})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
	ev := got.snapshot()[0]
	assert.Equal(t, buyerID, ev.UserID)
	assert.Equal(t, n.ID, ev.NumberID)
	assert.Equal(t, "52144", ev.Code)
}

func TestFlow_CardPurchaseSettledByCallback(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	a.Orders.RegisterProvider("stub", stubProvider{})

	_, _, err := a.Users.EnsureUser(ctx, model.Contact{ID: adminID})
	require.NoError(t, err)
	_, _, err = a.Users.EnsureUser(ctx, model.Contact{ID: buyerID})
	require.NoError(t, err)
	n := publishNumber(t, a, "+79001234568")

	order, err := a.Orders.Purchase(ctx, buyerID, n.ID, model.CurrencyFiat, "stub")
	require.NoError(t, err)
	assert.Equal(t, "150.00", order.Payment.AmountFiat.StringFixed(2))
	assert.Equal(t, "ref-"+order.Payment.ID, order.Payment.ProviderRef)

	startProcessor(t, a)

	opt := xhttp.DefaultServerOption()
	opt.RequestTimeout = 0
	s := xhttp.NewServer(opt)
	handlers.RegisterPaymentRoutes(s.Router.Group("/api/v1"), handlers.NewPaymentHandler(queue.NewCallbackSink(a.Callbacks), a.Config.ProviderCallbackSecret))
	h := s.Handler()

	post := func(body []byte, signature string) int {
		rc := &fasthttp.RequestCtx{}
		rc.Init(&fasthttp.Request{}, nil, nil)
		rc.Request.Header.SetMethod(fasthttp.MethodPost)
		rc.Request.SetRequestURI("/api/v1/payments/callback")
		rc.Request.Header.SetContentType("application/json")
		if signature != "" {
			rc.Request.Header.Set(handlers.SignatureHeader, signature)
		}
		rc.Request.SetBody(body)
		h(rc)
		return rc.Response.StatusCode()
	}

	body, err := json.Marshal(model.ProviderCallback{PaymentID: order.Payment.ID, Status: model.ProviderStatusSucceeded, ProviderID: order.Payment.ProviderRef})
	require.NoError(t, err)
	require.Equal(t, fasthttp.StatusUnauthorized, post(body, ""))
	require.Equal(t, fasthttp.StatusUnauthorized, post(body, handlers.SignCallback([]byte("guessed"), body)))

	signature := handlers.SignCallback([]byte(a.Config.ProviderCallbackSecret), body)
	for i := 0; i < 2; i++ {
		require.Equal(t, fasthttp.StatusAccepted, post(body, signature))
	}

	require.Eventually(t, func() bool {
		p, err := a.Orders.Payment(ctx, buyerID, order.Payment.ID)
		return err == nil && p.Status == model.PaymentStatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	sold, err := a.Catalog.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NumberStatusSold, sold.Status)
}

func TestNew_RejectsUnknownSink(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	cfg.EventSink = "kafka"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
