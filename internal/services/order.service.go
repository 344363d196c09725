package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/nimasrn/number-market/pkg/prom"
	"github.com/shopspring/decimal"
)

const (
	DefaultReservationTTL = 15 * time.Minute
	sweepBatch            = 100
)

// PaymentProvider is an external settlement provider.
type PaymentProvider interface {
	CreateInvoice(ctx context.Context, p *model.Payment) (model.Invoice, error)
	GetStatus(ctx context.Context, p *model.Payment) (model.ProviderCallback, error)
}

// EventPublisher hands delivery events to the chat front-end.
type EventPublisher interface {
	PublishDelivery(ctx context.Context, ev model.DeliveryEvent) error
}

type OrderConfig struct {
	ReservationTTL time.Duration
	CodeTTL        time.Duration
}

type OrderService struct {
	db         Transactor
	users      UserRepository
	accounts   AccountRepository
	numbers    NumberRepository
	payments   PaymentRepository
	deliveries CodeDeliveryRepository
	wallet     *WalletService
	admins     AdminChecker
	audit      *AuditService
	events     EventPublisher
	providers  map[string]PaymentProvider
	cfg        OrderConfig
	now        Clock
}

func NewOrderService(
	db Transactor,
	users UserRepository,
	accounts AccountRepository,
	numbers NumberRepository,
	payments PaymentRepository,
	deliveries CodeDeliveryRepository,
	wallet *WalletService,
	admins AdminChecker,
	audit *AuditService,
	events EventPublisher,
	cfg OrderConfig,
) *OrderService {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = DefaultReservationTTL
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	return &OrderService{
		db:         db,
		users:      users,
		accounts:   accounts,
		numbers:    numbers,
		payments:   payments,
		deliveries: deliveries,
		wallet:     wallet,
		admins:     admins,
		audit:      audit,
		events:     events,
		providers:  make(map[string]PaymentProvider),
		cfg:        cfg,
		now:        utcNow,
	}
}

// RegisterProvider makes an external provider available under tag.
func (s *OrderService) RegisterProvider(tag string, p PaymentProvider) {
	s.providers[tag] = p
}

// Reserve holds an available number for the buyer until the reservation
// deadline. Of concurrent attempts the first committer wins and the others
// get NotAvailable.
func (s *OrderService) Reserve(ctx context.Context, userID, numberID int64) (*model.Number, error) {
	var reserved *model.Number
	err := inTx(ctx, s.db, "orders.reserve", func(ctx context.Context) error {
		u, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if u.IsBanned {
			return model.Forbidden(userID)
		}

		n, err := s.numbers.Lock(ctx, numberID)
		if err != nil {
			return err
		}
		if n.Status != model.NumberStatusAvailable {
			return model.NotAvailable("number is not available").With("number_id", numberID)
		}
		acc, err := s.accounts.Get(ctx, n.AccountPhone)
		if err != nil {
			return err
		}
		if !acc.Healthy() {
			return model.AccountUnhealthy(acc.Phone, acc.UnhealthyReason())
		}

		now := s.now()
		until := now.Add(s.cfg.ReservationTTL)
		ok, err := s.numbers.Reserve(ctx, numberID, userID, until, now)
		if err != nil {
			return err
		}
		if !ok {
			return model.NotAvailable("number is not available").With("number_id", numberID)
		}
		n.Status, n.SoldTo, n.ReservedUntil = model.NumberStatusReserved, &userID, &until
		reserved = n
		return nil
	})
	if err != nil {
		if model.KindOf(err) == model.KindNotAvailable {
			prom.IncOrderOutcome("reserve_lost")
		}
		return nil, err
	}

	prom.IncOrderOutcome("reserved")
	logger.Info("number reserved", "number_id", numberID, "user_id", userID)
	return reserved, nil
}

// OpenPayment creates the pending payment for a number the buyer holds. It
// is idempotent per (buyer, number): an open payment is returned as is.
func (s *OrderService) OpenPayment(ctx context.Context, userID, numberID int64, currency model.Currency, provider string) (*model.Payment, error) {
	if !currency.Valid() {
		return nil, model.Invalid("unknown currency").With("currency", string(currency))
	}
	gateway, external := s.providers[provider]
	if provider != model.ProviderBalance && !external {
		return nil, model.Invalid("unknown payment provider").With("provider", provider)
	}

	var payment *model.Payment
	created := false
	err := inTx(ctx, s.db, "orders.open_payment", func(ctx context.Context) error {
		n, err := s.numbers.Lock(ctx, numberID)
		if err != nil {
			return err
		}
		if n.Status != model.NumberStatusReserved || n.SoldTo == nil || *n.SoldTo != userID {
			return model.NotAvailable("number is not reserved by this user").With("number_id", numberID)
		}

		open, err := s.payments.FindOpen(ctx, userID, numberID)
		if err == nil {
			payment = open
			return nil
		}
		if model.KindOf(err) != model.KindNotFound {
			return err
		}

		now := s.now()
		if n.ReservedUntil == nil || !now.Before(*n.ReservedUntil) {
			return model.NewError(model.KindPaymentExpired, "reservation deadline reached", nil).With("number_id", numberID)
		}

		// the price is the one on the number while it is held
		price := n.Price(currency)
		if !price.Positive() {
			return model.Invalid("number has no price in this currency").
				With("number_id", numberID).
				With("currency", string(currency))
		}
		payment = &model.Payment{
			ID:         uuid.NewString(),
			UserID:     userID,
			NumberID:   numberID,
			Currency:   currency,
			AmountFiat: decimal.Zero,
			Provider:   provider,
			Status:     model.PaymentStatusPending,
			CreatedAt:  now,
			ExpiresAt:  *n.ReservedUntil,
		}
		if currency == model.CurrencyStars {
			payment.AmountStars = price.Stars
		} else {
			payment.AmountFiat = price.Fiat
		}
		payment, err = s.payments.Create(ctx, payment)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}

	if created && external {
		inv, err := gateway.CreateInvoice(ctx, payment)
		if err != nil {
			reason := "invoice failed: " + err.Error()
			if _, ferr := s.Fail(context.WithoutCancel(ctx), payment.ID, reason); ferr != nil {
				logger.Error("failed to fail payment after invoice error", "payment_id", payment.ID, "error", ferr)
			}
			return nil, model.PaymentFailed(payment.ID, reason).With("provider", provider)
		}
		if err := s.payments.SetInvoice(ctx, payment.ID, inv); err != nil {
			return nil, err
		}
		payment.ProviderURL, payment.ProviderRef = inv.URL, inv.Ref
	}

	if created {
		logger.Info("payment opened", "payment_id", payment.ID, "number_id", numberID, "user_id", userID, "provider", provider)
	}
	return payment, nil
}

// Purchase reserves and opens the payment in one call. If opening fails or
// the caller goes away first, the reservation is released.
func (s *OrderService) Purchase(ctx context.Context, userID, numberID int64, currency model.Currency, provider string) (*model.Order, error) {
	n, err := s.Reserve(ctx, userID, numberID)
	if err != nil {
		return nil, err
	}

	p, err := s.OpenPayment(ctx, userID, numberID, currency, provider)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if p != nil {
			if _, ferr := s.Fail(context.WithoutCancel(ctx), p.ID, "cancelled"); ferr != nil {
				logger.Error("failed to cancel payment", "payment_id", p.ID, "error", ferr)
			}
		} else {
			s.release(context.WithoutCancel(ctx), numberID, userID)
		}
		return nil, err
	}

	n.ReservedUntil = &p.ExpiresAt
	return &model.Order{Number: n, Payment: p}, nil
}

func (s *OrderService) release(ctx context.Context, numberID, userID int64) {
	ok, err := s.numbers.Release(ctx, numberID, userID, s.now())
	if err != nil {
		logger.Error("failed to release reservation", "number_id", numberID, "user_id", userID, "error", err)
		return
	}
	if ok {
		logger.Info("reservation released", "number_id", numberID, "user_id", userID)
	}
}

// PayFromBalance settles a balance payment from the buyer's wallet. When the
// wallet is short the payment fails and the number returns to sale at once.
func (s *OrderService) PayFromBalance(ctx context.Context, userID int64, paymentID string) (*model.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, model.Forbidden(userID).With("payment_id", paymentID)
	}
	if !p.FromBalance() {
		return nil, model.Invalid("payment is not paid from balance").With("payment_id", paymentID)
	}

	settled, err := s.settle(ctx, model.ProviderCallback{PaymentID: paymentID, Status: model.ProviderStatusSucceeded})
	if err != nil && model.KindOf(err) == model.KindInsufficientFunds {
		if _, ferr := s.Fail(context.WithoutCancel(ctx), paymentID, "insufficient funds"); ferr != nil {
			logger.Error("failed to fail payment", "payment_id", paymentID, "error", ferr)
		}
		return nil, err
	}
	return settled, err
}

// Settle applies a provider callback. The callback must name the invoice the
// provider issued for the payment; balance payments never settle this way.
// Only the first success moves the payment; repeats return it unchanged.
func (s *OrderService) Settle(ctx context.Context, cb model.ProviderCallback) (*model.Payment, error) {
	p, err := s.payments.Get(ctx, cb.PaymentID)
	if err != nil {
		return nil, err
	}
	if err := matchInvoice(p, cb); err != nil {
		logger.Warn("provider callback rejected", "payment_id", cb.PaymentID, "provider", p.Provider, "error", err)
		return nil, err
	}

	switch cb.Status {
	case model.ProviderStatusFailed:
		return s.Fail(ctx, cb.PaymentID, cb.Reason)
	case model.ProviderStatusSucceeded:
		return s.settle(ctx, cb)
	}
	return nil, model.Invalid("callback does not settle the payment").With("status", string(cb.Status))
}

func matchInvoice(p *model.Payment, cb model.ProviderCallback) error {
	if p.FromBalance() {
		return model.NewError(model.KindForbidden, "balance payments are not settled by providers", nil).
			With("payment_id", p.ID)
	}
	if p.ProviderRef == "" || subtle.ConstantTimeCompare([]byte(p.ProviderRef), []byte(cb.ProviderID)) != 1 {
		return model.NewError(model.KindForbidden, "callback does not match the payment invoice", nil).
			With("payment_id", p.ID).
			With("provider_id", cb.ProviderID)
	}
	return nil
}

// settle moves a pending payment to succeeded, posts the debit and sells the
// number in one transaction.
func (s *OrderService) settle(ctx context.Context, cb model.ProviderCallback) (*model.Payment, error) {
	var (
		payment *model.Payment
		applied bool
	)
	err := inTx(ctx, s.db, "orders.settle", func(ctx context.Context) error {
		p, err := s.payments.Lock(ctx, cb.PaymentID)
		if err != nil {
			return err
		}
		payment = p
		switch p.Status {
		case model.PaymentStatusSucceeded, model.PaymentStatusRefunded:
			return nil
		case model.PaymentStatusExpired:
			return model.PaymentExpired(p.ID)
		case model.PaymentStatusFailed:
			return model.PaymentFailed(p.ID, p.FailureReason)
		}

		now := s.now()
		ok, err := s.payments.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusSucceeded, map[string]any{
			"completed_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return model.NotAvailable("payment changed concurrently").With("payment_id", p.ID)
		}

		e := entry{
			userID:      p.UserID,
			amount:      p.Amount(),
			direction:   model.DirectionDebit,
			status:      model.TransactionStatusPosted,
			kind:        model.TransactionKindPurchase,
			wallet:      p.FromBalance(),
			operationID: p.ID,
			provider:    p.Provider,
			providerID:  cb.ProviderID,
			reason:      "number purchase",
			numberID:    &p.NumberID,
			paymentID:   &p.ID,
		}
		if _, err := s.wallet.post(ctx, e); err != nil {
			return err
		}

		sold, err := s.numbers.MarkSold(ctx, p.NumberID, p.UserID, now)
		if err != nil {
			return err
		}
		if !sold {
			return model.NotAvailable("number is no longer held for this payment").With("number_id", p.NumberID)
		}

		p.Status, p.CompletedAt = model.PaymentStatusSucceeded, &now
		applied = true
		return nil
	})
	if err != nil {
		prom.IncOrderOutcome("settle_failed")
		return nil, err
	}
	if !applied {
		return payment, nil
	}

	prom.IncOrderOutcome("settled")
	prom.ObserveSettlement(payment.CompletedAt.Sub(payment.CreatedAt).Seconds())
	s.audit.System(ctx, model.LevelInfo, "orders", "payment %s settled: number %d sold to user %d for %s %s",
		payment.ID, payment.NumberID, payment.UserID, payment.Amount().String(), payment.Currency)

	// a code may already sit on the number from the reservation window
	if n, err := s.numbers.Get(ctx, payment.NumberID); err == nil {
		if code, live := n.CurrentCode(s.now()); live {
			if _, _, err := s.DeliverCode(ctx, n.ID, code, *n.CodeExpires); err != nil {
				logger.Error("failed to deliver pending code", "number_id", n.ID, "error", err)
			}
		}
	}
	return payment, nil
}

// Fail marks a pending payment failed and returns the number to sale. No
// ledger row is written. Failing an already failed payment is a no-op.
func (s *OrderService) Fail(ctx context.Context, paymentID, reason string) (*model.Payment, error) {
	return s.close(ctx, paymentID, model.PaymentStatusFailed, reason)
}

// Cancel is the buyer giving up on an open payment.
func (s *OrderService) Cancel(ctx context.Context, userID int64, paymentID string) (*model.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, model.Forbidden(userID).With("payment_id", paymentID)
	}
	return s.close(ctx, paymentID, model.PaymentStatusFailed, "cancelled by buyer")
}

func (s *OrderService) close(ctx context.Context, paymentID string, to model.PaymentStatus, reason string) (*model.Payment, error) {
	var payment *model.Payment
	closed := false
	err := inTx(ctx, s.db, "orders.close", func(ctx context.Context) error {
		p, err := s.payments.Lock(ctx, paymentID)
		if err != nil {
			return err
		}
		payment = p
		if p.Status == to {
			return nil
		}
		if p.Status != model.PaymentStatusPending {
			return model.NotAvailable("payment is already "+string(p.Status)).With("payment_id", paymentID)
		}

		now := s.now()
		fields := map[string]any{"completed_at": now}
		if reason != "" {
			fields["failure_reason"] = reason
		}
		ok, err := s.payments.Transition(ctx, paymentID, model.PaymentStatusPending, to, fields)
		if err != nil {
			return err
		}
		if !ok {
			return model.NotAvailable("payment changed concurrently").With("payment_id", paymentID)
		}
		if _, err := s.numbers.Release(ctx, p.NumberID, p.UserID, now); err != nil {
			return err
		}

		p.Status, p.CompletedAt, p.FailureReason = to, &now, reason
		closed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed {
		prom.IncOrderOutcome(string(to))
		s.audit.System(ctx, model.LevelInfo, "orders", "payment %s %s: %s", paymentID, to, reason)
	}
	return payment, nil
}

// SweepExpired expires pending payments past their deadline and frees
// reservations that outlived their hold. A payment settled first is left
// alone. It returns how many numbers went back to sale.
func (s *OrderService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	freed := 0

	expired, err := s.payments.ExpiredPending(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}
	for _, p := range expired {
		if ctx.Err() != nil {
			return freed, ctx.Err()
		}
		released := false
		err := inTx(ctx, s.db, "orders.sweep_payment", func(ctx context.Context) error {
			ok, err := s.payments.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusExpired, map[string]any{
				"completed_at": now,
			})
			if err != nil || !ok {
				return err
			}
			released, err = s.numbers.Release(ctx, p.NumberID, p.UserID, now)
			return err
		})
		if err != nil {
			logger.Error("failed to expire payment", "payment_id", p.ID, "error", err)
			continue
		}
		if released {
			freed++
			prom.IncOrderOutcome(string(model.PaymentStatusExpired))
		}
	}

	stale, err := s.numbers.ExpiredReservations(ctx, now, sweepBatch)
	if err != nil {
		return freed, err
	}
	for _, n := range stale {
		if n.SoldTo == nil {
			continue
		}
		released := false
		err := inTx(ctx, s.db, "orders.sweep_reservation", func(ctx context.Context) error {
			if _, err := s.payments.FindOpen(ctx, *n.SoldTo, n.ID); err == nil {
				// the payment sweep owns this one
				return nil
			} else if model.KindOf(err) != model.KindNotFound {
				return err
			}
			var err error
			released, err = s.numbers.Release(ctx, n.ID, *n.SoldTo, now)
			return err
		})
		if err != nil {
			logger.Error("failed to free reservation", "number_id", n.ID, "error", err)
			continue
		}
		if released {
			freed++
		}
	}

	if freed > 0 {
		prom.AddSweepFreed(freed)
		s.audit.System(ctx, model.LevelInfo, "orders", "sweep freed %d numbers", freed)
	}
	return freed, nil
}

// Refund reverses a settled payment. The buyer's wallet is credited with a
// reversed ledger row and the number is retired for good.
func (s *OrderService) Refund(ctx context.Context, actorID int64, paymentID, reason string) (*model.Payment, error) {
	if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}

	var payment *model.Payment
	refunded := false
	err := inTx(ctx, s.db, "orders.refund", func(ctx context.Context) error {
		p, err := s.payments.Lock(ctx, paymentID)
		if err != nil {
			return err
		}
		payment = p
		if p.Status == model.PaymentStatusRefunded {
			return nil
		}
		if p.Status != model.PaymentStatusSucceeded {
			return model.NotAvailable("only settled payments can be refunded").
				With("payment_id", paymentID).
				With("status", string(p.Status))
		}

		now := s.now()
		ok, err := s.payments.Transition(ctx, paymentID, model.PaymentStatusSucceeded, model.PaymentStatusRefunded, nil)
		if err != nil {
			return err
		}
		if !ok {
			return model.NotAvailable("payment changed concurrently").With("payment_id", paymentID)
		}

		if reason == "" {
			reason = "refund"
		}
		_, err = s.wallet.post(ctx, entry{
			userID:      p.UserID,
			amount:      p.Amount(),
			direction:   model.DirectionCredit,
			status:      model.TransactionStatusReversed,
			kind:        model.TransactionKindRefund,
			wallet:      true,
			operationID: p.ID,
			provider:    p.Provider,
			reason:      reason,
			numberID:    &p.NumberID,
			paymentID:   &p.ID,
		})
		if err != nil {
			return err
		}

		if _, err := s.numbers.Retire(ctx, p.NumberID, model.NumberStatusSold, now); err != nil {
			return err
		}
		p.Status = model.PaymentStatusRefunded
		refunded = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refunded {
		prom.IncOrderOutcome(string(model.PaymentStatusRefunded))
		s.audit.System(ctx, model.LevelWarn, "orders", "user %d refunded payment %s: %s", actorID, paymentID, reason)
	}
	return payment, nil
}

// DeliverCode records the code for a sold number and emits one delivery
// event per (number, code). The bool reports a new delivery.
func (s *OrderService) DeliverCode(ctx context.Context, numberID int64, code string, expiresAt time.Time) (*model.CodeDelivery, bool, error) {
	n, err := s.numbers.Get(ctx, numberID)
	if err != nil {
		return nil, false, err
	}
	if n.Status != model.NumberStatusSold || n.SoldTo == nil {
		return nil, false, model.NotAvailable("codes are delivered for sold numbers only").With("number_id", numberID)
	}
	now := s.now()
	if !expiresAt.After(now) {
		return nil, false, model.Invalid("code already expired").With("number_id", numberID)
	}

	// the row commits only once the event is out, so a failed publish
	// leaves nothing behind and the retry emits it
	var (
		d       *model.CodeDelivery
		created bool
	)
	err = inTx(ctx, s.db, "orders.deliver_code", func(ctx context.Context) error {
		var err error
		d, created, err = s.deliveries.CreateIfAbsent(ctx, &model.CodeDelivery{
			NumberID:  numberID,
			UserID:    *n.SoldTo,
			Phone:     n.Phone,
			Code:      code,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		})
		if err != nil || !created {
			return err
		}
		return s.publish(ctx, d, false)
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		prom.IncCodeDelivery("first")
	}
	return d, created, nil
}

// Redeliver sends the live code again to its buyer. Allowed until the code
// expires.
func (s *OrderService) Redeliver(ctx context.Context, userID, numberID int64) (*model.CodeDelivery, error) {
	n, err := s.numbers.Get(ctx, numberID)
	if err != nil {
		return nil, err
	}
	if n.Status != model.NumberStatusSold || n.SoldTo == nil || *n.SoldTo != userID {
		return nil, model.NewError(model.KindForbidden, "number belongs to another user", nil).
			With("user_id", userID).
			With("number_id", numberID)
	}

	d, err := s.deliveries.Latest(ctx, numberID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.deliveries.IncrementAttempts(ctx, d.ID); err != nil {
		return nil, err
	}
	d.Attempts++
	if err := s.publish(ctx, d, true); err != nil {
		return nil, err
	}
	prom.IncCodeDelivery("repeat")
	return d, nil
}

func (s *OrderService) publish(ctx context.Context, d *model.CodeDelivery, again bool) error {
	if s.events == nil {
		return nil
	}
	err := s.events.PublishDelivery(ctx, model.DeliveryEvent{
		DeliveryID: d.ID,
		NumberID:   d.NumberID,
		UserID:     d.UserID,
		Phone:      d.Phone,
		Code:       d.Code,
		ExpiresAt:  d.ExpiresAt,
		Redelivery: again,
	})
	if err != nil {
		logger.Error("failed to publish delivery event", "delivery_id", d.ID, "number_id", d.NumberID, "error", err)
	}
	return err
}

// PollPending asks external providers about payments still pending and
// applies terminal answers. It returns how many payments changed.
func (s *OrderService) PollPending(ctx context.Context) (int, error) {
	pending, err := s.payments.PendingExternal(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		gateway, ok := s.providers[p.Provider]
		if !ok {
			continue
		}
		cb, err := gateway.GetStatus(ctx, p)
		if err != nil {
			logger.Warn("provider status poll failed", "payment_id", p.ID, "provider", p.Provider, "error", err)
			continue
		}
		cb.PaymentID = p.ID

		switch cb.Status {
		case model.ProviderStatusSucceeded:
			_, err = s.settle(ctx, cb)
		case model.ProviderStatusFailed:
			_, err = s.Fail(ctx, p.ID, cb.Reason)
		default:
			continue
		}
		if err != nil {
			var domainErr *model.Error
			if !errors.As(err, &domainErr) {
				return changed, err
			}
			logger.Warn("provider result not applied", "payment_id", p.ID, "error", err)
			continue
		}
		changed++
	}
	return changed, nil
}

// Payment returns a payment visible to its buyer or an administrator.
func (s *OrderService) Payment(ctx context.Context, actorID int64, paymentID string) (*model.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != actorID {
		if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
			return nil, err
		}
	}
	return p, nil
}
