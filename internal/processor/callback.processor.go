package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/queue"
	"github.com/nimasrn/number-market/pkg/logger"
)

type PaymentSettler interface {
	Settle(ctx context.Context, cb model.ProviderCallback) (*model.Payment, error)
}

// CallbackProcessor applies provider callbacks to payments. A callback is
// processed once per (payment, status).
type CallbackProcessor struct {
	orders      PaymentSettler
	idempotency *IdempotencyService
}

func NewCallbackProcessor(orders PaymentSettler, idempotency *IdempotencyService) *CallbackProcessor {
	return &CallbackProcessor{orders: orders, idempotency: idempotency}
}

func (p *CallbackProcessor) GetType() string {
	return queue.KindCallback
}

func (p *CallbackProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var cb model.ProviderCallback
	if err := json.Unmarshal(msg.Data, &cb); err != nil {
		return fmt.Errorf("malformed callback %s: %w", msg.ID, err)
	}
	if cb.PaymentID == "" {
		return fmt.Errorf("callback %s has no payment id", msg.ID)
	}

	pc, err := p.idempotency.AcquireProcessingLock(ctx, callbackKey(cb))
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			return nil
		case errors.Is(err, ErrMaxRetriesExceeded):
			logger.Error("giving up on callback", "payment_id", cb.PaymentID, "status", cb.Status, "error", err)
			return nil
		}
		return err
	}

	payment, err := p.orders.Settle(ctx, cb)
	if err != nil {
		if retryable(err) {
			_ = p.idempotency.MarkFailure(ctx, pc, err)
			return err
		}
		// expired, failed, unknown payment: retrying changes nothing
		logger.Warn("callback rejected", "payment_id", cb.PaymentID, "status", cb.Status, "error", err)
		return p.idempotency.MarkSuccess(ctx, pc)
	}

	logger.Info("callback applied", "payment_id", payment.ID, "status", payment.Status, "retry", pc.IsRetry)
	return p.idempotency.MarkSuccess(ctx, pc)
}

// callbackKey includes the provider id so a rejected callback cannot use up
// the key of the genuine one.
func callbackKey(cb model.ProviderCallback) string {
	return cb.PaymentID + ":" + string(cb.Status) + ":" + cb.ProviderID
}

// retryable reports whether err may go away on its own.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	kind := model.KindOf(err)
	return kind == "" || kind == model.KindTransientStore
}
