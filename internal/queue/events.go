package queue

import (
	"context"
	"strconv"

	"github.com/nimasrn/number-market/internal/model"
)

const (
	KindCallback = "payment_callback"
	KindCode     = "incoming_code"
	KindDelivery = "code_delivery"
)

// StreamPublisher writes delivery events to a redis stream for the bot
// process.
type StreamPublisher struct {
	q *Queue
}

func NewStreamPublisher(q *Queue) *StreamPublisher {
	return &StreamPublisher{q: q}
}

func (p *StreamPublisher) PublishDelivery(ctx context.Context, ev model.DeliveryEvent) error {
	_, err := p.q.PublishJSON(ctx, ev, map[string]string{
		"kind":    KindDelivery,
		"user_id": strconv.FormatInt(ev.UserID, 10),
	})
	return err
}

// CallbackSink puts provider callbacks on the callbacks stream.
type CallbackSink struct {
	q *Queue
}

func NewCallbackSink(q *Queue) *CallbackSink {
	return &CallbackSink{q: q}
}

func (s *CallbackSink) Enqueue(ctx context.Context, cb model.ProviderCallback) (string, error) {
	return s.q.PublishJSON(ctx, cb, map[string]string{
		"kind":       KindCallback,
		"payment_id": cb.PaymentID,
	})
}

func PublishCode(ctx context.Context, q *Queue, c model.IncomingCode) (string, error) {
	return q.PublishJSON(ctx, c, map[string]string{
		"kind":  KindCode,
		"phone": c.Phone,
	})
}
