package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/logger"
)

const DeliverySubject = "orders.deliveries"

// NatsPublisher is the delivery sink used when EVENT_SINK=nats.
type NatsPublisher struct {
	conn    *nats.Conn
	subject string
}

func ConnectNats(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("number-market"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

func NewNatsPublisher(conn *nats.Conn, subject string) *NatsPublisher {
	if subject == "" {
		subject = DeliverySubject
	}
	return &NatsPublisher{conn: conn, subject: subject}
}

func (p *NatsPublisher) PublishDelivery(ctx context.Context, ev model.DeliveryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// SubscribeDeliveries hands every delivery event on subject to fn. A
// message that fails to decode is logged and dropped.
func SubscribeDeliveries(conn *nats.Conn, subject string, fn func(ctx context.Context, ev model.DeliveryEvent) error) (*nats.Subscription, error) {
	if subject == "" {
		subject = DeliverySubject
	}
	return conn.Subscribe(subject, func(m *nats.Msg) {
		var ev model.DeliveryEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			logger.Error("bad delivery event", "subject", m.Subject, "error", err)
			return
		}
		if err := fn(context.Background(), ev); err != nil {
			logger.Error("delivery event handler failed", "delivery_id", ev.DeliveryID, "error", err)
		}
	})
}
