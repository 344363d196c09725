package bot

import (
	"context"
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	xhttp "github.com/nimasrn/number-market/pkg/http"
	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/queue"
	"github.com/nimasrn/number-market/pkg/logger"
)

// Poll long-polls the Bot API until ctx ends.
func (b *Bot) Poll(ctx context.Context, api *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// WebhookHandler accepts updates pushed by the Bot API on hosted platforms.
func (b *Bot) WebhookHandler() xhttp.RequestHandler {
	return func(ctx *xhttp.RequestCtx) {
		var update tgbotapi.Update
		if err := json.Unmarshal(ctx.PostBody(), &update); err != nil {
			logger.Warn("bad webhook update", "error", err)
			ctx.SetStatusCode(xhttp.StatusBadRequest)
			return
		}
		b.HandleUpdate(ctx, update)
		ctx.SetStatusCode(xhttp.StatusOK)
	}
}

// DeliveryHandler consumes delivery events from a redis stream. A malformed
// event is acked and dropped; a failed send is left pending for retry.
func (b *Bot) DeliveryHandler() queue.MessageHandler {
	return func(ctx context.Context, msg *queue.Message) error {
		var ev model.DeliveryEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warn("dropping malformed delivery event", "entry_id", msg.ID, "error", err)
			return nil
		}
		if err := b.Deliver(ctx, ev); err != nil {
			logger.Warn("dropping delivery event", "entry_id", msg.ID, "error", err)
		}
		return nil
	}
}

// RegisterWebhook points the Bot API at url.
func RegisterWebhook(api *tgbotapi.BotAPI, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}
	return nil
}
