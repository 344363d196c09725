// Package bot is the chat front-end glue: it registers users on first
// contact and delivers codes to buyers. Menus and purchase dialogs live
// elsewhere.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/nimasrn/number-market/pkg/worker"
)

// Sender is the part of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Users interface {
	EnsureUser(ctx context.Context, c model.Contact) (*model.User, bool, error)
}

type Wallet interface {
	Balance(ctx context.Context, userID int64) (model.Money, model.Money, error)
}

type Orders interface {
	Redeliver(ctx context.Context, userID, numberID int64) (*model.CodeDelivery, error)
}

type Config struct {
	AutoDelete      bool
	MessageLifetime time.Duration
	Workers         int
}

type Bot struct {
	api    Sender
	users  Users
	wallet Wallet
	orders Orders
	cfg    Config
	pool   *worker.WorkerManager
}

type outgoing struct {
	chatID    int64
	text      string
	transient bool
}

type deletion struct {
	chatID    int64
	messageID int
}

func New(api Sender, users Users, wallet Wallet, orders Orders, cfg Config) *Bot {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	b := &Bot{
		api:    api,
		users:  users,
		wallet: wallet,
		orders: orders,
		cfg:    cfg,
		pool:   worker.NewWorkerManager(1024, cfg.Workers, nil),
	}
	b.pool.SetWorker(b.work)
	return b
}

// Run starts the per-recipient dispatcher and blocks until ctx ends.
func (b *Bot) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		b.pool.Exit()
	}()
	if err := b.pool.Start(); err != nil && !errors.Is(err, worker.ErrTerminated) {
		logger.Error("bot dispatcher stopped", "error", err)
	}
}

// say queues text for chatID. Messages to one chat leave in order.
func (b *Bot) say(chatID int64, text string, transient bool) {
	b.pool.EnqueueKeyed(strconv.FormatInt(chatID, 10), outgoing{chatID: chatID, text: text, transient: transient})
}

func (b *Bot) work(_ int, job interface{}) {
	switch j := job.(type) {
	case outgoing:
		msg := tgbotapi.NewMessage(j.chatID, j.text)
		sent, err := b.api.Send(msg)
		if err != nil {
			logger.Error("failed to send message", "chat_id", j.chatID, "error", err)
			return
		}
		if j.transient && b.cfg.AutoDelete {
			b.scheduleDelete(j.chatID, sent.MessageID)
		}
	case deletion:
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(j.chatID, j.messageID)); err != nil {
			logger.Warn("failed to delete message", "chat_id", j.chatID, "message_id", j.messageID, "error", err)
		}
	}
}

func (b *Bot) scheduleDelete(chatID int64, messageID int) {
	d := deletion{chatID: chatID, messageID: messageID}
	time.AfterFunc(b.cfg.MessageLifetime, func() {
		b.pool.EnqueueKeyed(strconv.FormatInt(chatID, 10), d)
	})
}

// Deliver sends a code to its buyer. Code messages are transient.
func (b *Bot) Deliver(_ context.Context, ev model.DeliveryEvent) error {
	if ev.UserID == 0 || ev.Code == "" {
		return fmt.Errorf("delivery %d has no recipient or code", ev.DeliveryID)
	}
	prefix := "Code"
	if ev.Redelivery {
		prefix = "Code (again)"
	}
	text := fmt.Sprintf("%s for %s: %s\nValid until %s UTC", prefix, ev.Phone, ev.Code, ev.ExpiresAt.UTC().Format("15:04:05"))
	b.say(ev.UserID, text, true)
	return nil
}

// HandleUpdate registers the sender and answers the few commands the glue
// layer owns.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}

	contact := model.Contact{
		ID:       msg.From.ID,
		Username: msg.From.UserName,
		FullName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
	}
	user, created, err := b.users.EnsureUser(ctx, contact)
	if err != nil {
		logger.Error("failed to register user", "user_id", contact.ID, "error", err)
		b.say(msg.Chat.ID, "Service is temporarily unavailable, try again later.", true)
		return
	}
	if created {
		logger.Info("new user", "user_id", user.ID)
	}
	if !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start":
		text := "Welcome back."
		if created {
			text = "Welcome! Browse numbers with /numbers."
		}
		b.say(msg.Chat.ID, text, false)
	case "balance":
		stars, fiat, err := b.wallet.Balance(ctx, user.ID)
		if err != nil {
			b.say(msg.Chat.ID, describe(err), true)
			return
		}
		b.say(msg.Chat.ID, fmt.Sprintf("Balance: %s stars, %s", stars, fiat), true)
	case "code":
		id, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
		if err != nil {
			b.say(msg.Chat.ID, "Usage: /code <number id>", true)
			return
		}
		if _, err := b.orders.Redeliver(ctx, user.ID, id); err != nil {
			b.say(msg.Chat.ID, describe(err), true)
		}
	}
}

func describe(err error) string {
	var e *model.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case model.KindNotFound:
			return "No code has arrived for this number yet."
		case model.KindForbidden:
			return "This number is not yours."
		case model.KindTransientStore:
			return "Service is temporarily unavailable, try again later."
		}
		return e.Message
	}
	return "Something went wrong."
}
