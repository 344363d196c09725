package services

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/repository"
	"github.com/nimasrn/number-market/pkg/pg"
	"github.com/shopspring/decimal"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type UserRepository interface {
	Ensure(ctx context.Context, c model.Contact, now time.Time) (*model.User, bool, error)
	Get(ctx context.Context, id int64) (*model.User, error)
	Lock(ctx context.Context, id int64) (*model.User, error)
	AdjustBalance(ctx context.Context, id int64, delta model.Money, now time.Time) error
	SetAdmin(ctx context.Context, id int64, admin bool) error
	SetBanned(ctx context.Context, id int64, banned bool) error
	Touch(ctx context.Context, id int64, now time.Time) error
}

type AccountRepository interface {
	Create(ctx context.Context, acc *model.Account) (*model.Account, error)
	Get(ctx context.Context, phone string) (*model.Account, error)
	Lock(ctx context.Context, phone string) (*model.Account, error)
	List(ctx context.Context, f repository.AccountFilter) ([]*model.Account, int64, error)
	Update(ctx context.Context, phone string, fields map[string]any) error
}

type NumberRepository interface {
	Create(ctx context.Context, n *model.Number) (*model.Number, error)
	Get(ctx context.Context, id int64) (*model.Number, error)
	GetByPhone(ctx context.Context, phone string) (*model.Number, error)
	Lock(ctx context.Context, id int64) (*model.Number, error)
	ListAvailable(ctx context.Context, f model.NumberFilter) ([]*model.Number, int64, error)
	Reserve(ctx context.Context, id, userID int64, until, now time.Time) (bool, error)
	Release(ctx context.Context, id, userID int64, now time.Time) (bool, error)
	MarkSold(ctx context.Context, id, userID int64, now time.Time) (bool, error)
	Retire(ctx context.Context, id int64, from model.NumberStatus, now time.Time) (bool, error)
	Reopen(ctx context.Context, id int64, fields map[string]any, now time.Time) (bool, error)
	Reprice(ctx context.Context, id int64, stars int64, fiat decimal.Decimal, now time.Time) (bool, error)
	SetCode(ctx context.Context, id int64, code string, expires, now time.Time) (bool, error)
	FindLinkedToAccount(ctx context.Context, accountPhone string) (*model.Number, error)
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*model.Number, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *model.Payment) (*model.Payment, error)
	Get(ctx context.Context, id string) (*model.Payment, error)
	Lock(ctx context.Context, id string) (*model.Payment, error)
	FindOpen(ctx context.Context, userID, numberID int64) (*model.Payment, error)
	Transition(ctx context.Context, id string, from, to model.PaymentStatus, fields map[string]any) (bool, error)
	SetInvoice(ctx context.Context, id string, inv model.Invoice) error
	ExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error)
	PendingExternal(ctx context.Context, limit int) ([]*model.Payment, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	FindByOperation(ctx context.Context, operationID string, userID int64, direction model.Direction, status model.TransactionStatus) (*model.Transaction, error)
	ListByPayment(ctx context.Context, paymentID string) ([]*model.Transaction, error)
	List(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, error)
	WalletSums(ctx context.Context, userID int64) (int64, decimal.Decimal, error)
}

type AuditRepository interface {
	AppendSession(ctx context.Context, l *model.SessionLog) error
	AppendSystem(ctx context.Context, l *model.SystemLog) error
	RecentSessions(ctx context.Context, phone string, n int) ([]*model.SessionLog, error)
	RecentSystem(ctx context.Context, module string, n int) ([]*model.SystemLog, error)
}

type CodeDeliveryRepository interface {
	CreateIfAbsent(ctx context.Context, d *model.CodeDelivery) (*model.CodeDelivery, bool, error)
	Latest(ctx context.Context, numberID int64, now time.Time) (*model.CodeDelivery, error)
	IncrementAttempts(ctx context.Context, id int64) error
}

// AdminChecker decides whether an actor holds the administrator role.
type AdminChecker interface {
	RequireAdmin(ctx context.Context, actorID int64) error
}

type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// inTx runs fn in one store transaction. Top-level calls are retried on
// transient store errors; calls that join a caller's transaction are not,
// since the outer transaction is already lost.
func inTx(ctx context.Context, db Transactor, operation string, fn func(ctx context.Context) error) error {
	if pg.InTransaction(ctx) {
		return db.WithinTransaction(ctx, fn)
	}
	err := pg.WithRetry(ctx, operation, pg.DefaultRetries, pg.DefaultBaseDelay, func(ctx context.Context) error {
		return db.WithinTransaction(ctx, fn)
	})
	if errors.Is(err, pg.ErrRetriesExhausted) {
		return model.Transient(err)
	}
	return err
}
