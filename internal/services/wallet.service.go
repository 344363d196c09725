package services

import (
	"context"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/repository"
	"github.com/shopspring/decimal"
)

type WalletService struct {
	db           Transactor
	users        UserRepository
	transactions TransactionRepository
	audit        *AuditService
	now          Clock
}

func NewWalletService(db Transactor, users UserRepository, transactions TransactionRepository, audit *AuditService) *WalletService {
	return &WalletService{
		db:           db,
		users:        users,
		transactions: transactions,
		audit:        audit,
		now:          utcNow,
	}
}

// entry is one ledger row plus the balance movement it implies.
type entry struct {
	userID      int64
	amount      model.Money
	direction   model.Direction
	status      model.TransactionStatus
	kind        model.TransactionKind
	wallet      bool
	operationID string
	provider    string
	providerID  string
	reason      string
	numberID    *int64
	paymentID   *string
}

func (s *WalletService) Balance(ctx context.Context, userID int64) (model.Money, model.Money, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return model.Money{}, model.Money{}, err
	}
	return u.Balance(model.CurrencyStars), u.Balance(model.CurrencyFiat), nil
}

// Credit adds funds. Repeating a call with the same operation id returns
// the first ledger row and moves nothing.
func (s *WalletService) Credit(ctx context.Context, req model.WalletRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	kind := req.Kind
	if kind == "" {
		kind = model.TransactionKindTopUp
	}

	var txn *model.Transaction
	err := inTx(ctx, s.db, "wallet.credit", func(ctx context.Context) error {
		var err error
		txn, err = s.post(ctx, entry{
			userID:      req.UserID,
			amount:      req.Amount,
			direction:   model.DirectionCredit,
			status:      model.TransactionStatusPosted,
			kind:        kind,
			wallet:      true,
			operationID: req.OperationID,
			provider:    model.ProviderBalance,
			reason:      req.Reason,
			numberID:    req.NumberID,
			paymentID:   req.PaymentID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Debit removes funds and fails with InsufficientFunds rather than letting
// a balance go negative.
func (s *WalletService) Debit(ctx context.Context, req model.WalletRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	kind := req.Kind
	if kind == "" {
		kind = model.TransactionKindAdjustment
	}

	var txn *model.Transaction
	err := inTx(ctx, s.db, "wallet.debit", func(ctx context.Context) error {
		var err error
		txn, err = s.post(ctx, entry{
			userID:      req.UserID,
			amount:      req.Amount,
			direction:   model.DirectionDebit,
			status:      model.TransactionStatusPosted,
			kind:        kind,
			wallet:      true,
			operationID: req.OperationID,
			provider:    model.ProviderBalance,
			reason:      req.Reason,
			numberID:    req.NumberID,
			paymentID:   req.PaymentID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Transfer moves funds between two users in one transaction.
func (s *WalletService) Transfer(ctx context.Context, fromID, toID int64, amount model.Money, reason, operationID string) (*model.Transaction, *model.Transaction, error) {
	req := model.WalletRequest{UserID: fromID, Amount: amount, Reason: reason, OperationID: operationID}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if toID == 0 || toID == fromID {
		return nil, nil, model.Invalid("transfer needs two different users")
	}

	var debit, credit *model.Transaction
	err := inTx(ctx, s.db, "wallet.transfer", func(ctx context.Context) error {
		// lock in id order so opposite transfers cannot deadlock
		first, second := fromID, toID
		if second < first {
			first, second = second, first
		}
		if _, err := s.users.Lock(ctx, first); err != nil {
			return err
		}
		if _, err := s.users.Lock(ctx, second); err != nil {
			return err
		}

		var err error
		debit, err = s.post(ctx, entry{
			userID:      fromID,
			amount:      amount,
			direction:   model.DirectionDebit,
			status:      model.TransactionStatusPosted,
			kind:        model.TransactionKindTransfer,
			wallet:      true,
			operationID: operationID,
			provider:    model.ProviderBalance,
			reason:      reason,
		})
		if err != nil {
			return err
		}
		credit, err = s.post(ctx, entry{
			userID:      toID,
			amount:      amount,
			direction:   model.DirectionCredit,
			status:      model.TransactionStatusPosted,
			kind:        model.TransactionKindTransfer,
			wallet:      true,
			operationID: operationID,
			provider:    model.ProviderBalance,
			reason:      reason,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

func (s *WalletService) Ledger(ctx context.Context, userID int64, limit, offset int) ([]*model.Transaction, error) {
	return s.transactions.List(ctx, repository.TransactionFilter{UserID: &userID, Limit: limit, Offset: offset})
}

// Reconcile reports whether the user's balances equal the sum of their
// wallet ledger rows.
func (s *WalletService) Reconcile(ctx context.Context, userID int64) (bool, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	stars, fiat, err := s.transactions.WalletSums(ctx, userID)
	if err != nil {
		return false, err
	}
	ok := stars == u.BalanceStars && fiat.Equal(u.BalanceFiat)
	if !ok {
		s.audit.System(ctx, model.LevelError, "wallet", "ledger mismatch for user %d: balance %d/%s, ledger %d/%s",
			userID, u.BalanceStars, u.BalanceFiat.StringFixed(model.FiatScale), stars, fiat.StringFixed(model.FiatScale))
	}
	return ok, nil
}

// post writes one ledger row and, for wallet rows, moves the balance. It
// must run inside a transaction. The user row is locked first, so the
// operation-id lookup and the write are serialised per user.
func (s *WalletService) post(ctx context.Context, e entry) (*model.Transaction, error) {
	if _, err := s.users.Lock(ctx, e.userID); err != nil {
		return nil, err
	}

	existing, err := s.transactions.FindByOperation(ctx, e.operationID, e.userID, e.direction, e.status)
	if err == nil {
		return existing, nil
	}
	if model.KindOf(err) != model.KindNotFound {
		return nil, err
	}

	now := s.now()
	if e.wallet {
		delta := e.amount
		if e.direction == model.DirectionDebit {
			delta.Stars = -delta.Stars
			delta.Fiat = delta.Fiat.Neg()
		}
		if err := s.users.AdjustBalance(ctx, e.userID, delta, now); err != nil {
			return nil, err
		}
	}

	txn := &model.Transaction{
		UserID:      e.userID,
		NumberID:    e.numberID,
		PaymentID:   e.paymentID,
		OperationID: e.operationID,
		Direction:   e.direction,
		Kind:        e.kind,
		Wallet:      e.wallet,
		Provider:    e.provider,
		ProviderID:  e.providerID,
		Status:      e.status,
		Reason:      e.reason,
		AmountFiat:  decimal.Zero,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	switch e.amount.Currency {
	case model.CurrencyStars:
		txn.AmountStars = e.amount.Stars
	case model.CurrencyFiat:
		txn.AmountFiat = e.amount.Fiat
	}
	return s.transactions.Create(ctx, txn)
}
