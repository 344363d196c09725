package repository

import (
	"context"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/pg"
	"github.com/shopspring/decimal"
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, translate(err, "transaction", txn.OperationID)
	}

	return toTransactionModel(entity), nil
}

// FindByOperation returns the ledger row written for an operation, which is
// unique per (operation, user, direction, status).
func (r *TransactionRepository) FindByOperation(ctx context.Context, operationID string, userID int64, direction model.Direction, status model.TransactionStatus) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).
		Where("operation_id = ? AND user_id = ? AND direction = ? AND status = ?", operationID, userID, string(direction), string(status)).
		First(&entity).Error
	if err != nil {
		return nil, translate(err, "transaction", operationID)
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) ListByPayment(ctx context.Context, paymentID string) ([]*model.Transaction, error) {
	var entities []*TransactionEntity
	if err := r.Read(ctx).Where("payment_id = ?", paymentID).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, translate(err, "transaction", paymentID)
	}
	return toTransactionModels(entities), nil
}

type TransactionFilter struct {
	UserID    *int64
	Direction *model.Direction
	Kind      *model.TransactionKind
	Limit     int
	Offset    int
}

func (r *TransactionRepository) List(ctx context.Context, f TransactionFilter) ([]*model.Transaction, error) {
	q := r.Read(ctx).Model(&TransactionEntity{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Direction != nil {
		q = q.Where("direction = ?", string(*f.Direction))
	}
	if f.Kind != nil {
		q = q.Where("kind = ?", string(*f.Kind))
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, translate(err, "transaction", nil)
	}
	return toTransactionModels(entities), nil
}

type directionSum struct {
	Direction string
	Stars     int64
	Fiat      decimal.NullDecimal
}

// WalletSums returns credits minus debits over the rows that moved the
// user's balance. It must equal the balance columns at all times.
func (r *TransactionRepository) WalletSums(ctx context.Context, userID int64) (int64, decimal.Decimal, error) {
	var rows []directionSum
	err := r.Read(ctx).Model(&TransactionEntity{}).
		Select("direction, COALESCE(SUM(amount_stars), 0) AS stars, SUM(amount_fiat) AS fiat").
		Where("user_id = ? AND wallet = ?", userID, true).
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return 0, decimal.Zero, translate(err, "transaction", userID)
	}

	stars, fiat := int64(0), decimal.Zero
	for _, row := range rows {
		f := decimal.Zero
		if row.Fiat.Valid {
			f = row.Fiat.Decimal
		}
		switch model.Direction(row.Direction) {
		case model.DirectionCredit:
			stars += row.Stars
			fiat = fiat.Add(f)
		case model.DirectionDebit:
			stars -= row.Stars
			fiat = fiat.Sub(f)
		}
	}
	return stars, fiat.Round(model.FiatScale), nil
}
