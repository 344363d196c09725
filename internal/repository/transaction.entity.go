package repository

import (
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
)

type TransactionEntity struct {
	ID          int64           `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	UserID      int64           `db:"user_id"      gorm:"column:user_id;not null;index;uniqueIndex:uq_transactions_operation,priority:2"`
	User        *UserEntity     `db:"-"            gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:RESTRICT"`
	NumberID    *int64          `db:"number_id"    gorm:"column:number_id;index"`
	Number      *NumberEntity   `db:"-"            gorm:"foreignKey:NumberID;references:ID;constraint:OnDelete:RESTRICT"`
	PaymentID   *string         `db:"payment_id"   gorm:"column:payment_id;size:36;index"`
	Payment     *PaymentEntity  `db:"-"            gorm:"foreignKey:PaymentID;references:ID;constraint:OnDelete:RESTRICT"`
	OperationID string          `db:"operation_id" gorm:"column:operation_id;size:64;not null;uniqueIndex:uq_transactions_operation,priority:1"`
	Direction   string          `db:"direction"    gorm:"column:direction;size:8;not null;uniqueIndex:uq_transactions_operation,priority:3;check:chk_transactions_direction,direction IN ('debit','credit')"`
	Kind        string          `db:"kind"         gorm:"column:kind;size:16;not null;check:chk_transactions_kind,kind IN ('purchase','topup','refund','transfer','adjustment')"`
	Wallet      bool            `db:"wallet"       gorm:"column:wallet;not null"`
	AmountStars int64           `db:"amount_stars" gorm:"column:amount_stars;not null;default:0;check:chk_transactions_amount_stars,amount_stars >= 0"`
	AmountFiat  decimal.Decimal `db:"amount_fiat"  gorm:"column:amount_fiat;type:numeric(14,2);not null;default:0;check:chk_transactions_amount_fiat,amount_fiat >= 0"`
	Provider    string          `db:"provider"     gorm:"column:provider;size:32;not null"`
	ProviderID  *string         `db:"provider_id"  gorm:"column:provider_id"`
	Status      string          `db:"status"       gorm:"column:status;size:16;not null;uniqueIndex:uq_transactions_operation,priority:4;check:chk_transactions_status,status IN ('posted','reversed')"`
	Reason      string          `db:"reason"       gorm:"column:reason;not null"`
	CreatedAt   time.Time       `db:"created_at"   gorm:"column:created_at;not null"`
	CompletedAt *time.Time      `db:"completed_at" gorm:"column:completed_at"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:          m.ID,
		UserID:      m.UserID,
		NumberID:    m.NumberID,
		PaymentID:   m.PaymentID,
		OperationID: m.OperationID,
		Direction:   string(m.Direction),
		Kind:        string(m.Kind),
		Wallet:      m.Wallet,
		AmountStars: m.AmountStars,
		AmountFiat:  m.AmountFiat.Round(model.FiatScale),
		Provider:    m.Provider,
		ProviderID:  optionalString(m.ProviderID),
		Status:      string(m.Status),
		Reason:      m.Reason,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:          e.ID,
		UserID:      e.UserID,
		NumberID:    e.NumberID,
		PaymentID:   e.PaymentID,
		OperationID: e.OperationID,
		Direction:   model.Direction(e.Direction),
		Kind:        model.TransactionKind(e.Kind),
		Wallet:      e.Wallet,
		AmountStars: e.AmountStars,
		AmountFiat:  e.AmountFiat.Round(model.FiatScale),
		Provider:    e.Provider,
		ProviderID:  stringValue(e.ProviderID),
		Status:      model.TransactionStatus(e.Status),
		Reason:      e.Reason,
		CreatedAt:   e.CreatedAt.UTC(),
		CompletedAt: utcPtr(e.CompletedAt),
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
