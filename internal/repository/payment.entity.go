package repository

import (
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
)

type PaymentEntity struct {
	ID            string          `db:"id"             gorm:"primaryKey;column:id;size:36"`
	UserID        int64           `db:"user_id"        gorm:"column:user_id;not null;index:idx_payments_open,priority:1"`
	User          *UserEntity     `db:"-"              gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:RESTRICT"`
	NumberID      int64           `db:"number_id"      gorm:"column:number_id;not null;index:idx_payments_open,priority:2;uniqueIndex:uq_payments_pending_number,where:status = 'pending'"`
	Number        *NumberEntity   `db:"-"              gorm:"foreignKey:NumberID;references:ID;constraint:OnDelete:RESTRICT"`
	Currency      string          `db:"currency"       gorm:"column:currency;size:8;not null;check:chk_payments_amount,(currency = 'stars' AND amount_stars > 0 AND amount_fiat = 0) OR (currency = 'fiat' AND amount_stars = 0 AND amount_fiat > 0)"`
	AmountStars   int64           `db:"amount_stars"   gorm:"column:amount_stars;not null;default:0"`
	AmountFiat    decimal.Decimal `db:"amount_fiat"    gorm:"column:amount_fiat;type:numeric(14,2);not null;default:0"`
	Provider      string          `db:"provider"       gorm:"column:provider;size:32;not null"`
	Status        string          `db:"status"         gorm:"column:status;size:16;not null;index:idx_payments_open,priority:3;index:idx_payments_expiry,priority:1;check:chk_payments_status,status IN ('pending','succeeded','failed','expired','refunded')"`
	ProviderURL   *string         `db:"provider_url"   gorm:"column:provider_url"`
	ProviderRef   *string         `db:"provider_ref"   gorm:"column:provider_ref"`
	FailureReason *string         `db:"failure_reason" gorm:"column:failure_reason"`
	CreatedAt     time.Time       `db:"created_at"     gorm:"column:created_at;not null"`
	ExpiresAt     time.Time       `db:"expires_at"     gorm:"column:expires_at;not null;index:idx_payments_expiry,priority:2"`
	CompletedAt   *time.Time      `db:"completed_at"   gorm:"column:completed_at;check:chk_payments_completed,status = 'pending' OR completed_at IS NOT NULL"`
}

func (PaymentEntity) TableName() string {
	return "payments"
}

func toPaymentEntity(m *model.Payment) *PaymentEntity {
	if m == nil {
		return nil
	}
	return &PaymentEntity{
		ID:            m.ID,
		UserID:        m.UserID,
		NumberID:      m.NumberID,
		Currency:      string(m.Currency),
		AmountStars:   m.AmountStars,
		AmountFiat:    m.AmountFiat.Round(model.FiatScale),
		Provider:      m.Provider,
		Status:        string(m.Status),
		ProviderURL:   optionalString(m.ProviderURL),
		ProviderRef:   optionalString(m.ProviderRef),
		FailureReason: optionalString(m.FailureReason),
		CreatedAt:     m.CreatedAt,
		ExpiresAt:     m.ExpiresAt,
		CompletedAt:   m.CompletedAt,
	}
}

func toPaymentModel(e *PaymentEntity) *model.Payment {
	if e == nil {
		return nil
	}
	return &model.Payment{
		ID:            e.ID,
		UserID:        e.UserID,
		NumberID:      e.NumberID,
		Currency:      model.Currency(e.Currency),
		AmountStars:   e.AmountStars,
		AmountFiat:    e.AmountFiat.Round(model.FiatScale),
		Provider:      e.Provider,
		Status:        model.PaymentStatus(e.Status),
		ProviderURL:   stringValue(e.ProviderURL),
		ProviderRef:   stringValue(e.ProviderRef),
		FailureReason: stringValue(e.FailureReason),
		CreatedAt:     e.CreatedAt.UTC(),
		ExpiresAt:     e.ExpiresAt.UTC(),
		CompletedAt:   utcPtr(e.CompletedAt),
	}
}

func toPaymentModels(entities []*PaymentEntity) []*model.Payment {
	if entities == nil {
		return nil
	}
	models := make([]*model.Payment, len(entities))
	for i, e := range entities {
		models[i] = toPaymentModel(e)
	}
	return models
}
