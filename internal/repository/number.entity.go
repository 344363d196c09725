package repository

import (
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
)

type NumberEntity struct {
	ID            int64           `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	Phone         string          `db:"phone"          gorm:"column:phone;size:16;not null;uniqueIndex:uq_numbers_phone"`
	Country       string          `db:"country"        gorm:"column:country;size:64;not null;index:idx_numbers_listing,priority:1"`
	Description   string          `db:"description"    gorm:"column:description;not null"`
	PriceStars    int64           `db:"price_stars"    gorm:"column:price_stars;not null;check:chk_numbers_price_stars,price_stars > 0"`
	PriceFiat     decimal.Decimal `db:"price_fiat"     gorm:"column:price_fiat;type:numeric(14,2);not null;check:chk_numbers_price_fiat,price_fiat > 0"`
	Status        string          `db:"status"         gorm:"column:status;size:16;not null;index:idx_numbers_listing,priority:2;check:chk_numbers_status,status IN ('available','reserved','sold','retired')"`
	SoldTo        *int64          `db:"sold_to"        gorm:"column:sold_to;index;check:chk_numbers_buyer,status NOT IN ('reserved','sold') OR sold_to IS NOT NULL"`
	Buyer         *UserEntity     `db:"-"              gorm:"foreignKey:SoldTo;references:ID;constraint:OnDelete:RESTRICT"`
	SoldAt        *time.Time      `db:"sold_at"        gorm:"column:sold_at;check:chk_numbers_sold_at,status <> 'sold' OR sold_at IS NOT NULL"`
	Code          *string         `db:"code"           gorm:"column:code;check:chk_numbers_code,code IS NULL OR code_expires IS NOT NULL"`
	CodeExpires   *time.Time      `db:"code_expires"   gorm:"column:code_expires"`
	AccountPhone  string          `db:"account_phone"  gorm:"column:account_phone;size:16;not null;index"`
	Account       *AccountEntity  `db:"-"              gorm:"foreignKey:AccountPhone;references:Phone;constraint:OnDelete:RESTRICT"`
	ReservedUntil *time.Time      `db:"reserved_until" gorm:"column:reserved_until;index"`
	CreatedAt     time.Time       `db:"created_at"     gorm:"column:created_at;not null"`
	UpdatedAt     time.Time       `db:"updated_at"     gorm:"column:updated_at;not null"`
}

func (NumberEntity) TableName() string {
	return "numbers"
}

func toNumberEntity(m *model.Number) *NumberEntity {
	if m == nil {
		return nil
	}
	return &NumberEntity{
		ID:            m.ID,
		Phone:         m.Phone,
		Country:       m.Country,
		Description:   m.Description,
		PriceStars:    m.PriceStars,
		PriceFiat:     m.PriceFiat.Round(model.FiatScale),
		Status:        string(m.Status),
		SoldTo:        m.SoldTo,
		SoldAt:        m.SoldAt,
		Code:          optionalString(m.Code),
		CodeExpires:   m.CodeExpires,
		AccountPhone:  m.AccountPhone,
		ReservedUntil: m.ReservedUntil,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toNumberModel(e *NumberEntity) *model.Number {
	if e == nil {
		return nil
	}
	return &model.Number{
		ID:            e.ID,
		Phone:         e.Phone,
		Country:       e.Country,
		Description:   e.Description,
		PriceStars:    e.PriceStars,
		PriceFiat:     e.PriceFiat.Round(model.FiatScale),
		Status:        model.NumberStatus(e.Status),
		SoldTo:        e.SoldTo,
		SoldAt:        utcPtr(e.SoldAt),
		Code:          stringValue(e.Code),
		CodeExpires:   utcPtr(e.CodeExpires),
		AccountPhone:  e.AccountPhone,
		ReservedUntil: utcPtr(e.ReservedUntil),
		CreatedAt:     e.CreatedAt.UTC(),
		UpdatedAt:     e.UpdatedAt.UTC(),
	}
}

func toNumberModels(entities []*NumberEntity) []*model.Number {
	if entities == nil {
		return nil
	}
	models := make([]*model.Number, len(entities))
	for i, e := range entities {
		models[i] = toNumberModel(e)
	}
	return models
}
