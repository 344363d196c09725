package repository

import (
	"time"

	"github.com/nimasrn/number-market/internal/model"
)

type CodeDeliveryEntity struct {
	ID        int64         `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	NumberID  int64         `db:"number_id"  gorm:"column:number_id;not null;uniqueIndex:uq_code_deliveries_number_code,priority:1"`
	Number    *NumberEntity `db:"-"          gorm:"foreignKey:NumberID;references:ID;constraint:OnDelete:RESTRICT"`
	UserID    int64         `db:"user_id"    gorm:"column:user_id;not null;index"`
	User      *UserEntity   `db:"-"          gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:RESTRICT"`
	Phone     string        `db:"phone"      gorm:"column:phone;size:16;not null"`
	Code      string        `db:"code"       gorm:"column:code;size:32;not null;uniqueIndex:uq_code_deliveries_number_code,priority:2"`
	ExpiresAt time.Time     `db:"expires_at" gorm:"column:expires_at;not null;check:chk_code_deliveries_expiry,expires_at > created_at"`
	CreatedAt time.Time     `db:"created_at" gorm:"column:created_at;not null"`
	Attempts  int           `db:"attempts"   gorm:"column:attempts;not null;default:0"`
}

func (CodeDeliveryEntity) TableName() string {
	return "code_deliveries"
}

func toCodeDeliveryModel(e *CodeDeliveryEntity) *model.CodeDelivery {
	if e == nil {
		return nil
	}
	return &model.CodeDelivery{
		ID:        e.ID,
		NumberID:  e.NumberID,
		UserID:    e.UserID,
		Phone:     e.Phone,
		Code:      e.Code,
		ExpiresAt: e.ExpiresAt.UTC(),
		CreatedAt: e.CreatedAt.UTC(),
		Attempts:  e.Attempts,
	}
}

// Entities lists every table in creation order.
func Entities() []any {
	return []any{
		&UserEntity{},
		&AccountEntity{},
		&NumberEntity{},
		&PaymentEntity{},
		&TransactionEntity{},
		&SessionLogEntity{},
		&SystemLogEntity{},
		&CodeDeliveryEntity{},
	}
}
