package repository

import (
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
)

type UserEntity struct {
	ID           int64           `db:"id"            gorm:"primaryKey;autoIncrement:false;column:id"`
	Username     *string         `db:"username"      gorm:"column:username;size:64"`
	FullName     *string         `db:"full_name"     gorm:"column:full_name;size:256"`
	BalanceStars int64           `db:"balance_stars" gorm:"column:balance_stars;not null;default:0;check:chk_users_balance_stars,balance_stars >= 0"`
	BalanceFiat  decimal.Decimal `db:"balance_fiat"  gorm:"column:balance_fiat;type:numeric(14,2);not null;default:0;check:chk_users_balance_fiat,balance_fiat >= 0"`
	RegisteredAt time.Time       `db:"registered_at" gorm:"column:registered_at;not null"`
	LastActivity time.Time       `db:"last_activity" gorm:"column:last_activity;not null"`
	IsAdmin      bool            `db:"is_admin"      gorm:"column:is_admin;not null;default:false"`
	IsBanned     bool            `db:"is_banned"     gorm:"column:is_banned;not null;default:false"`
}

func (UserEntity) TableName() string {
	return "users"
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:           e.ID,
		Username:     stringValue(e.Username),
		FullName:     stringValue(e.FullName),
		BalanceStars: e.BalanceStars,
		BalanceFiat:  e.BalanceFiat.Round(model.FiatScale),
		RegisteredAt: e.RegisteredAt.UTC(),
		LastActivity: e.LastActivity.UTC(),
		IsAdmin:      e.IsAdmin,
		IsBanned:     e.IsBanned,
	}
}
