package repository

import (
	"time"

	"github.com/nimasrn/number-market/internal/model"
)

type AccountEntity struct {
	Phone        string     `db:"phone"          gorm:"primaryKey;column:phone;size:16"`
	SessionName  string     `db:"session_name"   gorm:"column:session_name;size:64;not null;uniqueIndex:uq_accounts_session_name"`
	APIID        int64      `db:"api_id"         gorm:"column:api_id;not null"`
	APIHash      string     `db:"api_hash"       gorm:"column:api_hash;size:32;not null"`
	FirstName    *string    `db:"first_name"     gorm:"column:first_name"`
	LastName     *string    `db:"last_name"      gorm:"column:last_name"`
	Username     *string    `db:"username"       gorm:"column:username"`
	UserID       *int64     `db:"user_id"        gorm:"column:user_id"`
	Status       string     `db:"status"         gorm:"column:status;size:16;not null;default:active;index;check:chk_accounts_status,status IN ('active','retired','error')"`
	AddedBy      int64      `db:"added_by"       gorm:"column:added_by;not null"`
	AddedByUser  *UserEntity `db:"-"             gorm:"foreignKey:AddedBy;references:ID;constraint:OnDelete:RESTRICT"`
	AddedAt      time.Time  `db:"added_at"       gorm:"column:added_at;not null"`
	LastUsed     *time.Time `db:"last_used"      gorm:"column:last_used"`
	LastCode     *string    `db:"last_code"      gorm:"column:last_code"`
	LastCodeTime *time.Time `db:"last_code_time" gorm:"column:last_code_time"`
	IsBanned     bool       `db:"is_banned"      gorm:"column:is_banned;not null;default:false"`
	SpamBlock    bool       `db:"spam_block"     gorm:"column:spam_block;not null;default:false"`
	OwnerID      *int64     `db:"owner_id"       gorm:"column:owner_id"`
	OwnerHandle  *string    `db:"owner_handle"   gorm:"column:owner_handle"`
	OwnerChecked bool       `db:"owner_checked"  gorm:"column:owner_checked;not null;default:false"`
	Notes        string     `db:"notes"          gorm:"column:notes;not null"`
}

func (AccountEntity) TableName() string {
	return "accounts"
}

func optionalInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func intValue(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toAccountEntity(m *model.Account) *AccountEntity {
	if m == nil {
		return nil
	}
	return &AccountEntity{
		Phone:        m.Phone,
		SessionName:  m.SessionName,
		APIID:        m.APIID,
		APIHash:      m.APIHash,
		FirstName:    optionalString(m.FirstName),
		LastName:     optionalString(m.LastName),
		Username:     optionalString(m.Username),
		UserID:       optionalInt(m.UserID),
		Status:       string(m.Status),
		AddedBy:      m.AddedBy,
		AddedAt:      m.AddedAt,
		LastUsed:     m.LastUsed,
		LastCode:     optionalString(m.LastCode),
		LastCodeTime: m.LastCodeTime,
		IsBanned:     m.IsBanned,
		SpamBlock:    m.SpamBlock,
		OwnerID:      optionalInt(m.OwnerID),
		OwnerHandle:  optionalString(m.OwnerHandle),
		OwnerChecked: m.OwnerChecked,
		Notes:        m.Notes,
	}
}

func toAccountModel(e *AccountEntity) *model.Account {
	if e == nil {
		return nil
	}
	return &model.Account{
		Phone:        e.Phone,
		SessionName:  e.SessionName,
		APIID:        e.APIID,
		APIHash:      e.APIHash,
		FirstName:    stringValue(e.FirstName),
		LastName:     stringValue(e.LastName),
		Username:     stringValue(e.Username),
		UserID:       intValue(e.UserID),
		Status:       model.AccountStatus(e.Status),
		AddedBy:      e.AddedBy,
		AddedAt:      e.AddedAt.UTC(),
		LastUsed:     utcPtr(e.LastUsed),
		LastCode:     stringValue(e.LastCode),
		LastCodeTime: utcPtr(e.LastCodeTime),
		IsBanned:     e.IsBanned,
		SpamBlock:    e.SpamBlock,
		OwnerID:      intValue(e.OwnerID),
		OwnerHandle:  stringValue(e.OwnerHandle),
		OwnerChecked: e.OwnerChecked,
		Notes:        e.Notes,
	}
}

func toAccountModels(entities []*AccountEntity) []*model.Account {
	if entities == nil {
		return nil
	}
	models := make([]*model.Account, len(entities))
	for i, e := range entities {
		models[i] = toAccountModel(e)
	}
	return models
}
