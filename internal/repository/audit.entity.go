package repository

import (
	"time"

	"github.com/nimasrn/number-market/internal/model"
)

type SessionLogEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Phone     string    `db:"phone"      gorm:"column:phone;size:16;not null;index:idx_session_logs_phone,priority:1"`
	Action    string    `db:"action"     gorm:"column:action;size:32;not null"`
	Result    string    `db:"result"     gorm:"column:result;size:16;not null"`
	Error     *string   `db:"error"      gorm:"column:error"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;not null;index:idx_session_logs_phone,priority:2"`
}

func (SessionLogEntity) TableName() string {
	return "session_logs"
}

type SystemLogEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Level     string    `db:"level"      gorm:"column:level;size:8;not null;check:chk_system_logs_level,level IN ('info','warn','error')"`
	Module    string    `db:"module"     gorm:"column:module;size:64;not null"`
	Message   string    `db:"message"    gorm:"column:message;not null"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;not null;index"`
}

func (SystemLogEntity) TableName() string {
	return "system_logs"
}

func toSessionLogModel(e *SessionLogEntity) *model.SessionLog {
	if e == nil {
		return nil
	}
	return &model.SessionLog{
		ID:        e.ID,
		Phone:     e.Phone,
		Action:    model.SessionAction(e.Action),
		Result:    model.SessionResult(e.Result),
		Error:     stringValue(e.Error),
		CreatedAt: e.CreatedAt.UTC(),
	}
}

func toSystemLogModel(e *SystemLogEntity) *model.SystemLog {
	if e == nil {
		return nil
	}
	return &model.SystemLog{
		ID:        e.ID,
		Level:     model.Level(e.Level),
		Module:    e.Module,
		Message:   e.Message,
		CreatedAt: e.CreatedAt.UTC(),
	}
}
