package repository

import (
	"context"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/pg"
)

type AuditRepository struct {
	*pg.DB
}

func NewAuditRepository(db *pg.DB) *AuditRepository {
	return &AuditRepository{
		db,
	}
}

func (r *AuditRepository) AppendSession(ctx context.Context, l *model.SessionLog) error {
	entity := &SessionLogEntity{
		Phone:     l.Phone,
		Action:    string(l.Action),
		Result:    string(l.Result),
		Error:     optionalString(l.Error),
		CreatedAt: l.CreatedAt,
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return translate(err, "session log", l.Phone)
	}
	l.ID = entity.ID
	return nil
}

func (r *AuditRepository) AppendSystem(ctx context.Context, l *model.SystemLog) error {
	entity := &SystemLogEntity{
		Level:     string(l.Level),
		Module:    l.Module,
		Message:   l.Message,
		CreatedAt: l.CreatedAt,
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return translate(err, "system log", l.Module)
	}
	l.ID = entity.ID
	return nil
}

// RecentSessions returns the newest n session rows for a phone, newest first.
func (r *AuditRepository) RecentSessions(ctx context.Context, phone string, n int) ([]*model.SessionLog, error) {
	var entities []*SessionLogEntity
	err := r.Read(ctx).
		Where("phone = ?", phone).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&entities).Error
	if err != nil {
		return nil, translate(err, "session log", phone)
	}
	logs := make([]*model.SessionLog, len(entities))
	for i, e := range entities {
		logs[i] = toSessionLogModel(e)
	}
	return logs, nil
}

func (r *AuditRepository) RecentSystem(ctx context.Context, module string, n int) ([]*model.SystemLog, error) {
	q := r.Read(ctx).Model(&SystemLogEntity{})
	if module != "" {
		q = q.Where("module = ?", module)
	}
	var entities []*SystemLogEntity
	if err := q.Order("created_at DESC, id DESC").Limit(n).Find(&entities).Error; err != nil {
		return nil, translate(err, "system log", module)
	}
	logs := make([]*model.SystemLog, len(entities))
	for i, e := range entities {
		logs[i] = toSystemLogModel(e)
	}
	return logs, nil
}
