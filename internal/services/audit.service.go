package services

import (
	"context"
	"fmt"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/logger"
)

// AuditService appends session and system log rows. Writes are best effort:
// a failed audit write is logged and never fails the caller.
type AuditService struct {
	repo AuditRepository
	now  Clock
}

func NewAuditService(repo AuditRepository) *AuditService {
	return &AuditService{repo: repo, now: utcNow}
}

func (s *AuditService) Session(ctx context.Context, phone string, action model.SessionAction, result model.SessionResult, errText string) {
	entry := &model.SessionLog{
		Phone:     phone,
		Action:    action,
		Result:    result,
		Error:     errText,
		CreatedAt: s.now(),
	}
	if err := s.repo.AppendSession(ctx, entry); err != nil {
		logger.Error("failed to append session log", "phone", phone, "action", action, "error", err)
	}
}

func (s *AuditService) System(ctx context.Context, level model.Level, module, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case model.LevelError:
		logger.Error(msg, "module", module)
	case model.LevelWarn:
		logger.Warn(msg, "module", module)
	default:
		logger.Info(msg, "module", module)
	}

	entry := &model.SystemLog{
		Level:     level,
		Module:    module,
		Message:   msg,
		CreatedAt: s.now(),
	}
	if err := s.repo.AppendSystem(ctx, entry); err != nil {
		logger.Error("failed to append system log", "module", module, "error", err)
	}
}

func (s *AuditService) Recent(ctx context.Context, phone string, n int) ([]*model.SessionLog, error) {
	return s.repo.RecentSessions(ctx, phone, n)
}

// RecentSystem lists the newest system rows, optionally for one module.
func (s *AuditService) RecentSystem(ctx context.Context, module string, n int) ([]*model.SystemLog, error) {
	return s.repo.RecentSystem(ctx, module, n)
}
