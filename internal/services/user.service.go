package services

import (
	"context"
	"slices"

	"github.com/nimasrn/number-market/internal/model"
)

type UserService struct {
	users    UserRepository
	audit    *AuditService
	adminIDs []int64
	now      Clock
}

// NewUserService takes the administrator ids from configuration. Those ids
// hold the role even without the is_admin flag in the store.
func NewUserService(users UserRepository, audit *AuditService, adminIDs []int64) *UserService {
	return &UserService{
		users:    users,
		audit:    audit,
		adminIDs: slices.Clone(adminIDs),
		now:      utcNow,
	}
}

// EnsureUser registers the user on first contact and refreshes the profile
// and last activity on every later one.
func (s *UserService) EnsureUser(ctx context.Context, c model.Contact) (*model.User, bool, error) {
	if c.ID == 0 {
		return nil, false, model.Invalid("user id is required")
	}
	u, created, err := s.users.Ensure(ctx, c, s.now())
	if err != nil {
		return nil, false, err
	}
	if created {
		s.audit.System(ctx, model.LevelInfo, "users", "registered user %d", c.ID)
	}
	return u, created, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*model.User, error) {
	return s.users.Get(ctx, id)
}

func (s *UserService) IsAdmin(ctx context.Context, id int64) (bool, error) {
	if slices.Contains(s.adminIDs, id) {
		return true, nil
	}
	u, err := s.users.Get(ctx, id)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin && !u.IsBanned, nil
}

func (s *UserService) RequireAdmin(ctx context.Context, actorID int64) error {
	ok, err := s.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return model.Forbidden(actorID)
	}
	return nil
}

func (s *UserService) SetAdmin(ctx context.Context, actorID, userID int64, admin bool) error {
	if err := s.RequireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := s.users.SetAdmin(ctx, userID, admin); err != nil {
		return err
	}
	s.audit.System(ctx, model.LevelInfo, "users", "user %d set admin=%t on user %d", actorID, admin, userID)
	return nil
}

func (s *UserService) SetBanned(ctx context.Context, actorID, userID int64, banned bool) error {
	if err := s.RequireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := s.users.SetBanned(ctx, userID, banned); err != nil {
		return err
	}
	s.audit.System(ctx, model.LevelWarn, "users", "user %d set banned=%t on user %d", actorID, banned, userID)
	return nil
}
