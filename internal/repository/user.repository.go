package repository

import (
	"context"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/pg"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

// Ensure creates the user on first contact and refreshes the handle, name
// and last activity otherwise. The bool reports whether a row was created.
func (r *UserRepository) Ensure(ctx context.Context, c model.Contact, now time.Time) (*model.User, bool, error) {
	entity := &UserEntity{
		ID:           c.ID,
		Username:     optionalString(c.Username),
		FullName:     optionalString(c.FullName),
		BalanceFiat:  decimal.Zero,
		RegisteredAt: now,
		LastActivity: now,
	}

	res := r.Write(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entity)
	if res.Error != nil {
		return nil, false, translate(res.Error, "user", c.ID)
	}
	created := res.RowsAffected == 1

	if !created {
		err := r.Write(ctx).Model(&UserEntity{}).
			Where("id = ?", c.ID).
			Updates(map[string]any{
				"username":      optionalString(c.Username),
				"full_name":     optionalString(c.FullName),
				"last_activity": now,
			}).Error
		if err != nil {
			return nil, false, translate(err, "user", c.ID)
		}
	}

	user, err := r.Get(ctx, c.ID)
	return user, created, err
}

func (r *UserRepository) Get(ctx context.Context, id int64) (*model.User, error) {
	var entity UserEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, translate(err, "user", id)
	}
	return toUserModel(&entity), nil
}

// Lock reads the user row with a row lock held until the surrounding
// transaction ends.
func (r *UserRepository) Lock(ctx context.Context, id int64) (*model.User, error) {
	var entity UserEntity
	if err := r.ForUpdate(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, translate(err, "user", id)
	}
	return toUserModel(&entity), nil
}

// AdjustBalance adds delta (negative to debit) to one balance. The update
// is conditional on the result staying non-negative; a zero row count means
// the user is missing or the funds are insufficient.
func (r *UserRepository) AdjustBalance(ctx context.Context, id int64, delta model.Money, now time.Time) error {
	var res *gorm.DB
	q := r.Write(ctx).Model(&UserEntity{})

	switch delta.Currency {
	case model.CurrencyStars:
		res = q.Where("id = ? AND balance_stars + ? >= 0", id, delta.Stars).
			Updates(map[string]any{
				"balance_stars": gorm.Expr("balance_stars + ?", delta.Stars),
				"last_activity": now,
			})
	case model.CurrencyFiat:
		amount := delta.Fiat.Round(model.FiatScale)
		res = q.Where("id = ? AND balance_fiat + ? >= 0", id, amount).
			Updates(map[string]any{
				"balance_fiat":  gorm.Expr("balance_fiat + ?", amount),
				"last_activity": now,
			})
	default:
		return model.Invalid("unknown currency").With("currency", string(delta.Currency))
	}

	if res.Error != nil {
		return translate(res.Error, "user", id)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return r.adjustFailureReason(ctx, id, delta)
}

func (r *UserRepository) adjustFailureReason(ctx context.Context, id int64, delta model.Money) error {
	user, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	balance := user.Balance(delta.Currency)
	need := delta
	need.Stars = -need.Stars
	need.Fiat = need.Fiat.Neg()
	return model.InsufficientFunds(delta.Currency, balance.String(), need.String()).With("user_id", id)
}

func (r *UserRepository) SetAdmin(ctx context.Context, id int64, admin bool) error {
	return r.setFlag(ctx, id, "is_admin", admin)
}

func (r *UserRepository) SetBanned(ctx context.Context, id int64, banned bool) error {
	return r.setFlag(ctx, id, "is_banned", banned)
}

func (r *UserRepository) setFlag(ctx context.Context, id int64, column string, value bool) error {
	res := r.Write(ctx).Model(&UserEntity{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return translate(res.Error, "user", id)
	}
	if res.RowsAffected == 0 {
		return model.NotFound("user", id)
	}
	return nil
}

func (r *UserRepository) Touch(ctx context.Context, id int64, now time.Time) error {
	return translate(r.Write(ctx).Model(&UserEntity{}).Where("id = ?", id).Update("last_activity", now).Error, "user", id)
}

// ListAdmins returns users flagged as administrators in the store.
func (r *UserRepository) ListAdmins(ctx context.Context) ([]*model.User, error) {
	var entities []*UserEntity
	if err := r.Read(ctx).Where("is_admin = ?", true).Order("id").Find(&entities).Error; err != nil {
		return nil, translate(err, "user", nil)
	}
	users := make([]*model.User, len(entities))
	for i, e := range entities {
		users[i] = toUserModel(e)
	}
	return users, nil
}
