package repository

import (
	"context"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/pg"
	"github.com/shopspring/decimal"
)

type NumberRepository struct {
	*pg.DB
}

func NewNumberRepository(db *pg.DB) *NumberRepository {
	return &NumberRepository{
		db,
	}
}

func (r *NumberRepository) Create(ctx context.Context, n *model.Number) (*model.Number, error) {
	entity := toNumberEntity(n)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, translate(err, "number", n.Phone)
	}

	return toNumberModel(entity), nil
}

func (r *NumberRepository) Get(ctx context.Context, id int64) (*model.Number, error) {
	var entity NumberEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, translate(err, "number", id)
	}
	return toNumberModel(&entity), nil
}

func (r *NumberRepository) GetByPhone(ctx context.Context, phone string) (*model.Number, error) {
	var entity NumberEntity
	if err := r.Read(ctx).Where("phone = ?", phone).First(&entity).Error; err != nil {
		return nil, translate(err, "number", phone)
	}
	return toNumberModel(&entity), nil
}

func (r *NumberRepository) Lock(ctx context.Context, id int64) (*model.Number, error) {
	var entity NumberEntity
	if err := r.ForUpdate(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, translate(err, "number", id)
	}
	return toNumberModel(&entity), nil
}

// ListAvailable orders by ascending price, then insertion order, so pages
// are stable across reads.
func (r *NumberRepository) ListAvailable(ctx context.Context, f model.NumberFilter) ([]*model.Number, int64, error) {
	q := r.Read(ctx).Model(&NumberEntity{}).Where("status = ?", string(model.NumberStatusAvailable))
	if f.Country != "" {
		q = q.Where("country = ?", f.Country)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "number", nil)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*NumberEntity
	err := q.Order("price_stars ASC, price_fiat ASC, id ASC").Limit(limit).Offset(offset).Find(&entities).Error
	if err != nil {
		return nil, 0, translate(err, "number", nil)
	}
	return toNumberModels(entities), total, nil
}

// transition applies fields to the number only while it is in from. The
// bool is false when another writer moved it first.
func (r *NumberRepository) transition(ctx context.Context, id int64, from model.NumberStatus, where string, fields map[string]any, args ...any) (bool, error) {
	q := r.Write(ctx).Model(&NumberEntity{}).Where("id = ? AND status = ?", id, string(from))
	if where != "" {
		q = q.Where(where, args...)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return false, translate(res.Error, "number", id)
	}
	return res.RowsAffected == 1, nil
}

func (r *NumberRepository) Reserve(ctx context.Context, id, userID int64, until, now time.Time) (bool, error) {
	return r.transition(ctx, id, model.NumberStatusAvailable, "", map[string]any{
		"status":         string(model.NumberStatusReserved),
		"sold_to":        userID,
		"reserved_until": until,
		"updated_at":     now,
	})
}

// Release returns a reservation held by userID to the catalog.
func (r *NumberRepository) Release(ctx context.Context, id, userID int64, now time.Time) (bool, error) {
	return r.transition(ctx, id, model.NumberStatusReserved, "sold_to = ?", map[string]any{
		"status":         string(model.NumberStatusAvailable),
		"sold_to":        nil,
		"reserved_until": nil,
		"code":           nil,
		"code_expires":   nil,
		"updated_at":     now,
	}, userID)
}

func (r *NumberRepository) MarkSold(ctx context.Context, id, userID int64, now time.Time) (bool, error) {
	return r.transition(ctx, id, model.NumberStatusReserved, "sold_to = ?", map[string]any{
		"status":         string(model.NumberStatusSold),
		"sold_at":        now,
		"reserved_until": nil,
		"updated_at":     now,
	}, userID)
}

// Retire moves a number from one of the given states to retired.
func (r *NumberRepository) Retire(ctx context.Context, id int64, from model.NumberStatus, now time.Time) (bool, error) {
	return r.transition(ctx, id, from, "", map[string]any{
		"status":     string(model.NumberStatusRetired),
		"updated_at": now,
	})
}

// Reopen lists a retired number that was never sold, optionally with new
// pricing and description.
func (r *NumberRepository) Reopen(ctx context.Context, id int64, fields map[string]any, now time.Time) (bool, error) {
	update := map[string]any{
		"status":     string(model.NumberStatusAvailable),
		"sold_to":    nil,
		"updated_at": now,
	}
	for k, v := range fields {
		update[k] = v
	}
	return r.transition(ctx, id, model.NumberStatusRetired, "sold_at IS NULL", update)
}

func (r *NumberRepository) Reprice(ctx context.Context, id int64, stars int64, fiat decimal.Decimal, now time.Time) (bool, error) {
	return r.transition(ctx, id, model.NumberStatusAvailable, "", map[string]any{
		"price_stars": stars,
		"price_fiat":  fiat.Round(model.FiatScale),
		"updated_at":  now,
	})
}

// SetCode attaches a code to a reserved or sold number.
func (r *NumberRepository) SetCode(ctx context.Context, id int64, code string, expires, now time.Time) (bool, error) {
	res := r.Write(ctx).Model(&NumberEntity{}).
		Where("id = ? AND status IN ?", id, []string{string(model.NumberStatusReserved), string(model.NumberStatusSold)}).
		Updates(map[string]any{
			"code":         code,
			"code_expires": expires,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, translate(res.Error, "number", id)
	}
	return res.RowsAffected == 1, nil
}

// FindLinkedToAccount returns the reserved or sold number backed by the
// account phone, if any.
func (r *NumberRepository) FindLinkedToAccount(ctx context.Context, accountPhone string) (*model.Number, error) {
	var entity NumberEntity
	err := r.Read(ctx).
		Where("account_phone = ? AND status IN ?", accountPhone, []string{string(model.NumberStatusReserved), string(model.NumberStatusSold)}).
		Order("id DESC").
		First(&entity).Error
	if err != nil {
		return nil, translate(err, "number", accountPhone)
	}
	return toNumberModel(&entity), nil
}

// ExpiredReservations lists reserved numbers whose hold ended before now.
func (r *NumberRepository) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*model.Number, error) {
	if limit <= 0 {
		limit = 100
	}
	var entities []*NumberEntity
	err := r.Read(ctx).
		Where("status = ? AND reserved_until IS NOT NULL AND reserved_until < ?", string(model.NumberStatusReserved), now).
		Order("reserved_until ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, translate(err, "number", nil)
	}
	return toNumberModels(entities), nil
}

// ListBySoldTo returns numbers held or bought by a user, newest first.
func (r *NumberRepository) ListBySoldTo(ctx context.Context, userID int64) ([]*model.Number, error) {
	var entities []*NumberEntity
	err := r.Read(ctx).Where("sold_to = ?", userID).Order("id DESC").Find(&entities).Error
	if err != nil {
		return nil, translate(err, "number", userID)
	}
	return toNumberModels(entities), nil
}
