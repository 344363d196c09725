package repository

import (
	"context"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CodeDeliveryRepository struct {
	*pg.DB
}

func NewCodeDeliveryRepository(db *pg.DB) *CodeDeliveryRepository {
	return &CodeDeliveryRepository{
		db,
	}
}

// CreateIfAbsent inserts the delivery unless one exists for the same
// (number, code). The bool is true only for the caller that inserted it.
func (r *CodeDeliveryRepository) CreateIfAbsent(ctx context.Context, d *model.CodeDelivery) (*model.CodeDelivery, bool, error) {
	entity := &CodeDeliveryEntity{
		NumberID:  d.NumberID,
		UserID:    d.UserID,
		Phone:     d.Phone,
		Code:      d.Code,
		ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt,
	}
	res := r.Write(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entity)
	if res.Error != nil {
		return nil, false, translate(res.Error, "code delivery", d.NumberID)
	}
	if res.RowsAffected == 1 {
		return toCodeDeliveryModel(entity), true, nil
	}

	var existing CodeDeliveryEntity
	err := r.Write(ctx).Where("number_id = ? AND code = ?", d.NumberID, d.Code).First(&existing).Error
	if err != nil {
		return nil, false, translate(err, "code delivery", d.NumberID)
	}
	return toCodeDeliveryModel(&existing), false, nil
}

func (r *CodeDeliveryRepository) Get(ctx context.Context, id int64) (*model.CodeDelivery, error) {
	var entity CodeDeliveryEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, translate(err, "code delivery", id)
	}
	return toCodeDeliveryModel(&entity), nil
}

// Latest returns the newest delivery for a number that has not expired at now.
func (r *CodeDeliveryRepository) Latest(ctx context.Context, numberID int64, now time.Time) (*model.CodeDelivery, error) {
	var entity CodeDeliveryEntity
	err := r.Read(ctx).
		Where("number_id = ? AND expires_at > ?", numberID, now).
		Order("created_at DESC, id DESC").
		First(&entity).Error
	if err != nil {
		return nil, translate(err, "code delivery", numberID)
	}
	return toCodeDeliveryModel(&entity), nil
}

func (r *CodeDeliveryRepository) IncrementAttempts(ctx context.Context, id int64) error {
	res := r.Write(ctx).Model(&CodeDeliveryEntity{}).Where("id = ?", id).Update("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return translate(res.Error, "code delivery", id)
	}
	if res.RowsAffected == 0 {
		return model.NotFound("code delivery", id)
	}
	return nil
}
