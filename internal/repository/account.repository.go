package repository

import (
	"context"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/pg"
)

type AccountRepository struct {
	*pg.DB
}

func NewAccountRepository(db *pg.DB) *AccountRepository {
	return &AccountRepository{
		db,
	}
}

func (r *AccountRepository) Create(ctx context.Context, acc *model.Account) (*model.Account, error) {
	entity := toAccountEntity(acc)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, translate(err, "account", acc.Phone)
	}

	return toAccountModel(entity), nil
}

func (r *AccountRepository) Get(ctx context.Context, phone string) (*model.Account, error) {
	var entity AccountEntity
	if err := r.Read(ctx).Where("phone = ?", phone).First(&entity).Error; err != nil {
		return nil, translate(err, "account", phone)
	}
	return toAccountModel(&entity), nil
}

func (r *AccountRepository) Lock(ctx context.Context, phone string) (*model.Account, error) {
	var entity AccountEntity
	if err := r.ForUpdate(ctx).Where("phone = ?", phone).First(&entity).Error; err != nil {
		return nil, translate(err, "account", phone)
	}
	return toAccountModel(&entity), nil
}

type AccountFilter struct {
	Status *model.AccountStatus
	Limit  int
	Offset int
}

func (r *AccountRepository) List(ctx context.Context, f AccountFilter) ([]*model.Account, int64, error) {
	q := r.Read(ctx).Model(&AccountEntity{})
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "account", nil)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*AccountEntity
	if err := q.Order("added_at ASC, phone ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, translate(err, "account", nil)
	}
	return toAccountModels(entities), total, nil
}

// Update writes the given columns. Keys are column names.
func (r *AccountRepository) Update(ctx context.Context, phone string, fields map[string]any) error {
	res := r.Write(ctx).Model(&AccountEntity{}).Where("phone = ?", phone).Updates(fields)
	if res.Error != nil {
		return translate(res.Error, "account", phone)
	}
	if res.RowsAffected == 0 {
		return model.NotFound("account", phone)
	}
	return nil
}
