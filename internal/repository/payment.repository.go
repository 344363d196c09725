package repository

import (
	"context"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/pg"
)

type PaymentRepository struct {
	*pg.DB
}

func NewPaymentRepository(db *pg.DB) *PaymentRepository {
	return &PaymentRepository{
		db,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, p *model.Payment) (*model.Payment, error) {
	entity := toPaymentEntity(p)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, translate(err, "payment", p.ID)
	}

	return toPaymentModel(entity), nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*model.Payment, error) {
	var entity PaymentEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, translate(err, "payment", id)
	}
	return toPaymentModel(&entity), nil
}

func (r *PaymentRepository) Lock(ctx context.Context, id string) (*model.Payment, error) {
	var entity PaymentEntity
	if err := r.ForUpdate(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, translate(err, "payment", id)
	}
	return toPaymentModel(&entity), nil
}

// FindOpen returns the pending payment of buyer for number.
func (r *PaymentRepository) FindOpen(ctx context.Context, userID, numberID int64) (*model.Payment, error) {
	var entity PaymentEntity
	err := r.Read(ctx).
		Where("user_id = ? AND number_id = ? AND status = ?", userID, numberID, string(model.PaymentStatusPending)).
		First(&entity).Error
	if err != nil {
		return nil, translate(err, "payment", numberID)
	}
	return toPaymentModel(&entity), nil
}

// Transition moves the payment from one status to another and writes the
// extra columns. It reports false when the payment is no longer in from,
// which is how the first committer wins.
func (r *PaymentRepository) Transition(ctx context.Context, id string, from, to model.PaymentStatus, fields map[string]any) (bool, error) {
	update := map[string]any{"status": string(to)}
	for k, v := range fields {
		update[k] = v
	}
	res := r.Write(ctx).Model(&PaymentEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(update)
	if res.Error != nil {
		return false, translate(res.Error, "payment", id)
	}
	return res.RowsAffected == 1, nil
}

// SetInvoice stores the provider URL and reference of a pending payment.
func (r *PaymentRepository) SetInvoice(ctx context.Context, id string, inv model.Invoice) error {
	res := r.Write(ctx).Model(&PaymentEntity{}).
		Where("id = ? AND status = ?", id, string(model.PaymentStatusPending)).
		Updates(map[string]any{
			"provider_url": optionalString(inv.URL),
			"provider_ref": optionalString(inv.Ref),
		})
	if res.Error != nil {
		return translate(res.Error, "payment", id)
	}
	if res.RowsAffected == 0 {
		return model.NotAvailable("payment is no longer pending").With("payment_id", id)
	}
	return nil
}

// ExpiredPending lists pending payments whose deadline passed before now.
func (r *PaymentRepository) ExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var entities []*PaymentEntity
	err := r.Read(ctx).
		Where("status = ? AND expires_at < ?", string(model.PaymentStatusPending), now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, translate(err, "payment", nil)
	}
	return toPaymentModels(entities), nil
}

// PendingExternal lists pending payments handled by an external provider,
// oldest first.
func (r *PaymentRepository) PendingExternal(ctx context.Context, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var entities []*PaymentEntity
	err := r.Read(ctx).
		Where("status = ? AND provider <> ?", string(model.PaymentStatusPending), model.ProviderBalance).
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, translate(err, "payment", nil)
	}
	return toPaymentModels(entities), nil
}

type PaymentFilter struct {
	UserID   *int64
	NumberID *int64
	Statuses []model.PaymentStatus
	Limit    int
	Offset   int
}

func (r *PaymentRepository) List(ctx context.Context, f PaymentFilter) ([]*model.Payment, error) {
	q := r.Read(ctx).Model(&PaymentEntity{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.NumberID != nil {
		q = q.Where("number_id = ?", *f.NumberID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*PaymentEntity
	if err := q.Order("created_at DESC, id ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, translate(err, "payment", nil)
	}
	return toPaymentModels(entities), nil
}
