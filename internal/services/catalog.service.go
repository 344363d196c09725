package services

import (
	"context"
	"strings"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/shopspring/decimal"
)

type CatalogService struct {
	db       Transactor
	numbers  NumberRepository
	accounts AccountRepository
	admins   AdminChecker
	audit    *AuditService
	now      Clock
}

func NewCatalogService(db Transactor, numbers NumberRepository, accounts AccountRepository, admins AdminChecker, audit *AuditService) *CatalogService {
	return &CatalogService{
		db:       db,
		numbers:  numbers,
		accounts: accounts,
		admins:   admins,
		audit:    audit,
		now:      utcNow,
	}
}

func (s *CatalogService) ListAvailable(ctx context.Context, f model.NumberFilter) ([]*model.Number, int64, error) {
	f.Country = strings.TrimSpace(f.Country)
	return s.numbers.ListAvailable(ctx, f)
}

func (s *CatalogService) Get(ctx context.Context, id int64) (*model.Number, error) {
	return s.numbers.Get(ctx, id)
}

// Publish lists the number of an active account. A retired listing that was
// never sold is reused; any other existing listing is a conflict.
func (s *CatalogService) Publish(ctx context.Context, actorID int64, req model.NumberPublishRequest) (*model.Number, error) {
	if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, model.Invalid(err.Error())
	}
	phone, err := model.CanonicalPhone(req.AccountPhone)
	if err != nil {
		return nil, err
	}

	var published *model.Number
	err = inTx(ctx, s.db, "catalog.publish", func(ctx context.Context) error {
		acc, err := s.accounts.Lock(ctx, phone)
		if err != nil {
			return err
		}
		if !acc.Healthy() {
			return model.AccountUnhealthy(phone, acc.UnhealthyReason())
		}

		now := s.now()
		existing, err := s.numbers.GetByPhone(ctx, phone)
		switch {
		case err == nil:
			if existing.Status != model.NumberStatusRetired || existing.SoldAt != nil {
				return model.AlreadyExists("number", phone).With("status", string(existing.Status))
			}
			ok, err := s.numbers.Reopen(ctx, existing.ID, map[string]any{
				"country":     req.Country,
				"description": req.Description,
				"price_stars": req.PriceStars,
				"price_fiat":  req.PriceFiat.Round(model.FiatScale),
			}, now)
			if err != nil {
				return err
			}
			if !ok {
				return model.AlreadyExists("number", phone)
			}
			published, err = s.numbers.Get(ctx, existing.ID)
			return err
		case model.KindOf(err) != model.KindNotFound:
			return err
		}

		published, err = s.numbers.Create(ctx, &model.Number{
			Phone:        phone,
			Country:      req.Country,
			Description:  req.Description,
			PriceStars:   req.PriceStars,
			PriceFiat:    req.PriceFiat.Round(model.FiatScale),
			Status:       model.NumberStatusAvailable,
			AccountPhone: phone,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.System(ctx, model.LevelInfo, "catalog", "user %d published number %d (%s) for %d stars / %s",
		actorID, published.ID, phone, published.PriceStars, published.PriceFiat.StringFixed(model.FiatScale))
	return published, nil
}

// Retire takes an available number off sale. Reserved and sold numbers
// cannot be retired here; a sold number is retired by its refund.
func (s *CatalogService) Retire(ctx context.Context, actorID, numberID int64) error {
	if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return err
	}

	ok, err := s.numbers.Retire(ctx, numberID, model.NumberStatusAvailable, s.now())
	if err != nil {
		return err
	}
	if !ok {
		n, err := s.numbers.Get(ctx, numberID)
		if err != nil {
			return err
		}
		if n.Status == model.NumberStatusRetired {
			return nil
		}
		return model.NotAvailable("only available numbers can be retired").
			With("number_id", numberID).
			With("status", string(n.Status))
	}

	s.audit.System(ctx, model.LevelInfo, "catalog", "user %d retired number %d", actorID, numberID)
	return nil
}

// Relist returns a retired, never sold number to sale while its account is
// still healthy.
func (s *CatalogService) Relist(ctx context.Context, actorID, numberID int64) (*model.Number, error) {
	if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}

	var relisted *model.Number
	err := inTx(ctx, s.db, "catalog.relist", func(ctx context.Context) error {
		n, err := s.numbers.Lock(ctx, numberID)
		if err != nil {
			return err
		}
		if n.Status != model.NumberStatusRetired {
			return model.NotAvailable("only retired numbers can be relisted").
				With("number_id", numberID).
				With("status", string(n.Status))
		}
		if n.SoldAt != nil {
			return model.NotAvailable("sold numbers cannot return to sale").With("number_id", numberID)
		}

		acc, err := s.accounts.Lock(ctx, n.AccountPhone)
		if err != nil {
			return err
		}
		if !acc.Healthy() {
			return model.AccountUnhealthy(acc.Phone, acc.UnhealthyReason())
		}

		ok, err := s.numbers.Reopen(ctx, numberID, nil, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return model.NotAvailable("number changed concurrently").With("number_id", numberID)
		}
		relisted, err = s.numbers.Get(ctx, numberID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.System(ctx, model.LevelInfo, "catalog", "user %d relisted number %d", actorID, numberID)
	return relisted, nil
}

// Reprice changes the price of an available number. Open payments keep the
// price they captured.
func (s *CatalogService) Reprice(ctx context.Context, actorID, numberID int64, stars int64, fiat decimal.Decimal) (*model.Number, error) {
	if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if stars <= 0 || !fiat.IsPositive() {
		return nil, model.Invalid("prices must be positive")
	}

	ok, err := s.numbers.Reprice(ctx, numberID, stars, fiat, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.numbers.Get(ctx, numberID); err != nil {
			return nil, err
		}
		return nil, model.NotAvailable("only available numbers can be repriced").With("number_id", numberID)
	}

	s.audit.System(ctx, model.LevelInfo, "catalog", "user %d repriced number %d to %d stars / %s",
		actorID, numberID, stars, fiat.StringFixed(model.FiatScale))
	return s.numbers.Get(ctx, numberID)
}
