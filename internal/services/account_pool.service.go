package services

import (
	"context"
	"strings"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/repository"
)

const (
	FailureThreshold = 3
	FailureWindow    = 15 * time.Minute
	DefaultCodeTTL   = 5 * time.Minute
)

// OwnerResolver asks the phone-session runtime who currently owns an account.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, acc *model.Account) (model.Owner, error)
}

// CodeSink receives codes that landed on a number sold to a buyer.
type CodeSink interface {
	DeliverCode(ctx context.Context, numberID int64, code string, expiresAt time.Time) (*model.CodeDelivery, bool, error)
}

type AccountPoolService struct {
	db       Transactor
	accounts AccountRepository
	numbers  NumberRepository
	admins   AdminChecker
	audit    *AuditService
	owners   OwnerResolver
	codes    CodeSink
	codeTTL  time.Duration
	now      Clock
}

func NewAccountPoolService(db Transactor, accounts AccountRepository, numbers NumberRepository, admins AdminChecker, audit *AuditService, owners OwnerResolver, codeTTL time.Duration) *AccountPoolService {
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}
	return &AccountPoolService{
		db:       db,
		accounts: accounts,
		numbers:  numbers,
		admins:   admins,
		audit:    audit,
		owners:   owners,
		codeTTL:  codeTTL,
		now:      utcNow,
	}
}

// SetCodeSink wires delivery of codes that arrive on sold numbers.
func (s *AccountPoolService) SetCodeSink(sink CodeSink) {
	s.codes = sink
}

func (s *AccountPoolService) Add(ctx context.Context, actorID int64, req model.AccountCreateRequest) (*model.Account, error) {
	if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, model.Invalid(err.Error())
	}
	phone, err := model.CanonicalPhone(req.Phone)
	if err != nil {
		return nil, err
	}

	acc, err := s.accounts.Create(ctx, &model.Account{
		Phone:       phone,
		SessionName: strings.TrimSpace(req.SessionName),
		APIID:       req.APIID,
		APIHash:     req.APIHash,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Username:    req.Username,
		UserID:      req.UserID,
		Status:      model.AccountStatusActive,
		AddedBy:     actorID,
		AddedAt:     s.now(),
		Notes:       req.Notes,
	})
	if err != nil {
		s.audit.Session(ctx, phone, model.SessionActionAdd, model.SessionResultFailure, err.Error())
		return nil, err
	}

	s.audit.Session(ctx, phone, model.SessionActionAdd, model.SessionResultSuccess, "")
	return acc, nil
}

func (s *AccountPoolService) Get(ctx context.Context, phone string) (*model.Account, error) {
	phone, err := model.CanonicalPhone(phone)
	if err != nil {
		return nil, err
	}
	return s.accounts.Get(ctx, phone)
}

func (s *AccountPoolService) List(ctx context.Context, f repository.AccountFilter) ([]*model.Account, int64, error) {
	return s.accounts.List(ctx, f)
}

func (s *AccountPoolService) SetStatus(ctx context.Context, actorID int64, phone string, status model.AccountStatus) error {
	if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return err
	}
	if !status.Valid() {
		return model.Invalid("unknown account status").With("status", string(status))
	}
	phone, err := model.CanonicalPhone(phone)
	if err != nil {
		return err
	}
	if err := s.accounts.Update(ctx, phone, map[string]any{"status": string(status)}); err != nil {
		return err
	}
	s.audit.Session(ctx, phone, model.SessionActionStatus, model.SessionResultSuccess, "status set to "+string(status))
	return nil
}

// MarkBanned records that the platform banned or spam-blocked the account.
func (s *AccountPoolService) MarkBanned(ctx context.Context, phone string, spamBlock bool) error {
	phone, err := model.CanonicalPhone(phone)
	if err != nil {
		return err
	}
	column, note := "is_banned", "banned"
	if spamBlock {
		column, note = "spam_block", "spam blocked"
	}
	if err := s.accounts.Update(ctx, phone, map[string]any{column: true}); err != nil {
		return err
	}
	s.audit.Session(ctx, phone, model.SessionActionBanned, model.SessionResultFlagged, note)
	s.audit.System(ctx, model.LevelWarn, "accounts", "account %s %s", phone, note)
	return nil
}

// RecordSuccess notes a successful session operation on the account.
func (s *AccountPoolService) RecordSuccess(ctx context.Context, phone string, action model.SessionAction) error {
	phone, err := model.CanonicalPhone(phone)
	if err != nil {
		return err
	}
	if err := s.accounts.Update(ctx, phone, map[string]any{"last_used": s.now()}); err != nil {
		return err
	}
	s.audit.Session(ctx, phone, action, model.SessionResultSuccess, "")
	return nil
}

// RecordFailure logs a failed session operation. After FailureThreshold
// consecutive failures inside FailureWindow an active account moves to
// error. The bool reports that transition.
func (s *AccountPoolService) RecordFailure(ctx context.Context, phone string, errText string) (bool, error) {
	phone, err := model.CanonicalPhone(phone)
	if err != nil {
		return false, err
	}
	if _, err := s.accounts.Get(ctx, phone); err != nil {
		return false, err
	}
	s.audit.Session(ctx, phone, model.SessionActionError, model.SessionResultFailure, errText)

	recent, err := s.audit.Recent(ctx, phone, 2*FailureThreshold)
	if err != nil {
		return false, err
	}
	if !consecutiveFailures(recent, s.now()) {
		return false, nil
	}

	tripped := false
	err = inTx(ctx, s.db, "accounts.record_failure", func(ctx context.Context) error {
		acc, err := s.accounts.Lock(ctx, phone)
		if err != nil {
			return err
		}
		if acc.Status != model.AccountStatusActive {
			return nil
		}
		tripped = true
		return s.accounts.Update(ctx, phone, map[string]any{"status": string(model.AccountStatusError)})
	})
	if err != nil || !tripped {
		return false, err
	}

	s.audit.Session(ctx, phone, model.SessionActionStatus, model.SessionResultSuccess, "status set to error after repeated failures")
	s.audit.System(ctx, model.LevelWarn, "accounts", "account %s moved to error after %d failures", phone, FailureThreshold)
	return true, nil
}

// consecutiveFailures walks recent rows newest first. Flagged rows are
// skipped; any other non-failure ends the run.
func consecutiveFailures(recent []*model.SessionLog, now time.Time) bool {
	run := 0
	for _, l := range recent {
		switch l.Result {
		case model.SessionResultFlagged:
			continue
		case model.SessionResultFailure:
			if now.Sub(l.CreatedAt) > FailureWindow {
				return false
			}
			run++
			if run == FailureThreshold {
				return true
			}
		default:
			return false
		}
	}
	return false
}

// OwnerCheck re-attributes the owner fields from the session runtime.
func (s *AccountPoolService) OwnerCheck(ctx context.Context, actorID int64, phone string) (*model.Account, error) {
	if err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	phone, err := model.CanonicalPhone(phone)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.Get(ctx, phone)
	if err != nil {
		return nil, err
	}
	if s.owners == nil {
		return nil, model.Invalid("owner checks are not configured")
	}

	owner, err := s.owners.ResolveOwner(ctx, acc)
	if err != nil {
		s.audit.Session(ctx, phone, model.SessionActionOwnerCheck, model.SessionResultFailure, err.Error())
		return nil, err
	}

	err = s.accounts.Update(ctx, phone, map[string]any{
		"owner_id":      owner.UserID,
		"owner_handle":  owner.Handle,
		"owner_checked": true,
	})
	if err != nil {
		return nil, err
	}
	s.audit.Session(ctx, phone, model.SessionActionOwnerCheck, model.SessionResultSuccess, "")
	return s.accounts.Get(ctx, phone)
}

// RecordCode stores a code that arrived on the account and propagates it to
// the reserved or sold number the account backs. Sold numbers are handed to
// the code sink for delivery.
func (s *AccountPoolService) RecordCode(ctx context.Context, phone, code string) (*model.Number, error) {
	phone, err := model.CanonicalPhone(phone)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, model.Invalid("code is required")
	}

	now := s.now()
	expires := now.Add(s.codeTTL)

	var linked *model.Number
	err = inTx(ctx, s.db, "accounts.record_code", func(ctx context.Context) error {
		err := s.accounts.Update(ctx, phone, map[string]any{
			"last_code":      code,
			"last_code_time": now,
			"last_used":      now,
		})
		if err != nil {
			return err
		}

		n, err := s.numbers.FindLinkedToAccount(ctx, phone)
		if err != nil {
			if model.KindOf(err) == model.KindNotFound {
				return nil
			}
			return err
		}
		ok, err := s.numbers.SetCode(ctx, n.ID, code, expires, now)
		if err != nil {
			return err
		}
		if ok {
			n.Code, n.CodeExpires = code, &expires
			linked = n
		}
		return nil
	})
	if err != nil {
		s.audit.Session(ctx, phone, model.SessionActionCodeReceived, model.SessionResultFailure, err.Error())
		return nil, err
	}
	s.audit.Session(ctx, phone, model.SessionActionCodeReceived, model.SessionResultSuccess, "")

	if linked != nil && linked.Status == model.NumberStatusSold && s.codes != nil {
		if _, _, err := s.codes.DeliverCode(ctx, linked.ID, code, expires); err != nil {
			return linked, err
		}
	}
	return linked, nil
}
