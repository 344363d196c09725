package repository

import (
	"errors"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/pg"
)

// translate maps store errors to domain errors so nothing above the
// repositories sees driver or SQL state.
func translate(err error, entity string, key any) error {
	if err == nil {
		return nil
	}
	var domainErr *model.Error
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case pg.IsNotFound(err):
		return model.NotFound(entity, key)
	case pg.IsDuplicate(err):
		return model.AlreadyExists(entity, key)
	case pg.IsForeignKey(err):
		return model.NewError(model.KindNotFound, entity+" references a missing row", err).With("key", key)
	case pg.IsCheckViolation(err):
		return model.NewError(model.KindInvalid, entity+" violates a store constraint", err).With("key", key)
	case pg.IsTransient(err), errors.Is(err, pg.ErrRetriesExhausted):
		return model.Transient(err)
	}
	return err
}
