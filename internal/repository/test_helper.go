package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/nimasrn/number-market/pkg/pg"
	"github.com/stretchr/testify/require"
)

// NewTestDB opens a private in-memory SQLite database with the full schema.
func NewTestDB(t testing.TB) *pg.DB {
	t.Helper()

	url := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	db, err := pg.Open(url, "", false)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background(), nil, "", Entities()...))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// NewTestStore is NewTestDB wrapped in a Store.
func NewTestStore(t testing.TB) *Store {
	return NewStore(NewTestDB(t))
}
