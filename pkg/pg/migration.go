package pg

import (
	"context"
	"errors"
	"io/fs"

	_ "github.com/lib/pq"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/pressly/goose/v3"
)

var ErrResetForbidden = errors.New("destructive reset is only allowed in the dev environment")

// Migrate brings the schema up to date without touching existing rows.
// PostgreSQL runs the versioned goose scripts from fsys/dir; SQLite is built
// from the gorm entities, which carry the same constraints.
func (r *DB) Migrate(ctx context.Context, fsys fs.FS, dir string, entities ...any) error {
	if r.dialect == DialectSQLite {
		logger.Info("migrating sqlite schema from entities", "tables", len(entities))
		return r.write.WithContext(ctx).AutoMigrate(entities...)
	}

	db, err := newSqlConnection(r.url)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(string(DialectPostgres)); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return err
	}
	logger.Info("migrations applied", "dir", dir)
	return nil
}

// Reset drops every table and rebuilds the schema. Developer tooling only.
func (r *DB) Reset(ctx context.Context, dev bool, fsys fs.FS, dir string, entities ...any) error {
	if !dev {
		return ErrResetForbidden
	}
	logger.Warn("resetting database schema", "dialect", r.dialect)

	if r.dialect == DialectSQLite {
		if err := r.write.WithContext(ctx).Migrator().DropTable(entities...); err != nil {
			return err
		}
		return r.Migrate(ctx, fsys, dir, entities...)
	}

	db, err := newSqlConnection(r.url)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(string(DialectPostgres)); err != nil {
		return err
	}
	if err := goose.ResetContext(ctx, db, dir); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, dir)
}
