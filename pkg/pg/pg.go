package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

type txContextKey string

const txKey txContextKey = "trx"

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type DB struct {
	read    *gorm.DB
	write   *gorm.DB
	dialect Dialect
	url     string
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// DialectOf picks the backend from the URL scheme. postgres:// and
// postgresql:// select PostgreSQL, sqlite:// and file: select the embedded
// SQLite file.
func DialectOf(url string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DialectPostgres, url, nil
	case strings.HasPrefix(url, "sqlite://"):
		return DialectSQLite, strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasPrefix(url, "file:"):
		return DialectSQLite, url, nil
	}
	return "", "", fmt.Errorf("unsupported database url scheme: %q", url)
}

func Create(url string, withDebug bool) (*gorm.DB, Dialect, error) {
	dialect, dsn, err := DialectOf(url)
	if err != nil {
		return nil, "", err
	}

	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, "", err
	}

	if dialect == DialectSQLite {
		// one writer at a time; sqlite has no row locks
		sqlDB, err := db.DB()
		if err != nil {
			return nil, "", err
		}
		sqlDB.SetMaxOpenConns(1)
		db.Exec("PRAGMA foreign_keys = ON")
	}

	if withDebug {
		db = db.Debug()
	}
	return db, dialect, nil
}

// Open connects the write pool and, when readURL is set, a separate read
// pool. Both must use the same backend.
func Open(writeURL, readURL string, withDebug bool) (*DB, error) {
	write, dialect, err := Create(writeURL, withDebug)
	if err != nil {
		return nil, err
	}
	read := write
	if readURL != "" && readURL != writeURL {
		var readDialect Dialect
		read, readDialect, err = Create(readURL, withDebug)
		if err != nil {
			return nil, err
		}
		if readDialect != dialect {
			return nil, fmt.Errorf("read and write databases use different backends: %s vs %s", readDialect, dialect)
		}
	}
	return &DB{read: read, write: write, dialect: dialect, url: writeURL}, nil
}

// NewFromGorm wraps already opened handles. Tests use it with an in-memory
// SQLite database.
func NewFromGorm(read, write *gorm.DB, dialect Dialect) *DB {
	return &DB{read: read, write: write, dialect: dialect}
}

func (r *DB) Dialect() Dialect {
	return r.dialect
}

// WithinTransaction runs fn inside a transaction carried by ctx. A ctx that
// already carries one joins it, so services can compose.
func (r *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	return r.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}

func InTransaction(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	return ok && tx != nil
}

func (r *DB) Write(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok && tx != nil {
		return tx
	}

	return r.write.WithContext(ctx)
}

func (r *DB) Read(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok && tx != nil {
		return tx
	}

	return r.read.WithContext(ctx)
}

// ForUpdate is Write with a row lock on the selected rows (SELECT ... FOR
// UPDATE). SQLite ignores the clause and relies on its single writer.
func (r *DB) ForUpdate(ctx context.Context) *gorm.DB {
	return r.Write(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *DB) Ping(ctx context.Context) error {
	sqlDB, err := r.write.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *DB) Close() error {
	sqlDB, err := r.write.DB()
	if err != nil {
		return err
	}
	if r.read != r.write {
		if readDB, err := r.read.DB(); err == nil {
			_ = readDB.Close()
		}
	}
	return sqlDB.Close()
}
