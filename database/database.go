package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mbolis/quick-forms/config"
)

type DB struct {
	*sql.DB
}

func Open(cfg config.Config) (*DB, error) {
	return OpenFile(cfg.DBUrl)
}

// OpenFile opens (and migrates) the SQLite database stored at path.
func OpenFile(path string) (db *DB, err error) {
	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return
	}
	db = &DB{sqlDB}

	// db tuning options
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	err = migrateDB(sqlDB)
	if err != nil {
		db.Close()
		return nil, err
	}

	return
}

// foreign keys are a per-connection setting in SQLite, so they go in the DSN
func dsn(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + params.Encode()
}

func (db *DB) Queries() *Queries {
	return &Queries{db.DB}
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs statements against either the pool or a transaction.
type Queries struct {
	db dbtx
}

func (q *Queries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, uniqueErr(err)
	}
	return res.LastInsertId()
}
