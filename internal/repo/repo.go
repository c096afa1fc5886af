package repo

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo holds the table-level primitives. Every caller goes through WithTx or
// WithReadTx, which share one lock, so operations on the store are totally ordered.
type Repo struct {
	DB *sql.DB
	mu *sync.Mutex
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) Repo {
	return Repo{DB: db, mu: &sync.Mutex{}}
}

func (r Repo) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// WithTx runs fn in a write transaction under the store lock.
func (r Repo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	unlock := r.lock()
	defer unlock()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		// SQLite keeps the transaction open when COMMIT fails; the pool has a
		// single connection, so clear it before the next caller gets it.
		_, _ = r.DB.ExecContext(context.Background(), `ROLLBACK`)
		return err
	}
	return nil
}

// WithReadTx runs fn under the store lock against a transaction that is always
// rolled back, so multi-statement reads see one consistent state.
func (r Repo) WithReadTx(ctx context.Context, fn func(q Querier) error) error {
	unlock := r.lock()
	defer unlock()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// ForeignKeyViolations lists rows that reference a missing parent, as
// "table -> parent" pairs. It sees deferred violations inside a transaction.
func (r Repo) ForeignKeyViolations(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var (
			table, parent string
			rowid         sql.NullInt64
			fkid          int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, err
		}
		out = append(out, table+" -> "+parent)
	}
	return out, rows.Err()
}
