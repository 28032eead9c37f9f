package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB is the subset of pgx shared by a pool and a transaction. Repositories
// query through it so the same code runs inside and outside a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager runs a function inside one atomic transaction. The transaction
// travels in the context; repositories pick it up via Store.DB.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

const maxTxAttempts = 3

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction, committing on nil
// and rolling back on error. A nested call joins the outer transaction.
// Serialization failures and deadlocks are retried a bounded number of times;
// every other error is surfaced as-is.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DB returns the in-flight transaction if the context carries one, otherwise
// the pool.
func (s *Store) DB(ctx context.Context) DB {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func txFrom(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// orderCodeConstraint is the unique index on orders.code. A collision is
// resolved by rerunning the transaction, which generates a fresh code.
const orderCodeConstraint = "orders_code_key"

// retryable reports whether the error is a transient store failure:
// serialization_failure (40001), deadlock_detected (40P01), or an order-code
// collision.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code == "40001" || pgErr.Code == "40P01" {
		return true
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == orderCodeConstraint
}
