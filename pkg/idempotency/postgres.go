package idempotency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/storefront/checkout-service/internal/store"
)

// PostgresRecords persists idempotency records in the transactional store so
// they share the durability of the mutations they guard.
type PostgresRecords struct {
	store *store.Store
}

func NewPostgresRecords(s *store.Store) *PostgresRecords {
	return &PostgresRecords{store: s}
}

func (r *PostgresRecords) Get(ctx context.Context, key string) (Record, error) {
	var rec Record
	err := r.store.DB(ctx).QueryRow(ctx,
		`SELECT key, scope, request_hash, response, created_at FROM idempotency_keys WHERE key=$1`,
		key,
	).Scan(&rec.Key, &rec.Scope, &rec.RequestHash, &rec.Response, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, store.ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRecords) Put(ctx context.Context, rec Record) error {
	_, err := r.store.DB(ctx).Exec(ctx,
		`INSERT INTO idempotency_keys (key, scope, request_hash, response, created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (key) DO UPDATE SET response=EXCLUDED.response`,
		rec.Key, rec.Scope, rec.RequestHash, rec.Response, rec.CreatedAt)
	return err
}
