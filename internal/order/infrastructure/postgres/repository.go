package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storefront/checkout-service/internal/order/domain"
	"github.com/storefront/checkout-service/internal/store"
	"github.com/storefront/checkout-service/pkg/outbox"
)

type Repository struct {
	log   *slog.Logger
	store *store.Store
}

func NewRepository(log *slog.Logger, s *store.Store) *Repository {
	return &Repository{log: log, store: s}
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	db := r.store.DB(ctx)
	_, err := db.Exec(ctx, `
		INSERT INTO orders (id, code, user_id, cart_id, status, currency,
			subtotal_amount, shipping_amount, discount_amount, total_amount, placed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.Code, o.UserID, o.CartID, o.Status, o.Currency,
		o.SubtotalAmount, o.ShippingAmount, o.DiscountAmount, o.TotalAmount, o.PlacedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, variant_id, sku, product_title, variant_title,
				unit_price, quantity, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			item.ID, item.OrderID, item.VariantID, item.SKU, item.ProductTitle, item.VariantTitle,
			item.UnitPrice, item.Quantity, item.LineTotal)
	}
	tx, ok := db.(pgx.Tx)
	if !ok {
		return errors.New("order create requires a transaction")
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (r *Repository) CreatePayment(ctx context.Context, p domain.Payment) error {
	_, err := r.store.DB(ctx).Exec(ctx, `
		INSERT INTO payments (id, order_id, provider, status, amount, currency, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.OrderID, p.Provider, p.Status, p.Amount, p.Currency, p.CreatedAt)
	return err
}

func (r *Repository) ByID(ctx context.Context, orderID string) (domain.Order, error) {
	var o domain.Order
	err := r.store.DB(ctx).QueryRow(ctx, `
		SELECT id, code, user_id, cart_id, status, currency,
			subtotal_amount, shipping_amount, discount_amount, total_amount, placed_at
		FROM orders WHERE id=$1`, orderID,
	).Scan(&o.ID, &o.Code, &o.UserID, &o.CartID, &o.Status, &o.Currency,
		&o.SubtotalAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount, &o.PlacedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	items, err := r.itemsFor(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items
	return o, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string, page, limit int) ([]domain.Order, int, error) {
	var total int
	if err := r.store.DB(ctx).QueryRow(ctx,
		`SELECT count(*) FROM orders WHERE user_id=$1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.store.DB(ctx).Query(ctx, `
		SELECT id, code, user_id, cart_id, status, currency,
			subtotal_amount, shipping_amount, discount_amount, total_amount, placed_at
		FROM orders WHERE user_id=$1
		ORDER BY placed_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Code, &o.UserID, &o.CartID, &o.Status, &o.Currency,
			&o.SubtotalAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount, &o.PlacedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range orders {
		items, err := r.itemsFor(ctx, orders[i].ID)
		if err != nil {
			return nil, 0, err
		}
		orders[i].Items = items
	}
	return orders, total, nil
}

func (r *Repository) itemsFor(ctx context.Context, orderID string) ([]domain.Item, error) {
	rows, err := r.store.DB(ctx).Query(ctx, `
		SELECT id, order_id, variant_id, sku, product_title, variant_title,
			unit_price, quantity, line_total
		FROM order_items WHERE order_id=$1 ORDER BY variant_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.VariantID, &item.SKU,
			&item.ProductTitle, &item.VariantTitle, &item.UnitPrice, &item.Quantity, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// OutboxStore persists and leases outbox events for the relay.
type OutboxStore struct {
	log   *slog.Logger
	store *store.Store
}

func NewOutboxStore(log *slog.Logger, s *store.Store) *OutboxStore {
	return &OutboxStore{log: log, store: s}
}

// Append writes an event in the caller's transaction.
func (s *OutboxStore) Append(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte, traceparent string) error {
	_, err := s.store.DB(ctx).Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status, created_at)
		VALUES ($1,$2,$3,$4,$5,'pending',now())`,
		aggregateType, aggregateID, eventType, payload, traceparent)
	return err
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	var events []outbox.Event
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		rows, err := s.store.DB(ctx).Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, type, payload, COALESCE(traceparent, ''), created_at
			FROM outbox
			WHERE status = 'pending'
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT $1`, batchSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var ev outbox.Event
			if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type, &ev.Payload, &ev.Traceparent, &ev.CreatedAt); err != nil {
				return err
			}
			events = append(events, ev)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		_, err = s.store.DB(ctx).Exec(ctx, `
			UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + make_interval(secs => $2)
			WHERE id = ANY($3)`, relayID, lease.Seconds(), ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.store.DB(ctx).Exec(ctx, `UPDATE outbox SET status='sent' WHERE id = ANY($1)`, ids)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.store.DB(ctx).Exec(ctx,
		`UPDATE outbox SET status='failed', last_error=$2, retry_count=retry_count+1 WHERE id=$1`, id, errMsg)
	return err
}
