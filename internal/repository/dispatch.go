package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/ports/dispatchtx"
)

// DispatchRepo represents the dispatch store backed by PostgreSQL.
type DispatchRepo struct {
	db *pgxpool.Pool
}

// NewDispatchRepo creates a new DispatchRepo.
func NewDispatchRepo(db *pgxpool.Pool) *DispatchRepo {
	return &DispatchRepo{db: db}
}

var _ dispatchtx.Store = (*DispatchRepo)(nil)

// WithTx opens a transaction and executes fn within it.
func (r *DispatchRepo) WithTx(ctx context.Context, fn func(tx dispatchtx.Repository) error) (err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	// отменяем в случае паники
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&TxRepo{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback tx: %w (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListExpiredPendingOffers returns pending offers whose window elapsed before now, oldest first.
func (r *DispatchRepo) ListExpiredPendingOffers(ctx context.Context, now time.Time, limit int) ([]domain.Offer, error) {
	rows, err := r.db.Query(ctx, `
        SELECT `+offerColumns+`
        FROM offers
        WHERE status = 'pending' AND expires_at < $1
        ORDER BY expires_at, id
        LIMIT $2
    `, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired offers: %w", err)
	}
	return collectOffers(rows)
}

// ListOrphanedOffers returns pending offers the delivery row does not point at.
func (r *DispatchRepo) ListOrphanedOffers(ctx context.Context, limit int) ([]domain.Offer, error) {
	rows, err := r.db.Query(ctx, `
        SELECT `+offerColumnsOf("o")+`
        FROM offers o
        JOIN deliveries d ON d.id = o.delivery_id
        WHERE o.status = 'pending'
          AND NOT (d.status = 'offered' AND d.offered_driver_id = o.driver_id)
        ORDER BY o.offered_at, o.id
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphaned offers: %w", err)
	}
	return collectOffers(rows)
}

// ListStalePending returns ids of pending deliveries not touched since olderThan.
func (r *DispatchRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id::text
        FROM deliveries
        WHERE status = 'pending' AND updated_at < $1
        ORDER BY updated_at, id
        LIMIT $2
    `, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending deliveries: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list stale pending deliveries: %w", err)
	}
	return ids, nil
}
