package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/ports/dispatchtx"
)

// TxRepo represents transaction repository.
type TxRepo struct {
	tx pgx.Tx
}

var _ dispatchtx.Repository = (*TxRepo)(nil)

const deliveryColumns = `id::text, status, offered_driver_id::text, offer_expires_at, driver_id::text, created_at, updated_at`

const offerColumns = `id::text, delivery_id::text, driver_id::text, status, offered_at, expires_at, responded_at`

func offerColumnsOf(alias string) string {
	cols := strings.Split(offerColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var d domain.Delivery
	var status string
	if err := row.Scan(&d.ID, &status, &d.OfferedDriverID, &d.OfferExpiresAt, &d.DriverID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = domain.DeliveryStatus(status)
	return &d, nil
}

func scanOffer(row pgx.Row) (*domain.Offer, error) {
	var o domain.Offer
	var status string
	if err := row.Scan(&o.ID, &o.DeliveryID, &o.DriverID, &status, &o.OfferedAt, &o.ExpiresAt, &o.RespondedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OfferStatus(status)
	return &o, nil
}

func collectOffers(rows pgx.Rows) ([]domain.Offer, error) {
	defer rows.Close()
	out := make([]domain.Offer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *TxRepo) getDelivery(ctx context.Context, id, suffix string) (*domain.Delivery, error) {
	d, err := scanDelivery(r.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`+suffix, id))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return d, nil
}

// GetDelivery - returns delivery by id.
func (r *TxRepo) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	return r.getDelivery(ctx, id, "")
}

// GetDeliveryForUpdate - returns delivery by id and locks the row.
func (r *TxRepo) GetDeliveryForUpdate(ctx context.Context, id string) (*domain.Delivery, error) {
	return r.getDelivery(ctx, id, " FOR UPDATE")
}

// EnsureDelivery - inserts a pending delivery if it is not known yet.
func (r *TxRepo) EnsureDelivery(ctx context.Context, id string) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        INSERT INTO deliveries (id, status) VALUES ($1, 'pending')
        ON CONFLICT (id) DO NOTHING
    `, id)
	if err != nil {
		return false, fmt.Errorf("ensure delivery %s: %w", id, err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkDeliveryOffered - CAS pending (or offered with an elapsed window) → offered.
func (r *TxRepo) MarkDeliveryOffered(ctx context.Context, id, driverID string, expiresAt, now time.Time) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'offered',
            offered_driver_id = $2,
            offer_expires_at = $3,
            updated_at = now()
        WHERE id = $1
          AND (status = 'pending' OR (status = 'offered' AND offer_expires_at < $4))
    `, id, driverID, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("mark delivery %s offered: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// ResetDeliveryIfOfferedTo - CAS offered(to driverID) → pending.
func (r *TxRepo) ResetDeliveryIfOfferedTo(ctx context.Context, id, driverID string) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'pending',
            offered_driver_id = NULL,
            offer_expires_at = NULL,
            updated_at = now()
        WHERE id = $1 AND status = 'offered' AND offered_driver_id = $2
    `, id, driverID)
	if err != nil {
		return false, fmt.Errorf("reset delivery %s: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// ParkDelivery - leaves the delivery pending without an offer.
func (r *TxRepo) ParkDelivery(ctx context.Context, id string) error {
	_, err := r.tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'pending',
            offered_driver_id = NULL,
            offer_expires_at = NULL,
            updated_at = now()
        WHERE id = $1 AND status IN ('pending', 'offered')
    `, id)
	if err != nil {
		return fmt.Errorf("park delivery %s: %w", id, err)
	}
	return nil
}

// AssignOfferedDelivery - CAS offered(to driverID) → assigned.
func (r *TxRepo) AssignOfferedDelivery(ctx context.Context, id, driverID string) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'assigned',
            driver_id = $2,
            offered_driver_id = NULL,
            offer_expires_at = NULL,
            updated_at = now()
        WHERE id = $1 AND status = 'offered' AND offered_driver_id = $2
    `, id, driverID)
	if err != nil {
		return false, fmt.Errorf("assign delivery %s: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// AssignPendingDelivery - CAS pending → assigned.
func (r *TxRepo) AssignPendingDelivery(ctx context.Context, id, driverID string) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'assigned',
            driver_id = $2,
            updated_at = now()
        WHERE id = $1 AND status = 'pending'
    `, id, driverID)
	if err != nil {
		return false, fmt.Errorf("assign pending delivery %s: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// CompleteDelivery - CAS assigned → completed.
func (r *TxRepo) CompleteDelivery(ctx context.Context, id string) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'completed', updated_at = now()
        WHERE id = $1 AND status = 'assigned'
    `, id)
	if err != nil {
		return false, fmt.Errorf("complete delivery %s: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// CancelDelivery - CAS from → cancelled, clearing offer and driver fields.
func (r *TxRepo) CancelDelivery(ctx context.Context, id string, from domain.DeliveryStatus) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'cancelled',
            offered_driver_id = NULL,
            offer_expires_at = NULL,
            driver_id = NULL,
            updated_at = now()
        WHERE id = $1 AND status = $2
    `, id, string(from))
	if err != nil {
		return false, fmt.Errorf("cancel delivery %s: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *TxRepo) getOffer(ctx context.Context, id, suffix string) (*domain.Offer, error) {
	o, err := scanOffer(r.tx.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`+suffix, id))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get offer %s: %w", id, err)
	}
	return o, nil
}

// GetOffer - returns offer by id.
func (r *TxRepo) GetOffer(ctx context.Context, id string) (*domain.Offer, error) {
	return r.getOffer(ctx, id, "")
}

// GetOfferForUpdate - returns offer by id and locks the row.
func (r *TxRepo) GetOfferForUpdate(ctx context.Context, id string) (*domain.Offer, error) {
	return r.getOffer(ctx, id, " FOR UPDATE")
}

// InsertOffer - inserts a new offer.
func (r *TxRepo) InsertOffer(ctx context.Context, o *domain.Offer) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := r.tx.Exec(ctx, `
        INSERT INTO offers (id, delivery_id, driver_id, status, offered_at, expires_at, responded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, o.ID, o.DeliveryID, o.DriverID, string(o.Status), o.OfferedAt, o.ExpiresAt, o.RespondedAt)
	if err != nil {
		if IsDuplicate(err) {
			return fmt.Errorf("pending offer exists for delivery %s: %w", o.DeliveryID, apperr.ErrConflict)
		}
		if IsForeignKey(err) {
			return fmt.Errorf("offer references unknown delivery or driver: %w", apperr.ErrNotFound)
		}
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// TransitionOffer - CAS pending → to.
func (r *TxRepo) TransitionOffer(ctx context.Context, id string, to domain.OfferStatus, respondedAt time.Time) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE offers
        SET status = $2, responded_at = $3
        WHERE id = $1 AND status = 'pending'
    `, id, string(to), respondedAt)
	if err != nil {
		return false, fmt.Errorf("transition offer %s to %s: %w", id, to, err)
	}
	return ct.RowsAffected() == 1, nil
}

// ExpireDeliveryOffers - expires pending offers of the delivery whose window elapsed.
func (r *TxRepo) ExpireDeliveryOffers(ctx context.Context, deliveryID string, now time.Time) (int64, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE offers
        SET status = 'expired', responded_at = $2
        WHERE delivery_id = $1 AND status = 'pending' AND expires_at < $2
    `, deliveryID, now)
	if err != nil {
		return 0, fmt.Errorf("expire offers of delivery %s: %w", deliveryID, err)
	}
	return ct.RowsAffected(), nil
}

// PendingOffer - returns the pending offer of the delivery, if any.
func (r *TxRepo) PendingOffer(ctx context.Context, deliveryID string) (*domain.Offer, error) {
	o, err := scanOffer(r.tx.QueryRow(ctx, `
        SELECT `+offerColumns+`
        FROM offers
        WHERE delivery_id = $1 AND status = 'pending'
        FOR UPDATE
    `, deliveryID))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pending offer of delivery %s: %w", deliveryID, err)
	}
	return o, nil
}

// ExcludedDrivers - drivers that declined or let an offer for the delivery expire.
func (r *TxRepo) ExcludedDrivers(ctx context.Context, deliveryID string) (map[string]struct{}, error) {
	rows, err := r.tx.Query(ctx, `
        SELECT DISTINCT driver_id::text
        FROM offers
        WHERE delivery_id = $1 AND status IN ('declined', 'expired')
    `, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("excluded drivers of delivery %s: %w", deliveryID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("excluded drivers of delivery %s: %w", deliveryID, err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// HasDeclinedOffer - reports whether driverID declined an offer for the delivery.
func (r *TxRepo) HasDeclinedOffer(ctx context.Context, deliveryID, driverID string) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM offers
            WHERE delivery_id = $1 AND driver_id = $2 AND status = 'declined'
        )
    `, deliveryID, driverID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("declined offer lookup: %w", err)
	}
	return ok, nil
}

// ListOffers - offer ledger of the delivery, oldest first.
func (r *TxRepo) ListOffers(ctx context.Context, deliveryID string) ([]domain.Offer, error) {
	rows, err := r.tx.Query(ctx, `
        SELECT `+offerColumns+`
        FROM offers
        WHERE delivery_id = $1
        ORDER BY offered_at, id
    `, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("list offers of delivery %s: %w", deliveryID, err)
	}
	return collectOffers(rows)
}

// RankCandidates - available drivers not on a delivery, best rated first.
func (r *TxRepo) RankCandidates(ctx context.Context, limit int) ([]domain.Driver, error) {
	rows, err := r.tx.Query(ctx, `
        SELECT `+driverColumns+`
        FROM drivers
        WHERE is_available AND NOT is_on_delivery
        ORDER BY rating DESC NULLS LAST, id
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("rank candidates: %w", err)
	}
	return collectDrivers(rows)
}

// SetDriverOnDelivery - CAS is_on_delivery !on → on.
func (r *TxRepo) SetDriverOnDelivery(ctx context.Context, id string, on bool) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE drivers
        SET is_on_delivery = $2, updated_at = now()
        WHERE id = $1 AND is_on_delivery = NOT $2
    `, id, on)
	if err != nil {
		return false, fmt.Errorf("set driver %s on delivery=%t: %w", id, on, err)
	}
	return ct.RowsAffected() == 1, nil
}
