package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/ports/dispatchtx"
)

// tx runs with Store.mu held by WithTx.
type tx struct {
	s *Store
}

var _ dispatchtx.Repository = (*tx)(nil)

func (t *tx) st() *state { return &t.s.st }

func (t *tx) now() time.Time { return t.s.clock.Now() }

func (t *tx) GetDelivery(_ context.Context, id string) (*domain.Delivery, error) {
	if err := t.s.fault("GetDelivery"); err != nil {
		return nil, err
	}
	d, ok := t.st().deliveries[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (t *tx) GetDeliveryForUpdate(ctx context.Context, id string) (*domain.Delivery, error) {
	if err := t.s.fault("GetDeliveryForUpdate"); err != nil {
		return nil, err
	}
	return t.GetDelivery(ctx, id)
}

func (t *tx) EnsureDelivery(_ context.Context, id string) (bool, error) {
	if err := t.s.fault("EnsureDelivery"); err != nil {
		return false, err
	}
	if _, ok := t.st().deliveries[id]; ok {
		return false, nil
	}
	now := t.now()
	t.st().deliveries[id] = domain.Delivery{ID: id, Status: domain.DeliveryPending, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

// update applies fn to the delivery when guard holds.
func (t *tx) update(id string, guard func(domain.Delivery) bool, fn func(*domain.Delivery)) bool {
	d, ok := t.st().deliveries[id]
	if !ok || !guard(d) {
		return false
	}
	fn(&d)
	d.UpdatedAt = t.now()
	t.st().deliveries[id] = d
	return true
}

func clearOffer(d *domain.Delivery) {
	d.OfferedDriverID = nil
	d.OfferExpiresAt = nil
}

func (t *tx) MarkDeliveryOffered(_ context.Context, id, driverID string, expiresAt, now time.Time) (bool, error) {
	if err := t.s.fault("MarkDeliveryOffered"); err != nil {
		return false, err
	}
	return t.update(id, func(d domain.Delivery) bool {
		return d.Status == domain.DeliveryPending ||
			(d.Status == domain.DeliveryOffered && d.OfferExpiresAt != nil && d.OfferExpiresAt.Before(now))
	}, func(d *domain.Delivery) {
		drv, exp := driverID, expiresAt
		d.Status = domain.DeliveryOffered
		d.OfferedDriverID = &drv
		d.OfferExpiresAt = &exp
	}), nil
}

func (t *tx) ResetDeliveryIfOfferedTo(_ context.Context, id, driverID string) (bool, error) {
	if err := t.s.fault("ResetDeliveryIfOfferedTo"); err != nil {
		return false, err
	}
	return t.update(id, func(d domain.Delivery) bool { return d.OfferedTo(driverID) }, func(d *domain.Delivery) {
		d.Status = domain.DeliveryPending
		clearOffer(d)
	}), nil
}

func (t *tx) ParkDelivery(_ context.Context, id string) error {
	if err := t.s.fault("ParkDelivery"); err != nil {
		return err
	}
	t.update(id, func(d domain.Delivery) bool {
		return d.Status == domain.DeliveryPending || d.Status == domain.DeliveryOffered
	}, func(d *domain.Delivery) {
		d.Status = domain.DeliveryPending
		clearOffer(d)
	})
	return nil
}

func (t *tx) AssignOfferedDelivery(_ context.Context, id, driverID string) (bool, error) {
	if err := t.s.fault("AssignOfferedDelivery"); err != nil {
		return false, err
	}
	return t.update(id, func(d domain.Delivery) bool { return d.OfferedTo(driverID) }, func(d *domain.Delivery) {
		drv := driverID
		d.Status = domain.DeliveryAssigned
		d.DriverID = &drv
		clearOffer(d)
	}), nil
}

func (t *tx) AssignPendingDelivery(_ context.Context, id, driverID string) (bool, error) {
	if err := t.s.fault("AssignPendingDelivery"); err != nil {
		return false, err
	}
	return t.update(id, func(d domain.Delivery) bool { return d.Status == domain.DeliveryPending }, func(d *domain.Delivery) {
		drv := driverID
		d.Status = domain.DeliveryAssigned
		d.DriverID = &drv
	}), nil
}

func (t *tx) CompleteDelivery(_ context.Context, id string) (bool, error) {
	if err := t.s.fault("CompleteDelivery"); err != nil {
		return false, err
	}
	return t.update(id, func(d domain.Delivery) bool { return d.Status == domain.DeliveryAssigned }, func(d *domain.Delivery) {
		d.Status = domain.DeliveryCompleted
	}), nil
}

func (t *tx) CancelDelivery(_ context.Context, id string, from domain.DeliveryStatus) (bool, error) {
	if err := t.s.fault("CancelDelivery"); err != nil {
		return false, err
	}
	return t.update(id, func(d domain.Delivery) bool { return d.Status == from }, func(d *domain.Delivery) {
		d.Status = domain.DeliveryCancelled
		d.DriverID = nil
		clearOffer(d)
	}), nil
}

func (t *tx) GetOffer(_ context.Context, id string) (*domain.Offer, error) {
	if err := t.s.fault("GetOffer"); err != nil {
		return nil, err
	}
	o, ok := t.st().offers[id]
	if !ok {
		return nil, nil
	}
	out := o.Offer
	return &out, nil
}

func (t *tx) GetOfferForUpdate(ctx context.Context, id string) (*domain.Offer, error) {
	if err := t.s.fault("GetOfferForUpdate"); err != nil {
		return nil, err
	}
	return t.GetOffer(ctx, id)
}

func (t *tx) InsertOffer(_ context.Context, o *domain.Offer) error {
	if err := t.s.fault("InsertOffer"); err != nil {
		return err
	}
	if _, ok := t.st().deliveries[o.DeliveryID]; !ok {
		return fmt.Errorf("offer references unknown delivery or driver: %w", apperr.ErrNotFound)
	}
	if _, ok := t.st().drivers[o.DriverID]; !ok {
		return fmt.Errorf("offer references unknown delivery or driver: %w", apperr.ErrNotFound)
	}
	if o.Status == domain.OfferPending {
		for _, existing := range t.st().offers {
			if existing.DeliveryID == o.DeliveryID && existing.Status == domain.OfferPending {
				return fmt.Errorf("pending offer exists for delivery %s: %w", o.DeliveryID, apperr.ErrConflict)
			}
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	t.st().seq++
	t.st().offers[o.ID] = offerRow{Offer: *o, seq: t.st().seq}
	return nil
}

func (t *tx) TransitionOffer(_ context.Context, id string, to domain.OfferStatus, respondedAt time.Time) (bool, error) {
	if err := t.s.fault("TransitionOffer"); err != nil {
		return false, err
	}
	o, ok := t.st().offers[id]
	if !ok || o.Status != domain.OfferPending {
		return false, nil
	}
	at := respondedAt
	o.Status = to
	o.RespondedAt = &at
	t.st().offers[id] = o
	return true, nil
}

func (t *tx) ExpireDeliveryOffers(_ context.Context, deliveryID string, now time.Time) (int64, error) {
	if err := t.s.fault("ExpireDeliveryOffers"); err != nil {
		return 0, err
	}
	var n int64
	for id, o := range t.st().offers {
		if o.DeliveryID == deliveryID && o.Status == domain.OfferPending && o.ExpiresAt.Before(now) {
			at := now
			o.Status = domain.OfferExpired
			o.RespondedAt = &at
			t.st().offers[id] = o
			n++
		}
	}
	return n, nil
}

func (t *tx) PendingOffer(_ context.Context, deliveryID string) (*domain.Offer, error) {
	if err := t.s.fault("PendingOffer"); err != nil {
		return nil, err
	}
	for _, o := range t.st().offers {
		if o.DeliveryID == deliveryID && o.Status == domain.OfferPending {
			out := o.Offer
			return &out, nil
		}
	}
	return nil, nil
}

func (t *tx) ExcludedDrivers(_ context.Context, deliveryID string) (map[string]struct{}, error) {
	if err := t.s.fault("ExcludedDrivers"); err != nil {
		return nil, err
	}
	out := map[string]struct{}{}
	for _, o := range t.st().offers {
		if o.DeliveryID == deliveryID && (o.Status == domain.OfferDeclined || o.Status == domain.OfferExpired) {
			out[o.DriverID] = struct{}{}
		}
	}
	return out, nil
}

func (t *tx) HasDeclinedOffer(_ context.Context, deliveryID, driverID string) (bool, error) {
	if err := t.s.fault("HasDeclinedOffer"); err != nil {
		return false, err
	}
	for _, o := range t.st().offers {
		if o.DeliveryID == deliveryID && o.DriverID == driverID && o.Status == domain.OfferDeclined {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) ListOffers(_ context.Context, deliveryID string) ([]domain.Offer, error) {
	if err := t.s.fault("ListOffers"); err != nil {
		return nil, err
	}
	return t.st().offersOf(deliveryID), nil
}

func (t *tx) RankCandidates(_ context.Context, limit int) ([]domain.Driver, error) {
	if err := t.s.fault("RankCandidates"); err != nil {
		return nil, err
	}
	var out []domain.Driver
	for _, d := range t.st().drivers {
		if d.Eligible() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Rating, out[j].Rating
		switch {
		case ri != nil && rj != nil && *ri != *rj:
			return *ri > *rj
		case ri != nil && rj == nil:
			return true
		case ri == nil && rj != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) SetDriverOnDelivery(_ context.Context, id string, on bool) (bool, error) {
	if err := t.s.fault("SetDriverOnDelivery"); err != nil {
		return false, err
	}
	d, ok := t.st().drivers[id]
	if !ok || d.IsOnDelivery == on {
		return false, nil
	}
	d.IsOnDelivery = on
	t.st().drivers[id] = d
	return true, nil
}
