// Package memstore is an in-memory dispatchtx.Store for tests. Transactions are
// serialized and rolled back by restoring a snapshot, so the compare-and-swap
// semantics match the PostgreSQL repository.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/ports/dispatchtx"
)

type offerRow struct {
	domain.Offer
	seq int
}

type state struct {
	deliveries map[string]domain.Delivery
	offers     map[string]offerRow
	drivers    map[string]domain.Driver
	seq        int
}

func (s state) clone() state {
	out := state{
		deliveries: make(map[string]domain.Delivery, len(s.deliveries)),
		offers:     make(map[string]offerRow, len(s.offers)),
		drivers:    make(map[string]domain.Driver, len(s.drivers)),
		seq:        s.seq,
	}
	for k, v := range s.deliveries {
		out.deliveries[k] = v
	}
	for k, v := range s.offers {
		out.offers[k] = v
	}
	for k, v := range s.drivers {
		out.drivers[k] = v
	}
	return out
}

// Store is the in-memory store.
type Store struct {
	mu     sync.Mutex
	clock  clock.Clock
	st     state
	faults map[string]error
	txs    int
}

// New returns an empty store stamping updated_at from clk.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clock: clk,
		st: state{
			deliveries: map[string]domain.Delivery{},
			offers:     map[string]offerRow{},
			drivers:    map[string]domain.Driver{},
		},
		faults: map[string]error{},
	}
}

var _ dispatchtx.Store = (*Store)(nil)

// FailOnce makes the next call of the named operation (e.g. "RankCandidates") return err.
func (s *Store) FailOnce(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

// Transactions returns how many transactions were committed.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

// WithTx runs fn against a snapshot that is kept only if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx dispatchtx.Repository) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := s.fault("WithTx"); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	saved := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = saved
			panic(p)
		}
	}()

	if err := fn(&tx{s: s}); err != nil {
		s.st = saved
		return err
	}
	s.txs++
	return nil
}

// AddDriver seeds a driver.
func (s *Store) AddDriver(d domain.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.drivers[d.ID] = d
}

// AddDelivery seeds a delivery. Zero timestamps are set to now.
func (s *Store) AddDelivery(d domain.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if d.Status == "" {
		d.Status = domain.DeliveryPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	s.st.deliveries[d.ID] = d
}

// AddOffer seeds an offer without touching its delivery.
func (s *Store) AddOffer(o domain.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	s.st.seq++
	s.st.offers[o.ID] = offerRow{Offer: o, seq: s.st.seq}
}

// Delivery returns a copy of the delivery.
func (s *Store) Delivery(id string) (domain.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.deliveries[id]
	return d, ok
}

// Driver returns a copy of the driver.
func (s *Store) Driver(id string) (domain.Driver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.drivers[id]
	return d, ok
}

// Offers returns the offer ledger of a delivery, oldest first.
func (s *Store) Offers(deliveryID string) []domain.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.offersOf(deliveryID)
}

func (st state) offersOf(deliveryID string) []domain.Offer {
	rows := make([]offerRow, 0)
	for _, o := range st.offers {
		if o.DeliveryID == deliveryID {
			rows = append(rows, o)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].OfferedAt.Equal(rows[j].OfferedAt) {
			return rows[i].OfferedAt.Before(rows[j].OfferedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]domain.Offer, len(rows))
	for i, r := range rows {
		out[i] = r.Offer
	}
	return out
}

// CheckInvariants verifies the data-model invariants over the whole store.
func (s *Store) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := map[string]int{}
	for _, o := range s.st.offers {
		if o.Status == domain.OfferPending {
			pending[o.DeliveryID]++
		}
	}
	assigned := map[string]int{}
	for id, d := range s.st.deliveries {
		if !d.Consistent() {
			return fmt.Errorf("delivery %s: inconsistent fields for status %s", id, d.Status)
		}
		if pending[id] > 1 {
			return fmt.Errorf("delivery %s: %d pending offers", id, pending[id])
		}
		if d.Status == domain.DeliveryAssigned {
			assigned[*d.DriverID]++
		}
	}
	for id, d := range s.st.drivers {
		n := assigned[id]
		if n > 1 {
			return fmt.Errorf("driver %s: assigned to %d deliveries", id, n)
		}
		if d.IsOnDelivery != (n == 1) {
			return fmt.Errorf("driver %s: is_on_delivery=%t with %d assigned deliveries", id, d.IsOnDelivery, n)
		}
	}
	return nil
}

// ListExpiredPendingOffers implements dispatchtx.Scanner.
func (s *Store) ListExpiredPendingOffers(_ context.Context, now time.Time, limit int) ([]domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListExpiredPendingOffers"); err != nil {
		return nil, err
	}
	return s.st.selectOffers(limit, func(o offerRow) bool {
		return o.Status == domain.OfferPending && o.ExpiresAt.Before(now)
	}), nil
}

// ListOrphanedOffers implements dispatchtx.Scanner.
func (s *Store) ListOrphanedOffers(_ context.Context, limit int) ([]domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListOrphanedOffers"); err != nil {
		return nil, err
	}
	return s.st.selectOffers(limit, func(o offerRow) bool {
		if o.Status != domain.OfferPending {
			return false
		}
		d, ok := s.st.deliveries[o.DeliveryID]
		return ok && !d.OfferedTo(o.DriverID)
	}), nil
}

// ListStalePending implements dispatchtx.Scanner.
func (s *Store) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListStalePending"); err != nil {
		return nil, err
	}
	var rows []domain.Delivery
	for _, d := range s.st.deliveries {
		if d.Status == domain.DeliveryPending && d.UpdatedAt.Before(olderThan) {
			rows = append(rows, d)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.Before(rows[j].UpdatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
	ids := make([]string, 0, len(rows))
	for i, d := range rows {
		if i == limit {
			break
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (st state) selectOffers(limit int, keep func(offerRow) bool) []domain.Offer {
	var rows []offerRow
	for _, o := range st.offers {
		if keep(o) {
			rows = append(rows, o)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].ExpiresAt.Equal(rows[j].ExpiresAt) {
			return rows[i].ExpiresAt.Before(rows[j].ExpiresAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]domain.Offer, 0, len(rows))
	for i, r := range rows {
		if i == limit {
			break
		}
		out = append(out, r.Offer)
	}
	return out
}

// ErrInjected is a convenience error for FailOnce.
var ErrInjected = fmt.Errorf("memstore: injected failure")

// ID returns a deterministic UUID for test fixtures; ID(1) < ID(2) lexically.
func ID(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}
