package offer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/redispatch"
	"courier-dispatch/internal/service/offer"
	testlog "courier-dispatch/internal/testutil"
	"courier-dispatch/internal/testutil/memstore"
)

var (
	t0       = time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	delivery = memstore.ID(100)
	offerID  = memstore.ID(200)
	driverD1 = memstore.ID(1)
	driverD2 = memstore.ID(2)
)

func newCtrl(t *testing.T) *gomock.Controller {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return ctrl
}

// seedOffered stores a delivery offered to d1 with a pending offer open for five minutes.
func seedOffered(clk *clock.Manual) *memstore.Store {
	store := memstore.New(clk)
	store.AddDriver(domain.Driver{ID: driverD1, IsAvailable: true})
	store.AddDriver(domain.Driver{ID: driverD2, IsAvailable: true})
	drv, exp := driverD1, t0.Add(5*time.Minute)
	store.AddDelivery(domain.Delivery{ID: delivery, Status: domain.DeliveryOffered, OfferedDriverID: &drv, OfferExpiresAt: &exp})
	store.AddOffer(domain.Offer{ID: offerID, DeliveryID: delivery, DriverID: driverD1, Status: domain.OfferPending, OfferedAt: t0, ExpiresAt: exp})
	return store
}

func newService(store *memstore.Store, q offer.Enqueuer, clk clock.Clock) *offer.Service {
	return offer.NewService(store, q, clk, time.Second, logx.Nop(), nil)
}

func TestRespond_AcceptWithinWindow(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0.Add(time.Minute))
	store := seedOffered(clk)
	q := NewMockEnqueuer(newCtrl(t))
	svc := newService(store, q, clk)

	res, err := svc.Respond(context.Background(), offerID, domain.ActionAccept)
	require.NoError(t, err)
	require.Equal(t, offer.OutcomeAccepted, res.Outcome)
	require.Equal(t, delivery, res.DeliveryID)

	d, _ := store.Delivery(delivery)
	require.Equal(t, domain.DeliveryAssigned, d.Status)
	require.Equal(t, driverD1, *d.DriverID)
	drv, _ := store.Driver(driverD1)
	require.True(t, drv.IsOnDelivery)
	o := store.Offers(delivery)[0]
	require.Equal(t, domain.OfferAccepted, o.Status)
	require.Equal(t, t0.Add(time.Minute), *o.RespondedAt)
	require.NoError(t, store.CheckInvariants())
}

func TestRespond_AcceptAtExactExpiry(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0.Add(5 * time.Minute))
	store := seedOffered(clk)
	svc := newService(store, NewMockEnqueuer(newCtrl(t)), clk)

	res, err := svc.Respond(context.Background(), offerID, domain.ActionAccept)
	require.NoError(t, err)
	require.Equal(t, offer.OutcomeAccepted, res.Outcome)

	d, _ := store.Delivery(delivery)
	require.Equal(t, domain.DeliveryAssigned, d.Status)
	require.NoError(t, store.CheckInvariants())
}

func TestRespond_DeclineResetsAndRedispatches(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0.Add(time.Minute))
	store := seedOffered(clk)
	q := NewMockEnqueuer(newCtrl(t))
	q.EXPECT().
		Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, task redispatch.Task) error {
			require.Equal(t, delivery, task.DeliveryID)
			require.Equal(t, redispatch.ReasonDeclined, task.Reason)
			return nil
		})
	svc := newService(store, q, clk)

	res, err := svc.Respond(context.Background(), offerID, domain.ActionDecline)
	require.NoError(t, err)
	require.Equal(t, offer.OutcomeDeclined, res.Outcome)

	d, _ := store.Delivery(delivery)
	require.Equal(t, domain.DeliveryPending, d.Status)
	require.Nil(t, d.OfferedDriverID)
	require.Equal(t, domain.OfferDeclined, store.Offers(delivery)[0].Status)
	require.NoError(t, store.CheckInvariants())
}

func TestRespond_AcceptAfterExpiry(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0.Add(6 * time.Minute))
	store := seedOffered(clk)
	q := NewMockEnqueuer(newCtrl(t))
	q.EXPECT().
		Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, task redispatch.Task) error {
			require.Equal(t, redispatch.ReasonAcceptExpired, task.Reason)
			return nil
		})
	svc := newService(store, q, clk)

	res, err := svc.Respond(context.Background(), offerID, domain.ActionAccept)
	require.NoError(t, err)
	require.Equal(t, offer.OutcomeExpired, res.Outcome)

	require.Equal(t, domain.OfferExpired, store.Offers(delivery)[0].Status)
	d, _ := store.Delivery(delivery)
	require.Equal(t, domain.DeliveryPending, d.Status)
	drv, _ := store.Driver(driverD1)
	require.False(t, drv.IsOnDelivery)
}

func TestRespond_IsIdempotent(t *testing.T) {
	t.Parallel()

	for _, second := range []domain.OfferAction{domain.ActionAccept, domain.ActionDecline} {
		second := second
		t.Run(string(second), func(t *testing.T) {
			t.Parallel()

			clk := clock.NewManual(t0.Add(time.Minute))
			store := seedOffered(clk)
			svc := newService(store, NewMockEnqueuer(newCtrl(t)), clk)

			_, err := svc.Respond(context.Background(), offerID, domain.ActionAccept)
			require.NoError(t, err)
			before, _ := store.Delivery(delivery)

			_, err = svc.Respond(context.Background(), offerID, second)
			require.ErrorIs(t, err, apperr.ErrConflict)

			after, _ := store.Delivery(delivery)
			require.Equal(t, before, after)
			require.Equal(t, domain.OfferAccepted, store.Offers(delivery)[0].Status)
		})
	}
}

func TestRespond_Validation(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	store := seedOffered(clk)
	svc := newService(store, NewMockEnqueuer(newCtrl(t)), clk)

	_, err := svc.Respond(context.Background(), offerID, domain.OfferAction("maybe"))
	require.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = svc.Respond(context.Background(), "nope", domain.ActionAccept)
	require.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = svc.Respond(context.Background(), memstore.ID(999), domain.ActionAccept)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRespond_DriverBusyRollsBack(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0.Add(time.Minute))
	store := seedOffered(clk)
	busy := driverD1
	store.AddDriver(domain.Driver{ID: driverD1, IsAvailable: true, IsOnDelivery: true})
	store.AddDelivery(domain.Delivery{ID: memstore.ID(101), Status: domain.DeliveryAssigned, DriverID: &busy})
	svc := newService(store, NewMockEnqueuer(newCtrl(t)), clk)

	_, err := svc.Respond(context.Background(), offerID, domain.ActionAccept)
	require.ErrorIs(t, err, apperr.ErrConflict)

	require.Equal(t, domain.OfferPending, store.Offers(delivery)[0].Status)
	d, _ := store.Delivery(delivery)
	require.Equal(t, domain.DeliveryOffered, d.Status)
}

func TestRespond_DeclineOfStaleOfferLeavesDeliveryAlone(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0.Add(time.Minute))
	store := seedOffered(clk)
	// the delivery has since been offered to d2 while d1's offer row lingered
	drv, exp := driverD2, t0.Add(10*time.Minute)
	store.AddDelivery(domain.Delivery{ID: delivery, Status: domain.DeliveryOffered, OfferedDriverID: &drv, OfferExpiresAt: &exp})

	q := NewMockEnqueuer(newCtrl(t))
	q.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil)
	svc := newService(store, q, clk)

	_, err := svc.Respond(context.Background(), offerID, domain.ActionDecline)
	require.NoError(t, err)

	d, _ := store.Delivery(delivery)
	require.True(t, d.OfferedTo(driverD2))
}

func TestRespond_EnqueueFailureIsNotSurfaced(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0.Add(time.Minute))
	store := seedOffered(clk)
	rec := testlog.New()
	q := NewMockEnqueuer(newCtrl(t))
	q.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(errors.New("queue full"))
	svc := offer.NewService(store, q, clk, time.Second, rec.Logger(), nil)

	res, err := svc.Respond(context.Background(), offerID, domain.ActionDecline)
	require.NoError(t, err)
	require.Equal(t, offer.OutcomeDeclined, res.Outcome)

	var warned bool
	for _, e := range rec.Entries() {
		if e.Level == "warn" && e.Msg == "redispatch enqueue failed" {
			warned = true
		}
	}
	require.True(t, warned)
}

func TestRespond_StoreFailureIsTransient(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	store := seedOffered(clk)
	store.FailOnce("AssignOfferedDelivery", memstore.ErrInjected)
	svc := newService(store, NewMockEnqueuer(newCtrl(t)), clk)

	_, err := svc.Respond(context.Background(), offerID, domain.ActionAccept)
	require.ErrorIs(t, err, apperr.ErrTransient)
	require.Equal(t, domain.OfferPending, store.Offers(delivery)[0].Status)
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	a, err := offer.ParseAction("  ACCEPT ")
	require.NoError(t, err)
	require.Equal(t, domain.ActionAccept, a)

	_, err = offer.ParseAction("ignore")
	require.ErrorIs(t, err, apperr.ErrInvalid)
}
