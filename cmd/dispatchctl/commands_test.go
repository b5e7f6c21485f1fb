package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/config"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/http/middleware/auth"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/testutil/memstore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rating(v float64) *float64 { return &v }

type fixture struct {
	store  *memstore.Store
	clock  *clock.Manual
	cfg    *config.Config
	closed int
}

func newFixture() *fixture {
	clk := clock.NewManual(t0)
	return &fixture{
		store: memstore.New(clk),
		clock: clk,
		cfg: &config.Config{
			Dispatch: config.DefaultDispatch(),
			Auth:     config.Auth{JWTSecret: "test-secret", Issuer: "courier-dispatch"},
		},
	}
}

func (f *fixture) open(context.Context) (*services, error) {
	s := newServices(f.store, f.cfg, f.clock, logx.Nop())
	s.close = func() { f.closed++ }
	return s, nil
}

func execute(t *testing.T, f *fixture, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(f.open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDispatchCmd(t *testing.T) {
	t.Parallel()

	t.Run("offers to the best rated driver", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.store.AddDriver(domain.Driver{ID: memstore.ID(1), Name: "D1", IsAvailable: true, Rating: rating(4.1)})
		f.store.AddDriver(domain.Driver{ID: memstore.ID(2), Name: "D2", IsAvailable: true, Rating: rating(4.9)})
		f.store.AddDelivery(domain.Delivery{ID: memstore.ID(10)})

		out, err := execute(t, f, "dispatch", memstore.ID(10))
		require.NoError(t, err)

		var got dispatchOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		require.False(t, got.Parked)
		require.NotNil(t, got.Offer)
		require.Equal(t, memstore.ID(2), got.Offer.DriverID)
		require.Equal(t, domain.OfferPending, got.Offer.Status)
		require.Equal(t, 1, f.closed)
		require.NoError(t, f.store.CheckInvariants())
	})

	t.Run("parks when nobody is available", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.store.AddDelivery(domain.Delivery{ID: memstore.ID(10)})

		out, err := execute(t, f, "dispatch", memstore.ID(10))
		require.NoError(t, err)
		require.Contains(t, out, `"parked": true`)
	})

	t.Run("unknown delivery", func(t *testing.T) {
		t.Parallel()
		f := newFixture()

		_, err := execute(t, f, "dispatch", memstore.ID(99))
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("needs exactly one id", func(t *testing.T) {
		t.Parallel()
		_, err := execute(t, newFixture(), "dispatch")
		require.Error(t, err)
	})
}

func TestSweepCmd_ReoffersInline(t *testing.T) {
	t.Parallel()

	f := newFixture()
	d1, d2 := memstore.ID(1), memstore.ID(2)
	deliveryID := memstore.ID(10)
	f.store.AddDriver(domain.Driver{ID: d1, Name: "D1", IsAvailable: true, Rating: rating(4.9)})
	f.store.AddDriver(domain.Driver{ID: d2, Name: "D2", IsAvailable: true, Rating: rating(4.5)})
	f.store.AddDelivery(domain.Delivery{ID: deliveryID})

	_, err := execute(t, f, "dispatch", deliveryID)
	require.NoError(t, err)

	f.clock.Add(f.cfg.Dispatch.OfferWindow + time.Second)

	out, err := execute(t, f, "sweep")
	require.NoError(t, err)

	var got sweepOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, 1, got.Processed)
	require.Equal(t, 1, got.Reoffered)

	offers := f.store.Offers(deliveryID)
	require.Len(t, offers, 2)
	require.Equal(t, domain.OfferExpired, offers[0].Status)
	require.Equal(t, d1, offers[0].DriverID)
	require.Equal(t, domain.OfferPending, offers[1].Status)
	require.Equal(t, d2, offers[1].DriverID, "the expired driver is excluded")
	require.NoError(t, f.store.CheckInvariants())

	out, err = execute(t, f, "history", deliveryID)
	require.NoError(t, err)
	var history []offerOutput
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 2)
}

func TestCompleteAndCancelCmd(t *testing.T) {
	t.Parallel()

	f := newFixture()
	driverID := memstore.ID(1)
	assigned, pending := memstore.ID(10), memstore.ID(11)
	f.store.AddDriver(domain.Driver{ID: driverID, Name: "D1", IsAvailable: true, IsOnDelivery: true})
	f.store.AddDelivery(domain.Delivery{ID: assigned, Status: domain.DeliveryAssigned, DriverID: &driverID})
	f.store.AddDelivery(domain.Delivery{ID: pending})

	out, err := execute(t, f, "complete", assigned)
	require.NoError(t, err)
	require.Contains(t, out, `"status": "completed"`)

	drv, ok := f.store.Driver(driverID)
	require.True(t, ok)
	require.False(t, drv.IsOnDelivery)

	out, err = execute(t, f, "cancel", pending)
	require.NoError(t, err)
	require.Contains(t, out, `"status": "cancelled"`)

	_, err = execute(t, f, "complete", pending)
	require.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, f.store.CheckInvariants())
}

func TestTokenCmd(t *testing.T) {
	t.Parallel()

	f := newFixture()
	driverID := memstore.ID(7)

	out, err := execute(t, f, "token", strings.ToUpper(driverID), "--ttl", "10m")
	require.NoError(t, err)

	v := auth.NewVerifier(f.cfg.Auth.JWTSecret, f.cfg.Auth.Issuer, f.clock, logx.Nop())
	subject, err := v.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, driverID, subject)

	_, err = execute(t, f, "token", "not-a-uuid")
	require.ErrorContains(t, err, "is not a uuid")
}

func TestTokenCmd_NoSecret(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.cfg.Auth.JWTSecret = ""

	_, err := execute(t, f, "token", memstore.ID(7))
	require.ErrorIs(t, err, auth.ErrNoSecret)
}

func TestWithServices_OpenError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connect: refused")
	cmd := newRootCmd(func(context.Context) (*services, error) { return nil, boom })
	cmd.SetArgs([]string{"sweep"})
	cmd.SetOut(&bytes.Buffer{})
	require.ErrorIs(t, cmd.Execute(), boom)
}
