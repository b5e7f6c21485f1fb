//go:build integration

package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"courier-dispatch/internal/lease"
)

func TestLease_Redis(t *testing.T) {
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	addr, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	client := lease.NewClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })

	a := lease.New(client, "courier-dispatch:sweep", 2*time.Second)
	b := lease.New(client, "courier-dispatch:sweep", 2*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// b must not free a's lease
	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// expiry hands the lease over even if the holder never releases
	require.Eventually(t, func() bool {
		ok, err := a.Acquire(ctx)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)
}
