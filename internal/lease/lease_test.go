package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeClient emulates SET NX and the release script on a single map.
type fakeClient struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestLease_AcquireIsExclusive(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	a := New(client, "sweep", 10*time.Second)
	b := New(client, "sweep", 10*time.Second)

	ok, err := a.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, client.ttls["sweep"])

	ok, err = b.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, a.Release(context.Background()))

	ok, err = b.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLease_ReleaseKeepsForeignHolder(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	a := New(client, "sweep", time.Second)
	b := New(client, "sweep", time.Second)

	ok, err := b.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Release(context.Background()))
	require.Equal(t, b.token, client.values["sweep"])
}

func TestLease_Errors(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.err = errors.New("connection refused")
	l := New(client, "sweep", 0)
	require.Equal(t, 25*time.Second, l.ttl)

	ok, err := l.Acquire(context.Background())
	require.False(t, ok)
	require.ErrorContains(t, err, "connection refused")

	require.ErrorContains(t, l.Release(context.Background()), "lease sweep: release")
}
