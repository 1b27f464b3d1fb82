package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// flakyRemote fails Get after the first call, simulating an
// unreachable remote secret store.
type flakyRemote struct {
	calls int
	raw   []byte
}

func (f *flakyRemote) Name() string { return "flaky" }
func (f *flakyRemote) Remote() bool { return true }
func (f *flakyRemote) Get(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	if f.calls == 1 {
		return f.raw, nil
	}
	return nil, errors.New("connection refused")
}
func (f *flakyRemote) Put(_ context.Context, _ string, raw []byte) error { f.raw = raw; return nil }
func (f *flakyRemote) Remove(_ context.Context, _ string) error         { f.raw = nil; return nil }
func (f *flakyRemote) List(_ context.Context) ([]string, error)         { return nil, nil }

func TestStore_Get_FallsBackToStaleCacheOnRemoteFailure(t *testing.T) {
	backend := &flakyRemote{raw: []byte(testKey)}
	store := NewStore(backend, time.Minute, NewAuditor(noopZap(t)))
	defer store.Close()

	ctx := context.Background()
	_, err := store.Get(ctx, "ethereum")
	require.NoError(t, err)

	// Backdate the cache entry so it is stale but still present. The
	// eviction loop ticks once per TTL, so with a one-minute TTL it does
	// not delete the entry during the test.
	store.cache.mu.Lock()
	e := store.cache.entries["ethereum"]
	e.cachedAt = time.Now().Add(-time.Hour)
	store.cache.entries["ethereum"] = e
	store.cache.mu.Unlock()

	secret, err := store.Get(ctx, "ethereum")
	require.NoError(t, err, "expected fallback to stale cache, not a hard failure")
	assert.Equal(t, "REDACTED", secret.String())
	assert.Equal(t, 2, backend.calls, "second Get should have hit the backend and failed over")
}

func TestStore_Get_NonRemoteBackendFailsHardWithNoCache(t *testing.T) {
	store := NewStore(NewEnvBackend(), time.Minute, NewAuditor(noopZap(t)))
	defer store.Close()

	_, err := store.Get(context.Background(), "nonexistent-network")
	assert.Error(t, err)
}

func TestStore_Put_IsIdempotent(t *testing.T) {
	backend := NewKeyringBackend("chainkeeper")
	store := NewStore(backend, time.Minute, nil)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "polygon", []byte(testKey)))
	require.NoError(t, store.Put(ctx, "polygon", []byte(testKey)))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"polygon"}, list)
}

func TestSecret_NeverPrintsRawMaterial(t *testing.T) {
	s := NewSecret("ethereum", []byte(testKey), nil)
	assert.Equal(t, "REDACTED", s.String())
	assert.Equal(t, "REDACTED", s.GoString())
	assert.NotContains(t, s.String(), testKey)
}
