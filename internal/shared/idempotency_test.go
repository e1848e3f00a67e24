package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(client, time.Hour), mr
}

func TestIdempotencyStoreRejectsDuplicates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k-1", "invoices"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "k-1", "invoices"), ErrIdempotencyConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "k-1", "bills"))
}

func TestIdempotencyStoreDeleteReleasesKey(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k-2", "invoices"))
	require.NoError(t, store.Delete(ctx, "k-2", "invoices"))
	require.NoError(t, store.CheckAndInsert(ctx, "k-2", "invoices"))
}

func TestIdempotencyStoreExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k-3", "invoices"))
	mr.FastForward(2 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "k-3", "invoices"))
}

func TestIdempotencyStoreRequiresKey(t *testing.T) {
	store, _ := newTestStore(t)
	require.Error(t, store.CheckAndInsert(context.Background(), "", "invoices"))
	require.Error(t, store.CheckAndInsert(context.Background(), "k", ""))
}
