package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdempotencyStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(client, time.Hour), mr
}

func TestIdempotencyClaimOnce(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, "actor:7", "pay-1"))
	err := store.Claim(ctx, "actor:7", "pay-1")
	require.ErrorIs(t, err, ErrDuplicateRequest)
	require.True(t, HasKind(err))

	// Keys are scoped per actor.
	require.NoError(t, store.Claim(ctx, "actor:8", "pay-1"))
}

func TestIdempotencyReleaseAllowsRetry(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, "actor:7", "pay-2"))
	require.NoError(t, store.Release(ctx, "actor:7", "pay-2"))
	require.NoError(t, store.Claim(ctx, "actor:7", "pay-2"))
}

func TestIdempotencyKeysExpire(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, "actor:7", "pay-3"))
	mr.FastForward(2 * time.Hour)
	require.NoError(t, store.Claim(ctx, "actor:7", "pay-3"))
}

func TestIdempotencyStoreFailure(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	mr.Close()

	err := store.Claim(context.Background(), "actor:7", "pay-4")
	require.ErrorIs(t, err, ErrStoreFailure)
	require.False(t, errors.Is(err, ErrDuplicateRequest))
	require.ErrorIs(t, store.Claim(context.Background(), "", "k"), ErrValidation)
}
