package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDuplicateRequest indicates an idempotency key that was already claimed.
var ErrDuplicateRequest = errors.New("request already processed")

// IdempotencyStore records claimed request keys in Redis until they expire.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewIdempotencyStore constructs the store. Keys live for ttl.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl, prefix: "coopledger:idem"}
}

func (s *IdempotencyStore) key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, key)
}

// Claim marks key as processed within scope. A second claim before expiry fails with
// ErrDuplicateRequest.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency store not initialised")
	}
	if scope == "" || key == "" {
		return Validation("idempotency key required")
	}
	ok, err := s.client.SetNX(ctx, s.key(scope, key), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return StoreError("idempotency: claim", err)
	}
	if !ok {
		return fmt.Errorf("%w: key %q", ErrDuplicateRequest, key)
	}
	return nil
}

// Release forgets a claim so a failed request can be retried with the same key.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, s.key(scope, key)).Err(); err != nil {
		return StoreError("idempotency: release", err)
	}
	return nil
}
