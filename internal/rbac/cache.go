package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roleKeyPrefix    = "rbac:roles:"
	roleVersionInfix = "version:"
)

// RedisCache caches role sets in Redis with a TTL. Entries live under per-member
// versioned keys; Invalidate bumps the version so a fill that read the database
// before the bump lands on a key no reader will look at again.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds the role cache. A nil client disables caching.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func roleVersionKey(memberID int64) string {
	return roleKeyPrefix + roleVersionInfix + strconv.FormatInt(memberID, 10)
}

func roleKey(memberID, version int64) string {
	return roleKeyPrefix + strconv.FormatInt(memberID, 10) + ":" + strconv.FormatInt(version, 10)
}

// Version returns the member's current cache generation. A member never invalidated
// is at generation zero.
func (c *RedisCache) Version(ctx context.Context, memberID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, roleVersionKey(memberID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// Get returns the set cached for the generation, reporting a miss with ok=false.
func (c *RedisCache) Get(ctx context.Context, memberID, version int64) (RoleSet, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, roleKey(memberID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, false, err
	}
	set := make(RoleSet, len(names))
	for _, n := range names {
		set[Role(n)] = struct{}{}
	}
	return set, true, nil
}

// Set stores the set under the generation read before loading it.
func (c *RedisCache) Set(ctx context.Context, memberID, version int64, roles RoleSet) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(roles.Strings())
	if err != nil {
		return err
	}
	return c.client.Set(ctx, roleKey(memberID, version), raw, c.ttl).Err()
}

// Invalidate moves the member to a new generation and drops the entry of the old one.
func (c *RedisCache) Invalidate(ctx context.Context, memberID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, roleVersionKey(memberID)).Result()
	if err != nil {
		return err
	}
	return c.client.Del(ctx, roleKey(memberID, ver-1)).Err()
}
