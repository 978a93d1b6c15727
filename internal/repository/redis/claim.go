package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository"
)

var _ repository.ClaimStore = (*redisClaims)(nil)

const (
	claimKeyPrefix  = "scanorch:claim:"
	defaultClaimTTL = 6 * time.Hour
)

// releaseScript deletes the claim only if this owner still holds it, so a
// claim that expired and was taken over is never released by the old owner.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisClaims struct {
	client *goredis.Client
	owner  string
	ttl    time.Duration
}

// NewRedisClaimStore creates a Redis-backed claim store. owner identifies
// this orchestrator run; ttl bounds how long a crashed run blocks a repository.
func NewRedisClaimStore(client *goredis.Client, owner string, ttl time.Duration) repository.ClaimStore {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &redisClaims{client: client, owner: owner, ttl: ttl}
}

// Claim uses SETNX to atomically take the claim for a repository.
func (r *redisClaims) Claim(ctx context.Context, repoID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, claimKeyPrefix+repoID, r.owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim: %w", err)
	}
	return ok, nil
}

// Release drops the claim if it is still ours.
func (r *redisClaims) Release(ctx context.Context, repoID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{claimKeyPrefix + repoID}, r.owner).Err(); err != nil {
		return fmt.Errorf("redis: release: %w", err)
	}
	return nil
}
