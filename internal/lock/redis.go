package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so a
// holder whose lease expired cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by every replica talking to the same
// Redis server.
type Redis struct {
	client *redis.Client
	prefix string
	lease  time.Duration
	retry  time.Duration
}

// NewRedis builds a lock whose leases expire after lease if the holder dies.
func NewRedis(client *redis.Client, prefix string, lease time.Duration) *Redis {
	if prefix == "" {
		prefix = "lock:"
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Redis{client: client, prefix: prefix, lease: lease, retry: 25 * time.Millisecond}
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(k, token) })
	}, nil
}

func (r *Redis) release(k, token string) {
	// Release even when the caller's context is already cancelled.
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// A failed release leaves the lease to expire on its own.
	_ = releaseScript.Run(rctx, r.client, []string{k}, token).Err()
}
