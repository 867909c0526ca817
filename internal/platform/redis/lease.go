package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/civicstake/pkg/logger"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lease is a best-effort mutual exclusion over one Redis key.
type Lease struct {
	client redis.UniversalClient
	log    logger.Logger
}

// NewLease creates a Lease.
func NewLease(client redis.UniversalClient, log logger.Logger) *Lease {
	if log == nil {
		log = logger.NewNop()
	}
	return &Lease{client: client, log: log}
}

// TryAcquire sets key for ttl if nobody holds it. The returned release
// removes the key only if this holder still owns it.
func (l *Lease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		// The caller's context may already be done when the run ends.
		rctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn(rctx, "lease release failed", logger.String("key", key), logger.Error(err))
		}
	}
	return release, true, nil
}
