// Package redis holds the shared Redis client plus the cross-replica
// primitives built on it: a sweep lease and an event-id deduper.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/civicstake/pkg/logger"
)

const pingTimeout = 5 * time.Second

// Open parses url (redis://[:pass@]host:port/db), connects, and pings.
func Open(ctx context.Context, url string, log logger.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = 2
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	if log != nil {
		log.Info(ctx, "connected to redis", logger.String("addr", opts.Addr), logger.Int("db", opts.DB))
	}
	return client, nil
}
