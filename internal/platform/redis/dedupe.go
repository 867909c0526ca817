package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 7 * 24 * time.Hour

// Deduper remembers event ids in Redis so every replica sees the same set.
type Deduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewDeduper stores ids under prefix for ttl (a week when ttl <= 0).
func NewDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Deduper{client: client, prefix: prefix, ttl: ttl}
}

// SeenAndRecord implements dedupe.Deduper.
func (d *Deduper) SeenAndRecord(ctx context.Context, id string) (bool, error) {
	fresh, err := d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record %s: %w", id, err)
	}
	return !fresh, nil
}

// Unrecord implements dedupe.Deduper.
func (d *Deduper) Unrecord(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.prefix+id).Err(); err != nil {
		return fmt.Errorf("unrecord %s: %w", id, err)
	}
	return nil
}

// Size counts remembered ids. It scans the keyspace and is meant for diagnostics.
func (d *Deduper) Size() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	var n int64
	iter := d.client.Scan(ctx, 0, d.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n
}
