// Package stream carries release events between replicas over a Redis
// stream with a consumer group, giving at-least-once delivery. Duplicates
// are absorbed by the worker's deduper.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/civicstake/internal/adapters/mq/worker"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
)

const (
	DefaultStream = "civicstake:releases"
	DefaultGroup  = "rating"

	defaultMaxLen        = 100000
	defaultCount         = 50
	defaultBlock         = 5 * time.Second
	defaultRetryInterval = time.Second
	maxRetryInterval     = 30 * time.Second
	defaultClaimIdle     = 30 * time.Second
	defaultClaimInterval = 15 * time.Second

	fieldData = "data"
	transport = "redis"
)

// ErrMalformed marks entries that can never be decoded.
var ErrMalformed = errors.New("malformed stream entry")

// Publisher appends release events to the stream.
type Publisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewPublisher creates a Publisher. Empty stream uses DefaultStream.
func NewPublisher(client redis.UniversalClient, stream string) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, stream: stream, maxLen: defaultMaxLen}
}

// Publish implements policy.Publisher.
func (p *Publisher) Publish(ctx context.Context, ev model.ReleaseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode release %s: %w", ev.EventID, err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{fieldData: string(data)},
	}).Err()
	if err != nil {
		metrics.RecordReleaseEventFailed(transport)
		return fmt.Errorf("xadd release %s: %w", ev.EventID, err)
	}
	metrics.RecordReleaseEventPublished(transport)
	return nil
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration
	// ClaimIdle is how long an entry stays unacknowledged before any
	// consumer in the group may take it over and retry it.
	ClaimIdle     time.Duration
	ClaimInterval time.Duration
}

// Consumer reads the stream through a consumer group and acknowledges each
// entry once its handler succeeds. On start it replays all of its own
// pending entries. While running it periodically claims entries of the
// group that stayed unacknowledged for ClaimIdle, including its own failed
// ones, and retries them.
type Consumer struct {
	client  redis.UniversalClient
	cfg     ConsumerConfig
	handler worker.Handler
	log     logger.Logger
}

// NewConsumer applies defaults. An empty consumer name uses the hostname.
func NewConsumer(client redis.UniversalClient, cfg ConsumerConfig, h worker.Handler, log logger.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "civicstake"
		}
		cfg.Consumer = host
	}
	if cfg.Count <= 0 {
		cfg.Count = defaultCount
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = defaultClaimIdle
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = defaultClaimInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{client: client, cfg: cfg, handler: h, log: log}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.log.Info(ctx, "release stream consumer ready",
		logger.String("stream", c.cfg.Stream),
		logger.String("group", c.cfg.Group),
		logger.String("consumer", c.cfg.Consumer))

	if n, err := c.replayPending(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn(ctx, "pending release replay incomplete, left for reclaim", logger.Error(err))
	} else if n > 0 {
		c.log.Info(ctx, "replayed pending release entries", logger.Int("entries", n))
	}

	nextClaim := time.Now().Add(c.cfg.ClaimInterval)
	retry := defaultRetryInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(nextClaim) {
			if _, err := c.Reclaim(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				metrics.RecordErrorByComponent("stream", "reclaim")
				c.log.Warn(ctx, "error reclaiming release entries", logger.Error(err))
			}
			nextClaim = time.Now().Add(c.cfg.ClaimInterval)
		}

		msgs, err := c.read(ctx, ">", c.cfg.Block)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			c.log.Warn(ctx, "error reading release stream, will retry",
				logger.Error(err), logger.Duration("retry_in", retry))
			select {
			case <-time.After(retry):
				retry = min(retry*2, maxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retry = defaultRetryInterval

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

// replayPending walks this consumer's whole pending list once, batch by
// batch. Entries that fail again stay pending for Reclaim.
func (c *Consumer) replayPending(ctx context.Context) (int, error) {
	cursor, n := "0", 0
	for {
		// A negative block omits BLOCK; history reads return at once.
		msgs, err := c.read(ctx, cursor, -1)
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("replay pending from %s: %w", cursor, err)
		}
		if len(msgs) == 0 {
			return n, nil
		}
		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
		n += len(msgs)
		cursor = msgs[len(msgs)-1].ID
	}
}

// Reclaim takes over every group entry idle for at least ClaimIdle and
// hands it to the handler again. It returns how many entries it retried.
func (c *Consumer) Reclaim(ctx context.Context) (int, error) {
	start, n := "0-0", 0
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimIdle,
			Start:    start,
			Count:    c.cfg.Count,
		}).Result()
		if err != nil {
			return n, fmt.Errorf("autoclaim from %s: %w", start, err)
		}
		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
		n += len(msgs)
		if next == "" || next == "0-0" {
			return n, nil
		}
		start = next
	}
}

func (c *Consumer) read(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.Count,
		Block:    block,
	}).Result()
	if err != nil {
		return nil, err
	}
	var out []redis.XMessage
	for _, st := range streams {
		out = append(out, st.Messages...)
	}
	return out, nil
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	ev, err := decode(msg)
	if err == nil {
		err = c.handler.Process(ctx, ev)
	}
	if err != nil && !errors.Is(err, ErrMalformed) && !errors.Is(err, worker.ErrInvalidEvent) {
		c.log.Error(ctx, "release entry not processed, left pending",
			logger.String("id", msg.ID), logger.Error(err))
		return
	}
	if err != nil {
		metrics.RecordErrorByComponent("stream", "malformed")
		c.log.Error(ctx, "dropping malformed release entry", logger.String("id", msg.ID), logger.Error(err))
	}
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.log.Warn(ctx, "failed to acknowledge release entry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.cfg.Group, err)
	}
	return nil
}

func decode(msg redis.XMessage) (model.ReleaseEvent, error) {
	raw, ok := msg.Values[fieldData].(string)
	if !ok {
		return model.ReleaseEvent{}, fmt.Errorf("entry %s has no %q field: %w", msg.ID, fieldData, ErrMalformed)
	}
	var ev model.ReleaseEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return model.ReleaseEvent{}, fmt.Errorf("entry %s: %w: %w", msg.ID, ErrMalformed, err)
	}
	return ev, nil
}
