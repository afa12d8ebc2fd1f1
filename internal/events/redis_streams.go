package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-assistant/internal/domain"
)

const streamField = "event"

// RedisStreamBroker publishes each topic to a Redis stream named
// <prefix><topic>.
type RedisStreamBroker struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
}

var _ Broker = (*RedisStreamBroker)(nil)

// NewRedisStreamBroker creates a broker. maxLen caps each stream
// approximately; zero leaves streams unbounded.
func NewRedisStreamBroker(client redis.UniversalClient, prefix string, maxLen int64) (*RedisStreamBroker, error) {
	if client == nil {
		return nil, errors.New("events: redis client must not be nil")
	}
	return &RedisStreamBroker{client: client, prefix: prefix, maxLen: maxLen}, nil
}

// Stream returns the stream key for topic.
func (b *RedisStreamBroker) Stream(topic string) string {
	return b.prefix + topic
}

func (b *RedisStreamBroker) Publish(ctx context.Context, topic string, ev domain.DomainEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.EventID, err)
	}
	args := &redis.XAddArgs{
		Stream: b.Stream(topic),
		Values: map[string]interface{}{streamField: raw},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("events: XADD %s: %w", args.Stream, err)
	}
	return nil
}

// ConsumerConfig configures a StreamConsumer.
type ConsumerConfig struct {
	Streams  []string
	Group    string
	Consumer string
	// Block is how long one read waits for new entries.
	Block time.Duration
	// MinIdle is how long an entry stays pending before another consumer
	// may reclaim it.
	MinIdle time.Duration
	Count   int64
}

// StreamConsumer reads a consumer group and feeds entries to a Subscriber.
// Success and Drop acknowledge the entry; Retry leaves it pending so it is
// reclaimed after MinIdle.
type StreamConsumer struct {
	client redis.UniversalClient
	sub    *Subscriber
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewStreamConsumer validates cfg and fills defaults.
func NewStreamConsumer(client redis.UniversalClient, sub *Subscriber, cfg ConsumerConfig, logger *slog.Logger) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("events: redis client must not be nil")
	}
	if sub == nil {
		return nil, errors.New("events: subscriber must not be nil")
	}
	if len(cfg.Streams) == 0 {
		return nil, errors.New("events: at least one stream is required")
	}
	if strings.TrimSpace(cfg.Group) == "" || strings.TrimSpace(cfg.Consumer) == "" {
		return nil, errors.New("events: group and consumer must not be empty")
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = 30 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamConsumer{client: client, sub: sub, cfg: cfg, logger: logger}, nil
}

// EnsureGroups creates the consumer group on every stream.
func (c *StreamConsumer) EnsureGroups(ctx context.Context) error {
	for _, s := range c.cfg.Streams {
		err := c.client.XGroupCreateMkStream(ctx, s, c.cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("events: create group on %s: %w", s, err)
		}
	}
	return nil
}

// Run polls until ctx is cancelled.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.EnsureGroups(ctx); err != nil {
		return err
	}
	for {
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("stream poll failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll reclaims idle pending entries, then reads new ones, and delivers each.
// It returns the number of entries delivered.
func (c *StreamConsumer) Poll(ctx context.Context) (int, error) {
	n := 0
	for _, s := range c.cfg.Streams {
		msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.MinIdle,
			Start:    "0-0",
			Count:    c.cfg.Count,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return n, fmt.Errorf("events: XAUTOCLAIM %s: %w", s, err)
		}
		for _, m := range msgs {
			c.deliver(ctx, s, m)
			n++
		}
	}

	streams := make([]string, 0, 2*len(c.cfg.Streams))
	streams = append(streams, c.cfg.Streams...)
	for range c.cfg.Streams {
		streams = append(streams, ">")
	}
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  streams,
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		return n, fmt.Errorf("events: XREADGROUP: %w", err)
	}
	for _, st := range res {
		for _, m := range st.Messages {
			c.deliver(ctx, st.Stream, m)
			n++
		}
	}
	return n, nil
}

func (c *StreamConsumer) deliver(ctx context.Context, stream string, m redis.XMessage) {
	var res Result
	raw, ok := m.Values[streamField].(string)
	if !ok {
		c.logger.Warn("dropping stream entry without event field", "stream", stream, "id", m.ID)
		res = Drop
	} else if ev, err := Decode([]byte(raw)); err != nil {
		c.logger.Warn("dropping undecodable stream entry", "stream", stream, "id", m.ID, "err", err)
		res = Drop
	} else {
		res = c.sub.Deliver(ctx, ev)
	}

	if res == Retry {
		return
	}
	if err := c.client.XAck(ctx, stream, c.cfg.Group, m.ID).Err(); err != nil {
		c.logger.Warn("XACK failed", "stream", stream, "id", m.ID, "err", err)
	}
}
