package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"vidgen/internal/infra"
)

// DeadLetterStream names the stream that receives undeliverable entries.
func DeadLetterStream(stream string) string { return stream + ":dead" }

// Publisher appends messages to the completion stream.
type Publisher struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
	now    func() time.Time
}

// NewPublisher returns a Publisher. maxLen > 0 trims the stream approximately.
func NewPublisher(rdb redis.Cmdable, stream string, maxLen int64) *Publisher {
	return &Publisher{rdb: rdb, stream: stream, maxLen: maxLen, now: time.Now}
}

// Publish appends payload with attrs and returns the entry id.
func (p *Publisher) Publish(ctx context.Context, payload []byte, attrs map[string]string) (string, error) {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: streamValues(payload, attrs, p.now()),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("bus: publish: %w", err)
	}
	return id, nil
}

// Handler processes one message. A nil error acknowledges it. ErrPoison
// dead-letters it at once; any other error leaves it pending for redelivery.
type Handler func(ctx context.Context, msg Message) error

// ConsumerOptions tunes a Consumer.
type ConsumerOptions struct {
	Stream   string
	Group    string
	Consumer string
	// RedeliverAfter is how long an entry stays pending before it is reclaimed.
	RedeliverAfter time.Duration
	// MaxDeliveries moves an entry to the dead-letter stream once exceeded.
	MaxDeliveries int64
	Batch         int64
	Block         time.Duration
}

// Consumer reads the completion stream through a consumer group.
type Consumer struct {
	rdb    redis.Cmdable
	opts   ConsumerOptions
	logger infra.Logger
}

func NewConsumer(rdb redis.Cmdable, opts ConsumerOptions, logger infra.Logger) *Consumer {
	if opts.RedeliverAfter <= 0 {
		opts.RedeliverAfter = time.Minute
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 10
	}
	if opts.Batch <= 0 {
		opts.Batch = 10
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &Consumer{rdb: rdb, opts: opts, logger: infra.Component(logger, "bus")}
}

// EnsureGroup creates the stream and the consumer group when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("bus: create group: %w", err)
	}
	return nil
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("stream", c.opts.Stream).Str("group", c.opts.Group).Str("consumer", c.opts.Consumer).Msg("bus: consumer started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.reclaim(ctx, h); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("bus: reclaim pending failed")
		}
		if err := c.readNew(ctx, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("bus: read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) readNew(ctx context.Context, h Handler) error {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    c.opts.Batch,
		Block:    c.opts.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	for _, s := range streams {
		for _, x := range s.Messages {
			c.deliver(ctx, h, x, 0)
		}
	}
	return nil
}

// reclaim takes over entries that stayed pending longer than RedeliverAfter.
func (c *Consumer) reclaim(ctx context.Context, h Handler) error {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.opts.Stream,
		Group:  c.opts.Group,
		Idle:   c.opts.RedeliverAfter,
		Start:  "-",
		End:    "+",
		Count:  c.opts.Batch,
	}).Result()
	if err != nil {
		return err
	}
	for _, p := range pending {
		msgs, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.opts.Stream,
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			MinIdle:  c.opts.RedeliverAfter,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return err
		}
		for _, x := range msgs {
			// RetryCount was read before this claim, which delivered once more.
			c.deliver(ctx, h, x, p.RetryCount)
		}
	}
	return nil
}

func (c *Consumer) deliver(ctx context.Context, h Handler, x redis.XMessage, deliveries int64) {
	log := c.logger.With().Str("entry_id", x.ID).Int64("deliveries", deliveries).Logger()

	msg, err := fromValues(x.ID, x.Values)
	if err != nil {
		c.deadLetter(ctx, x, deliveries, err.Error())
		return
	}
	msg.Deliveries = deliveries
	if exceeded(deliveries, c.opts.MaxDeliveries) {
		c.deadLetter(ctx, x, deliveries, "max deliveries exceeded")
		return
	}

	err = h(ctx, msg)
	switch {
	case err == nil:
		c.ack(ctx, x.ID)
	case errors.Is(err, ErrPoison):
		c.deadLetter(ctx, x, deliveries, err.Error())
	case errors.Is(err, ErrNotReady):
		log.Info().Str("request_id", msg.RequestID()).Msg("bus: message not ready, left pending")
	default:
		log.Warn().Err(err).Str("request_id", msg.RequestID()).Msg("bus: handler failed, left pending")
	}
}

func exceeded(deliveries, max int64) bool {
	return max > 0 && deliveries >= max
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.opts.Stream, c.opts.Group, id).Err(); err != nil {
		c.logger.Error().Err(err).Str("entry_id", id).Msg("bus: ack failed")
	}
}

func (c *Consumer) deadLetter(ctx context.Context, x redis.XMessage, deliveries int64, reason string) {
	values := make(map[string]any, len(x.Values)+3)
	for k, v := range x.Values {
		values[k] = v
	}
	values[fieldOriginalID] = x.ID
	values[fieldDeliveries] = deliveries
	values[fieldReason] = reason
	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(c.opts.Stream), Values: values}).Err(); err != nil {
		c.logger.Error().Err(err).Str("entry_id", x.ID).Msg("bus: dead-letter failed, entry left pending")
		return
	}
	c.logger.Warn().Str("entry_id", x.ID).Str("reason", reason).Msg("bus: entry dead-lettered")
	c.ack(ctx, x.ID)
}
