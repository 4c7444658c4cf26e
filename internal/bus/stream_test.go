package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const testStream = "render:completions"

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestConsumer(t *testing.T, rdb *redis.Client, opts ConsumerOptions) *Consumer {
	t.Helper()
	opts.Stream = testStream
	opts.Group = "completion-processor"
	opts.Consumer = "worker-1"
	opts.Block = 10 * time.Millisecond
	c := NewConsumer(rdb, opts, zerolog.Nop())
	if err := c.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup error: %v", err)
	}
	return c
}

func publish(t *testing.T, p *Publisher, requestID string) string {
	t.Helper()
	id, err := p.Publish(context.Background(), []byte(`{"request_id":"`+requestID+`"}`), map[string]string{AttrRequestID: requestID})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	return id
}

func pendingCount(t *testing.T, rdb *redis.Client) int64 {
	t.Helper()
	p, err := rdb.XPending(context.Background(), testStream, "completion-processor").Result()
	if err != nil {
		t.Fatalf("XPending error: %v", err)
	}
	return p.Count
}

func deadLetters(t *testing.T, rdb *redis.Client) []redis.XMessage {
	t.Helper()
	msgs, err := rdb.XRange(context.Background(), DeadLetterStream(testStream), "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange error: %v", err)
	}
	return msgs
}

func TestPublishAppendsEntry(t *testing.T) {
	rdb := newTestRedis(t)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	p := NewPublisher(rdb, testStream, 1000)
	p.now = func() time.Time { return at }

	id := publish(t, p, "req-1")

	msgs, err := rdb.XRange(context.Background(), testStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Fatalf("entries = %+v, want one with id %s", msgs, id)
	}
	msg, err := fromValues(msgs[0].ID, msgs[0].Values)
	if err != nil {
		t.Fatalf("fromValues error: %v", err)
	}
	if msg.RequestID() != "req-1" || string(msg.Payload) != `{"request_id":"req-1"}` || !msg.PublishedAt.Equal(at) {
		t.Fatalf("message = %+v", msg)
	}
}

func TestPublishError(t *testing.T) {
	rdb := newTestRedis(t)
	_ = rdb.Close()
	if _, err := NewPublisher(rdb, testStream, 0).Publish(context.Background(), []byte(`{}`), nil); err == nil {
		t.Fatal("expected error from closed client")
	}
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	rdb := newTestRedis(t)
	c := newTestConsumer(t, rdb, ConsumerOptions{})
	if err := c.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("second EnsureGroup error: %v", err)
	}
}

func TestConsumerSettlesByHandlerResult(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	c := newTestConsumer(t, rdb, ConsumerOptions{})
	p := NewPublisher(rdb, testStream, 0)

	publish(t, p, "ok")
	poisonID := publish(t, p, "poison")
	publish(t, p, "not-ready")
	publish(t, p, "flaky")
	if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: testStream, Values: map[string]any{AttrStatus: "completed"}}).Err(); err != nil {
		t.Fatalf("XAdd error: %v", err)
	}

	var seen []string
	err := c.readNew(ctx, func(_ context.Context, msg Message) error {
		seen = append(seen, msg.RequestID())
		switch msg.RequestID() {
		case "ok":
			return nil
		case "poison":
			return fmt.Errorf("%w: unparseable", ErrPoison)
		case "not-ready":
			return ErrNotReady
		}
		return errors.New("database unavailable")
	})
	if err != nil {
		t.Fatalf("readNew error: %v", err)
	}

	if strings.Join(seen, ",") != "ok,poison,not-ready,flaky" {
		t.Fatalf("handled = %v", seen)
	}
	if n := pendingCount(t, rdb); n != 2 {
		t.Fatalf("pending = %d, want 2 (not-ready and flaky)", n)
	}
	dead := deadLetters(t, rdb)
	if len(dead) != 2 {
		t.Fatalf("dead letters = %d, want 2", len(dead))
	}
	if dead[0].Values[fieldOriginalID] != poisonID || !strings.Contains(fmt.Sprint(dead[0].Values[fieldReason]), "poison") {
		t.Fatalf("poison dead letter = %v", dead[0].Values)
	}
	if !strings.Contains(fmt.Sprint(dead[1].Values[fieldReason]), "no payload") {
		t.Fatalf("payload-less dead letter = %v", dead[1].Values)
	}
}

func TestConsumerReclaimStopsAtMaxDeliveries(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	c := newTestConsumer(t, rdb, ConsumerOptions{RedeliverAfter: 5 * time.Millisecond, MaxDeliveries: 2})
	id := publish(t, NewPublisher(rdb, testStream, 0), "req-stuck")

	var deliveries []int64
	failing := func(_ context.Context, msg Message) error {
		deliveries = append(deliveries, msg.Deliveries)
		return errors.New("provider status unavailable")
	}

	if err := c.readNew(ctx, failing); err != nil {
		t.Fatalf("readNew error: %v", err)
	}
	// Entries are only reclaimed once idle for RedeliverAfter.
	fresh := newTestConsumer(t, rdb, ConsumerOptions{RedeliverAfter: time.Hour})
	if err := fresh.reclaim(ctx, failing); err != nil {
		t.Fatalf("reclaim error: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("fresh entry reclaimed: deliveries = %v", deliveries)
	}

	for i := 0; i < 2; i++ {
		time.Sleep(20 * time.Millisecond)
		if err := c.reclaim(ctx, failing); err != nil {
			t.Fatalf("reclaim %d error: %v", i, err)
		}
	}

	if len(deliveries) != 2 || deliveries[0] != 0 || deliveries[1] != 1 {
		t.Fatalf("deliveries = %v, want [0 1]", deliveries)
	}
	if n := pendingCount(t, rdb); n != 0 {
		t.Fatalf("pending = %d, want 0 after dead-lettering", n)
	}
	dead := deadLetters(t, rdb)
	if len(dead) != 1 || dead[0].Values[fieldOriginalID] != id || dead[0].Values[fieldReason] != "max deliveries exceeded" {
		t.Fatalf("dead letters = %+v", dead)
	}
}
