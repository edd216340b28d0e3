package telemetry_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/telvox/telvox/internal/telemetry"
)

func newRedisSink(t *testing.T) (*telemetry.RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return telemetry.NewRedisSink(client), mr
}

func TestRedisSinkSessionLifecycle(t *testing.T) {
	sink, mr := newRedisSink(t)
	ctx := context.Background()

	err := sink.CreateSession(ctx, telemetry.CallStart{
		CallID:    "call-0001",
		Caller:    "79001234567",
		Mode:      "pipeline",
		RobotName: "support",
		Language:  "ru",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if got := mr.HGet("call:call-0001", "state"); got != "active" {
		t.Errorf("state = %q, want %q", got, "active")
	}
	if got := mr.HGet("call:call-0001", "caller"); got != "79001234567" {
		t.Errorf("caller = %q, want %q", got, "79001234567")
	}
	if got := mr.HGet("call:call-0001", "turns"); got != "0" {
		t.Errorf("turns = %q, want %q", got, "0")
	}
	if ttl := mr.TTL("call:call-0001"); ttl <= 0 || ttl > 30*time.Minute {
		t.Errorf("session ttl = %v, want within 30m", ttl)
	}

	if err := sink.IncrementBargeIns(ctx, "call-0001"); err != nil {
		t.Fatalf("IncrementBargeIns: %v", err)
	}
	if err := sink.IncrementBargeIns(ctx, "call-0001"); err != nil {
		t.Fatalf("IncrementBargeIns: %v", err)
	}
	if got := mr.HGet("call:call-0001", "barge_ins"); got != "2" {
		t.Errorf("barge_ins = %q, want %q", got, "2")
	}

	err = sink.UpdateSession(ctx, "call-0001", map[string]string{"last_asr_ms": "230"})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got := mr.HGet("call:call-0001", "last_asr_ms"); got != "230" {
		t.Errorf("last_asr_ms = %q, want %q", got, "230")
	}

	err = sink.EndSession(ctx, telemetry.CallEnd{
		CallID:      "call-0001",
		DurationSec: 42.5,
		Turns:       4,
		BargeIns:    2,
		Status:      "completed",
	})
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if got := mr.HGet("call:call-0001", "state"); got != "ended" {
		t.Errorf("state after end = %q, want %q", got, "ended")
	}
	if got := mr.HGet("call:call-0001", "duration_sec"); got != "42.5" {
		t.Errorf("duration_sec = %q, want %q", got, "42.5")
	}
	if ttl := mr.TTL("call:call-0001"); ttl <= 0 || ttl > 60*time.Second {
		t.Errorf("ended ttl = %v, want within 60s", ttl)
	}
}

func TestRedisSinkEmptyCallerBecomesUnknown(t *testing.T) {
	sink, mr := newRedisSink(t)

	err := sink.CreateSession(context.Background(), telemetry.CallStart{CallID: "call-0002"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if got := mr.HGet("call:call-0002", "caller"); got != "unknown" {
		t.Errorf("caller = %q, want %q", got, "unknown")
	}
}

func TestRedisSinkHistory(t *testing.T) {
	sink, _ := newRedisSink(t)
	ctx := context.Background()

	if err := sink.PushMessage(ctx, "call-0003", "user", "привет"); err != nil {
		t.Fatalf("PushMessage: %v", err)
	}
	if err := sink.PushMessage(ctx, "call-0003", "assistant", "Здравствуйте!"); err != nil {
		t.Fatalf("PushMessage: %v", err)
	}

	history, err := sink.History(ctx, "call-0003")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history entries, want 2", len(history))
	}
	if history[0].Role != "user" || history[0].Text != "привет" {
		t.Errorf("first entry = %+v, want user/привет", history[0])
	}
	if history[1].Role != "assistant" {
		t.Errorf("second entry role = %q, want %q", history[1].Role, "assistant")
	}
}

func TestRedisSinkPublishEvent(t *testing.T) {
	sink, mr := newRedisSink(t)

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe("call_events")

	// miniredis delivers to a direct Subscriber on an unbuffered channel, so
	// the publish must run concurrently with the receive below.
	pubErr := make(chan error, 1)
	go func() {
		pubErr <- sink.PublishEvent(context.Background(), "call_started", map[string]any{
			"call_id": "call-0004",
			"caller":  "79001234567",
		})
	}()

	select {
	case msg := <-sub.Messages():
		var payload map[string]any
		if err := json.Unmarshal([]byte(msg.Message), &payload); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if payload["event"] != "call_started" {
			t.Errorf("event = %v, want call_started", payload["event"])
		}
		if payload["call_id"] != "call-0004" {
			t.Errorf("call_id = %v, want call-0004", payload["call_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received on call_events")
	}
	if err := <-pubErr; err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
}

func TestRedisSinkScenarioCache(t *testing.T) {
	sink, mr := newRedisSink(t)
	ctx := context.Background()

	_, err := sink.CachedScenario(ctx, "support")
	if !errors.Is(err, telemetry.ErrCacheMiss) {
		t.Fatalf("CachedScenario on empty cache: err = %v, want ErrCacheMiss", err)
	}

	if err := sink.CacheScenario(ctx, "support", []byte(`{"mode":"pipeline"}`)); err != nil {
		t.Fatalf("CacheScenario: %v", err)
	}
	data, err := sink.CachedScenario(ctx, "support")
	if err != nil {
		t.Fatalf("CachedScenario: %v", err)
	}
	if string(data) != `{"mode":"pipeline"}` {
		t.Errorf("cached data = %s", data)
	}

	mr.FastForward(6 * time.Minute)
	if _, err := sink.CachedScenario(ctx, "support"); !errors.Is(err, telemetry.ErrCacheMiss) {
		t.Errorf("after expiry: err = %v, want ErrCacheMiss", err)
	}
}

func TestRedisSinkActiveCalls(t *testing.T) {
	sink, _ := newRedisSink(t)
	ctx := context.Background()

	for _, id := range []string{"call-0005", "call-0006"} {
		if err := sink.CreateSession(ctx, telemetry.CallStart{CallID: id}); err != nil {
			t.Fatalf("CreateSession %s: %v", id, err)
		}
	}
	if err := sink.PushMessage(ctx, "call-0005", "user", "hi"); err != nil {
		t.Fatalf("PushMessage: %v", err)
	}
	if err := sink.EndSession(ctx, telemetry.CallEnd{CallID: "call-0006", Status: "completed"}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	active, err := sink.ActiveCalls(ctx)
	if err != nil {
		t.Fatalf("ActiveCalls: %v", err)
	}
	if len(active) != 1 || active[0] != "call-0005" {
		t.Errorf("active calls = %v, want [call-0005]", active)
	}
}
