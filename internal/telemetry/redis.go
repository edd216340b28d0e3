package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ EphemeralSink = (*RedisSink)(nil)

// ErrCacheMiss is returned by cache reads when the key is absent or expired.
var ErrCacheMiss = errors.New("telemetry: cache miss")

const (
	sessionTTL  = 30 * time.Minute
	endedTTL    = 60 * time.Second
	scenarioTTL = 5 * time.Minute

	// eventsChannel carries live call events for dashboard subscribers.
	eventsChannel = "call_events"
)

// HistoryEntry is one message in a session's dialog history list.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisSink keeps live session state, dialog history and the scenario cache,
// and publishes call events for subscribers.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink wraps an existing client. The sink takes ownership and closes
// the client on Close.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// DialRedisSink connects to the instance described by url
// (redis://host:port/db) and verifies the connection.
func DialRedisSink(ctx context.Context, url string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis sink: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis sink: ping: %w", err)
	}
	return &RedisSink{client: client}, nil
}

func sessionKey(callID string) string { return "call:" + callID }
func historyKey(callID string) string { return "call:" + callID + ":history" }
func scenarioKey(name string) string  { return "scenario:" + name }

// CreateSession writes the live state hash for a new call and implements
// EphemeralSink.
func (s *RedisSink) CreateSession(ctx context.Context, ev CallStart) error {
	key := sessionKey(ev.CallID)
	fields := map[string]any{
		"state":       "active",
		"mode":        ev.Mode,
		"robot_name":  ev.RobotName,
		"language":    ev.Language,
		"scenario_id": ev.ScenarioID,
		"caller":      orUnknown(ev.Caller),
		"turns":       "0",
		"barge_ins":   "0",
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: create session %s: %w", ev.CallID, err)
	}
	return nil
}

// UpdateSession merges fields into the live state hash. Implements
// EphemeralSink.
func (s *RedisSink) UpdateSession(ctx context.Context, callID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make(map[string]any, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	if err := s.client.HSet(ctx, sessionKey(callID), args).Err(); err != nil {
		return fmt.Errorf("redis sink: update session %s: %w", callID, err)
	}
	return nil
}

// IncrementBargeIns bumps the live barge-in counter. Implements EphemeralSink.
func (s *RedisSink) IncrementBargeIns(ctx context.Context, callID string) error {
	if err := s.client.HIncrBy(ctx, sessionKey(callID), "barge_ins", 1).Err(); err != nil {
		return fmt.Errorf("redis sink: increment barge-ins %s: %w", callID, err)
	}
	return nil
}

// IncrementTurns bumps the live turn counter.
func (s *RedisSink) IncrementTurns(ctx context.Context, callID string) error {
	if err := s.client.HIncrBy(ctx, sessionKey(callID), "turns", 1).Err(); err != nil {
		return fmt.Errorf("redis sink: increment turns %s: %w", callID, err)
	}
	return nil
}

// EndSession marks the session ended and shortens its TTL so dashboards see
// the final state briefly before it expires. Implements EphemeralSink.
func (s *RedisSink) EndSession(ctx context.Context, ev CallEnd) error {
	key := sessionKey(ev.CallID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"state":        "ended",
		"status":       ev.Status,
		"duration_sec": strconv.FormatFloat(ev.DurationSec, 'f', 1, 64),
		"turns":        strconv.Itoa(ev.Turns),
		"barge_ins":    strconv.Itoa(ev.BargeIns),
	})
	pipe.Expire(ctx, key, endedTTL)
	pipe.Expire(ctx, historyKey(ev.CallID), endedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: end session %s: %w", ev.CallID, err)
	}
	return nil
}

// PushMessage appends one dialog message to the session's history list.
// Implements EphemeralSink.
func (s *RedisSink) PushMessage(ctx context.Context, callID, role, text string) error {
	entry := HistoryEntry{Role: role, Text: text, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis sink: marshal history entry: %w", err)
	}
	key := historyKey(callID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: push message %s: %w", callID, err)
	}
	return nil
}

// History returns the dialog messages recorded for a call, oldest first.
func (s *RedisSink) History(ctx context.Context, callID string) ([]HistoryEntry, error) {
	raw, err := s.client.LRange(ctx, historyKey(callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sink: history %s: %w", callID, err)
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("redis sink: decode history entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// PublishEvent broadcasts a live event on the call_events channel. Implements
// EphemeralSink.
func (s *RedisSink) PublishEvent(ctx context.Context, eventType string, payload map[string]any) error {
	msg := map[string]any{"event": eventType, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range payload {
		msg[k] = v
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis sink: marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("redis sink: publish %s: %w", eventType, err)
	}
	return nil
}

// Subscribe returns a subscription to the call_events channel. Callers must
// close it when done.
func (s *RedisSink) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, eventsChannel)
}

// CacheScenario stores a serialized scenario under its name for five minutes.
func (s *RedisSink) CacheScenario(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, scenarioKey(name), data, scenarioTTL).Err(); err != nil {
		return fmt.Errorf("redis sink: cache scenario %s: %w", name, err)
	}
	return nil
}

// CachedScenario fetches a cached scenario, returning ErrCacheMiss when the
// entry is absent or expired.
func (s *RedisSink) CachedScenario(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, scenarioKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis sink: cached scenario %s: %w", name, err)
	}
	return data, nil
}

// ActiveCalls scans the session keys and returns IDs of calls still marked
// active.
func (s *RedisSink) ActiveCalls(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "call:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis sink: scan sessions: %w", err)
		}
		for _, key := range keys {
			if strings.HasSuffix(key, ":history") {
				continue
			}
			state, err := s.client.HGet(ctx, key, "state").Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis sink: read session %s: %w", key, err)
			}
			if state == "active" {
				out = append(out, strings.TrimPrefix(key, "call:"))
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Ping verifies the client can still reach the server. Used by the
// readiness probe.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client. Implements EphemeralSink.
func (s *RedisSink) Close(ctx context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis sink: close: %w", err)
	}
	return nil
}
