package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/models"
)

const scanBatch = 100

// RedisMirror keeps a copy of the block list and active lockouts in Redis so
// other instances and tooling can read them, and so blocks survive restarts
type RedisMirror struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisMirror connects to Redis and verifies the connection
func NewRedisMirror(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis mirror connected", slog.String("addr", cfg.Addr))
	return &RedisMirror{client: client, prefix: cfg.KeyPrefix, logger: logger, now: time.Now}, nil
}

func (m *RedisMirror) Name() string { return "redis" }

// Write applies the state changes carried by the batch in one pipeline.
// Events that do not touch the block list or lockouts are ignored.
func (m *RedisMirror) Write(ctx context.Context, events []models.SecurityEvent) error {
	now := m.now()
	pipe := m.client.TxPipeline()
	queued := 0

	for _, ev := range events {
		cmd, ok := mirrorCommand(m.prefix, ev, now)
		if !ok {
			continue
		}
		if cmd.del {
			pipe.Del(ctx, cmd.key)
		} else {
			pipe.Set(ctx, cmd.key, cmd.value, cmd.ttl)
		}
		queued++
	}

	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror %d events to redis: %w", queued, err)
	}
	return nil
}

// LoadBlockedIPs reads every mirrored block list entry
func (m *RedisMirror) LoadBlockedIPs(ctx context.Context) ([]models.BlockedIP, error) {
	var keys []string
	iter := m.client.Scan(ctx, 0, m.prefix+"blocked:*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan blocked ips: %w", err)
	}

	entries := make([]models.BlockedIP, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		values, err := m.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read blocked ips: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// expired between SCAN and MGET
				continue
			}
			var entry models.BlockedIP
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				m.logger.Warn("skipping malformed blocked ip entry",
					slog.String("key", keys[start+i]),
					slog.Any("error", err),
				)
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Close closes the Redis client
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

type redisCommand struct {
	key   string
	value []byte
	ttl   time.Duration
	del   bool
}

// mirrorCommand maps an event to the Redis write it implies
func mirrorCommand(prefix string, ev models.SecurityEvent, now time.Time) (redisCommand, bool) {
	switch ev.Type {
	case models.EventIPBlocked:
		entry := models.BlockedIP{
			IP:        ev.SubjectKey,
			Reason:    stringDetail(ev.Details, "reason"),
			Manual:    boolDetail(ev.Details, "manual"),
			BlockedAt: ev.Timestamp,
		}
		var ttl time.Duration
		if expires, ok := timeDetail(ev.Details, "expires_at"); ok {
			ttl = expires.Sub(now)
			if ttl <= 0 {
				return redisCommand{}, false
			}
			entry.ExpiresAt = &expires
		}
		value, err := json.Marshal(entry)
		if err != nil {
			return redisCommand{}, false
		}
		return redisCommand{key: prefix + "blocked:" + ev.SubjectKey, value: value, ttl: ttl}, true

	case models.EventIPUnblocked:
		return redisCommand{key: prefix + "blocked:" + ev.SubjectKey, del: true}, true

	case models.EventAccountLockout:
		lockedAt, ok := timeDetail(ev.Details, "locked_at")
		if !ok {
			lockedAt = ev.Timestamp
		}
		lockout := models.Lockout{
			Key:          ev.SubjectKey,
			LockedAt:     lockedAt,
			Reason:       stringDetail(ev.Details, "reason"),
			AttemptCount: intDetail(ev.Details, "attempts"),
			Duration:     time.Duration(intDetail(ev.Details, "duration")) * time.Millisecond,
		}
		ttl := lockout.ExpiresAt().Sub(now)
		if ttl <= 0 {
			return redisCommand{}, false
		}
		value, err := json.Marshal(lockout)
		if err != nil {
			return redisCommand{}, false
		}
		return redisCommand{key: prefix + "lockout:" + ev.SubjectKey, value: value, ttl: ttl}, true

	case models.EventAccountUnlocked:
		return redisCommand{key: prefix + "lockout:" + ev.SubjectKey, del: true}, true
	}

	return redisCommand{}, false
}

func stringDetail(d models.EventDetails, key string) string {
	s, _ := d[key].(string)
	return s
}

func boolDetail(d models.EventDetails, key string) bool {
	b, _ := d[key].(bool)
	return b
}

// intDetail accepts both in-process values and numbers decoded from JSON
func intDetail(d models.EventDetails, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func timeDetail(d models.EventDetails, key string) (time.Time, bool) {
	switch v := d[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}
