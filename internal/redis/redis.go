package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"relaygate/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "device:"

// NewRedisClient creates a Redis client
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// StateMirror keeps the latest telemetry snapshot of every device in Redis so
// a restarted engine can evaluate against known state immediately
type StateMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStateMirror wraps client; ttl <= 0 keeps snapshots forever
func NewStateMirror(client *redis.Client, ttl time.Duration) *StateMirror {
	return &StateMirror{client: client, ttl: ttl}
}

// Ping checks the connection
func (m *StateMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Save stores the snapshot of one device
func (m *StateMirror) Save(ctx context.Context, key string, record models.DeviceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ttl := m.ttl
	if ttl < 0 {
		ttl = 0
	}
	return m.client.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// Load returns the stored snapshot of one device
func (m *StateMirror) Load(ctx context.Context, key string) (models.DeviceRecord, bool, error) {
	data, err := m.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var record models.DeviceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// LoadAll returns every stored snapshot. Entries that do not decode are skipped.
func (m *StateMirror) LoadAll(ctx context.Context) (models.DeviceState, error) {
	state := make(models.DeviceState)
	iter := m.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		data, err := m.client.Get(ctx, redisKey).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", redisKey, err)
		}
		var record models.DeviceRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		state[strings.TrimPrefix(redisKey, keyPrefix)] = record
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return state, nil
}

// Close closes the client
func (m *StateMirror) Close() error {
	return m.client.Close()
}
