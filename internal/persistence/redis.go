/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/telemetry"
)

// Redis key layout.
const (
	keySnapshotPrefix = "mixroom:room:" // + room_id
	keyRoomIndex      = "mixroom:rooms" // set of room ids
)

// RedisConfig configures the redis snapshot sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// SnapshotTTL expires snapshots of rooms that never got cleaned up.
	// Zero keeps them forever.
	SnapshotTTL time.Duration

	// DisableOnError trips the circuit breaker on the first redis error;
	// the sink then degrades to a noop until restart.
	DisableOnError bool
}

// DefaultRedisConfig returns the stock redis sink configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:           "localhost:6379",
		SnapshotTTL:    24 * time.Hour,
		DisableOnError: false,
	}
}

// RedisSink persists snapshots to redis. Degrades gracefully: when redis is
// unreachable at startup, or trips the breaker later, saves become noops.
type RedisSink struct {
	client *redis.Client
	logger zerolog.Logger
	config RedisConfig

	mu       sync.RWMutex
	disabled bool
}

// NewRedisSink connects to redis. An unreachable server is not an error;
// the sink starts disabled and the caller keeps running without snapshots.
func NewRedisSink(cfg RedisConfig, logger zerolog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	log := logger.With().Str("component", "persistence_redis").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, room snapshots disabled")
		return &RedisSink{logger: log, config: cfg, disabled: true}, nil
	}

	log.Info().Str("addr", cfg.Addr).Msg("redis snapshot sink initialized")
	return &RedisSink{client: client, logger: log, config: cfg}, nil
}

// NewRedisSinkWithClient wraps an existing client. Test hook.
func NewRedisSinkWithClient(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisSink {
	return &RedisSink{
		client: client,
		logger: logger.With().Str("component", "persistence_redis").Logger(),
		config: cfg,
	}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabled && s.client != nil
}

func (s *RedisSink) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}
	telemetry.PersistOperations.WithLabelValues("redis", "error").Inc()
	s.logger.Debug().Err(err).Str("operation", operation).Msg("redis operation failed")
	if s.config.DisableOnError {
		s.mu.Lock()
		s.disabled = true
		s.mu.Unlock()
		s.logger.Warn().Msg("disabling snapshot sink due to redis error")
	}
}

// SaveRoom writes the snapshot and indexes the room id.
func (s *RedisSink) SaveRoom(ctx context.Context, snap *Snapshot) error {
	if !s.available() {
		return nil
	}
	if snap == nil || snap.State == nil {
		return fmt.Errorf("save: empty snapshot")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	roomID := snap.State.RoomID
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keySnapshotPrefix+roomID, data, s.config.SnapshotTTL)
	pipe.SAdd(ctx, keyRoomIndex, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		s.handleError(err, "save")
		return err
	}
	telemetry.PersistOperations.WithLabelValues("redis", "save").Inc()
	return nil
}

// LoadRoom fetches one room's snapshot.
func (s *RedisSink) LoadRoom(ctx context.Context, roomID string) (*Snapshot, error) {
	if !s.available() {
		return nil, ErrNotFound
	}
	data, err := s.client.Get(ctx, keySnapshotPrefix+roomID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		s.handleError(err, "load")
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", roomID, err)
	}
	return &snap, nil
}

// ListRooms returns the indexed room ids.
func (s *RedisSink) ListRooms(ctx context.Context) ([]string, error) {
	if !s.available() {
		return nil, nil
	}
	ids, err := s.client.SMembers(ctx, keyRoomIndex).Result()
	if err != nil {
		s.handleError(err, "list")
		return nil, err
	}
	return ids, nil
}

// DeleteRoom drops a room's snapshot and index entry.
func (s *RedisSink) DeleteRoom(ctx context.Context, roomID string) error {
	if !s.available() {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keySnapshotPrefix+roomID)
	pipe.SRem(ctx, keyRoomIndex, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		s.handleError(err, "delete")
		return err
	}
	telemetry.PersistOperations.WithLabelValues("redis", "delete").Inc()
	return nil
}

// Close closes the redis connection.
func (s *RedisSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
