/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/models"
)

// Key layout for the Redis backend.
const (
	KeyUnitHolds = "holdkeeper:holds:" // + unit_id, JSON token -> hold map
	KeyAlarms    = "holdkeeper:alarms" // sorted set, member unit_id, score wake-at unix ms
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

// Redis stores snapshots as JSON strings and alarms in one sorted set.
// Redis errors are always returned; there is no silent fallback.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Redis hold store initialized")

	return &Redis{
		client: client,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, logger zerolog.Logger) *Redis {
	return &Redis{client: client, logger: logger.With().Str("component", "redis_store").Logger()}
}

// LoadHolds implements HoldStore.
func (r *Redis) LoadHolds(ctx context.Context, unitID string) (map[string]models.Hold, error) {
	data, err := r.client.Get(ctx, KeyUnitHolds+unitID).Bytes()
	if err == redis.Nil {
		return map[string]models.Hold{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load unit holds: %w", err)
	}

	holds := make(map[string]models.Hold)
	if err := json.Unmarshal(data, &holds); err != nil {
		return nil, fmt.Errorf("decode unit holds: %w", err)
	}
	return holds, nil
}

// SaveHolds implements HoldStore.
func (r *Redis) SaveHolds(ctx context.Context, unitID string, holds map[string]models.Hold) error {
	key := KeyUnitHolds + unitID
	if len(holds) == 0 {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("clear unit holds: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(holds)
	if err != nil {
		return fmt.Errorf("encode unit holds: %w", err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("save unit holds: %w", err)
	}

	r.logger.Debug().Str("unit_id", unitID).Int("holds", len(holds)).Msg("saved hold snapshot")
	return nil
}

// SaveAlarm implements AlarmStore.
func (r *Redis) SaveAlarm(ctx context.Context, unitID string, at time.Time) error {
	err := r.client.ZAdd(ctx, KeyAlarms, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: unitID,
	}).Err()
	if err != nil {
		return fmt.Errorf("save unit alarm: %w", err)
	}
	return nil
}

// DeleteAlarm implements AlarmStore.
func (r *Redis) DeleteAlarm(ctx context.Context, unitID string) error {
	if err := r.client.ZRem(ctx, KeyAlarms, unitID).Err(); err != nil {
		return fmt.Errorf("delete unit alarm: %w", err)
	}
	return nil
}

// ListAlarms implements AlarmStore.
func (r *Redis) ListAlarms(ctx context.Context) ([]models.UnitAlarm, error) {
	entries, err := r.client.ZRangeWithScores(ctx, KeyAlarms, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list unit alarms: %w", err)
	}

	alarms := make([]models.UnitAlarm, 0, len(entries))
	for _, z := range entries {
		unitID, ok := z.Member.(string)
		if !ok {
			continue
		}
		alarms = append(alarms, models.UnitAlarm{
			UnitID: unitID,
			WakeAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return alarms, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
