/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/holdkeeper/internal/config"
	"github.com/friendsincode/holdkeeper/internal/db"
	"github.com/friendsincode/holdkeeper/internal/models"
	"github.com/friendsincode/holdkeeper/internal/telemetry"
)

// Open builds the backend selected by cfg.StorageBackend, wrapped with metrics.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.StorageBackend {
	case config.StorageDatabase:
		store, err = openDatabase(cfg, logger)
	case config.StorageRedis:
		redisCfg := DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		store, err = NewRedis(ctx, redisCfg, logger)
	case config.StorageMemory:
		logger.Warn().Msg("using in-memory hold store; holds will not survive a restart")
		store = NewMemory()
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		return nil, err
	}

	return Instrument(store), nil
}

func openDatabase(cfg *config.Config, logger zerolog.Logger) (Store, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("database hold store initialized")

	return &ownedDatabase{Database: NewDatabase(database), conn: database}, nil
}

// ownedDatabase closes the connection it opened.
type ownedDatabase struct {
	*Database
	conn *gorm.DB
}

func (o *ownedDatabase) Close() error {
	return db.Close(o.conn)
}

// Instrument wraps a Store so every call is timed and failures are counted.
func Instrument(s Store) Store {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{next: s}
}

type instrumented struct {
	next Store
}

func observe(op string, start time.Time, err error) {
	telemetry.StorageOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.StorageErrorsTotal.WithLabelValues(op).Inc()
	}
}

func (i *instrumented) LoadHolds(ctx context.Context, unitID string) (map[string]models.Hold, error) {
	start := time.Now()
	holds, err := i.next.LoadHolds(ctx, unitID)
	observe("load_holds", start, err)
	return holds, err
}

func (i *instrumented) SaveHolds(ctx context.Context, unitID string, holds map[string]models.Hold) error {
	start := time.Now()
	err := i.next.SaveHolds(ctx, unitID, holds)
	observe("save_holds", start, err)
	return err
}

func (i *instrumented) SaveAlarm(ctx context.Context, unitID string, at time.Time) error {
	start := time.Now()
	err := i.next.SaveAlarm(ctx, unitID, at)
	observe("save_alarm", start, err)
	return err
}

func (i *instrumented) DeleteAlarm(ctx context.Context, unitID string) error {
	start := time.Now()
	err := i.next.DeleteAlarm(ctx, unitID)
	observe("delete_alarm", start, err)
	return err
}

func (i *instrumented) ListAlarms(ctx context.Context) ([]models.UnitAlarm, error) {
	start := time.Now()
	alarms, err := i.next.ListAlarms(ctx)
	observe("list_alarms", start, err)
	return alarms, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

// DB returns the connection behind a store built by Open for the database
// backend, or nil for other backends.
func DB(s Store) *gorm.DB {
	if i, ok := s.(*instrumented); ok {
		s = i.next
	}
	if o, ok := s.(*ownedDatabase); ok {
		return o.conn
	}
	return nil
}
