/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/holdkeeper/internal/models"
	"github.com/friendsincode/holdkeeper/internal/telemetry"
)

const startedAtKey = "holdkeeper:started_at"

// knownTables bounds the table label to the hold snapshot tables.
var knownTables = map[string]bool{
	models.UnitHolds{}.TableName(): true,
	models.UnitAlarm{}.TableName(): true,
}

// RegisterCallbacks times the statements issued by the hold and alarm stores.
// Snapshot writes are upserts through Create, so plain updates are not timed.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("holdkeeper:start_select", markStart); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("holdkeeper:observe_select", observe("select")); err != nil {
		return err
	}
	if err := cb.Create().Before("gorm:create").Register("holdkeeper:start_upsert", markStart); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("holdkeeper:observe_upsert", observe("upsert")); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("holdkeeper:start_delete", markStart); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").Register("holdkeeper:observe_delete", observe("delete"))
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startedAtKey, time.Now())
}

func observe(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startedAtKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}

		table := tableLabel(db.Statement.Table)
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(started).Seconds())

		// A missing snapshot row is an empty unit, not a failure.
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, table).Inc()
		}
	}
}

func tableLabel(table string) string {
	if knownTables[table] {
		return table
	}
	return "other"
}

// UpdateConnectionMetrics publishes the current open connection count.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
