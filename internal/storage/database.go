/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/holdkeeper/internal/models"
)

// Database stores snapshots in SQL through GORM (postgres, mysql or sqlite).
type Database struct {
	db *gorm.DB
}

// NewDatabase wraps an already migrated GORM connection.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// LoadHolds implements HoldStore.
func (d *Database) LoadHolds(ctx context.Context, unitID string) (map[string]models.Hold, error) {
	var rec models.UnitHolds
	err := d.db.WithContext(ctx).Where("unit_id = ?", unitID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]models.Hold{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load unit holds: %w", err)
	}
	if rec.Holds == nil {
		return map[string]models.Hold{}, nil
	}
	return rec.Holds, nil
}

// SaveHolds implements HoldStore.
func (d *Database) SaveHolds(ctx context.Context, unitID string, holds map[string]models.Hold) error {
	if len(holds) == 0 {
		if err := d.db.WithContext(ctx).Where("unit_id = ?", unitID).Delete(&models.UnitHolds{}).Error; err != nil {
			return fmt.Errorf("clear unit holds: %w", err)
		}
		return nil
	}

	rec := models.UnitHolds{
		UnitID:    unitID,
		Holds:     copyHolds(holds),
		UpdatedAt: time.Now().UTC(),
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "unit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"holds", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save unit holds: %w", err)
	}
	return nil
}

// SaveAlarm implements AlarmStore.
func (d *Database) SaveAlarm(ctx context.Context, unitID string, at time.Time) error {
	rec := models.UnitAlarm{
		UnitID:    unitID,
		WakeAt:    at.UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "unit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"wake_at", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save unit alarm: %w", err)
	}
	return nil
}

// DeleteAlarm implements AlarmStore.
func (d *Database) DeleteAlarm(ctx context.Context, unitID string) error {
	if err := d.db.WithContext(ctx).Where("unit_id = ?", unitID).Delete(&models.UnitAlarm{}).Error; err != nil {
		return fmt.Errorf("delete unit alarm: %w", err)
	}
	return nil
}

// ListAlarms implements AlarmStore.
func (d *Database) ListAlarms(ctx context.Context) ([]models.UnitAlarm, error) {
	var alarms []models.UnitAlarm
	if err := d.db.WithContext(ctx).Order("wake_at ASC").Find(&alarms).Error; err != nil {
		return nil, fmt.Errorf("list unit alarms: %w", err)
	}
	return alarms, nil
}

// Close is a no-op; the GORM connection is owned by the caller.
func (d *Database) Close() error {
	return nil
}
