/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/friendsincode/holdkeeper/internal/daterange"
)

// Hold is a TTL-bounded reservation of a date range on one unit.
// Holds are immutable once created.
type Hold struct {
	Token     string         `json:"token"`
	Start     daterange.Date `json:"startDate"`
	End       daterange.Date `json:"endDate"`
	ExpiresAt time.Time      `json:"expiresAt"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Range returns the half-open interval the hold covers.
func (h Hold) Range() daterange.Range {
	return daterange.Range{Start: h.Start, End: h.End}
}

// ExpiredAt reports whether the hold is void at now.
func (h Hold) ExpiredAt(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// Block is a committed reservation or blackout supplied by the caller.
// It is read-only input and never stored.
type Block struct {
	Start daterange.Date `json:"startDate"`
	End   daterange.Date `json:"endDate"`
}

// Range returns the half-open interval the block covers.
func (b Block) Range() daterange.Range {
	return daterange.Range{Start: b.Start, End: b.End}
}

// UnitHolds is the single durable record per unit: the whole token -> hold map,
// overwritten on every mutation.
type UnitHolds struct {
	UnitID    string          `gorm:"type:varchar(191);primaryKey"`
	Holds     map[string]Hold `gorm:"serializer:json"`
	UpdatedAt time.Time
}

// UnitAlarm persists the next wake-up armed for a unit.
type UnitAlarm struct {
	UnitID    string    `gorm:"type:varchar(191);primaryKey"`
	WakeAt    time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName overrides for GORM.
func (UnitHolds) TableName() string {
	return "unit_holds"
}

func (UnitAlarm) TableName() string {
	return "unit_alarms"
}
