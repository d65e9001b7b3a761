/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage persists per-unit hold snapshots and armed alarms.
//
// Every backend keeps exactly one record per unit holding the full
// token -> hold map, overwritten wholesale on each write.
package storage

import (
	"context"
	"time"

	"github.com/friendsincode/holdkeeper/internal/models"
)

// HoldStore reads and writes the hold snapshot of a unit.
type HoldStore interface {
	// LoadHolds returns the persisted snapshot, or an empty map when the unit has none.
	LoadHolds(ctx context.Context, unitID string) (map[string]models.Hold, error)
	// SaveHolds replaces the persisted snapshot. An empty map clears it.
	SaveHolds(ctx context.Context, unitID string, holds map[string]models.Hold) error
}

// AlarmStore persists armed wake-ups so they survive a restart.
type AlarmStore interface {
	SaveAlarm(ctx context.Context, unitID string, at time.Time) error
	DeleteAlarm(ctx context.Context, unitID string) error
	ListAlarms(ctx context.Context) ([]models.UnitAlarm, error)
}

// Store is a complete backend.
type Store interface {
	HoldStore
	AlarmStore
	Close() error
}

func copyHolds(in map[string]models.Hold) map[string]models.Hold {
	out := make(map[string]models.Hold, len(in))
	for token, h := range in {
		out[token] = h
	}
	return out
}
