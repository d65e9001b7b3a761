/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/holdkeeper/internal/models"
)

// Memory is a process-local Store for development and tests.
// Its contents do not survive a restart.
type Memory struct {
	mu     sync.RWMutex
	holds  map[string]map[string]models.Hold
	alarms map[string]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		holds:  make(map[string]map[string]models.Hold),
		alarms: make(map[string]time.Time),
	}
}

// LoadHolds implements HoldStore.
func (m *Memory) LoadHolds(_ context.Context, unitID string) (map[string]models.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyHolds(m.holds[unitID]), nil
}

// SaveHolds implements HoldStore.
func (m *Memory) SaveHolds(_ context.Context, unitID string, holds map[string]models.Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(holds) == 0 {
		delete(m.holds, unitID)
		return nil
	}
	m.holds[unitID] = copyHolds(holds)
	return nil
}

// SaveAlarm implements AlarmStore.
func (m *Memory) SaveAlarm(_ context.Context, unitID string, at time.Time) error {
	m.mu.Lock()
	m.alarms[unitID] = at.UTC()
	m.mu.Unlock()
	return nil
}

// DeleteAlarm implements AlarmStore.
func (m *Memory) DeleteAlarm(_ context.Context, unitID string) error {
	m.mu.Lock()
	delete(m.alarms, unitID)
	m.mu.Unlock()
	return nil
}

// ListAlarms implements AlarmStore.
func (m *Memory) ListAlarms(_ context.Context) ([]models.UnitAlarm, error) {
	m.mu.RLock()
	out := make([]models.UnitAlarm, 0, len(m.alarms))
	for unitID, at := range m.alarms {
		out = append(out, models.UnitAlarm{UnitID: unitID, WakeAt: at})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].WakeAt.Before(out[j].WakeAt)
	})
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
