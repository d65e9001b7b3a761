/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package alarm provides the durable "wake me at time T" primitive used by
// unit coordinators. At most one wake-up is armed per unit.
package alarm

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/clock"
	"github.com/friendsincode/holdkeeper/internal/storage"
	"github.com/friendsincode/holdkeeper/internal/telemetry"
)

// Handler receives due alarms. It runs on its own goroutine.
type Handler func(unitID string)

// Service keeps armed wake-ups in a min-heap and fires them from a single timer.
// Wake-ups are persisted through the AlarmStore so Restore can re-arm them after
// a restart. A fired alarm leaves the heap immediately but stays persisted until
// the handler re-arms or deletes it, so delivery is at-least-once.
type Service struct {
	store  storage.AlarmStore
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	entries wakeHeap
	byUnit  map[string]*entry
	handler Handler

	wake chan struct{}
	wg   sync.WaitGroup
}

// New constructs an alarm service.
func New(store storage.AlarmStore, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "alarm").Logger(),
		byUnit: make(map[string]*entry),
		wake:   make(chan struct{}, 1),
	}
}

// SetHandler installs the callback for due alarms. Must be called before Run.
func (s *Service) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Get returns the armed wake time for a unit.
func (s *Service) Get(unitID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byUnit[unitID]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Set arms (or moves) the wake-up for a unit. The wake time is persisted first.
func (s *Service) Set(ctx context.Context, unitID string, at time.Time) error {
	if err := s.store.SaveAlarm(ctx, unitID, at); err != nil {
		telemetry.AlarmErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("persist alarm: %w", err)
	}

	s.mu.Lock()
	s.arm(unitID, at)
	s.mu.Unlock()

	s.poke()
	return nil
}

// Delete disarms a unit. Deleting an unarmed unit is not an error.
func (s *Service) Delete(ctx context.Context, unitID string) error {
	if err := s.store.DeleteAlarm(ctx, unitID); err != nil {
		telemetry.AlarmErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete alarm: %w", err)
	}

	s.mu.Lock()
	if e, ok := s.byUnit[unitID]; ok {
		heap.Remove(&s.entries, e.index)
		delete(s.byUnit, unitID)
	}
	s.mu.Unlock()

	s.poke()
	return nil
}

// Restore loads persisted wake-ups into the heap. Overdue ones fire on the next pass.
func (s *Service) Restore(ctx context.Context) (int, error) {
	alarms, err := s.store.ListAlarms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list alarms: %w", err)
	}

	s.mu.Lock()
	for _, a := range alarms {
		s.arm(a.UnitID, a.WakeAt)
	}
	s.mu.Unlock()

	s.poke()
	return len(alarms), nil
}

// Len reports how many units are armed.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run restores persisted alarms and fires due ones until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	restored, err := s.Restore(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Int("restored", restored).Msg("alarm service started")

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, armed := s.FireDue()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if armed {
			delay := next.Sub(s.clock.Now())
			if delay < 0 {
				delay = 0
			}
			timer.Reset(delay)
		}

		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info().Msg("alarm service stopped")
			return ctx.Err()
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// FireDue pops every alarm whose time has come and hands it to the handler.
// It returns the next pending wake time, if any.
func (s *Service) FireDue() (time.Time, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []string
	for len(s.entries) > 0 && !s.entries[0].at.After(now) {
		e := heap.Pop(&s.entries).(*entry)
		delete(s.byUnit, e.unitID)
		due = append(due, e.unitID)
	}
	handler := s.handler

	var (
		next  time.Time
		armed bool
	)
	if len(s.entries) > 0 {
		next, armed = s.entries[0].at, true
	}
	s.mu.Unlock()

	for _, unitID := range due {
		telemetry.AlarmsFiredTotal.Inc()
		if handler == nil {
			s.logger.Warn().Str("unit_id", unitID).Msg("alarm fired with no handler installed")
			continue
		}
		s.wg.Add(1)
		go func(unitID string) {
			defer s.wg.Done()
			handler(unitID)
		}(unitID)
	}

	return next, armed
}

// Wait blocks until all dispatched handlers have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) arm(unitID string, at time.Time) {
	if e, ok := s.byUnit[unitID]; ok {
		e.at = at
		heap.Fix(&s.entries, e.index)
		return
	}
	e := &entry{unitID: unitID, at: at}
	heap.Push(&s.entries, e)
	s.byUnit[unitID] = e
}

func (s *Service) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
