/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/telemetry"
)

// Alarms is the "wake me at time T" primitive. One wake-up per unit.
type Alarms interface {
	Get(unitID string) (time.Time, bool)
	Set(ctx context.Context, unitID string, at time.Time) error
	Delete(ctx context.Context, unitID string) error
}

// scheduler keeps a single wake-up armed at the earliest hold expiry of a unit.
// Arming failures are logged, not returned: lazy expiry keeps reads correct
// and the next mutation tries again.
type scheduler struct {
	unitID string
	alarms Alarms
	logger zerolog.Logger
}

// armBy makes sure a wake-up fires no later than at.
func (s *scheduler) armBy(ctx context.Context, at time.Time) {
	if armed, ok := s.alarms.Get(s.unitID); ok && !at.Before(armed) {
		return
	}
	s.set(ctx, at)
}

// reset arms exactly at next, or disarms when nothing is left.
func (s *scheduler) reset(ctx context.Context, next time.Time, pending bool) {
	if !pending {
		s.disarm(ctx)
		return
	}
	if armed, ok := s.alarms.Get(s.unitID); ok && armed.Equal(next) {
		return
	}
	s.set(ctx, next)
}

func (s *scheduler) disarm(ctx context.Context) {
	if err := s.alarms.Delete(ctx, s.unitID); err != nil {
		telemetry.AlarmErrorsTotal.WithLabelValues("disarm").Inc()
		s.logger.Warn().Err(err).Msg("failed to disarm expiry alarm")
	}
}

func (s *scheduler) set(ctx context.Context, at time.Time) {
	if err := s.alarms.Set(ctx, s.unitID, at); err != nil {
		telemetry.AlarmErrorsTotal.WithLabelValues("arm").Inc()
		s.logger.Warn().Err(err).Time("wake_at", at).Msg("failed to arm expiry alarm")
		return
	}
	s.logger.Debug().Time("wake_at", at).Msg("expiry alarm armed")
}
