/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/friendsincode/holdkeeper/internal/daterange"
	"github.com/friendsincode/holdkeeper/internal/models"
	"github.com/friendsincode/holdkeeper/internal/storage"
)

// holdStore is the in-memory hold set of one unit, kept in step with the
// durable snapshot. Every mutation persists the next snapshot first and only
// swaps it into memory once the write succeeded.
type holdStore struct {
	unitID  string
	backend storage.HoldStore
	holds   map[string]models.Hold

	// pruned counts expired holds dropped by reload that the persisted
	// snapshot still carries.
	pruned int
}

func newHoldStore(unitID string, backend storage.HoldStore) *holdStore {
	return &holdStore{
		unitID:  unitID,
		backend: backend,
		holds:   make(map[string]models.Hold),
	}
}

// reload replaces memory with the persisted snapshot, admitting only holds
// still live at now. It returns how many expired holds were dropped; they stay
// in storage until flush or the next commit.
func (s *holdStore) reload(ctx context.Context, now time.Time) (int, error) {
	persisted, err := s.backend.LoadHolds(ctx, s.unitID)
	if err != nil {
		return 0, &StorageError{Op: "load", Err: err}
	}

	live := make(map[string]models.Hold, len(persisted))
	dropped := 0
	for token, h := range persisted {
		if h.ExpiredAt(now) {
			dropped++
			continue
		}
		live[token] = h
	}
	s.holds = live
	s.pruned = dropped
	return dropped, nil
}

// flush rewrites the snapshot without the holds reload dropped and returns
// how many it removed from storage.
func (s *holdStore) flush(ctx context.Context) (int, error) {
	if s.pruned == 0 {
		return 0, nil
	}
	n := s.pruned
	if err := s.commit(ctx, s.clone()); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *holdStore) put(ctx context.Context, h models.Hold) error {
	next := s.clone()
	next[h.Token] = h
	return s.commit(ctx, next)
}

// remove deletes a token. Absent tokens are a no-op.
func (s *holdStore) remove(ctx context.Context, token string) (models.Hold, bool, error) {
	h, ok := s.holds[token]
	if !ok {
		return models.Hold{}, false, nil
	}
	next := s.clone()
	delete(next, token)
	if err := s.commit(ctx, next); err != nil {
		return models.Hold{}, false, err
	}
	return h, true, nil
}

// sweep removes every hold expired at now in a single write.
func (s *holdStore) sweep(ctx context.Context, now time.Time) ([]models.Hold, error) {
	var expired []models.Hold
	next := make(map[string]models.Hold, len(s.holds))
	for token, h := range s.holds {
		if h.ExpiredAt(now) {
			expired = append(expired, h)
			continue
		}
		next[token] = h
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *holdStore) get(token string) (models.Hold, bool) {
	h, ok := s.holds[token]
	return h, ok
}

// snapshotAll returns the live holds ordered by start date.
func (s *holdStore) snapshotAll(now time.Time) []models.Hold {
	out := make([]models.Hold, 0, len(s.holds))
	for _, h := range s.holds {
		if h.ExpiredAt(now) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// activeOverlapping returns the first live hold overlapping r.
func (s *holdStore) activeOverlapping(r daterange.Range, now time.Time) (models.Hold, bool) {
	for _, h := range s.holds {
		if h.ExpiredAt(now) {
			continue
		}
		if h.Range().Overlaps(r) {
			return h, true
		}
	}
	return models.Hold{}, false
}

// nextExpiry scans for the earliest expiry among stored holds, expired or not.
func (s *holdStore) nextExpiry() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, h := range s.holds {
		if !found || h.ExpiresAt.Before(next) {
			next, found = h.ExpiresAt, true
		}
	}
	return next, found
}

func (s *holdStore) len() int {
	return len(s.holds)
}

func (s *holdStore) clone() map[string]models.Hold {
	next := make(map[string]models.Hold, len(s.holds)+1)
	for token, h := range s.holds {
		next[token] = h
	}
	return next
}

func (s *holdStore) commit(ctx context.Context, next map[string]models.Hold) error {
	if err := s.backend.SaveHolds(ctx, s.unitID, next); err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	s.holds = next
	s.pruned = 0
	return nil
}
