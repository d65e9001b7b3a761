/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package coordinator serializes availability decisions for a single unit.
//
// Each Coordinator owns the hold set of one unit and processes requests one
// at a time from a mailbox, so a check followed by a hold can never race
// another caller for the same dates.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/friendsincode/holdkeeper/internal/clock"
	"github.com/friendsincode/holdkeeper/internal/daterange"
	"github.com/friendsincode/holdkeeper/internal/events"
	"github.com/friendsincode/holdkeeper/internal/models"
	"github.com/friendsincode/holdkeeper/internal/storage"
	"github.com/friendsincode/holdkeeper/internal/telemetry"
)

const (
	// DefaultHoldTTL applies when a hold request omits its TTL.
	DefaultHoldTTL = 15 * time.Minute
	// DefaultMaxHoldTTL caps caller supplied TTLs.
	DefaultMaxHoldTTL = 24 * time.Hour
	// DefaultStorageTimeout bounds every storage round trip.
	DefaultStorageTimeout = 5 * time.Second

	// alarmRetryDelay is used when a sweep could not be persisted.
	alarmRetryDelay = 30 * time.Second

	mailboxSize = 64
)

// Options configures a Coordinator. Zero values fall back to defaults.
type Options struct {
	DefaultTTL     time.Duration
	MaxTTL         time.Duration
	StorageTimeout time.Duration
	Clock          clock.Clock
	Events         events.Publisher
	Logger         zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = DefaultHoldTTL
	}
	if o.MaxTTL <= 0 {
		o.MaxTTL = DefaultMaxHoldTTL
	}
	if o.MaxTTL < o.DefaultTTL {
		o.MaxTTL = o.DefaultTTL
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = DefaultStorageTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.NewSystem()
	}
	return o
}

// CheckRequest asks whether a range is free given the caller's committed blocks.
type CheckRequest struct {
	Range  daterange.Range
	Blocks []models.Block
}

// Availability is the answer to a check.
type Availability struct {
	Available        bool           `json:"available"`
	Reason           ConflictReason `json:"reason,omitempty"`
	ConflictingBlock *models.Block  `json:"conflictingBlock,omitempty"`
	HoldExpiresAt    *time.Time     `json:"holdExpiresAt,omitempty"`
}

// HoldRequest reserves a range for TTL. A zero TTL means the default.
type HoldRequest struct {
	Range  daterange.Range
	TTL    time.Duration
	Blocks []models.Block
}

// HoldResult is returned only to the caller that placed the hold.
type HoldResult struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	TTLSeconds int64     `json:"ttlSeconds"`
}

// HoldView is the token-free projection returned by List.
type HoldView struct {
	Start     daterange.Date `json:"startDate"`
	End       daterange.Date `json:"endDate"`
	ExpiresAt time.Time      `json:"expiresAt"`
	CreatedAt time.Time      `json:"createdAt"`
}

type request struct {
	op   string
	ctx  context.Context
	fn   func(ctx context.Context) error
	err  error
	done chan struct{}
}

// Coordinator is the single-threaded owner of one unit's holds.
type Coordinator struct {
	unitID string
	opts   Options
	store  *holdStore
	sched  *scheduler
	logger zerolog.Logger

	initialized bool
	after       <-chan struct{}
	// reclaimed counts expired holds removed from storage while loading for
	// the request in flight.
	reclaimed int

	mailbox chan *request
	mu      sync.RWMutex
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	lastActive atomic.Int64
}

// New starts a coordinator for unitID. Nothing is loaded until the first request.
func New(unitID string, backend storage.HoldStore, alarms Alarms, opts Options) *Coordinator {
	return newCoordinator(unitID, backend, alarms, opts, nil)
}

// newCoordinator optionally waits for a predecessor for the same unit to drain
// before serving anything.
func newCoordinator(unitID string, backend storage.HoldStore, alarms Alarms, opts Options, after <-chan struct{}) *Coordinator {
	opts = opts.withDefaults()
	logger := opts.Logger.With().Str("component", "coordinator").Str("unit_id", unitID).Logger()

	c := &Coordinator{
		unitID: unitID,
		opts:   opts,
		store:  newHoldStore(unitID, backend),
		sched:  &scheduler{unitID: unitID, alarms: alarms, logger: logger},
		logger: logger,
		after:  after,

		mailbox: make(chan *request, mailboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.touch()

	go c.run()
	return c
}

// UnitID returns the unit this coordinator serves.
func (c *Coordinator) UnitID() string {
	return c.unitID
}

// Stop refuses new requests, finishes the queued ones and waits for the loop to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.stop)
	}
	c.mu.Unlock()
	<-c.done
}

// Done is closed once the coordinator has fully stopped.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// IdleSince reports when the last request finished.
func (c *Coordinator) IdleSince() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Coordinator) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Coordinator) run() {
	defer close(c.done)

	if c.after != nil {
		<-c.after
	}

	for {
		select {
		case req := <-c.mailbox:
			c.handle(req)
		case <-c.stop:
			for {
				select {
				case req := <-c.mailbox:
					c.handle(req)
				default:
					c.logger.Debug().Msg("coordinator stopped")
					return
				}
			}
		}
	}
}

func (c *Coordinator) handle(req *request) {
	defer close(req.done)
	start := time.Now()

	// Detached from the caller: once dequeued, an operation always runs to completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.ctx), c.opts.StorageTimeout)
	defer cancel()

	if err := c.ensureLoaded(ctx); err != nil {
		req.err = err
	} else {
		req.err = req.fn(ctx)
	}
	c.reclaimed = 0

	telemetry.ObserveOperation(req.op, outcome(req.err), time.Since(start).Seconds())
	c.touch()
}

// submit enqueues fn and waits for it. ctx is honored only until the request is queued.
func (c *Coordinator) submit(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "holdkeeper/coordinator", "coordinator."+op)
	defer span.End()
	span.SetAttributes(attribute.String("unit_id", c.unitID))

	req := &request{op: op, ctx: ctx, fn: fn, done: make(chan struct{})}

	c.mu.RLock()
	if c.stopped {
		c.mu.RUnlock()
		return ErrCoordinatorStopped
	}
	select {
	case c.mailbox <- req:
		c.mu.RUnlock()
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	}

	<-req.done
	telemetry.RecordError(span, req.err)
	return req.err
}

// ensureLoaded performs the cold-start reload exactly once.
func (c *Coordinator) ensureLoaded(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	now := c.opts.Clock.Now()
	dropped, err := c.store.reload(ctx, now)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load hold snapshot")
		return err
	}
	c.initialized = true

	if dropped > 0 {
		flushed, err := c.store.flush(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Int("expired", dropped).Msg("failed to prune expired holds from snapshot")
		} else {
			c.reclaimed = flushed
			telemetry.HoldsExpiredTotal.Add(float64(flushed))
		}
	}

	next, pending := c.store.nextExpiry()
	switch {
	case pending:
		if _, armed := c.sched.alarms.Get(c.unitID); !armed {
			c.sched.set(ctx, next)
		}
	case c.reclaimed > 0:
		c.sched.disarm(ctx)
	}

	c.logger.Debug().
		Int("holds", c.store.len()).
		Int("dropped_expired", dropped).
		Msg("hold snapshot loaded")
	return nil
}

// Check previews availability without changing anything.
func (c *Coordinator) Check(ctx context.Context, req CheckRequest) (Availability, error) {
	if err := validateRange(req.Range); err != nil {
		return Availability{}, err
	}
	if err := validateBlocks(req.Blocks); err != nil {
		return Availability{}, err
	}

	var result Availability
	err := c.submit(ctx, "check", func(ctx context.Context) error {
		if conflict := c.findConflict(req.Range, req.Blocks, c.opts.Clock.Now()); conflict != nil {
			result = Availability{
				Reason:           conflict.Reason,
				ConflictingBlock: conflict.Block,
				HoldExpiresAt:    conflict.HoldExpiresAt,
			}
			return nil
		}
		result = Availability{Available: true}
		return nil
	})
	return result, err
}

// Hold reserves a range after re-running the same conflict checks as Check.
func (c *Coordinator) Hold(ctx context.Context, req HoldRequest) (HoldResult, error) {
	if err := validateRange(req.Range); err != nil {
		return HoldResult{}, err
	}
	if err := validateBlocks(req.Blocks); err != nil {
		return HoldResult{}, err
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = c.opts.DefaultTTL
	}
	if ttl < 0 || ttl > c.opts.MaxTTL {
		return HoldResult{}, &ValidationError{
			Field: "ttlMinutes",
			Msg:   fmt.Sprintf("must be between 1 and %d minutes", int(c.opts.MaxTTL/time.Minute)),
		}
	}

	var result HoldResult
	err := c.submit(ctx, "hold", func(ctx context.Context) error {
		now := c.opts.Clock.Now()
		if conflict := c.findConflict(req.Range, req.Blocks, now); conflict != nil {
			return conflict
		}

		h := models.Hold{
			Token:     uuid.NewString(),
			Start:     req.Range.Start,
			End:       req.Range.End,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		if err := c.store.put(ctx, h); err != nil {
			c.logger.Error().Err(err).Msg("failed to persist hold")
			return err
		}

		if next, ok := c.store.nextExpiry(); ok {
			c.sched.armBy(ctx, next)
		}

		telemetry.HoldsCreatedTotal.Inc()
		telemetry.AddSpanAttributes(trace.SpanFromContext(ctx), map[string]any{
			"hold.nights":     h.Range().Nights(),
			"hold.expires_at": h.ExpiresAt,
			"hold.ttl":        ttl,
		})
		c.publish(events.EventHoldCreated, h)
		c.logger.Info().
			Str("range", h.Range().String()).
			Time("expires_at", h.ExpiresAt).
			Msg("hold created")

		result = HoldResult{
			Token:      h.Token,
			ExpiresAt:  h.ExpiresAt,
			TTLSeconds: int64(ttl / time.Second),
		}
		return nil
	})
	return result, err
}

// Confirm resolves a hold on the success path and returns its range so the
// caller can write the authoritative booking.
func (c *Coordinator) Confirm(ctx context.Context, token string) (daterange.Range, error) {
	if token == "" {
		return daterange.Range{}, &ValidationError{Field: "token", Msg: "required"}
	}

	var result daterange.Range
	err := c.submit(ctx, "confirm", func(ctx context.Context) error {
		h, ok := c.store.get(token)
		if !ok {
			return ErrHoldNotFound
		}

		if h.ExpiredAt(c.opts.Clock.Now()) {
			if _, _, err := c.store.remove(ctx, token); err != nil {
				c.logger.Warn().Err(err).Msg("failed to evict expired hold on confirm")
			} else {
				telemetry.HoldsExpiredTotal.Inc()
				c.publish(events.EventHoldExpired, h)
				c.afterRemoval(ctx)
			}
			return ErrHoldExpired
		}

		if _, _, err := c.store.remove(ctx, token); err != nil {
			c.logger.Error().Err(err).Msg("failed to persist confirm")
			return err
		}
		c.afterRemoval(ctx)

		c.publish(events.EventHoldConfirmed, h)
		c.logger.Info().Str("range", h.Range().String()).Msg("hold confirmed")

		result = h.Range()
		return nil
	})
	return result, err
}

// Release drops a hold. Unknown, expired and already resolved tokens succeed.
func (c *Coordinator) Release(ctx context.Context, token string) error {
	if token == "" {
		return &ValidationError{Field: "token", Msg: "required"}
	}

	return c.submit(ctx, "release", func(ctx context.Context) error {
		h, removed, err := c.store.remove(ctx, token)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to persist release")
			return err
		}
		if !removed {
			return nil
		}
		c.afterRemoval(ctx)

		if h.ExpiredAt(c.opts.Clock.Now()) {
			telemetry.HoldsExpiredTotal.Inc()
			c.publish(events.EventHoldExpired, h)
			return nil
		}
		c.publish(events.EventHoldReleased, h)
		c.logger.Info().Str("range", h.Range().String()).Msg("hold released")
		return nil
	})
}

// List returns live holds without their tokens, optionally limited to those
// overlapping within.
func (c *Coordinator) List(ctx context.Context, within *daterange.Range) ([]HoldView, error) {
	if within != nil {
		if err := validateRange(*within); err != nil {
			return nil, err
		}
	}

	var views []HoldView
	err := c.submit(ctx, "list", func(ctx context.Context) error {
		holds := c.store.snapshotAll(c.opts.Clock.Now())
		views = make([]HoldView, 0, len(holds))
		for _, h := range holds {
			if within != nil && !h.Range().Overlaps(*within) {
				continue
			}
			views = append(views, HoldView{
				Start:     h.Start,
				End:       h.End,
				ExpiresAt: h.ExpiresAt,
				CreatedAt: h.CreatedAt,
			})
		}
		return nil
	})
	return views, err
}

// Cleanup sweeps expired holds on demand and returns how many were removed.
func (c *Coordinator) Cleanup(ctx context.Context) (int, error) {
	var cleaned int
	err := c.submit(ctx, "cleanup", func(ctx context.Context) error {
		removed, err := c.sweep(ctx)
		if err != nil {
			return err
		}
		cleaned = removed + c.reclaimed
		if cleaned > 0 {
			next, pending := c.store.nextExpiry()
			c.sched.reset(ctx, next, pending)
		}
		return nil
	})
	return cleaned, err
}

// Alarm handles a fired wake-up: sweep, then re-arm at the new minimum or disarm.
func (c *Coordinator) Alarm(ctx context.Context) error {
	return c.submit(ctx, "alarm", func(ctx context.Context) error {
		if _, err := c.sweep(ctx); err != nil {
			c.sched.set(ctx, c.opts.Clock.Now().Add(alarmRetryDelay))
			return err
		}
		next, pending := c.store.nextExpiry()
		c.sched.reset(ctx, next, pending)
		return nil
	})
}

// sweep removes expired holds from memory and storage, including any that a
// failed load-time flush left behind, and returns how many were removed.
func (c *Coordinator) sweep(ctx context.Context) (int, error) {
	flushed, err := c.store.flush(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to prune expired holds from snapshot")
		return 0, err
	}
	removed, err := c.store.sweep(ctx, c.opts.Clock.Now())
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to persist expiry sweep")
		return flushed, err
	}
	for _, h := range removed {
		c.publish(events.EventHoldExpired, h)
	}
	total := flushed + len(removed)
	if total > 0 {
		telemetry.HoldsExpiredTotal.Add(float64(total))
		c.logger.Info().Int("expired", total).Msg("expired holds swept")
	}
	return total, nil
}

// afterRemoval disarms the wake-up once the unit has no holds left.
func (c *Coordinator) afterRemoval(ctx context.Context) {
	if c.store.len() == 0 {
		c.sched.disarm(ctx)
	}
}

// findConflict checks blocks first, then live holds. The first hit wins.
func (c *Coordinator) findConflict(r daterange.Range, blocks []models.Block, now time.Time) *ConflictError {
	for i := range blocks {
		if blocks[i].Range().Overlaps(r) {
			block := blocks[i]
			return &ConflictError{Reason: ReasonBlocked, Block: &block}
		}
	}
	if h, ok := c.store.activeOverlapping(r, now); ok {
		expiresAt := h.ExpiresAt
		return &ConflictError{Reason: ReasonHeld, HoldExpiresAt: &expiresAt}
	}
	return nil
}

func (c *Coordinator) publish(eventType events.EventType, h models.Hold) {
	if c.opts.Events == nil {
		return
	}
	c.opts.Events.Publish(eventType, events.Payload{
		"unit_id":    c.unitID,
		"start_date": h.Start.String(),
		"end_date":   h.End.String(),
		"expires_at": h.ExpiresAt,
	})
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
}

func validateRange(r daterange.Range) error {
	if r.Start.IsZero() {
		return &ValidationError{Field: "startDate", Msg: "required"}
	}
	if r.End.IsZero() {
		return &ValidationError{Field: "endDate", Msg: "required"}
	}
	if !r.Start.Before(r.End) {
		return &ValidationError{Field: "endDate", Msg: "must be after startDate"}
	}
	return nil
}

func validateBlocks(blocks []models.Block) error {
	for i, b := range blocks {
		if err := validateRange(b.Range()); err != nil {
			return &ValidationError{Field: fmt.Sprintf("existingBlocks[%d]", i), Msg: err.Error()}
		}
	}
	return nil
}
