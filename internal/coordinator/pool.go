/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/storage"
	"github.com/friendsincode/holdkeeper/internal/telemetry"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	InstanceID  string
	Peers       []string      // all instances sharing the store, including this one
	IdleTimeout time.Duration // zero disables eviction
	Options     Options
}

// Pool addresses coordinators by unit ID. Coordinators are created on first
// use and evicted after sitting idle; the next request reloads from storage.
type Pool struct {
	instanceID string
	backend    storage.HoldStore
	alarms     Alarms
	opts       Options
	idle       time.Duration
	logger     zerolog.Logger

	mu           sync.Mutex
	coordinators map[string]*Coordinator
	retiring     map[string]*Coordinator
	instances    []string
	ring         *hashRing
	closed       bool
}

// NewPool creates a pool for this instance.
func NewPool(cfg PoolConfig, backend storage.HoldStore, alarms Alarms) *Pool {
	ring := newHashRing(ringReplicas)
	instances := []string{cfg.InstanceID}
	ring.addNode(cfg.InstanceID)
	for _, peer := range cfg.Peers {
		if peer == cfg.InstanceID {
			continue
		}
		ring.addNode(peer)
		instances = append(instances, peer)
	}
	sort.Strings(instances)

	return &Pool{
		instanceID:   cfg.InstanceID,
		backend:      backend,
		alarms:       alarms,
		opts:         cfg.Options,
		idle:         cfg.IdleTimeout,
		logger:       cfg.Options.Logger.With().Str("component", "coordinator_pool").Logger(),
		coordinators: make(map[string]*Coordinator),
		retiring:     make(map[string]*Coordinator),
		instances:    instances,
		ring:         ring,
	}
}

// InstanceID names this instance on the ring.
func (p *Pool) InstanceID() string {
	return p.instanceID
}

// Owner returns the instance that serves unitID.
func (p *Pool) Owner(unitID string) string {
	owner, ok := p.ring.owner(unitID)
	if !ok {
		return p.instanceID
	}
	return owner
}

// Owns reports whether this instance serves unitID.
func (p *Pool) Owns(unitID string) bool {
	return p.Owner(unitID) == p.instanceID
}

// Get returns the coordinator for unitID, starting it if needed.
func (p *Pool) Get(unitID string) (*Coordinator, error) {
	if unitID == "" {
		return nil, &ValidationError{Field: "unitID", Msg: "required"}
	}
	if owner := p.Owner(unitID); owner != p.instanceID {
		return nil, &NotOwnerError{UnitID: unitID, Owner: owner}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrCoordinatorStopped
	}
	if c, ok := p.coordinators[unitID]; ok {
		return c, nil
	}

	var after <-chan struct{}
	if prev, ok := p.retiring[unitID]; ok {
		after = prev.Done()
	}
	c := newCoordinator(unitID, p.backend, p.alarms, p.opts, after)
	p.coordinators[unitID] = c
	telemetry.ActiveCoordinators.Inc()

	p.logger.Debug().Str("unit_id", unitID).Msg("coordinator started")
	return c, nil
}

// Do runs fn against the unit's coordinator, retrying once if it was evicted
// between lookup and submit.
func (p *Pool) Do(ctx context.Context, unitID string, fn func(*Coordinator) error) error {
	for attempt := 0; ; attempt++ {
		c, err := p.Get(unitID)
		if err != nil {
			return err
		}
		err = fn(c)
		if errors.Is(err, ErrCoordinatorStopped) && attempt == 0 && ctx.Err() == nil {
			continue
		}
		return err
	}
}

// HandleAlarm delivers a fired wake-up to the owning coordinator.
func (p *Pool) HandleAlarm(unitID string) {
	if !p.Owns(unitID) {
		p.logger.Debug().Str("unit_id", unitID).Str("owner", p.Owner(unitID)).Msg("skipping alarm for unit owned elsewhere")
		return
	}
	err := p.Do(context.Background(), unitID, func(c *Coordinator) error {
		return c.Alarm(context.Background())
	})
	if err != nil {
		telemetry.AlarmErrorsTotal.WithLabelValues("deliver").Inc()
		p.logger.Warn().Err(err).Str("unit_id", unitID).Msg("alarm delivery failed")
	}
}

// Len returns the number of resident coordinators.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.coordinators)
}

// Units lists unit IDs with a resident coordinator.
func (p *Pool) Units() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	units := make([]string, 0, len(p.coordinators))
	for unitID := range p.coordinators {
		units = append(units, unitID)
	}
	sort.Strings(units)
	return units
}

// Instances returns the sorted instance IDs on the ring.
func (p *Pool) Instances() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.instances...)
}

// AddInstance puts a peer on the ring and retires coordinators it now owns.
func (p *Pool) AddInstance(instanceID string) error {
	if instanceID == "" {
		return &ValidationError{Field: "instanceId", Msg: "required"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.instances {
		if id == instanceID {
			return fmt.Errorf("%w: %s", ErrInstanceExists, instanceID)
		}
	}
	p.instances = append(p.instances, instanceID)
	sort.Strings(p.instances)
	p.ring.addNode(instanceID)

	p.logger.Info().
		Str("instance_id", instanceID).
		Int("total_instances", len(p.instances)).
		Msg("instance added to ring")

	p.rebalanceLocked()
	return nil
}

// RemoveInstance takes a peer off the ring. Units it owned fall back to the
// remaining instances and are loaded on their next request.
func (p *Pool) RemoveInstance(instanceID string) error {
	if instanceID == p.instanceID {
		return fmt.Errorf("%w: %s", ErrLocalInstance, instanceID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := make([]string, 0, len(p.instances))
	found := false
	for _, id := range p.instances {
		if id == instanceID {
			found = true
			continue
		}
		remaining = append(remaining, id)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	p.instances = remaining
	p.ring.removeNode(instanceID)

	p.logger.Info().
		Str("instance_id", instanceID).
		Int("total_instances", len(p.instances)).
		Msg("instance removed from ring")
	return nil
}

// rebalanceLocked retires coordinators for units this instance no longer owns.
func (p *Pool) rebalanceLocked() {
	for unitID, c := range p.coordinators {
		if owner, ok := p.ring.owner(unitID); ok && owner != p.instanceID {
			p.retireLocked(unitID, c)
			p.logger.Info().Str("unit_id", unitID).Str("owner", owner).Msg("coordinator handed off")
		}
	}
}

// retireLocked removes c from the live map and stops it in the background.
// A replacement for the same unit waits for it to drain.
func (p *Pool) retireLocked(unitID string, c *Coordinator) {
	delete(p.coordinators, unitID)
	p.retiring[unitID] = c
	telemetry.ActiveCoordinators.Dec()

	go func() {
		c.Stop()
		p.mu.Lock()
		if p.retiring[unitID] == c {
			delete(p.retiring, unitID)
		}
		p.mu.Unlock()
	}()
}

// EvictIdle retires coordinators idle since before now minus the idle timeout.
func (p *Pool) EvictIdle(now time.Time) int {
	if p.idle <= 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for unitID, c := range p.coordinators {
		if now.Sub(c.IdleSince()) >= p.idle {
			p.retireLocked(unitID, c)
			evicted++
		}
	}
	if evicted > 0 {
		p.logger.Debug().Int("evicted", evicted).Int("resident", len(p.coordinators)).Msg("idle coordinators evicted")
	}
	return evicted
}

// Run evicts idle coordinators until ctx is cancelled, then stops them all.
func (p *Pool) Run(ctx context.Context) error {
	interval := p.idle / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info().
		Str("instance_id", p.instanceID).
		Strs("instances", p.Instances()).
		Dur("idle_timeout", p.idle).
		Msg("coordinator pool started")

	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return ctx.Err()
		case now := <-ticker.C:
			p.EvictIdle(now)
		}
	}
}

// Stop stops every coordinator and refuses new ones.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	all := make([]*Coordinator, 0, len(p.coordinators)+len(p.retiring))
	for unitID, c := range p.coordinators {
		all = append(all, c)
		delete(p.coordinators, unitID)
		telemetry.ActiveCoordinators.Dec()
	}
	for _, c := range p.retiring {
		all = append(all, c)
	}
	p.mu.Unlock()

	for _, c := range all {
		c.Stop()
	}
	p.logger.Info().Int("stopped", len(all)).Msg("coordinator pool stopped")
}
