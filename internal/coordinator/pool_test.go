/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/clock"
	"github.com/friendsincode/holdkeeper/internal/storage"
)

func newTestPool(t *testing.T, instanceID string, peers []string, idle time.Duration) (*Pool, *clock.Manual, *storage.Memory, *fakeAlarms) {
	t.Helper()
	clk := clock.NewManual(testEpoch)
	store := storage.NewMemory()
	alarms := newFakeAlarms()
	pool := NewPool(PoolConfig{
		InstanceID:  instanceID,
		Peers:       peers,
		IdleTimeout: idle,
		Options:     Options{Clock: clk, Logger: zerolog.Nop()},
	}, store, alarms)
	t.Cleanup(pool.Stop)
	return pool, clk, store, alarms
}

func TestPoolLazyCreation(t *testing.T) {
	pool, _, _, _ := newTestPool(t, "node-a", nil, 0)

	a1, err := pool.Get("unit-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	a2, err := pool.Get("unit-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if a1 != a2 {
		t.Fatal("Get() returned a different coordinator for the same unit")
	}
	b, _ := pool.Get("unit-b")
	if b == a1 {
		t.Fatal("units share a coordinator")
	}
	if pool.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", pool.Len())
	}
	if units := pool.Units(); len(units) != 2 || units[0] != "unit-a" {
		t.Fatalf("Units() = %v", units)
	}

	if _, err := pool.Get(""); !errors.Is(err, ErrValidation) {
		t.Fatalf("Get(\"\") error = %v, want ErrValidation", err)
	}
}

func TestPoolUnitsAreIndependent(t *testing.T) {
	pool, _, _, _ := newTestPool(t, "node-a", nil, 0)
	ctx := context.Background()
	r := rng("2024-06-01", "2024-06-05")

	for _, unitID := range []string{"unit-a", "unit-b"} {
		err := pool.Do(ctx, unitID, func(c *Coordinator) error {
			_, err := c.Hold(ctx, HoldRequest{Range: r})
			return err
		})
		if err != nil {
			t.Fatalf("Hold on %s error = %v", unitID, err)
		}
	}
}

func TestPoolOwnership(t *testing.T) {
	peers := []string{"node-a", "node-b", "node-c"}
	pool, _, _, _ := newTestPool(t, "node-a", peers, 0)

	if got := pool.Instances(); len(got) != 3 {
		t.Fatalf("Instances() = %v", got)
	}

	var foreign string
	for i := 0; i < 100; i++ {
		unitID := fmt.Sprintf("unit-%d", i)
		if !pool.Owns(unitID) {
			foreign = unitID
			break
		}
	}
	if foreign == "" {
		t.Fatal("expected at least one unit owned by a peer")
	}

	_, err := pool.Get(foreign)
	var notOwner *NotOwnerError
	if !errors.As(err, &notOwner) {
		t.Fatalf("Get(%s) error = %v, want NotOwnerError", foreign, err)
	}
	if notOwner.Owner == "node-a" || notOwner.Owner == "" {
		t.Errorf("Owner = %q", notOwner.Owner)
	}
	if !errors.Is(err, ErrNotOwner) {
		t.Error("NotOwnerError should match ErrNotOwner")
	}
}

func TestPoolRebalanceRetiresHandedOffUnits(t *testing.T) {
	pool, _, _, _ := newTestPool(t, "node-a", nil, 0)

	for i := 0; i < 50; i++ {
		if _, err := pool.Get(fmt.Sprintf("unit-%d", i)); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if err := pool.AddInstance("node-b"); err != nil {
		t.Fatalf("AddInstance() error = %v", err)
	}
	if err := pool.AddInstance("node-b"); !errors.Is(err, ErrInstanceExists) {
		t.Fatalf("duplicate AddInstance() error = %v, want ErrInstanceExists", err)
	}

	for _, unitID := range pool.Units() {
		if !pool.Owns(unitID) {
			t.Errorf("%s still resident after hand-off", unitID)
		}
	}
	if pool.Len() == 50 {
		t.Fatal("no units were handed off")
	}

	if err := pool.RemoveInstance("node-b"); err != nil {
		t.Fatalf("RemoveInstance() error = %v", err)
	}
	if err := pool.RemoveInstance("node-a"); !errors.Is(err, ErrLocalInstance) {
		t.Fatalf("RemoveInstance(local) error = %v, want ErrLocalInstance", err)
	}
	if err := pool.RemoveInstance("node-b"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("second RemoveInstance() error = %v, want ErrInstanceNotFound", err)
	}
	for i := 0; i < 50; i++ {
		if !pool.Owns(fmt.Sprintf("unit-%d", i)) {
			t.Fatalf("unit-%d not owned after peer removal", i)
		}
	}
}

func TestPoolIdleEvictionReloadsState(t *testing.T) {
	pool, _, store, _ := newTestPool(t, "node-a", nil, time.Minute)
	ctx := context.Background()

	var token string
	err := pool.Do(ctx, "unit-a", func(c *Coordinator) error {
		res, err := c.Hold(ctx, HoldRequest{Range: rng("2024-06-01", "2024-06-05")})
		token = res.Token
		return err
	})
	if err != nil {
		t.Fatalf("Hold() error = %v", err)
	}

	if n := pool.EvictIdle(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", n)
	}
	if pool.Len() != 0 {
		t.Fatalf("Len() after eviction = %d", pool.Len())
	}

	// The replacement reloads the hold from storage
	err = pool.Do(ctx, "unit-a", func(c *Coordinator) error {
		_, err := c.Confirm(ctx, token)
		return err
	})
	if err != nil {
		t.Fatalf("Confirm() after eviction error = %v", err)
	}

	persisted, _ := store.LoadHolds(ctx, "unit-a")
	if len(persisted) != 0 {
		t.Fatalf("persisted holds = %d, want 0", len(persisted))
	}
}

func TestPoolDoRetriesStoppedCoordinatorOnce(t *testing.T) {
	pool, _, _, _ := newTestPool(t, "node-a", nil, time.Minute)
	ctx := context.Background()

	stale, _ := pool.Get("unit-a")
	pool.EvictIdle(time.Now().Add(time.Hour))
	<-stale.Done()

	calls := 0
	err := pool.Do(ctx, "unit-a", func(c *Coordinator) error {
		calls++
		if calls == 1 {
			// Simulate a lookup that raced the eviction
			_, err := stale.List(ctx, nil)
			return err
		}
		_, err := c.List(ctx, nil)
		return err
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestPoolHandleAlarmSweeps(t *testing.T) {
	pool, clk, store, alarms := newTestPool(t, "node-a", nil, 0)
	ctx := context.Background()

	err := pool.Do(ctx, "unit-a", func(c *Coordinator) error {
		_, err := c.Hold(ctx, HoldRequest{Range: rng("2024-06-01", "2024-06-05"), TTL: time.Minute})
		return err
	})
	if err != nil {
		t.Fatalf("Hold() error = %v", err)
	}

	clk.Advance(2 * time.Minute)
	alarms.fire("unit-a")
	pool.HandleAlarm("unit-a")

	persisted, _ := store.LoadHolds(ctx, "unit-a")
	if len(persisted) != 0 {
		t.Fatalf("persisted holds after alarm = %d, want 0", len(persisted))
	}
	if _, ok := alarms.Get("unit-a"); ok {
		t.Fatal("alarm should be disarmed")
	}
}

func TestPoolStopRejectsNewUnits(t *testing.T) {
	pool, _, _, _ := newTestPool(t, "node-a", nil, 0)
	c, _ := pool.Get("unit-a")
	pool.Stop()

	select {
	case <-c.Done():
	default:
		t.Fatal("coordinator still running after pool stop")
	}
	if _, err := pool.Get("unit-b"); !errors.Is(err, ErrCoordinatorStopped) {
		t.Fatalf("Get() after Stop error = %v, want ErrCoordinatorStopped", err)
	}
}

func TestPoolRunStopsOnCancel(t *testing.T) {
	pool, _, _, _ := newTestPool(t, "node-a", nil, 10*time.Millisecond)
	if _, err := pool.Get("unit-a"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}
	if pool.Len() != 0 {
		t.Fatalf("Len() after Run exit = %d", pool.Len())
	}
}
