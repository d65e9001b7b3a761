/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/config"
	"github.com/friendsincode/holdkeeper/internal/daterange"
	"github.com/friendsincode/holdkeeper/internal/models"
	"github.com/friendsincode/holdkeeper/internal/storage"
)

// setupSweepStore points the CLI at a sqlite file holding one expired hold on
// cabin-7 and one live hold on cabin-9, each with its wake-up persisted.
func setupSweepStore(t *testing.T) (live time.Time) {
	t.Helper()
	t.Setenv("HOLDKEEPER_ENV", "test")
	t.Setenv("HOLDKEEPER_STORAGE_BACKEND", string(config.StorageDatabase))
	t.Setenv("HOLDKEEPER_DB_BACKEND", string(config.DatabaseSQLite))
	t.Setenv("HOLDKEEPER_DB_DSN", filepath.Join(t.TempDir(), "holdkeeper.db"))
	t.Setenv("HOLDKEEPER_INSTANCE_ID", "sweeper")

	store := openSweepStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	live = now.Add(time.Hour)
	seed := map[string]models.Hold{
		"cabin-7": {Token: "expired", Start: daterange.MustParse("2024-06-01"), End: daterange.MustParse("2024-06-03"), ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)},
		"cabin-9": {Token: "live", Start: daterange.MustParse("2024-06-01"), End: daterange.MustParse("2024-06-03"), ExpiresAt: live, CreatedAt: now},
	}
	for unitID, h := range seed {
		if err := store.SaveHolds(ctx, unitID, map[string]models.Hold{h.Token: h}); err != nil {
			t.Fatalf("SaveHolds(%s) error = %v", unitID, err)
		}
		if err := store.SaveAlarm(ctx, unitID, h.ExpiresAt); err != nil {
			t.Fatalf("SaveAlarm(%s) error = %v", unitID, err)
		}
	}
	return live
}

func openSweepStore(t *testing.T) storage.Store {
	t.Helper()
	c, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	store, err := storage.Open(context.Background(), c, zerolog.Nop())
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	return store
}

func runSweepCommand(t *testing.T, dryRun bool, args ...string) string {
	t.Helper()
	sweepDryRun = dryRun
	t.Cleanup(func() { sweepDryRun = false })

	var out bytes.Buffer
	sweepCmd.SetOut(&out)
	sweepCmd.SetContext(context.Background())
	t.Cleanup(func() { sweepCmd.SetOut(nil) })

	if err := runSweep(sweepCmd, args); err != nil {
		t.Fatalf("runSweep() error = %v", err)
	}
	return out.String()
}

func TestSweepRemovesExpiredHoldsAndAlarms(t *testing.T) {
	live := setupSweepStore(t)

	out := runSweepCommand(t, false)
	if !strings.Contains(out, "swept 2 units, removed 1 expired holds") {
		t.Fatalf("output = %q", out)
	}

	store := openSweepStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	holds, err := store.LoadHolds(ctx, "cabin-7")
	if err != nil {
		t.Fatalf("LoadHolds(cabin-7) error = %v", err)
	}
	if len(holds) != 0 {
		t.Fatalf("cabin-7 holds after sweep = %v, want none", holds)
	}
	holds, err = store.LoadHolds(ctx, "cabin-9")
	if err != nil {
		t.Fatalf("LoadHolds(cabin-9) error = %v", err)
	}
	if _, ok := holds["live"]; !ok {
		t.Fatalf("cabin-9 holds after sweep = %v, want the live hold", holds)
	}

	alarms, err := store.ListAlarms(ctx)
	if err != nil {
		t.Fatalf("ListAlarms() error = %v", err)
	}
	if len(alarms) != 1 || alarms[0].UnitID != "cabin-9" || !alarms[0].WakeAt.Equal(live) {
		t.Fatalf("alarms after sweep = %+v, want only cabin-9 at %s", alarms, live)
	}

	out = runSweepCommand(t, false, "cabin-7")
	if !strings.Contains(out, "swept 1 units, removed 0 expired holds") {
		t.Fatalf("second sweep output = %q", out)
	}
}

func TestSweepDryRunLeavesStorageAlone(t *testing.T) {
	setupSweepStore(t)

	out := runSweepCommand(t, true)
	if got := strings.Fields(out); len(got) != 2 || got[0] != "cabin-7" || got[1] != "cabin-9" {
		t.Fatalf("dry run output = %q, want both units", out)
	}

	store := openSweepStore(t)
	defer func() { _ = store.Close() }()
	holds, err := store.LoadHolds(context.Background(), "cabin-7")
	if err != nil {
		t.Fatalf("LoadHolds() error = %v", err)
	}
	if len(holds) != 1 {
		t.Fatalf("dry run changed cabin-7 holds: %v", holds)
	}
}
