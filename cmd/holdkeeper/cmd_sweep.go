/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/friendsincode/holdkeeper/internal/alarm"
	"github.com/friendsincode/holdkeeper/internal/clock"
	"github.com/friendsincode/holdkeeper/internal/coordinator"
	"github.com/friendsincode/holdkeeper/internal/storage"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep [unit-id...]",
	Short: "Remove expired holds from storage",
	Long: `Sweep expired holds for the given units, or for every unit with a pending
wake-up when no units are named.

Run this only while no server is serving the affected units: it loads each
unit's holds into a local coordinator and writes the result back.

Examples:
  holdkeeper sweep
  holdkeeper sweep cabin-7 cabin-9
  holdkeeper sweep --dry-run`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "List the units that would be swept")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	units := args
	if len(units) == 0 {
		pending, err := store.ListAlarms(ctx)
		if err != nil {
			return fmt.Errorf("list pending alarms: %w", err)
		}
		for _, a := range pending {
			units = append(units, a.UnitID)
		}
		sort.Strings(units)
	}

	if sweepDryRun {
		for _, unitID := range units {
			fmt.Fprintln(cmd.OutOrStdout(), unitID)
		}
		return nil
	}

	clk := clock.NewSystem()
	alarms := alarm.New(store, clk, logger)
	pool := coordinator.NewPool(coordinator.PoolConfig{
		InstanceID: cfg.InstanceID,
		Options: coordinator.Options{
			DefaultTTL:     cfg.DefaultHoldTTL,
			MaxTTL:         cfg.MaxHoldTTL,
			StorageTimeout: cfg.StorageTimeout,
			Clock:          clk,
			Logger:         logger,
		},
	}, store, alarms)
	defer pool.Stop()

	total := 0
	var failed int
	for _, unitID := range units {
		var cleaned int
		err := pool.Do(ctx, unitID, func(c *coordinator.Coordinator) error {
			var err error
			cleaned, err = c.Cleanup(ctx)
			return err
		})
		if err != nil {
			failed++
			logger.Error().Err(err).Str("unit_id", unitID).Msg("sweep failed")
			continue
		}
		total += cleaned
		logger.Info().Str("unit_id", unitID).Int("cleaned", cleaned).Msg("unit swept")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "swept %d units, removed %d expired holds\n", len(units)-failed, total)
	if failed > 0 {
		return fmt.Errorf("%d units failed to sweep", failed)
	}
	return nil
}
