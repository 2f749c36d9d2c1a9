package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var scanMemory bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one auto-scan sweep and wait for the resulting analyses",
	Long: `Re-announce recently captured jobs that have no analysis yet for every
tenant with auto-scan enabled, then wait until their analyses and alerts
have been processed.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanMemory, "memory", false, "Use the in-memory store (for trying the command out)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	a, err := buildApp(ctx, cfg, log, scanMemory)
	if err != nil {
		return err
	}
	defer a.close()
	if a.listener == nil {
		return errors.WithHint(errors.New("analysis is not configured"), "set BIDPILOT_GEMINI_API_KEY")
	}
	if err := a.start(ctx, false); err != nil {
		return err
	}

	published, err := a.scheduler.Sweep(ctx)
	if err != nil {
		return err
	}
	a.drain(time.Until(deadlineOf(ctx)))

	fmt.Fprintf(cmd.OutOrStdout(), "Re-announced %d unanalysed jobs\n", published)
	return nil
}

func deadlineOf(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(time.Minute)
}
