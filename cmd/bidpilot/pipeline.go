package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/bidpilot/internal/journey"
	"github.com/jonathan/bidpilot/internal/observability"
)

var (
	pipelineTenant string
	pipelineJSON   bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Show a tenant's pipeline and funnel stats",
	RunE:  runPipeline,
}

func init() {
	pipelineCmd.Flags().StringVar(&pipelineTenant, "tenant", "", "Tenant ID (required)")
	pipelineCmd.Flags().BoolVar(&pipelineJSON, "json", false, "Print JSON instead of a report")
	_ = pipelineCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	tenantID, err := uuid.Parse(pipelineTenant)
	if err != nil {
		return errors.Wrap(err, "invalid --tenant")
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := journey.NewEngine(store, log).GetPipeline(ctx, tenantID)
	if err != nil {
		return err
	}
	stats := journey.ComputeStats(entries)

	if pipelineJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"entries": entries, "stats": stats})
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	printer.PrintPipelineStats(&stats)
	printer.PrintPipeline(entries)
	return nil
}
