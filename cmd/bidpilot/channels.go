package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/observability"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Report the health signal of every notification channel",
	Long: `Report whether each channel provider looks usable with the current
configuration. The signal is diagnostic only and never blocks a send.`,
	RunE: runChannels,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}

func runChannels(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	registry, _, err := buildRegistry(cfg, events.NewBus(log))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	observability.NewPrinter(cmd.OutOrStdout()).PrintChannelHealth(registry.Health(ctx))
	return nil
}
