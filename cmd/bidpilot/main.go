// Package main provides the bidpilot command: the API server with its
// background analysis and notification pipeline, plus operational commands.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/bidpilot/internal/config"
	"github.com/jonathan/bidpilot/internal/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "bidpilot",
	Short: "Freelance bid pipeline and job-match alerts",
	Long: "bidpilot tracks captured freelance jobs through the bidding lifecycle, " +
		"scores them against alert preferences with an LLM and notifies matching users " +
		"in-app, by web push, SMS and WhatsApp.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (toml, yaml or json); environment variables take precedence")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the logger it describes
func loadConfig() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.LogJSON, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
