package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/bidpilot/internal/server"
	"github.com/jonathan/bidpilot/internal/server/ratelimit"
)

var (
	servePort   int
	serveMemory bool
	serveNoScan bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the analysis and notification pipeline",
	Long: `Start the HTTP API, subscribe the journey, analysis and notification
handlers to the event bus and run the periodic auto-scan sweep.

With --memory everything is kept in process memory, which is useful for
local development and demos; nothing survives a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides http_port)")
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "Use the in-memory store instead of Postgres")
	serveCmd.Flags().BoolVar(&serveNoScan, "no-scan", false, "Do not run the auto-scan scheduler")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	if servePort != 0 {
		cfg.HTTPPort = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log, serveMemory)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx, !serveNoScan); err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(ratelimit.NewConfig(
		cfg.RateLimitEnabled, cfg.RateLimitPerMinute, cfg.RateLimitWhitelist, cfg.RateLimitBlacklist))

	srv := server.New(server.Config{Port: cfg.HTTPPort}, server.Deps{
		Store:          a.store,
		Pipeline:       a.journey,
		Preferences:    a.preferences,
		Channels:       a.registry,
		Bus:            a.bus,
		Limiter:        limiter,
		VAPIDPublicKey: a.webPush.PublicKey(),
		Logger:         log,
	})

	log.Infow("bidpilot starting",
		"port", cfg.HTTPPort,
		"memory", serveMemory,
		"analysis", a.listener != nil,
		"auto_scan", !serveNoScan,
		"channels", a.registry.Channels(),
	)
	err = srv.Start(ctx)

	a.drain(cfg.AnalysisTimeout + cfg.SendTimeout)
	return err
}
