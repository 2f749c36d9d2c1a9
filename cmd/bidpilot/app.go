package main

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jonathan/bidpilot/internal/analysis"
	"github.com/jonathan/bidpilot/internal/channels"
	"github.com/jonathan/bidpilot/internal/config"
	"github.com/jonathan/bidpilot/internal/db"
	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/inflight"
	"github.com/jonathan/bidpilot/internal/journey"
	"github.com/jonathan/bidpilot/internal/llm"
	"github.com/jonathan/bidpilot/internal/memstore"
	"github.com/jonathan/bidpilot/internal/notify"
	"github.com/jonathan/bidpilot/internal/preferences"
	"github.com/jonathan/bidpilot/internal/scheduler"
	"github.com/jonathan/bidpilot/internal/secrets"
	"github.com/jonathan/bidpilot/internal/server"
)

// analysisGuardPrefix namespaces the in-flight keys in a shared Redis
const analysisGuardPrefix = "bidpilot:analysis:"

// Store is everything the pipeline persists. *db.DB and *memstore.Store
// both implement it.
type Store interface {
	journey.Store
	analysis.Store
	notify.Store
	preferences.Store
	scheduler.Store
	server.Store
}

var (
	_ Store = (*db.DB)(nil)
	_ Store = (*memstore.Store)(nil)
)

// app is the wired pipeline. close releases everything in reverse order of
// acquisition.
type app struct {
	cfg         *config.Config
	log         *zap.SugaredLogger
	store       Store
	bus         *events.Bus
	registry    *channels.Registry
	webPush     *channels.WebPush
	journey     *journey.Engine
	notifier    *notify.Engine
	preferences *preferences.Service
	listener    *analysis.Listener // nil when no LLM key is configured
	scheduler   *scheduler.Scheduler

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openStore connects to Postgres, or returns an empty in-memory store
func openStore(ctx context.Context, cfg *config.Config, memory bool) (Store, func(), error) {
	if memory {
		return memstore.New(), func() {}, nil
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return database, database.Close, nil
}

// openSecrets returns the configured box, or nil when no key is set
func openSecrets(cfg *config.Config, log *zap.SugaredLogger) (*secrets.Box, error) {
	if cfg.SecretsKey == "" {
		log.Warnw("No secrets key configured; SMS and chat credentials cannot be stored or used")
		return nil, nil
	}
	box, err := secrets.NewBox(cfg.SecretsKey)
	if err != nil {
		return nil, errors.Wrap(err, "config error: secrets_key")
	}
	return box, nil
}

// buildRegistry creates every channel provider. External providers are rate
// limited; in-app delivery is in-process and is not.
func buildRegistry(cfg *config.Config, bus *events.Bus) (*channels.Registry, *channels.WebPush, error) {
	webPush, err := channels.NewWebPush(cfg.VAPIDPrivateKeyPEM, cfg.VAPIDSubject)
	if err != nil {
		return nil, nil, err
	}
	limit := func(p channels.Provider) channels.Provider {
		return channels.NewLimited(p, cfg.ChannelRatePerSecond, cfg.ChannelBurst)
	}

	registry := channels.NewRegistry(
		channels.NewInApp(bus),
		limit(webPush),
		limit(channels.NewSMS(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, nil)),
		limit(channels.NewChatAPI(cfg.ChatAPIBaseURL, nil)),
	)
	return registry, webPush, nil
}

// openGuard returns a Redis-backed in-flight set when redis_url is set so
// that several instances share it
func openGuard(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (inflight.Set, func(), error) {
	if cfg.RedisURL == "" {
		return inflight.NewMemorySet(), func() {}, nil
	}
	rdb, err := inflight.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Infow("Using Redis in-flight guard", "addr", rdb.Options().Addr)
	return inflight.NewRedisSet(rdb, analysisGuardPrefix, 2*cfg.AnalysisTimeout), closeRedis(rdb, log), nil
}

func closeRedis(rdb *redis.Client, log *zap.SugaredLogger) func() {
	return func() {
		if err := rdb.Close(); err != nil {
			log.Warnw("Failed to close redis", "error", err)
		}
	}
}

// openAnalyzer creates the LLM analyzer, or nil when no API key is set
func openAnalyzer(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (analysis.Analyzer, io.Closer, error) {
	if cfg.GeminiAPIKey == "" {
		log.Warnw("No Gemini API key configured; captured jobs will not be analysed")
		return nil, nil, nil
	}
	llmConfig := llm.DefaultConfig()
	if cfg.AnalysisModel != "" {
		llmConfig = llmConfig.WithModel(llm.TierStandard, cfg.AnalysisModel)
	}
	client, err := llm.NewClient(ctx, llmConfig, cfg.GeminiAPIKey)
	if err != nil {
		return nil, nil, err
	}
	return analysis.NewLLMAnalyzer(client, log), client, nil
}

// buildApp wires the full pipeline. Nothing is subscribed or started yet;
// see start.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, memory bool) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, bus: events.NewBus(log)}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, memory)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	box, err := openSecrets(cfg, log)
	if err != nil {
		return nil, err
	}
	// a nil *secrets.Box must stay a nil interface
	var sealer preferences.Sealer
	var decrypter notify.Decrypter
	if box != nil {
		sealer, decrypter = box, box
	}

	a.registry, a.webPush, err = buildRegistry(cfg, a.bus)
	if err != nil {
		return nil, err
	}

	a.journey = journey.NewEngine(store, log)
	a.preferences = preferences.NewService(store, sealer, log)
	a.notifier = notify.NewEngine(store, a.registry, decrypter, notify.Options{
		Concurrency: cfg.NotifyConcurrency,
		SendTimeout: cfg.SendTimeout,
	}, log)

	analyzer, llmClient, err := openAnalyzer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if analyzer != nil {
		a.closers = append(a.closers, func() { _ = llmClient.Close() })

		guard, closeGuard, err := openGuard(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeGuard)

		a.listener = analysis.NewListener(analysis.Deps{
			Store:    store,
			Bus:      a.bus,
			Analyzer: analyzer,
			Guard:    guard,
			Journey:  a.journey,
			Notifier: a.notifier,
			Timeout:  cfg.AnalysisTimeout,
			Logger:   log,
		})
	}

	a.scheduler = scheduler.New(store, a.bus, scheduler.Options{
		Schedule: cfg.ScanSchedule,
		Lookback: cfg.ScanLookback,
	}, log)
	return a, nil
}

// start subscribes the event handlers and, when scan is set, starts the
// auto-scan scheduler
func (a *app) start(ctx context.Context, scan bool) error {
	unsubscribe := a.journey.Register(a.bus)
	a.closers = append(a.closers, unsubscribe)
	if a.listener != nil {
		a.listener.Register()
		a.closers = append(a.closers, a.listener.Close)
	}

	if scan {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.scheduler.Stop(stopCtx)
		})
	}
	return nil
}

// drain waits for in-flight event handlers so that started analyses and
// sends are recorded before shutdown
func (a *app) drain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.bus.Drain(ctx); err != nil {
		a.log.Warnw("Shutting down with event handlers still running", "error", err)
	}
}
