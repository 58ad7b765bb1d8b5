package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helvetiche/remindd/internal/api"
	"github.com/helvetiche/remindd/internal/cache"
	"github.com/helvetiche/remindd/internal/config"
	"github.com/helvetiche/remindd/internal/idempotency"
	"github.com/helvetiche/remindd/internal/leaderelection"
	"github.com/helvetiche/remindd/internal/metrics"
	"github.com/helvetiche/remindd/internal/notify"
	"github.com/helvetiche/remindd/internal/orchestrator"
	"github.com/helvetiche/remindd/internal/recurrence"
	"github.com/helvetiche/remindd/internal/store/memory"
	"github.com/helvetiche/remindd/internal/store/postgres"
	redisstore "github.com/helvetiche/remindd/internal/store/redis"
	"github.com/helvetiche/remindd/internal/trigger"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// markerTTL is the Redis expiry safety net on sent markers. It must outlive
// the widest bucket (one local day) so dedup holds for the whole day even
// if cleanup never runs.
const markerTTL = 48 * time.Hour

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`remindd - recurring reminder dispatcher

Usage:
  remindd <command>

Commands:
  serve      Start the dispatcher and HTTP trigger API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  TRIGGER_SECRET            Bearer token for the /v1 API (required)
  REDIS_ADDR                Redis address for shared markers and snapshot (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  LOCAL_UTC_OFFSET_HOURS    Fixed wall-clock offset for deadlines and buckets (default: "8")

  DISPATCH_TIMEOUT          Per-reminder send timeout (default: "10s")
  DISPATCH_WORKERS          Concurrent sends per tick (default: "1")
  PREFILTER_WINDOW          Coarse candidate window around the tick instant (default: "3m")
  MARKER_MAX_AGE            Age before a sent marker is purged (default: "1h")
  CLEANUP_BATCH_SIZE        Markers deleted per cleanup batch (default: "200")

  TICK_LOOP_ENABLED         Run the in-process tick loop (default: "true")
  TICK_CRON                 Five-field cron for the tick loop (default: "* * * * *")

  NOTIFIER                  Delivery channel: "webhook" or "telegram" (default: "webhook")
  WEBHOOK_SECRET            HMAC signing key for webhook deliveries
  WEBHOOK_TIMEOUT           Webhook HTTP timeout (default: "30s")
  TELEGRAM_TOKEN            Telegram bot token
  NOTIFY_RATE               Max messages per second, 0 = unlimited (default: "0")
  NOTIFY_BURST              Throttle burst size (default: "1" when NOTIFY_RATE is set)
  BREAKER_THRESHOLD         Consecutive failures before the breaker opens, 0 = disabled
  BREAKER_COOLDOWN          Open-state cooldown (default: "2m")

  CACHE_REFRESH_ENABLED     Rebuild the schedule snapshot periodically (default: "true")
  CACHE_REFRESH_INTERVAL    Snapshot rebuild interval (default: "5m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_ADDR              Metrics server address (default: ":9090")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  LEADER_ELECTION_ENABLED   Gate tick duties behind a Postgres advisory lock (default: "false")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "15s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "10s")`)
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(cfg)

	logger := newLogger()
	loc := cfg.Location()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return exitRuntimeError
	}
	logger.Info().
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Dur("max_lifetime", cfg.DBConnMaxLifetime).
		Msg("database pool configured")

	if err := probeAuditTable(db); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.Warn().Msg("tick_audit table not found; ticks will dispatch but audit appends fail until migrations are applied")
		} else {
			logger.Warn().Err(err).Msg("could not probe for tick_audit table")
		}
	}

	pgStore := postgres.New(db, cfg.DBOpTimeout)

	var markerStore idempotency.MarkerStore
	var snapshotStore cache.SnapshotStore
	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		markerStore = redisstore.NewMarkerStore(redisClient, markerTTL)
		snapshotStore = redisstore.NewSnapshotStore(redisClient)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis marker and snapshot stores enabled")
	} else {
		markerStore = memory.NewMarkerStore()
		snapshotStore = memory.NewSnapshotStore()
		logger.Info().Msg("using in-process marker and snapshot stores")
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Str("path", cfg.MetricsPath).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	var base notify.Notifier
	switch cfg.Notifier {
	case "telegram":
		tg, err := notify.NewTelegram(cfg.TelegramToken)
		if err != nil {
			logger.Error().Err(err).Msg("failed to initialize telegram notifier")
			return exitRuntimeError
		}
		base = tg
	default:
		base = notify.NewWebhook(cfg.WebhookSecret, cfg.WebhookTimeout)
	}
	notifier := base
	if cfg.NotifyRate > 0 {
		notifier = notify.NewThrottled(notifier, cfg.NotifyRate, cfg.NotifyBurst)
		logger.Info().Float64("rate", cfg.NotifyRate).Int("burst", cfg.NotifyBurst).Msg("send throttling enabled")
	}
	if cfg.BreakerThreshold > 0 {
		notifier = notify.NewBreaker(notifier, cfg.BreakerThreshold, cfg.BreakerCooldown)
		logger.Info().Int("threshold", cfg.BreakerThreshold).Dur("cooldown", cfg.BreakerCooldown).Msg("circuit breaker enabled")
	}

	calc := recurrence.New(loc)
	tracker := idempotency.New(idempotency.Config{CleanupBatchSize: cfg.CleanupBatchSize}, markerStore, loc)
	scheduleCache := cache.New(pgStore, snapshotStore, sink, logger)

	orch := orchestrator.New(
		orchestrator.Config{
			PrefilterWindow: cfg.PrefilterWindow,
			DispatchTimeout: cfg.DispatchTimeout,
			Workers:         cfg.DispatchWorkers,
			MarkerMaxAge:    cfg.MarkerMaxAge,
		},
		calc,
		scheduleCache,
		tracker,
		notifier,
		pgStore,
		sink,
		logger,
	)

	apiHandler := api.NewHandler(cfg.TriggerSecret, orch, scheduleCache, tracker, pgStore, logger).WithHealthChecker(db)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: apiHandler}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// Leader duties: the tick loop and the snapshot refresher. The HTTP
	// trigger stays available on every instance; the shared marker claim
	// keeps concurrent triggers from double-sending.
	var tickLoop *trigger.Loop
	if cfg.TickLoopEnabled {
		tickLoop, err = trigger.NewLoop(cfg.TickCron, loc, orch, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to build tick loop")
			return exitInvalidConfig
		}
	}
	refresher := cache.NewRefresher(cache.RefreshConfig{Interval: cfg.CacheRefreshInterval}, scheduleCache, logger)

	var dutyWg sync.WaitGroup
	startDuties := func(ctx context.Context) {
		if cfg.CacheRefreshEnabled {
			dutyWg.Add(1)
			go func() {
				defer dutyWg.Done()
				refresher.Run(ctx)
			}()
		}
		if tickLoop != nil {
			tickLoop.Start()
		}
	}
	stopDuties := func() {
		if tickLoop != nil {
			tickLoop.Stop()
		}
		dutyWg.Wait()
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup

	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(
			db,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			startDuties,
			stopDuties,
			logger,
		).WithMetrics(sink)
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(rootCtx)
		}()
		logger.Info().Msg("leader election enabled; tick duties start on lock acquisition")
	} else {
		startDuties(rootCtx)
	}

	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("notifier", cfg.Notifier).
		Bool("tick_loop", cfg.TickLoopEnabled).
		Msg("remindd started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info().Str("signal", received.String()).Msg("shutting down")

	// Phase 1: stop tick duties so no new sends start.
	cancelRoot()
	if cfg.LeaderElectionEnabled {
		electorWg.Wait()
	} else {
		stopDuties()
	}
	logger.Info().Msg("tick duties stopped")

	// Phase 2: stop the HTTP server.
	httpShutdownCtx, cancelHTTPShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelHTTPShutdown()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	// Phase 3: stop the metrics server.
	if metricsServer != nil {
		metricsShutdownCtx, cancelMetricsShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancelMetricsShutdown()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("remindd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
