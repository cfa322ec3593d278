package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/voyagen/ptepg/internal/cache"
	"github.com/voyagen/ptepg/internal/config"
	"github.com/voyagen/ptepg/internal/fetcher"
	"github.com/voyagen/ptepg/internal/logging"
	"github.com/voyagen/ptepg/internal/ratelimit"
	"github.com/voyagen/ptepg/internal/server"
	"github.com/voyagen/ptepg/internal/service"
	"github.com/voyagen/ptepg/internal/store"
)

// runLockTTL bounds how long a crashed worker can hold the distributed run lock.
// A live run renews the lock, so the ttl does not limit run length.
const runLockTTL = time.Minute

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env")
	once := flag.Bool("once", false, "Run one ingestion cycle and exit")
	days := flag.Int("days", 0, "Days of guide to fetch (overrides days_to_fetch)")
	dryRun := flag.Bool("dry-run", false, "Persist into an in-memory store instead of Postgres")
	flag.Parse()

	if *dryRun {
		// Load validates, and a dry run needs no database.
		_ = os.Setenv("DRY_RUN", "true")
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err == nil && *days > 0 {
		cfg.DaysToFetch = *days
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		fatal(err, "store")
	}
	defer st.Close()

	loc, err := time.LoadLocation(cfg.GuideTimezone)
	if err != nil {
		fatal(err, "guide timezone")
	}
	limiter, err := ratelimit.New(cfg.RequestsPerPeriod, cfg.RatePeriod)
	if err != nil {
		fatal(err, "rate limiter")
	}
	client := fetcher.NewClient(limiter, fetcher.Options{
		Endpoints: fetcher.Endpoints{
			Grid:           cfg.GridURL,
			Programs:       cfg.ProgramsURL,
			ProgramDetails: cfg.ProgramDetailsURL,
			ChannelInfo:    cfg.ChannelInfoURL,
		},
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.Timeout,
		EnrichChannels: cfg.EnrichChannels,
		Location:       loc,
	})

	opts := service.Options{
		DefaultWindowDays: cfg.DaysToFetch,
		BatchConcurrency:  cfg.BatchConcurrency,
	}

	// Connect to Redis if REDIS_URL is configured.
	var rds *cache.Redis
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL)
		if err != nil {
			fatal(err, "redis")
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			fatal(err, "redis ping")
		}
		opts.Locker = cache.NewLocker(rds, cache.RunLockKey, runLockTTL)
		opts.OnReport = func(r *service.Report) {
			if err := cache.Set(context.Background(), rds, cache.LastReportKey, r, 0); err != nil {
				logging.Warn().Err(err).Msg("cache last report")
			}
		}
		logging.Info().Msg("redis connected (distributed lock and run queue enabled)")
	} else {
		logging.Info().Msg("redis disabled (REDIS_URL not set)")
	}

	ingester := service.NewIngester(client, st, limiter, opts)

	if *once {
		if _, err := ingester.Run(ctx, 0); err != nil {
			if errors.Is(err, service.ErrRunInProgress) {
				logging.Warn().Msg("another run is in progress; nothing to do")
				return
			}
			fatal(err, "ingestion run")
		}
		return
	}

	var srv *server.Server
	if rds != nil {
		go runQueueWorker(ctx, rds, ingester)
		srv = server.New(cfg.ServerPort, server.NewQueueTrigger(rds), server.NewRedisReports(rds))
	} else {
		trigger := server.NewLocalTrigger(ctx, ingester)
		srv = server.New(cfg.ServerPort, trigger, trigger)
	}
	go runScheduler(ctx, ingester, cfg.ScheduleInterval)

	if err := srv.ListenAndServe(ctx); err != nil {
		fatal(err, "server")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DryRun {
		logging.Info().Msg("dry run: persisting into an in-memory store")
		return store.NewMemory()
	}

	absMigrations, err := filepath.Abs("migrations")
	if err != nil {
		absMigrations = "migrations"
	}
	if _, err := os.Stat(absMigrations); err != nil {
		if exe, e := os.Executable(); e == nil {
			absMigrations = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	version, err := store.RunMigrations(cfg.DatabaseURL, "file://"+absMigrations)
	if err != nil {
		return nil, err
	}
	logging.Info().Uint("schema_version", version).Msg("migrations applied")

	return store.NewPostgres(ctx, cfg.DatabaseURL)
}

// runScheduler runs ingestion immediately and then every interval until ctx is done.
// A zero interval runs once.
func runScheduler(ctx context.Context, in *service.Ingester, interval time.Duration) {
	runScheduled(ctx, in)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runScheduled(ctx, in)
		}
	}
}

func runScheduled(ctx context.Context, in *service.Ingester) {
	if _, err := in.Run(ctx, 0); err != nil && !errors.Is(err, service.ErrRunInProgress) {
		logging.Warn().Err(err).Msg("scheduled run failed")
	}
}

// runQueueWorker continuously dequeues run requests from Redis and executes
// them. It stops when ctx is cancelled (graceful shutdown).
func runQueueWorker(ctx context.Context, rds *cache.Redis, in *service.Ingester) {
	logging.Info().Msg("run queue worker started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("run queue worker stopping")
			return
		default:
		}

		req, err := cache.Dequeue(ctx, rds, cache.RunQueue, 5*time.Second)
		if err != nil {
			logging.Warn().Err(err).Msg("run queue: dequeue error")
			time.Sleep(2 * time.Second)
			continue
		}
		if req == nil {
			continue // timeout, loop back to check ctx
		}

		logging.Info().Int("window_days", req.WindowDays).Str("source", req.Source).
			Time("requested_at", req.RequestedAt).Msg("run queue: processing request")
		if _, err := in.Run(ctx, req.WindowDays); err != nil {
			logging.Warn().Err(err).Msg("run queue: run failed")
		}
	}
}

func fatal(err error, msg string) {
	logging.Error().Err(err).Msg(msg)
	os.Exit(1)
}
