package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/liamcoop/dietrules/diets"
	"github.com/liamcoop/dietrules/internal/config"
	"github.com/liamcoop/dietrules/internal/logger"
	"github.com/liamcoop/dietrules/internal/scheduler"
	"github.com/liamcoop/dietrules/notify"
	"github.com/liamcoop/dietrules/rules"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// app holds the engine and the connections it was built on
type app struct {
	engine *rules.Engine
	ping   func(ctx context.Context) error

	db    *sql.DB
	pool  *pgxpool.Pool
	redis *redis.Client
}

// dietBackend is what the engine needs from the diet collaborator
type dietBackend interface {
	rules.DietStore
	rules.FeedbackSource
}

// buildApp wires stores, cache and notifiers from cfg
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	var (
		store  rules.RuleStore
		ledger rules.Ledger
		dietDB dietBackend
	)

	switch cfg.StoreType {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.db = db
		if err := db.PingContext(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}

		pool, err := diets.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pool = pool

		store = rules.NewPostgresRuleStore(db)
		ledger = rules.NewPostgresLedger(db)
		dietDB = diets.NewPostgresStore(pool)
		a.ping = db.PingContext

	default:
		mem := diets.NewMemoryStore()
		if cfg.DietsSeedFile != "" {
			if err := mem.LoadSeedFile(cfg.DietsSeedFile); err != nil {
				return nil, err
			}
			logger.Info("diets seeded", "file", cfg.DietsSeedFile)
		}
		store = rules.NewInMemoryRuleStore()
		ledger = rules.NewInMemoryLedger()
		dietDB = mem
	}

	cacheConfig := rules.CacheConfig{TTL: cfg.RulesCacheTTL}
	var cache rules.RulesCache = rules.NewInMemoryRulesCache(cacheConfig)
	notifier := notify.Multi{notify.NewLogNotifier(slog.Default())}

	if cfg.RedisURL != "" {
		client, err := notify.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		cache = rules.NewRedisRulesCache(client, rules.DefaultRulesCacheKey, cacheConfig)
		notifier = append(notifier, notify.NewRedisNotifier(client, cfg.RedisChannel))
		logger.Info("redis enabled", "channel", cfg.RedisChannel)
	}

	// the sweep's weekday and day of month are read in SWEEP_TIMEZONE
	loc, err := cfg.SweepLocation()
	if err != nil {
		a.Close()
		return nil, err
	}

	engine, err := rules.NewEngine(store, ledger, dietDB, dietDB,
		rules.WithClock(zonedClock(loc, time.Now)),
		rules.WithCache(cache),
		rules.WithNotifier(notifier),
		rules.WithLogger(slog.Default()),
		rules.WithIDGenerator(uuid.NewString),
		rules.WithWorkers(cfg.EngineWorkers),
		rules.WithFeedbackWindow(cfg.FeedbackWindow),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = engine

	return a, nil
}

// zonedClock reads now in loc
func zonedClock(loc *time.Location, now func() time.Time) func() time.Time {
	return func() time.Time { return now().In(loc) }
}

// Close releases every connection the app opened
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// sweepJob runs the recurring rules sweep
func sweepJob(engine *rules.Engine) scheduler.Job {
	return scheduler.JobFunc{
		JobName: "recurring-rules-sweep",
		Fn: func(ctx context.Context) error {
			if _, err := engine.RunRecurring(ctx); err != nil {
				logger.CountSweepFailure()
				return err
			}
			return nil
		},
	}
}

// startSweep schedules the daily sweep at SWEEP_AT in SWEEP_TIMEZONE
func startSweep(ctx context.Context, cfg *config.Config, engine *rules.Engine) (*scheduler.Scheduler, error) {
	hour, minute, err := cfg.SweepTime()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.SweepLocation()
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(scheduler.Config{Logger: slog.Default()})
	if err := sched.Register(sweepJob(engine), scheduler.DailySchedule{Hour: hour, Minute: minute, Location: loc}); err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	return sched, nil
}
