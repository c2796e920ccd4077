package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/LeventeLantos/cart-recovery/internal/cache"
	"github.com/LeventeLantos/cart-recovery/internal/client"
	"github.com/LeventeLantos/cart-recovery/internal/config"
	"github.com/LeventeLantos/cart-recovery/internal/logging"
	"github.com/LeventeLantos/cart-recovery/internal/repo"
	"github.com/LeventeLantos/cart-recovery/internal/repo/memory"
	"github.com/LeventeLantos/cart-recovery/internal/service"
	"github.com/LeventeLantos/cart-recovery/internal/transport"
)

const (
	lockPrefix = "cart-recovery:lock:cart:"
	lockWait   = 5 * time.Second
)

// loadConfig reads configuration and installs the default logger, letting
// command-line flags override the environment's log settings.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("env-file"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if format := cmd.String("log-format"); format != "" {
		cfg.Log.Format = format
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// app holds the wired components shared by the serve and dispatch commands.
type app struct {
	cfg      *config.Config
	store    repo.Store
	db       *sql.DB
	rdb      redis.UniversalClient
	cache    cache.MessageCache
	registry *prometheus.Registry

	sequencer  *service.Sequencer
	dispatcher *service.Dispatcher
	intake     *service.Intake
	classifier *service.Classifier
	tracker    *service.StatusTracker
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var locker cache.Locker
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.rdb = rdb
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.cache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
		locker = cache.NewRedisLocker(rdb, lockPrefix, cfg.Redis.LockTTL, lockWait)
	}

	timeout := cfg.Transport.HTTPTimeout
	sender := transport.WithMetrics(
		transport.New(cfg.Transport.CountryCode, transport.Backends(
			client.NewOfficialClient(cfg.Transport.OfficialBaseURL, timeout),
			client.NewEvolutionClient(timeout, cfg.Transport.EvolutionDelay),
			client.NewBridgeClient(timeout),
		)),
		a.registry,
	)

	a.sequencer = service.NewSequencer(a.store, cfg.Recovery.CartLinkBase, logging.WithModule("sequencer"))
	a.dispatcher = service.NewDispatcher(a.store, sender, a.sequencer, service.DispatcherConfig{
		BatchSize:      cfg.Scheduler.BatchSize,
		Window:         cfg.Dispatch.Window,
		Workers:        cfg.Dispatch.Workers,
		MessageTimeout: cfg.Dispatch.MessageTimeout,
		EnrollGrace:    cfg.Dispatch.EnrollGrace,
	}, logging.WithModule("dispatcher"))
	if a.cache != nil {
		a.dispatcher.WithCache(a.cache)
	}
	if locker != nil {
		a.dispatcher.WithLocker(locker)
	}

	a.intake = service.NewIntake(a.store, a.sequencer, cfg.Transport.CountryCode, logging.WithModule("intake"))
	a.classifier = service.NewClassifier(a.store, cfg.Transport.CountryCode, logging.WithModule("classifier"))
	a.tracker = service.NewStatusTracker(a.store, a.cache, logging.WithModule("status"))

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		db, err := repo.Open(ctx, a.cfg.Database.PostgresURL, a.cfg.Database.ConnectTimeout)
		if err != nil {
			return err
		}
		a.db = db
		a.store = repo.NewPostgres(db)
	case config.StoreMemory:
		if a.cfg.Store.SeedFile == "" {
			a.store = memory.New()
			slog.Warn("memory store started empty; webhooks will be rejected until accounts exist")
			return nil
		}
		s, err := memory.LoadSeed(a.cfg.Store.SeedFile)
		if err != nil {
			return err
		}
		a.store = s
	default:
		return fmt.Errorf("unknown store %q", a.cfg.Store.Driver)
	}
	return nil
}

func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			slog.Warn("close redis failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("close postgres failed", "error", err)
		}
	}
}

func runDispatchOnce(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.dispatcher.Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("dispatch finished",
		"enrolled", stats.Enrolled,
		"claimed", stats.Claimed,
		"sent", stats.Sent,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"aborted", stats.Aborted,
	)
	return nil
}

var errMigrateNeedsPostgres = errors.New("migrate requires STORE=postgres")

func runMigrate(ctx context.Context, cmd *cli.Command, up bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StorePostgres {
		return errMigrateNeedsPostgres
	}

	db, err := repo.Open(ctx, cfg.Database.PostgresURL, cfg.Database.ConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	var n int
	if up {
		n, err = repo.MigrateUp(db)
	} else {
		n, err = repo.MigrateDown(db)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("migrations applied", "up", up, "count", n)
	return nil
}
