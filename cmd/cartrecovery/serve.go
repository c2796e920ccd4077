package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeventeLantos/cart-recovery/internal/api"
	"github.com/LeventeLantos/cart-recovery/internal/config"
	"github.com/LeventeLantos/cart-recovery/internal/logging"
	"github.com/LeventeLantos/cart-recovery/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New("dispatcher", cfg.Scheduler.Interval, func(ctx context.Context) error {
		_, err := a.dispatcher.Run(ctx)
		return err
	}, logging.WithModule("scheduler"))
	if err != nil {
		return err
	}

	sweeper := scheduler.NewSweeper(a.store, cfg.Dispatch.Window, a.registry, logging.WithModule("sweeper"))
	if err := sweeper.Start(cfg.Scheduler.SweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	handler := api.NewHandler(api.Deps{
		Scheduler:  sched,
		Dispatcher: a.dispatcher,
		Intake:     a.intake,
		Classifier: a.classifier,
		Tracker:    a.tracker,
		Store:      a.store,
		Validator:  api.NewValidator(cfg.Transport.CountryCode),
		Logger:     slog.Default(),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(handler, a.registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Address, "store", cfg.Store.Driver, "redis", cfg.Redis.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
