package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/LeventeLantos/cart-recovery/internal/repo"
)

type StaleCounter interface {
	CountStale(ctx context.Context, olderThan time.Time) (repo.StaleCounts, error)
}

// Sweeper reports messages the dispatcher will no longer pick up: scheduled
// messages that fell out of the dispatch window and messages stuck in sending.
type Sweeper struct {
	counter StaleCounter
	window  time.Duration
	stale   *prometheus.GaugeVec
	cron    *cron.Cron
	now     func() time.Time
	log     *slog.Logger
}

func NewSweeper(counter StaleCounter, window time.Duration, reg prometheus.Registerer, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	stale := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cart_recovery_stale_messages",
		Help: "Messages left behind by the dispatcher, by status.",
	}, []string{"status"})
	if reg != nil {
		reg.MustRegister(stale)
	}
	return &Sweeper{
		counter: counter,
		window:  window,
		stale:   stale,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.With("module", "sweeper"),
	}
}

// Start runs Sweep on the given standard cron spec until Stop.
func (s *Sweeper) Start(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("sweeper started", "schedule", spec)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("sweeper stopped")
}

func (s *Sweeper) Sweep(ctx context.Context) (repo.StaleCounts, error) {
	counts, err := s.counter.CountStale(ctx, s.now().Add(-s.window))
	if err != nil {
		return repo.StaleCounts{}, err
	}

	s.stale.WithLabelValues("scheduled").Set(float64(counts.Scheduled))
	s.stale.WithLabelValues("sending").Set(float64(counts.Sending))

	if counts.Scheduled > 0 || counts.Sending > 0 {
		s.log.Warn("stale messages found",
			"scheduled_past_window", counts.Scheduled,
			"stuck_sending", counts.Sending,
		)
	}
	return counts, nil
}
