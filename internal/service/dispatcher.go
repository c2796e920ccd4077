package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/cart-recovery/internal/cache"
	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/repo"
	"github.com/LeventeLantos/cart-recovery/internal/transport"
)

const (
	reasonInstanceNotConnected = "instance not connected"
	reasonCartNotFound         = "cart not found"
	reasonCartNotInRecovery    = "cart no longer in recovery"
)

type DispatcherConfig struct {
	BatchSize      int
	Window         time.Duration
	Workers        int
	MessageTimeout time.Duration
	EnrollGrace    time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 30 * time.Second
	}
	if c.EnrollGrace <= 0 {
		c.EnrollGrace = time.Minute
	}
	return c
}

// RunStats summarizes one dispatcher run.
type RunStats struct {
	Enrolled int `json:"enrolled"`
	Claimed  int `json:"claimed"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	// Aborted messages hit a storage error and stay in sending.
	Aborted int `json:"aborted"`
}

type runCounters struct {
	sent    atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
	aborted atomic.Int64
}

type Dispatcher struct {
	store     repo.Store
	sender    transport.Sender
	sequencer *Sequencer
	cache     cache.MessageCache
	locker    cache.Locker
	cfg       DispatcherConfig
	now       func() time.Time
	log       *slog.Logger
}

func NewDispatcher(store repo.Store, sender transport.Sender, sequencer *Sequencer, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		sender:    sender,
		sequencer: sequencer,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger,
	}
}

// WithCache records provider message ids after each successful send.
func (d *Dispatcher) WithCache(c cache.MessageCache) *Dispatcher {
	d.cache = c
	return d
}

// WithLocker serializes work on a cart across dispatcher processes.
func (d *Dispatcher) WithLocker(l cache.Locker) *Dispatcher {
	d.locker = l
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run performs one dispatch cycle. Only a failure to claim messages is
// returned; per-message failures are recorded on the message and counted.
func (d *Dispatcher) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	stats.Enrolled = d.enrollStranded(ctx)

	now := d.now()
	msgs, err := d.store.ClaimDue(ctx, now.Add(-d.cfg.Window), now, d.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("claim due messages: %w", err)
	}
	stats.Claimed = len(msgs)
	if len(msgs) == 0 {
		return stats, nil
	}

	var (
		counters runCounters
		g        errgroup.Group
	)
	g.SetLimit(d.cfg.Workers)

	for _, group := range groupByCart(msgs) {
		g.Go(func() error {
			d.processCart(ctx, group, &counters)
			return nil
		})
	}
	_ = g.Wait()

	stats.Sent = int(counters.sent.Load())
	stats.Failed = int(counters.failed.Load())
	stats.Skipped = int(counters.skipped.Load())
	stats.Aborted = int(counters.aborted.Load())

	d.log.Info("dispatch run completed",
		"enrolled", stats.Enrolled,
		"claimed", stats.Claimed,
		"sent", stats.Sent,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"aborted", stats.Aborted,
	)
	return stats, nil
}

// enrollStranded retries enrollment for carts that stayed pending past the
// grace period.
func (d *Dispatcher) enrollStranded(ctx context.Context) int {
	carts, err := d.store.ListPendingCarts(ctx, d.now().Add(-d.cfg.EnrollGrace), d.cfg.BatchSize)
	if err != nil {
		d.log.Error("list pending carts failed", "error", err)
		return 0
	}

	enrolled := 0
	for _, c := range carts {
		msg, err := d.sequencer.ScheduleFirstStep(ctx, c)
		switch {
		case errors.Is(err, errs.ErrNotEligible):
		case err != nil:
			d.log.Error("enroll stranded cart failed", "cart_id", c.ID, "error", err)
		case msg != nil:
			enrolled++
		}
	}
	return enrolled
}

// groupByCart keeps claim order within each cart and across carts by first
// appearance.
func groupByCart(msgs []model.Message) [][]model.Message {
	index := make(map[string]int)
	var groups [][]model.Message
	for _, m := range msgs {
		i, ok := index[m.CartID]
		if !ok {
			i = len(groups)
			index[m.CartID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func (d *Dispatcher) processCart(ctx context.Context, msgs []model.Message, counters *runCounters) {
	cartID := msgs[0].CartID

	if d.locker != nil {
		unlock, err := d.locker.Lock(ctx, cartID)
		if err != nil {
			d.log.Warn("cart lock unavailable, relying on conditional updates", "cart_id", cartID, "error", err)
		} else {
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					d.log.Warn("cart unlock failed", "cart_id", cartID, "error", err)
				}
			}()
		}
	}

	for _, m := range msgs {
		switch d.processMessage(ctx, m) {
		case model.Sent:
			counters.sent.Add(1)
		case model.Skipped:
			counters.skipped.Add(1)
		case model.Sending:
			counters.aborted.Add(1)
		default:
			counters.failed.Add(1)
		}
	}
}

func (d *Dispatcher) processMessage(ctx context.Context, m model.Message) model.Status {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.MessageTimeout)
	defer cancel()

	logger := d.log.With("message_id", m.ID, "cart_id", m.CartID, "step", m.StepOrder)

	inst, err := d.store.GetInstance(sendCtx, m.InstanceID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return d.finish(ctx, logger, m, model.Outcome{Status: model.Failed, Reason: reasonInstanceNotConnected})
	case err != nil:
		logger.Error("load instance failed, message left in sending", "error", err)
		return m.Status
	case !inst.Connected():
		return d.finish(ctx, logger, m, model.Outcome{Status: model.Failed, Reason: reasonInstanceNotConnected})
	}

	cart, err := d.store.GetCart(sendCtx, m.CartID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return d.finish(ctx, logger, m, model.Outcome{Status: model.Failed, Reason: reasonCartNotFound})
	case err != nil:
		logger.Error("load cart failed, message left in sending", "error", err)
		return m.Status
	}
	if cart.RecoveryStatus != model.CartInProgress {
		return d.finish(ctx, logger, m, model.Outcome{Status: model.Skipped, Reason: reasonCartNotInRecovery})
	}

	res, err := d.sender.Send(sendCtx, inst, cart.CustomerPhone, m.Content)
	if err != nil {
		logger.Warn("send failed", "instance_id", inst.ID, "retryable", transport.IsRetryable(err), "error", err)
		return d.finish(ctx, logger, m, model.Outcome{Status: model.Failed, Reason: err.Error()})
	}

	status := d.finish(ctx, logger, m, model.Outcome{Status: model.Sent, ProviderMessageID: res.ProviderMessageID})
	if status != model.Sent {
		return status
	}
	d.afterSent(ctx, logger, m, inst, res.ProviderMessageID)
	return model.Sent
}

// finish applies the outcome and persists it conditionally on the claimed
// status. It returns the status the message ended in, which stays sending
// when the write itself fails.
func (d *Dispatcher) finish(ctx context.Context, logger *slog.Logger, m model.Message, o model.Outcome) model.Status {
	from := m.Status
	o.At = d.now()
	if err := m.Apply(o); err != nil {
		logger.Error("apply outcome failed", "error", err)
		return model.Failed
	}

	ok, err := d.store.SaveStatus(ctx, m, from)
	if err != nil {
		logger.Error("save message status failed", "status", m.Status, "error", err)
		return from
	}
	if !ok {
		logger.Warn("message changed concurrently, outcome dropped", "status", m.Status)
		return model.Failed
	}

	if m.Status != model.Sent {
		logger.Info("message closed", "status", m.Status, "reason", o.Reason)
	}
	return m.Status
}

func (d *Dispatcher) afterSent(ctx context.Context, logger *slog.Logger, m model.Message, inst model.Instance, providerID string) {
	now := d.now()

	if err := d.store.IncrementMessagesSent(ctx, inst.ID); err != nil {
		logger.Error("increment instance counter failed", "instance_id", inst.ID, "error", err)
	}
	if err := d.store.AddStats(ctx, model.StatsDelta{
		AccountID:    m.AccountID,
		FlowID:       m.FlowID,
		Date:         now,
		MessagesSent: 1,
	}); err != nil {
		logger.Error("record send stats failed", "error", err)
	}
	if d.cache != nil && providerID != "" {
		if err := d.cache.StoreSent(ctx, m.AccountID, providerID, m.ID, now); err != nil {
			logger.Warn("cache provider id failed", "error", err)
		}
	}

	logger.Info("message sent", "instance_id", inst.ID, "provider_message_id", providerID)

	if _, err := d.sequencer.ScheduleNextStep(ctx, m); err != nil {
		logger.Error("schedule next step failed", "error", err)
	}
}
