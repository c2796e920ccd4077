package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/repo"
	"github.com/LeventeLantos/cart-recovery/internal/template"
)

// maxDeferDays bounds how far the daily limit can push a message.
const maxDeferDays = 30

var errDailyLimitFull = fmt.Errorf("%w: daily limit full for %d days", errs.ErrNotEligible, maxDeferDays)

// Sequencer decides which step a cart gets next and schedules it.
type Sequencer struct {
	store    repo.Store
	linkBase string
	now      func() time.Time
	log      *slog.Logger
}

func NewSequencer(store repo.Store, linkBase string, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		store:    store,
		linkBase: linkBase,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger,
	}
}

func (s *Sequencer) WithClock(now func() time.Time) *Sequencer {
	s.now = now
	return s
}

// ScheduleFirstStep enrolls a pending cart in its account's newest active
// flow. A cart that is not pending is left alone and (nil, nil) is returned.
// When no flow, step or connected instance is available the cart is marked
// failed and an errs.ErrNotEligible error is returned.
func (s *Sequencer) ScheduleFirstStep(ctx context.Context, cart model.Cart) (*model.Message, error) {
	if cart.RecoveryStatus != model.CartPending {
		return nil, nil
	}

	flow, err := s.store.LatestActiveFlow(ctx, cart.AccountID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, s.failCart(ctx, cart, "no active flow")
	}
	if err != nil {
		return nil, err
	}

	step, err := s.store.StepAt(ctx, flow.ID, 0)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, s.failCart(ctx, cart, "flow has no steps")
	}
	if err != nil {
		return nil, err
	}

	inst, err := s.pickInstance(ctx, cart.AccountID, flow.Settings.PreferredTransport)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, s.failCart(ctx, cart, "no connected instance")
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	at, err := s.scheduleTime(ctx, flow, now.Add(step.Delay()))
	if errors.Is(err, errDailyLimitFull) {
		return nil, s.failCart(ctx, cart, "daily limit full")
	}
	if err != nil {
		return nil, err
	}

	msg := s.newMessage(cart, flow, step, inst.ID, at, now)
	ok, err := s.store.EnrollCart(ctx, msg, now)
	if err != nil {
		return nil, fmt.Errorf("enroll cart %s: %w", cart.ID, err)
	}
	if !ok {
		s.log.Debug("cart enrolled concurrently", "cart_id", cart.ID)
		return nil, nil
	}

	s.log.Info("cart enrolled",
		"cart_id", cart.ID,
		"flow_id", flow.ID,
		"instance_id", inst.ID,
		"scheduled_for", at,
	)
	return msg, nil
}

// ScheduleNextStep schedules the step after the one completed sends. When the
// flow has no further step the cart is closed as abandoned.
func (s *Sequencer) ScheduleNextStep(ctx context.Context, completed model.Message) (*model.Message, error) {
	nextOrder := completed.StepOrder + 1

	step, err := s.store.StepAt(ctx, completed.FlowID, nextOrder)
	if errors.Is(err, errs.ErrNotFound) {
		ok, err := s.store.UpdateCartStatus(ctx, completed.CartID, model.CartInProgress, model.CartAbandoned, s.now())
		if err != nil {
			return nil, fmt.Errorf("abandon cart %s: %w", completed.CartID, err)
		}
		if ok {
			s.log.Info("flow exhausted, cart abandoned", "cart_id", completed.CartID, "flow_id", completed.FlowID)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cart, err := s.store.GetCart(ctx, completed.CartID)
	if err != nil {
		return nil, err
	}
	if cart.RecoveryStatus != model.CartInProgress {
		return nil, nil
	}

	flow, err := s.store.GetFlow(ctx, completed.FlowID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	at, err := s.scheduleTime(ctx, flow, now.Add(step.Delay()))
	if errors.Is(err, errDailyLimitFull) {
		if _, uerr := s.store.UpdateCartStatus(ctx, cart.ID, model.CartInProgress, model.CartFailed, now); uerr != nil {
			return nil, fmt.Errorf("fail cart %s: %w", cart.ID, uerr)
		}
		s.log.Warn("daily limit full, cart failed", "cart_id", cart.ID, "step", nextOrder)
		return nil, fmt.Errorf("cart %s step %d: %w", cart.ID, nextOrder, err)
	}
	if err != nil {
		return nil, err
	}

	msg := s.newMessage(cart, flow, step, completed.InstanceID, at, now)
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, errs.ErrDuplicate) {
			s.log.Debug("next step already scheduled", "cart_id", cart.ID, "step", nextOrder)
			return nil, nil
		}
		return nil, fmt.Errorf("schedule step %d for cart %s: %w", nextOrder, cart.ID, err)
	}

	s.log.Info("next step scheduled", "cart_id", cart.ID, "step", nextOrder, "scheduled_for", at)
	return msg, nil
}

func (s *Sequencer) failCart(ctx context.Context, cart model.Cart, reason string) error {
	if _, err := s.store.UpdateCartStatus(ctx, cart.ID, model.CartPending, model.CartFailed, s.now()); err != nil {
		return fmt.Errorf("fail cart %s: %w", cart.ID, err)
	}
	s.log.Warn("cart not enrolled", "cart_id", cart.ID, "reason", reason)
	return fmt.Errorf("%w: cart %s: %s", errs.ErrNotEligible, cart.ID, reason)
}

func (s *Sequencer) pickInstance(ctx context.Context, accountID string, preferred model.TransportType) (model.Instance, error) {
	instances, err := s.store.ConnectedInstances(ctx, accountID)
	if err != nil {
		return model.Instance{}, err
	}
	if len(instances) == 0 {
		return model.Instance{}, fmt.Errorf("connected instance for account %s: %w", accountID, errs.ErrNotFound)
	}
	if preferred != "" {
		for _, inst := range instances {
			if inst.Connection.Type == preferred {
				return inst, nil
			}
		}
	}
	return instances[0], nil
}

// scheduleTime fits at into the flow's send window and moves it forward a
// day at a time while that day's quota is used up. It gives up with
// errDailyLimitFull after maxDeferDays full days.
func (s *Sequencer) scheduleTime(ctx context.Context, flow model.Flow, at time.Time) (time.Time, error) {
	at = flow.Settings.FitWindow(at)
	if flow.Settings.DailyLimit <= 0 {
		return at, nil
	}

	for i := 0; i < maxDeferDays; i++ {
		day := model.Day(at)
		n, err := s.store.CountScheduledBetween(ctx, flow.ID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return time.Time{}, err
		}
		if n < flow.Settings.DailyLimit {
			return at, nil
		}
		at = flow.Settings.NextDay(at)
	}
	return time.Time{}, errDailyLimitFull
}

func (s *Sequencer) newMessage(cart model.Cart, flow model.Flow, step model.FlowStep, instanceID string, at, now time.Time) *model.Message {
	return &model.Message{
		ID:           uuid.NewString(),
		AccountID:    cart.AccountID,
		FlowID:       flow.ID,
		FlowStepID:   step.ID,
		StepOrder:    step.SequenceOrder,
		CartID:       cart.ID,
		InstanceID:   instanceID,
		Status:       model.Scheduled,
		Content:      template.Render(step.Content, template.CartVariables(cart, s.linkBase)),
		ScheduledFor: at,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
