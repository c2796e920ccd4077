package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/repo"
	"github.com/LeventeLantos/cart-recovery/internal/transport"
)

type CartInput struct {
	CustomerName  string
	CustomerPhone string
	ExternalID    string
	StoreID       string
	Value         decimal.Decimal
	Items         []model.CartItem
}

// Intake turns abandoned-cart notifications into carts and enrolls them.
type Intake struct {
	store       repo.Store
	sequencer   *Sequencer
	countryCode string
	now         func() time.Time
	log         *slog.Logger
}

func NewIntake(store repo.Store, sequencer *Sequencer, countryCode string, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		store:       store,
		sequencer:   sequencer,
		countryCode: countryCode,
		now:         func() time.Time { return time.Now().UTC() },
		log:         logger,
	}
}

func (i *Intake) WithClock(now func() time.Time) *Intake {
	i.now = now
	return i
}

// Receive validates and stores the cart, then tries to enroll it. Enrollment
// problems are logged; the cart stays pending or failed and is still returned.
func (i *Intake) Receive(ctx context.Context, accountID string, in CartInput) (model.Cart, error) {
	phone, err := transport.NormalizePhone(in.CustomerPhone, i.countryCode)
	if err != nil {
		return model.Cart{}, fmt.Errorf("%w: customer phone: %v", errs.ErrValidation, err)
	}
	if !in.Value.IsPositive() {
		return model.Cart{}, fmt.Errorf("%w: cart value must be > 0", errs.ErrValidation)
	}
	if strings.TrimSpace(in.ExternalID) == "" {
		return model.Cart{}, fmt.Errorf("%w: cart id is required", errs.ErrValidation)
	}

	now := i.now()
	cart := model.Cart{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		CustomerPhone:  phone,
		CustomerName:   strings.TrimSpace(in.CustomerName),
		Value:          in.Value.Round(2),
		Items:          in.Items,
		ExternalID:     in.ExternalID,
		StoreID:        in.StoreID,
		RecoveryStatus: model.CartPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := i.store.CreateCart(ctx, &cart); err != nil {
		return model.Cart{}, fmt.Errorf("create cart: %w", err)
	}

	msg, err := i.sequencer.ScheduleFirstStep(ctx, cart)
	switch {
	case errors.Is(err, errs.ErrNotEligible):
		cart.RecoveryStatus = model.CartFailed
	case err != nil:
		i.log.Error("enroll cart failed, dispatcher will retry", "cart_id", cart.ID, "error", err)
	case msg != nil:
		cart.RecoveryStatus = model.CartInProgress
	}

	i.log.Info("abandoned cart received", "cart_id", cart.ID, "external_id", cart.ExternalID, "status", cart.RecoveryStatus)
	return cart, nil
}
