package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/cart-recovery/internal/cache"
	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/repo"
)

// StatusTracker applies provider delivery receipts to sent messages.
type StatusTracker struct {
	store repo.Store
	cache cache.MessageCache
	now   func() time.Time
	log   *slog.Logger
}

func NewStatusTracker(store repo.Store, c cache.MessageCache, logger *slog.Logger) *StatusTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusTracker{
		store: store,
		cache: c,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger,
	}
}

func (t *StatusTracker) WithClock(now func() time.Time) *StatusTracker {
	t.now = now
	return t
}

// Update moves the message identified by providerMessageID to status.
// Repeated receipts for the status the message already has are no-ops.
func (t *StatusTracker) Update(ctx context.Context, accountID, providerMessageID string, status model.Status, at time.Time, reason string) (model.Message, error) {
	switch status {
	case model.Delivered, model.Read, model.Failed:
	default:
		return model.Message{}, fmt.Errorf("%w: unsupported delivery status %q", errs.ErrValidation, status)
	}
	if at.IsZero() {
		at = t.now()
	}

	m, err := t.resolve(ctx, accountID, providerMessageID)
	if err != nil {
		return model.Message{}, err
	}
	if m.Status == status {
		return m, nil
	}

	from := m.Status
	if err := m.Apply(model.Outcome{Status: status, At: at, Reason: reason}); err != nil {
		return model.Message{}, err
	}
	ok, err := t.store.SaveStatus(ctx, m, from)
	if err != nil {
		return model.Message{}, err
	}
	if !ok {
		return model.Message{}, fmt.Errorf("%w: message %s changed concurrently", errs.ErrIllegalTransition, m.ID)
	}

	delta := model.StatsDelta{AccountID: m.AccountID, FlowID: m.FlowID, Date: at}
	switch status {
	case model.Delivered:
		delta.MessagesDelivered = 1
	case model.Read:
		delta.MessagesRead = 1
	}
	if delta.MessagesDelivered+delta.MessagesRead > 0 {
		if err := t.store.AddStats(ctx, delta); err != nil {
			t.log.Error("record delivery stats failed", "message_id", m.ID, "error", err)
		}
	}

	t.log.Info("delivery status updated", "message_id", m.ID, "from", from, "to", status)
	return m, nil
}

func (t *StatusTracker) resolve(ctx context.Context, accountID, providerMessageID string) (model.Message, error) {
	if t.cache != nil {
		id, err := t.cache.LookupSent(ctx, accountID, providerMessageID)
		switch {
		case err == nil:
			m, err := t.store.GetMessage(ctx, id)
			if err == nil && m.AccountID == accountID {
				return m, nil
			}
		case !errors.Is(err, cache.ErrMiss):
			t.log.Warn("message cache lookup failed", "error", err)
		}
	}
	return t.store.FindByProviderID(ctx, accountID, providerMessageID)
}
