package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/repo"
	"github.com/LeventeLantos/cart-recovery/internal/transport"
)

// Purchase-intent keywords, matched as substrings of the lower-cased reply.
var intentKeywords = []string{"sim", "quero", "comprar", "finalizar", "confirmar"}

type ReplyOutcome string

const (
	ReplyUnmatched ReplyOutcome = "unmatched"
	ReplyNoIntent  ReplyOutcome = "no_intent"
	ReplyRecovered ReplyOutcome = "recovered"
)

type Reply struct {
	AccountID  string
	InstanceID string
	Phone      string
	Text       string
	ReceivedAt time.Time
}

type ReplyResult struct {
	Outcome ReplyOutcome `json:"result"`
	CartID  string       `json:"cart_id,omitempty"`
}

type Classifier struct {
	store       repo.Store
	countryCode string
	now         func() time.Time
	log         *slog.Logger
}

func NewClassifier(store repo.Store, countryCode string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		store:       store,
		countryCode: countryCode,
		now:         func() time.Time { return time.Now().UTC() },
		log:         logger,
	}
}

func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

func HasPurchaseIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range intentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Classify records an inbound reply and, when it comes from a customer whose
// cart is in recovery and shows purchase intent, marks that cart recovered.
func (c *Classifier) Classify(ctx context.Context, r Reply) (ReplyResult, error) {
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = c.now()
	}

	if err := c.checkInstance(ctx, r.AccountID, r.InstanceID); err != nil {
		return ReplyResult{}, err
	}

	phone, err := transport.NormalizePhone(r.Phone, c.countryCode)
	if err != nil {
		phone = digitsOnly(r.Phone)
	}

	var (
		cart    model.Cart
		matched bool
	)
	if err == nil {
		cart, err = c.store.LatestInProgressCart(ctx, r.AccountID, phone)
		switch {
		case err == nil:
			matched = true
		case !errors.Is(err, errs.ErrNotFound):
			return ReplyResult{}, fmt.Errorf("find cart for reply: %w", err)
		}
	}

	received := &model.ReceivedMessage{
		ID:            uuid.NewString(),
		AccountID:     r.AccountID,
		InstanceID:    r.InstanceID,
		CustomerPhone: phone,
		Content:       r.Text,
		ReceivedAt:    r.ReceivedAt,
		CreatedAt:     c.now(),
	}
	if matched {
		id := cart.ID
		received.CartID = &id
	}
	if err := c.store.AppendReceived(ctx, received); err != nil {
		return ReplyResult{}, fmt.Errorf("store reply: %w", err)
	}

	if !matched {
		c.log.Info("reply without cart in recovery", "phone", phone)
		return ReplyResult{Outcome: ReplyUnmatched}, nil
	}

	flowID := c.flowOf(ctx, cart.ID)
	if err := c.store.AddStats(ctx, model.StatsDelta{
		AccountID:         cart.AccountID,
		FlowID:            flowID,
		Date:              r.ReceivedAt,
		ResponsesReceived: 1,
	}); err != nil {
		c.log.Error("record reply stats failed", "cart_id", cart.ID, "error", err)
	}

	result := ReplyResult{Outcome: ReplyNoIntent, CartID: cart.ID}
	if !HasPurchaseIntent(r.Text) {
		return result, nil
	}

	ok, err := c.store.UpdateCartStatus(ctx, cart.ID, model.CartInProgress, model.CartRecovered, r.ReceivedAt)
	if err != nil {
		return ReplyResult{}, fmt.Errorf("mark cart recovered: %w", err)
	}
	if !ok {
		c.log.Info("cart left recovery before reply was classified", "cart_id", cart.ID)
		return result, nil
	}

	if err := c.store.AddStats(ctx, model.StatsDelta{
		AccountID:        cart.AccountID,
		FlowID:           flowID,
		Date:             r.ReceivedAt,
		CartsRecovered:   1,
		RevenueRecovered: cart.Value,
	}); err != nil {
		c.log.Error("record recovery stats failed", "cart_id", cart.ID, "error", err)
	}

	c.log.Info("cart recovered", "cart_id", cart.ID, "value", cart.Value.StringFixed(2))
	result.Outcome = ReplyRecovered
	return result, nil
}

// checkInstance rejects replies naming an instance the account does not own.
func (c *Classifier) checkInstance(ctx context.Context, accountID, instanceID string) error {
	inst, err := c.store.GetInstance(ctx, instanceID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load instance for reply: %w", err)
	case inst.AccountID == accountID:
		return nil
	}
	return fmt.Errorf("instance %s: %w", instanceID, errs.ErrNotFound)
}

// flowOf returns the flow the cart's messages belong to, or "" when unknown.
func (c *Classifier) flowOf(ctx context.Context, cartID string) string {
	msgs, err := c.store.ListByCart(ctx, cartID)
	if err != nil || len(msgs) == 0 {
		return ""
	}
	return msgs[0].FlowID
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
