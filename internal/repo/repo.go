package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/cart-recovery/internal/model"
)

type AccountRepository interface {
	AccountByToken(ctx context.Context, token string) (model.Account, error)
}

type CartRepository interface {
	CreateCart(ctx context.Context, c *model.Cart) error
	GetCart(ctx context.Context, id string) (model.Cart, error)
	// UpdateCartStatus moves the cart to `to` only if it is still in `from`.
	// It reports whether a row changed.
	UpdateCartStatus(ctx context.Context, id string, from, to model.CartStatus, at time.Time) (bool, error)
	LatestInProgressCart(ctx context.Context, accountID, phone string) (model.Cart, error)
	ListPendingCarts(ctx context.Context, createdBefore time.Time, limit int) ([]model.Cart, error)
}

type FlowRepository interface {
	LatestActiveFlow(ctx context.Context, accountID string) (model.Flow, error)
	GetFlow(ctx context.Context, id string) (model.Flow, error)
	StepAt(ctx context.Context, flowID string, order int) (model.FlowStep, error)
	// DeleteStep removes a step of flowID and renumbers the remaining ones
	// 0..n-1. A step that belongs to another flow is errs.ErrNotFound.
	DeleteStep(ctx context.Context, flowID, stepID string) error
}

type InstanceRepository interface {
	ConnectedInstances(ctx context.Context, accountID string) ([]model.Instance, error)
	GetInstance(ctx context.Context, id string) (model.Instance, error)
	IncrementMessagesSent(ctx context.Context, id string) error
}

// StaleCounts is what the sweeper reports on.
type StaleCounts struct {
	Scheduled int
	Sending   int
}

type MessageRepository interface {
	// EnrollCart moves the cart pending -> in_progress and inserts its first
	// message in one transaction. It reports false when the cart was no longer pending.
	EnrollCart(ctx context.Context, m *model.Message, at time.Time) (bool, error)
	// CreateMessage returns errs.ErrDuplicate when a live message already
	// exists for the same cart and step.
	CreateMessage(ctx context.Context, m *model.Message) error
	// ClaimDue moves up to limit scheduled messages due in [from, to] into
	// sending. Messages of priority flows come first, then by scheduled_for.
	ClaimDue(ctx context.Context, from, to time.Time, limit int) ([]model.Message, error)
	// SaveStatus persists m's status fields if the stored status is still `from`.
	SaveStatus(ctx context.Context, m model.Message, from model.Status) (bool, error)
	GetMessage(ctx context.Context, id string) (model.Message, error)
	FindByProviderID(ctx context.Context, accountID, providerID string) (model.Message, error)
	ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error)
	ListByCart(ctx context.Context, cartID string) ([]model.Message, error)
	CountScheduledBetween(ctx context.Context, flowID string, from, to time.Time) (int, error)
	CountStale(ctx context.Context, olderThan time.Time) (StaleCounts, error)
}

type ReceivedRepository interface {
	AppendReceived(ctx context.Context, m *model.ReceivedMessage) error
}

type StatsRepository interface {
	AddStats(ctx context.Context, d model.StatsDelta) error
	GetStats(ctx context.Context, accountID, flowID string, day time.Time) (model.DailyStats, error)
}

// Store is the full persistence surface. Services depend on the narrow
// interfaces above.
type Store interface {
	AccountRepository
	CartRepository
	FlowRepository
	InstanceRepository
	MessageRepository
	ReceivedRepository
	StatsRepository
}
