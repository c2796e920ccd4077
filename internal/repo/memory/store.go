// Package memory is an in-process implementation of repo.Store. It applies
// the same conditional-update rules as the Postgres store and is used by tests
// and single-process local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type statsKey struct {
	accountID string
	flowID    string
	day       time.Time
}

type Store struct {
	mu sync.Mutex

	accounts    map[string]model.Account
	carts       map[string]model.Cart
	flows       map[string]model.Flow
	steps       map[string]model.FlowStep
	connections map[string]model.Connection
	instances   map[string]model.Instance
	messages    map[string]model.Message
	received    []model.ReceivedMessage
	stats       map[statsKey]model.DailyStats
}

func New() *Store {
	return &Store{
		accounts:    make(map[string]model.Account),
		carts:       make(map[string]model.Cart),
		flows:       make(map[string]model.Flow),
		steps:       make(map[string]model.FlowStep),
		connections: make(map[string]model.Connection),
		instances:   make(map[string]model.Instance),
		messages:    make(map[string]model.Message),
		stats:       make(map[statsKey]model.DailyStats),
	}
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, errs.ErrNotFound)
}

func (s *Store) AccountByToken(_ context.Context, token string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.WebhookToken == token {
			return a, nil
		}
	}
	return model.Account{}, notFound("account with token", "***")
}

func (s *Store) CreateCart(_ context.Context, c *model.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.carts[c.ID]; ok {
		return fmt.Errorf("cart %s: %w", c.ID, errs.ErrDuplicate)
	}
	s.carts[c.ID] = copyCart(*c)
	return nil
}

func (s *Store) GetCart(_ context.Context, id string) (model.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[id]
	if !ok {
		return model.Cart{}, notFound("cart", id)
	}
	return copyCart(c), nil
}

func (s *Store) UpdateCartStatus(_ context.Context, id string, from, to model.CartStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateCartStatusLocked(id, from, to, at)
}

func (s *Store) updateCartStatusLocked(id string, from, to model.CartStatus, at time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("%w: cart %s %s -> %s", errs.ErrIllegalTransition, id, from, to)
	}
	c, ok := s.carts[id]
	if !ok || c.RecoveryStatus != from {
		return false, nil
	}
	if err := c.Transition(to, at); err != nil {
		return false, err
	}
	s.carts[id] = c
	return true, nil
}

func (s *Store) LatestInProgressCart(_ context.Context, accountID, phone string) (model.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  model.Cart
		found bool
	)
	for _, c := range s.carts {
		if c.AccountID != accountID || c.CustomerPhone != phone || c.RecoveryStatus != model.CartInProgress {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) {
			best, found = c, true
		}
	}
	if !found {
		return model.Cart{}, notFound("in-progress cart for", phone)
	}
	return copyCart(best), nil
}

func (s *Store) ListPendingCarts(_ context.Context, createdBefore time.Time, limit int) ([]model.Cart, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", errs.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Cart
	for _, c := range s.carts {
		if c.RecoveryStatus == model.CartPending && !c.CreatedAt.After(createdBefore) {
			out = append(out, copyCart(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LatestActiveFlow(_ context.Context, accountID string) (model.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  model.Flow
		found bool
	)
	for _, f := range s.flows {
		if f.AccountID != accountID || !f.Enrollable() {
			continue
		}
		if !found || f.CreatedAt.After(best.CreatedAt) || (f.CreatedAt.Equal(best.CreatedAt) && f.ID > best.ID) {
			best, found = f, true
		}
	}
	if !found {
		return model.Flow{}, notFound("active flow for account", accountID)
	}
	return best, nil
}

func (s *Store) GetFlow(_ context.Context, id string) (model.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok {
		return model.Flow{}, notFound("flow", id)
	}
	return f, nil
}

func (s *Store) StepAt(_ context.Context, flowID string, order int) (model.FlowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.steps {
		if st.FlowID == flowID && st.SequenceOrder == order {
			return st, nil
		}
	}
	return model.FlowStep{}, notFound(fmt.Sprintf("step %d of flow", order), flowID)
}

func (s *Store) DeleteStep(_ context.Context, flowID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[stepID]
	if !ok || st.FlowID != flowID {
		return notFound("step", stepID)
	}
	for _, m := range s.messages {
		if m.FlowStepID == stepID {
			return fmt.Errorf("step %s has messages: %w", stepID, errs.ErrInUse)
		}
	}
	delete(s.steps, stepID)

	var rest []model.FlowStep
	for _, other := range s.steps {
		if other.FlowID == st.FlowID {
			rest = append(rest, other)
		}
	}
	for _, changed := range model.CompactSteps(rest) {
		s.steps[changed.ID] = changed
	}
	return nil
}

func (s *Store) ConnectedInstances(_ context.Context, accountID string) ([]model.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Instance
	for _, inst := range s.instances {
		if inst.AccountID == accountID && inst.Connected() {
			out = append(out, s.withConnection(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetInstance(_ context.Context, id string) (model.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return model.Instance{}, notFound("instance", id)
	}
	return s.withConnection(inst), nil
}

func (s *Store) withConnection(inst model.Instance) model.Instance {
	inst.Connection = s.connections[inst.ConnectionID]
	return inst
}

func (s *Store) IncrementMessagesSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return notFound("instance", id)
	}
	inst.MessagesSent++
	s.instances[id] = inst
	return nil
}

func (s *Store) EnrollCart(_ context.Context, m *model.Message, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[m.CartID]
	if !ok || c.RecoveryStatus != model.CartPending {
		return false, nil
	}
	if err := s.insertMessageLocked(m); err != nil {
		return false, err
	}
	if _, err := s.updateCartStatusLocked(c.ID, model.CartPending, model.CartInProgress, at); err != nil {
		delete(s.messages, m.ID)
		return false, err
	}
	return true, nil
}

func (s *Store) CreateMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertMessageLocked(m)
}

func (s *Store) insertMessageLocked(m *model.Message) error {
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("message %s: %w", m.ID, errs.ErrDuplicate)
	}
	if m.Status.Live() {
		for _, other := range s.messages {
			if other.CartID == m.CartID && other.FlowStepID == m.FlowStepID && other.Status.Live() {
				return fmt.Errorf("live message for cart %s step %s: %w", m.CartID, m.FlowStepID, errs.ErrDuplicate)
			}
		}
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *Store) ClaimDue(_ context.Context, from, to time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", errs.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.Message
	for _, m := range s.messages {
		if m.Status == model.Scheduled && !m.ScheduledFor.Before(from) && !m.ScheduledFor.After(to) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		pi, pj := s.flows[due[i].FlowID].Settings.Priority, s.flows[due[j].FlowID].Settings.Priority
		if pi != pj {
			return pi
		}
		if due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		if err := due[i].Apply(model.Outcome{Status: model.Sending, At: to}); err != nil {
			return nil, err
		}
		s.messages[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *Store) SaveStatus(_ context.Context, m model.Message, from model.Status) (bool, error) {
	if !from.CanTransition(m.Status) {
		return false, fmt.Errorf("%w: message %s %s -> %s", errs.ErrIllegalTransition, m.ID, from, m.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[m.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	cur.Status = m.Status
	cur.SentAt = m.SentAt
	cur.DeliveredAt = m.DeliveredAt
	cur.ReadAt = m.ReadAt
	cur.FailedReason = m.FailedReason
	cur.ProviderMessageID = m.ProviderMessageID
	cur.UpdatedAt = m.UpdatedAt
	s.messages[m.ID] = cur
	return true, nil
}

func (s *Store) GetMessage(_ context.Context, id string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, notFound("message", id)
	}
	return m, nil
}

func (s *Store) FindByProviderID(_ context.Context, accountID, providerID string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.AccountID == accountID && m.ProviderMessageID != nil && *m.ProviderMessageID == providerID {
			return m, nil
		}
	}
	return model.Message{}, notFound("message with provider id", providerID)
}

func (s *Store) ListByStatus(_ context.Context, status model.Status, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListByCart(_ context.Context, cartID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.CartID == cartID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepOrder == out[j].StepOrder {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].StepOrder < out[j].StepOrder
	})
	return out, nil
}

func (s *Store) CountScheduledBetween(_ context.Context, flowID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.FlowID == flowID && m.Status != model.Skipped &&
			!m.ScheduledFor.Before(from) && m.ScheduledFor.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountStale(_ context.Context, olderThan time.Time) (repo.StaleCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c repo.StaleCounts
	for _, m := range s.messages {
		switch {
		case m.Status == model.Scheduled && m.ScheduledFor.Before(olderThan):
			c.Scheduled++
		case m.Status == model.Sending && m.ClaimedAt != nil && m.ClaimedAt.Before(olderThan):
			c.Sending++
		}
	}
	return c, nil
}

func (s *Store) AppendReceived(_ context.Context, m *model.ReceivedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received = append(s.received, *m)
	return nil
}

// Received returns a copy of every stored inbound message in arrival order.
func (s *Store) Received() []model.ReceivedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.ReceivedMessage(nil), s.received...)
}

func (s *Store) AddStats(_ context.Context, d model.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := statsKey{accountID: d.AccountID, flowID: d.FlowID, day: model.Day(d.Date)}
	cur, ok := s.stats[k]
	if !ok {
		cur = model.DailyStats{AccountID: d.AccountID, FlowID: d.FlowID, Date: k.day}
	}
	cur.MessagesSent += d.MessagesSent
	cur.MessagesDelivered += d.MessagesDelivered
	cur.MessagesRead += d.MessagesRead
	cur.ResponsesReceived += d.ResponsesReceived
	cur.CartsRecovered += d.CartsRecovered
	cur.RevenueRecovered = cur.RevenueRecovered.Add(d.RevenueRecovered)
	s.stats[k] = cur
	return nil
}

func (s *Store) GetStats(_ context.Context, accountID, flowID string, day time.Time) (model.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := statsKey{accountID: accountID, flowID: flowID, day: model.Day(day)}
	if st, ok := s.stats[k]; ok {
		return st, nil
	}
	return model.DailyStats{AccountID: accountID, FlowID: flowID, Date: k.day}, nil
}

func copyCart(c model.Cart) model.Cart {
	c.Items = append([]model.CartItem(nil), c.Items...)
	if c.RecoveredAt != nil {
		t := *c.RecoveredAt
		c.RecoveredAt = &t
	}
	return c
}
