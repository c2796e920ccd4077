package service_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/repo/memory"
	"github.com/LeventeLantos/cart-recovery/internal/service"
	"github.com/LeventeLantos/cart-recovery/internal/transport"
)

const (
	accountID  = "acc-1"
	flowID     = "flow-1"
	instanceID = "inst-1"
	linkBase   = "https://loja.com.br/carrinho?id="
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sendCall struct {
	InstanceID string
	Phone      string
	Content    string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
	delay time.Duration
}

func (f *fakeSender) Send(ctx context.Context, inst model.Instance, phone, content string) (transport.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return transport.Result{}, f.err
	}
	f.calls = append(f.calls, sendCall{InstanceID: inst.ID, Phone: phone, Content: content})
	return transport.Result{Success: true, ProviderMessageID: fmt.Sprintf("p-%d", len(f.calls))}, nil
}

func (f *fakeSender) Calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

type env struct {
	store      *memory.Store
	clock      *clock
	sender     *fakeSender
	sequencer  *service.Sequencer
	dispatcher *service.Dispatcher
	classifier *service.Classifier
	intake     *service.Intake
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newStore seeds one account with a connected official instance.
func newStore() *memory.Store {
	s := memory.New()
	s.AddAccount(model.Account{ID: accountID, Name: "Loja", WebhookToken: "tok", CreatedAt: t0})
	s.AddConnection(model.Connection{
		ID:        "conn-1",
		AccountID: accountID,
		Type:      model.TransportOfficial,
		Credentials: map[string]string{
			model.CredPhoneNumberID: "123",
			model.CredAccessToken:   "secret",
		},
		CreatedAt: t0,
	})
	s.AddInstance(model.Instance{
		ID:           instanceID,
		AccountID:    accountID,
		ConnectionID: "conn-1",
		Name:         "loja-1",
		Status:       model.InstanceConnected,
		CreatedAt:    t0,
	})
	return s
}

func addFlow(s *memory.Store, settings model.FlowSettings, delays ...int) {
	s.AddFlow(model.Flow{
		ID:        flowID,
		AccountID: accountID,
		Name:      "recuperação",
		Status:    model.FlowActive,
		Settings:  settings,
		CreatedAt: t0,
		UpdatedAt: t0,
	})
	for i, d := range delays {
		s.AddStep(model.FlowStep{
			ID:            fmt.Sprintf("step-%d", i),
			FlowID:        flowID,
			SequenceOrder: i,
			DelayHours:    d,
			Content:       fmt.Sprintf("Passo %d: Olá {nome}, seu carrinho de {valor} te espera: {link_carrinho}", i),
			CreatedAt:     t0,
		})
	}
}

func newEnvWithStore(t *testing.T, s *memory.Store) *env {
	t.Helper()

	clk := &clock{now: t0}
	sender := &fakeSender{}
	logger := discardLogger()

	seq := service.NewSequencer(s, linkBase, logger).WithClock(clk.Now)
	return &env{
		store:     s,
		clock:     clk,
		sender:    sender,
		sequencer: seq,
		dispatcher: service.NewDispatcher(s, sender, seq, service.DispatcherConfig{
			BatchSize:      50,
			Window:         5 * time.Minute,
			Workers:        4,
			MessageTimeout: time.Second,
			EnrollGrace:    time.Minute,
		}, logger).WithClock(clk.Now),
		classifier: service.NewClassifier(s, transport.DefaultCountryCode, logger).WithClock(clk.Now),
		intake:     service.NewIntake(s, seq, transport.DefaultCountryCode, logger).WithClock(clk.Now),
	}
}

func newEnv(t *testing.T, delays ...int) *env {
	t.Helper()
	s := newStore()
	addFlow(s, model.FlowSettings{}, delays...)
	return newEnvWithStore(t, s)
}

func (e *env) receiveCart(t *testing.T, phone, externalID string) model.Cart {
	t.Helper()
	c, err := e.intake.Receive(context.Background(), accountID, service.CartInput{
		CustomerName:  "Ana",
		CustomerPhone: phone,
		ExternalID:    externalID,
		Value:         decimal.RequireFromString("59.90"),
		Items:         []model.CartItem{{Name: "Caneca", Quantity: 1, Price: decimal.RequireFromString("59.90")}},
	})
	require.NoError(t, err)
	return c
}

func (e *env) run(t *testing.T) service.RunStats {
	t.Helper()
	stats, err := e.dispatcher.Run(context.Background())
	require.NoError(t, err)
	return stats
}

func (e *env) cart(t *testing.T, id string) model.Cart {
	t.Helper()
	c, err := e.store.GetCart(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (e *env) messages(t *testing.T, cartID string) []model.Message {
	t.Helper()
	msgs, err := e.store.ListByCart(context.Background(), cartID)
	require.NoError(t, err)
	return msgs
}
