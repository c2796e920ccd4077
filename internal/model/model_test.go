package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
)

var allCartStatuses = []CartStatus{CartPending, CartInProgress, CartRecovered, CartAbandoned, CartFailed}

func TestCartStatus_CanTransition(t *testing.T) {
	t.Parallel()

	legal := map[[2]CartStatus]bool{
		{CartPending, CartInProgress}:   true,
		{CartPending, CartFailed}:       true,
		{CartInProgress, CartRecovered}: true,
		{CartInProgress, CartAbandoned}: true,
		{CartInProgress, CartFailed}:    true,
	}

	for _, from := range allCartStatuses {
		for _, to := range allCartStatuses {
			got := from.CanTransition(to)
			assert.Equalf(t, legal[[2]CartStatus{from, to}], got, "%s -> %s", from, to)
		}
	}
}

func TestCartStatus_TerminalHasNoExits(t *testing.T) {
	t.Parallel()

	for _, s := range []CartStatus{CartRecovered, CartAbandoned, CartFailed} {
		assert.True(t, s.Terminal())
		for _, to := range allCartStatuses {
			assert.Falsef(t, s.CanTransition(to), "%s -> %s must be illegal", s, to)
		}
	}
}

func TestCart_Transition(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &Cart{ID: "c1", RecoveryStatus: CartPending}

	require.NoError(t, c.Transition(CartInProgress, now))
	require.NoError(t, c.Transition(CartRecovered, now))
	require.NotNil(t, c.RecoveredAt)
	assert.Equal(t, now, *c.RecoveredAt)

	err := c.Transition(CartPending, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrIllegalTransition))
	assert.Equal(t, CartRecovered, c.RecoveryStatus)
}

func TestMessage_Apply(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := &Message{ID: "m1", Status: Scheduled}

	require.NoError(t, m.Apply(Outcome{Status: Sending, At: now}))
	require.NotNil(t, m.ClaimedAt)

	require.NoError(t, m.Apply(Outcome{Status: Sent, At: now, ProviderMessageID: "wamid.1"}))
	require.NotNil(t, m.SentAt)
	require.NotNil(t, m.ProviderMessageID)
	assert.Equal(t, "wamid.1", *m.ProviderMessageID)

	require.NoError(t, m.Apply(Outcome{Status: Delivered, At: now}))
	require.NoError(t, m.Apply(Outcome{Status: Read, At: now}))

	err := m.Apply(Outcome{Status: Scheduled, At: now})
	assert.True(t, errors.Is(err, errs.ErrIllegalTransition))
}

func TestMessage_ScheduledCannotJumpToSent(t *testing.T) {
	t.Parallel()

	m := &Message{ID: "m1", Status: Scheduled}
	err := m.Apply(Outcome{Status: Sent, At: time.Now()})
	assert.True(t, errors.Is(err, errs.ErrIllegalTransition))
	assert.Equal(t, Scheduled, m.Status)
}

func TestCompactSteps(t *testing.T) {
	t.Parallel()

	steps := []FlowStep{
		{ID: "c", SequenceOrder: 5},
		{ID: "a", SequenceOrder: 0},
		{ID: "b", SequenceOrder: 2},
	}

	changed := CompactSteps(steps)

	assert.Equal(t, []string{"a", "b", "c"}, []string{steps[0].ID, steps[1].ID, steps[2].ID})
	for i, s := range steps {
		assert.Equal(t, i, s.SequenceOrder)
	}
	assert.Len(t, changed, 2)
}

func TestFlowSettings_FitWindow(t *testing.T) {
	t.Parallel()

	day := func(h, m int) time.Time { return time.Date(2026, 3, 1, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		settings FlowSettings
		in       time.Time
		want     time.Time
	}{
		{"no window", FlowSettings{}, day(3, 0), day(3, 0)},
		{"inside", FlowSettings{WindowStartHour: 9, WindowEndHour: 18}, day(10, 30), day(10, 30)},
		{"before opening", FlowSettings{WindowStartHour: 9, WindowEndHour: 18}, day(7, 15), day(9, 0)},
		{"after closing", FlowSettings{WindowStartHour: 9, WindowEndHour: 18}, day(19, 0), day(9, 0).AddDate(0, 0, 1)},
		{"wrapping inside", FlowSettings{WindowStartHour: 20, WindowEndHour: 2}, day(1, 0), day(1, 0)},
		{"wrapping outside", FlowSettings{WindowStartHour: 20, WindowEndHour: 2}, day(12, 0), day(20, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.settings.FitWindow(tt.in))
		})
	}
}

func TestFlowSettings_WindowInFlowTimezone(t *testing.T) {
	t.Parallel()

	// São Paulo is UTC-3 all year.
	s := FlowSettings{WindowStartHour: 9, WindowEndHour: 18, Timezone: "America/Sao_Paulo"}
	utc := func(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }

	assert.Equal(t, utc(2, 20), s.FitWindow(utc(2, 20)), "17:00 local is inside")
	assert.Equal(t, utc(2, 12), s.FitWindow(utc(2, 10)), "07:00 local waits for 09:00 local")
	assert.Equal(t, utc(3, 12), s.FitWindow(utc(2, 22)), "19:00 local moves to the next morning")
	assert.Equal(t, utc(3, 12), s.NextDay(utc(2, 13)))

	unknown := FlowSettings{WindowStartHour: 9, WindowEndHour: 18, Timezone: "Mars/Olympus"}
	assert.Equal(t, time.UTC, unknown.Location())
	assert.Equal(t, utc(2, 9), unknown.FitWindow(utc(2, 7)))
}

func TestFlowSettings_NextDay(t *testing.T) {
	t.Parallel()

	s := FlowSettings{WindowStartHour: 9, WindowEndHour: 18}
	got := s.NextDay(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), got)
}
