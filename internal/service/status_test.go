package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/cart-recovery/internal/cache"
	"github.com/LeventeLantos/cart-recovery/internal/errs"
	"github.com/LeventeLantos/cart-recovery/internal/model"
	"github.com/LeventeLantos/cart-recovery/internal/service"
)

func TestStatusTracker_DeliveredThenRead(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0, 1)
	c := e.receiveCart(t, "11999998888", "ext-1")
	require.Equal(t, 1, e.run(t).Sent)

	tracker := service.NewStatusTracker(e.store, nil, discardLogger())
	ctx := context.Background()

	m, err := tracker.Update(ctx, accountID, "p-1", model.Delivered, t0.Add(time.Minute), "")
	require.NoError(t, err)
	assert.Equal(t, model.Delivered, m.Status)
	assert.Equal(t, c.ID, m.CartID)

	m, err = tracker.Update(ctx, accountID, "p-1", model.Read, t0.Add(2*time.Minute), "")
	require.NoError(t, err)
	assert.Equal(t, model.Read, m.Status)
	require.NotNil(t, m.ReadAt)

	// Duplicate receipt.
	_, err = tracker.Update(ctx, accountID, "p-1", model.Read, t0.Add(3*time.Minute), "")
	require.NoError(t, err)

	// Late receipt for an earlier state.
	_, err = tracker.Update(ctx, accountID, "p-1", model.Delivered, t0.Add(4*time.Minute), "")
	assert.True(t, errors.Is(err, errs.ErrIllegalTransition))

	st, err := e.store.GetStats(ctx, accountID, flowID, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, st.MessagesDelivered)
	assert.Equal(t, 1, st.MessagesRead)
}

func TestStatusTracker_RejectsUnknownMessageAndStatus(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	tracker := service.NewStatusTracker(e.store, nil, discardLogger())
	ctx := context.Background()

	_, err := tracker.Update(ctx, accountID, "nope", model.Delivered, time.Time{}, "")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = tracker.Update(ctx, accountID, "nope", model.Sent, time.Time{}, "")
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestStatusTracker_ResolvesThroughCache(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mc := cache.NewRedisCache(rdb, time.Hour)

	e := newEnv(t, 0)
	e.dispatcher.WithCache(mc)
	e.receiveCart(t, "11999998888", "ext-1")
	require.Equal(t, 1, e.run(t).Sent)

	id, err := mc.LookupSent(context.Background(), accountID, "p-1")
	require.NoError(t, err)

	tracker := service.NewStatusTracker(e.store, mc, discardLogger())
	m, err := tracker.Update(context.Background(), accountID, "p-1", model.Failed, t0, "undeliverable")
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, model.Failed, m.Status)
	assert.Equal(t, "undeliverable", *m.FailedReason)
}
