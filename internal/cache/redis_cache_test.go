package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisCache_StoreSent_Success(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)

	ttl := 10 * time.Second
	cache := NewRedisCache(rdb, ttl)

	ctx := context.Background()
	sentAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StoreSent(ctx, "acc-1", "wamid.123", "msg-42", sentAt); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	key := "sent:acc-1:wamid.123"

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}

	ttlRemaining := mr.TTL(key)
	if ttlRemaining <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttlRemaining)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.MessageID != "msg-42" {
		t.Fatalf("expected MessageID %q, got %q", "msg-42", got.MessageID)
	}
	if !got.SentAt.Equal(sentAt) {
		t.Fatalf("expected SentAt %v, got %v", sentAt, got.SentAt)
	}
}

func TestRedisCache_LookupSent(t *testing.T) {
	t.Parallel()

	_, rdb := newRedis(t)
	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	if err := cache.StoreSent(ctx, "acc-1", "wamid.1", "first", time.Now()); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}
	if err := cache.StoreSent(ctx, "acc-1", "wamid.1", "second", time.Now()); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	got, err := cache.LookupSent(ctx, "acc-1", "wamid.1")
	if err != nil {
		t.Fatalf("LookupSent() error: %v", err)
	}
	if got != "second" {
		t.Fatalf("expected overwritten id %q, got %q", "second", got)
	}

	if _, err := cache.LookupSent(ctx, "acc-2", "wamid.1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for another account, got %v", err)
	}
}

func TestRedisCache_LookupSent_Expired(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)
	cache := NewRedisCache(rdb, time.Second)
	ctx := context.Background()

	if err := cache.StoreSent(ctx, "acc", "p", "m", time.Now()); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := cache.LookupSent(ctx, "acc", "p"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestRedisCache_StoreSent_ContextCanceled(t *testing.T) {
	t.Parallel()

	_, rdb := newRedis(t)
	cache := NewRedisCache(rdb, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cache.StoreSent(ctx, "acc", "x", "m", time.Now())
	if err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestRedisLocker_ExclusiveUntilUnlock(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)
	locker := NewRedisLocker(rdb, "lock:cart:", time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "c1")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	if !mr.Exists("lock:cart:c1") {
		t.Fatalf("expected lock key to exist")
	}

	if _, err := locker.Lock(ctx, "c1"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld while held, got %v", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock error: %v", err)
	}
	if mr.Exists("lock:cart:c1") {
		t.Fatalf("expected lock key to be released")
	}

	unlock2, err := locker.Lock(ctx, "c1")
	if err != nil {
		t.Fatalf("Lock() after release error: %v", err)
	}
	_ = unlock2(ctx)
}

func TestRedisLocker_UnlockAfterTakeoverFails(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)
	locker := NewRedisLocker(rdb, "lock:", time.Second, 10*time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	mr.FastForward(2 * time.Second)
	other, err := locker.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("Lock() after expiry error: %v", err)
	}

	if err := unlock(ctx); err == nil {
		t.Fatalf("expected stale unlock to fail")
	}
	if err := other(ctx); err != nil {
		t.Fatalf("current owner unlock error: %v", err)
	}
}

func TestRedisLocker_SerializesConcurrentHolders(t *testing.T) {
	t.Parallel()

	_, rdb := newRedis(t)
	locker := NewRedisLocker(rdb, "lock:", time.Minute, 5*time.Second)
	ctx := context.Background()

	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "shared")
			if err != nil {
				t.Errorf("Lock() error: %v", err)
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = unlock(ctx)
		}()
	}
	wg.Wait()

	if overlap != 0 {
		t.Fatalf("two holders were inside the lock at once")
	}
}
