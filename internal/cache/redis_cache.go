package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	MessageID string    `json:"messageId"`
	SentAt    time.Time `json:"sentAt"`
}

func sentKey(accountID, providerMessageID string) string {
	return fmt.Sprintf("sent:%s:%s", accountID, providerMessageID)
}

func (c *RedisCache) StoreSent(ctx context.Context, accountID, providerMessageID, messageID string, sentAt time.Time) error {
	val := sentValue{
		MessageID: messageID,
		SentAt:    sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(accountID, providerMessageID), b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, accountID, providerMessageID string) (string, error) {
	raw, err := c.rdb.Get(ctx, sentKey(accountID, providerMessageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}

	var val sentValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", fmt.Errorf("decode cached message: %w", err)
	}
	return val.MessageID, nil
}
