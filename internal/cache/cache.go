package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// MessageCache remembers which scheduled message a provider message id
// belongs to, so delivery status callbacks avoid a database lookup.
type MessageCache interface {
	StoreSent(ctx context.Context, accountID, providerMessageID, messageID string, sentAt time.Time) error
	LookupSent(ctx context.Context, accountID, providerMessageID string) (string, error)
}

// Locker serializes work on one key across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}
