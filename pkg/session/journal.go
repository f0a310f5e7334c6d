package session

import (
	"context"
	"time"
)

// Journal persists session mutations so a Store can be rebuilt after a
// restart. Implementations must be safe for concurrent use across sessions;
// the Store serializes calls for any single session.
type Journal interface {
	Create(ctx context.Context, id string, createdAt time.Time) error
	Append(ctx context.Context, id string, turn Turn) error
	Clear(ctx context.Context, id string, at time.Time) error
	// Load returns every journaled session with its turns in append order.
	Load(ctx context.Context) ([]Session, error)
	Close() error
}
