package cache

import (
	"context"
	"time"
)

// Entry is one cached HTTP response. Body is carried verbatim so offline
// replays are byte-for-byte identical to what the origin served at store time.
type Entry struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      []byte            `json:"body"`
	StoredAt  time.Time         `json:"storedAt"`
	ExpiresAt time.Time         `json:"expiresAt,omitzero"`
}

// Expired reports whether the entry's TTL has elapsed. A zero ExpiresAt means
// the entry lives until its generation is evicted.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store persists cached responses keyed by generation-qualified request keys.
// Individual Store/Delete calls are atomic; no cross-key coordination is
// provided or needed, concurrent fetch handlers each write their own key.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	DeletePrefix(ctx context.Context, prefix string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
