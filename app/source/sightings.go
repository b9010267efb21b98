package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/store"
)

const (
	sightingPrefix = "seen:"

	DefaultSightingTTL = 24 * time.Hour
)

// Sightings records when an item id was first observed so items without a
// provider timestamp keep the same discovery time across re-fetches.
type Sightings struct {
	store store.Store
	ttl   time.Duration
	mu    sync.Mutex
}

// NewSightings keeps sightings for ttl, but never for less than the
// longest trending window so an item cannot re-enter a window as new.
func NewSightings(s store.Store, ttl time.Duration) *Sightings {
	if ttl <= 0 {
		ttl = DefaultSightingTTL
	}
	ttl = max(ttl, content.WindowLong.MaxAge())
	return &Sightings{store: s, ttl: ttl}
}

// FirstSeen returns the recorded first sighting of id, recording now when
// there is none. Store failures fall back to now without recording.
func (s *Sightings) FirstSeen(ctx context.Context, id string, now time.Time) time.Time {
	key := sightingPrefix + id

	s.mu.Lock()
	defer s.mu.Unlock()

	var seen time.Time
	err := store.GetJSON(ctx, s.store, key, &seen)
	switch {
	case err == nil && !seen.IsZero():
		return seen.UTC()
	case err != nil && !errors.Is(err, store.ErrNotFound):
		slog.Warn("Failed to read item sighting", "item_id", id, "error", err)
		return now
	}

	if err := store.SetJSON(ctx, s.store, key, now.UTC(), s.ttl); err != nil {
		slog.Warn("Failed to record item sighting", "item_id", id, "error", err)
	}
	return now
}
