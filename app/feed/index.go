package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/store"
)

const (
	itemPrefix  = "item:"
	savedPrefix = "saved:"

	DefaultItemTTL = 24 * time.Hour
)

var ErrItemNotFound = errors.New("item not found")

// Index remembers items served in recent feeds so they can be looked up by
// id when publishing or saving, and keeps each account's saved items.
type Index struct {
	store store.Store
	ttl   time.Duration
}

func NewIndex(s store.Store, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = DefaultItemTTL
	}
	return &Index{store: s, ttl: ttl}
}

// Put indexes items. Failures are logged; a feed response never depends
// on the index.
func (x *Index) Put(ctx context.Context, items []content.Item) {
	for _, item := range items {
		if err := store.SetJSON(ctx, x.store, itemPrefix+item.ID, item, x.ttl); err != nil {
			slog.Warn("Failed to index item", "item_id", item.ID, "error", err)
			return
		}
	}
}

func (x *Index) Get(ctx context.Context, id string) (content.Item, error) {
	var item content.Item
	if err := store.GetJSON(ctx, x.store, itemPrefix+id, &item); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return item, ErrItemNotFound
		}
		return item, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// Save adds an indexed item to the account's saved set. The item is
// re-stored without expiry so it outlives the feed index.
func (x *Index) Save(ctx context.Context, account, id string) (content.Item, error) {
	item, err := x.Get(ctx, id)
	if err != nil {
		return item, err
	}
	if err := store.SetJSON(ctx, x.store, savedItemKey(account, id), item, 0); err != nil {
		return item, fmt.Errorf("failed to save item %s: %w", id, err)
	}
	if err := x.store.AddToSet(ctx, savedPrefix+account, id); err != nil {
		return item, fmt.Errorf("failed to save item %s: %w", id, err)
	}
	return item, nil
}

func (x *Index) Unsave(ctx context.Context, account, id string) error {
	if err := x.store.RemoveFromSet(ctx, savedPrefix+account, id); err != nil {
		return fmt.Errorf("failed to unsave item %s: %w", id, err)
	}
	if err := x.store.Delete(ctx, savedItemKey(account, id)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to unsave item %s: %w", id, err)
	}
	return nil
}

// Saved returns the account's saved items in id order.
func (x *Index) Saved(ctx context.Context, account string) ([]content.Item, error) {
	ids, err := x.store.MembersOf(ctx, savedPrefix+account)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved items: %w", err)
	}

	items := make([]content.Item, 0, len(ids))
	for _, id := range ids {
		var item content.Item
		if err := store.GetJSON(ctx, x.store, savedItemKey(account, id), &item); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load saved item %s: %w", id, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func savedItemKey(account, id string) string {
	return savedPrefix + account + ":" + id
}
