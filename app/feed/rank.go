package feed

import (
	"sort"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
)

// Dedup keeps one item per id, preferring the most recent discoveredAt,
// then the higher score, then the lower provider name. The result is in
// id order.
func Dedup(items []content.Item) []content.Item {
	byID := make(map[string]content.Item, len(items))
	for _, item := range items {
		existing, ok := byID[item.ID]
		if !ok || preferred(item, existing) {
			byID[item.ID] = item
		}
	}

	deduped := make([]content.Item, 0, len(byID))
	for _, item := range byID {
		deduped = append(deduped, item)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].ID < deduped[j].ID })
	return deduped
}

func preferred(candidate, existing content.Item) bool {
	if !candidate.DiscoveredAt.Equal(existing.DiscoveredAt) {
		return candidate.DiscoveredAt.After(existing.DiscoveredAt)
	}
	if candidate.ViralityScore != existing.ViralityScore {
		return candidate.ViralityScore > existing.ViralityScore
	}
	return candidate.SourceProvider < existing.SourceProvider
}

// Filter keeps items whose live window at now equals window and, when
// category is set, whose category matches.
func Filter(items []content.Item, window content.Window, category content.Category, now time.Time) []content.Item {
	filtered := make([]content.Item, 0, len(items))
	for _, item := range items {
		w, ok := item.WindowAt(now)
		if !ok || w != window {
			continue
		}
		if category != "" && item.Category != category {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}

// Rank orders items by score, then velocity, then recency, then id.
func Rank(items []content.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ViralityScore != b.ViralityScore {
			return a.ViralityScore > b.ViralityScore
		}
		if a.EngagementVelocity != b.EngagementVelocity {
			return a.EngagementVelocity > b.EngagementVelocity
		}
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.After(b.DiscoveredAt)
		}
		return a.ID < b.ID
	})
}
