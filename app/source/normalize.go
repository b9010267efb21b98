package source

import (
	"context"
	"strings"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
)

var defaultCaptions = map[content.Category]string{
	content.CategoryCrypto:  "Me checking my portfolio every 5 minutes",
	content.CategoryStartup: "Founder mode: activated",
	content.CategoryFitness: "Rest day? Never heard of it",
	content.CategoryGenZ:    "It's giving main character energy",
	content.CategoryDating:  "Me pretending I'm not waiting for a reply",
	content.CategoryGeneral: "This is too real",
}

// normalizer turns provider fields into content items. Shared by every
// provider so ids, categories and captions are derived the same way.
type normalizer struct {
	provider   content.Provider
	classifier *content.Classifier
	captions   []string
	ceiling    int64
	sightings  *Sightings
	now        func() time.Time
}

func newNormalizer(cfg *Config, opts Options) *normalizer {
	var extra map[content.Category][]string
	if len(cfg.Keywords) > 0 {
		extra = make(map[content.Category][]string, len(cfg.Keywords))
		for category, keywords := range cfg.Keywords {
			extra[content.Category(category)] = keywords
		}
	}
	return &normalizer{
		provider:   cfg.Type,
		classifier: content.NewClassifierWithKeywords(extra),
		captions:   cfg.Captions,
		ceiling:    cfg.Settings.EngagementCeiling,
		sightings:  opts.Sightings,
		now:        opts.Now,
	}
}

type rawItem struct {
	Title        string
	MediaURL     string
	SourceURL    string
	Tags         []string
	CreatedAt    time.Time
	Engagement   int64
	Score        int // used when Engagement is unknown
	HasScore     bool
	ExtraCaption string
}

// normalize validates and converts a raw item. A missing or unparseable
// media URL makes the item malformed. Items without a provider timestamp
// are dated by their first sighting.
func (n *normalizer) normalize(ctx context.Context, raw rawItem) (content.Item, error) {
	id, err := content.ItemID(raw.MediaURL)
	if err != nil {
		return content.Item{}, err
	}

	now := n.now()
	discoveredAt := raw.CreatedAt
	if discoveredAt.IsZero() {
		discoveredAt = n.sightings.FirstSeen(ctx, id, now)
	}
	discoveredAt = discoveredAt.UTC()

	texts := append([]string{raw.Title}, raw.Tags...)
	category := n.classifier.Classify(texts...)

	// position-ranked providers have no counts; their score stands in for
	// engagement when computing velocity
	score := raw.Score
	engagement := int64(raw.Score)
	if !raw.HasScore {
		score = content.LogScore(raw.Engagement, n.ceiling)
		engagement = raw.Engagement
	}

	item := content.Item{
		ID:                 id,
		SourceProvider:     n.provider,
		Category:           category,
		Title:              strings.TrimSpace(raw.Title),
		MediaURL:           raw.MediaURL,
		SourceURL:          raw.SourceURL,
		DiscoveredAt:       discoveredAt,
		ViralityScore:      content.ClampScore(score),
		EngagementVelocity: content.Velocity(float64(max(engagement, 0)), discoveredAt, now),
		CaptionSuggestions: n.captionsFor(category, raw.ExtraCaption),
	}

	if err := item.Validate(); err != nil {
		return content.Item{}, err
	}
	return item, nil
}

// captionsFor lists the item-specific caption first, then configured
// captions, and always ends with the category default.
func (n *normalizer) captionsFor(category content.Category, extra string) []string {
	seen := make(map[string]bool)
	captions := make([]string, 0, len(n.captions)+2)
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		captions = append(captions, c)
	}

	add(extra)
	for _, c := range n.captions {
		add(c)
	}
	add(defaultCaptions[category])
	return captions
}
