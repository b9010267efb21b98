package content

import (
	"fmt"
	"time"
)

type Provider string

const (
	ProviderReddit  Provider = "reddit"
	ProviderTwitter Provider = "twitter"
	ProviderGiphy   Provider = "giphy"
	ProviderRSS     Provider = "rss"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderReddit, ProviderTwitter, ProviderGiphy, ProviderRSS:
		return true
	}
	return false
}

type Category string

const (
	CategoryCrypto  Category = "crypto"
	CategoryStartup Category = "startup"
	CategoryFitness Category = "fitness"
	CategoryGenZ    Category = "genz"
	CategoryDating  Category = "dating"
	CategoryGeneral Category = "general"
)

// Categories lists the closed category set in display order.
var Categories = []Category{
	CategoryCrypto,
	CategoryStartup,
	CategoryFitness,
	CategoryGenZ,
	CategoryDating,
	CategoryGeneral,
}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category '%s'", s)
}

type Item struct {
	ID                 string    `json:"id"`
	SourceProvider     Provider  `json:"source_provider"`
	Category           Category  `json:"category"`
	Title              string    `json:"title"`
	MediaURL           string    `json:"media_url"`
	SourceURL          string    `json:"source_url"`
	DiscoveredAt       time.Time `json:"discovered_at"`
	ViralityScore      int       `json:"virality_score"`
	EngagementVelocity float64   `json:"engagement_velocity"`
	CaptionSuggestions []string  `json:"caption_suggestions"`
}

// Validate reports whether the item satisfies the invariants every
// normalized item must hold.
func (i Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !i.SourceProvider.Valid() {
		return fmt.Errorf("invalid source provider '%s'", i.SourceProvider)
	}
	if _, err := ParseCategory(string(i.Category)); err != nil {
		return err
	}
	if i.DiscoveredAt.IsZero() {
		return fmt.Errorf("discovered_at is required")
	}
	if i.ViralityScore < MinScore || i.ViralityScore > MaxScore {
		return fmt.Errorf("virality score %d out of range", i.ViralityScore)
	}
	if i.EngagementVelocity < 0 {
		return fmt.Errorf("engagement velocity must be non-negative")
	}
	if len(i.CaptionSuggestions) == 0 {
		return fmt.Errorf("at least one caption suggestion is required")
	}
	return nil
}

// WindowAt returns the trending window the item falls into at now.
func (i Item) WindowAt(now time.Time) (Window, bool) {
	return WindowFor(i.DiscoveredAt, now)
}
