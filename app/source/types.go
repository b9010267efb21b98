package source

import (
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
)

// Configuration types

type Config struct {
	Name     string              // Derived from filename (without .yml extension)
	Type     content.Provider    `yaml:"type"`
	URL      string              `yaml:"url"`
	Settings ConfigSettings      `yaml:"settings"`
	Auth     ConfigAuth          `yaml:"auth"`
	Captions []string            `yaml:"captions"`
	Keywords map[string][]string `yaml:"keywords"` // extra classifier keywords per category
}

type ConfigSettings struct {
	Enabled           bool            `yaml:"enabled"`
	RefreshInterval   int             `yaml:"refresh_interval"` // seconds
	Timeout           int             `yaml:"timeout"`          // seconds
	CacheTTL          int             `yaml:"cache_ttl"`        // seconds
	MaxItems          int             `yaml:"max_items"`
	EngagementCeiling int64           `yaml:"engagement_ceiling"`
	RateLimit         ConfigRateLimit `yaml:"rate_limit"`
	Breaker           ConfigBreaker   `yaml:"breaker"`
}

type ConfigRateLimit struct {
	Limit  int `yaml:"limit"`
	Window int `yaml:"window"` // seconds
}

type ConfigBreaker struct {
	FailureThreshold int `yaml:"failure_threshold"`
	Delay            int `yaml:"delay"` // seconds
}

// ConfigAuth names environment variables holding provider credentials so
// secrets never live in the YAML files.
type ConfigAuth struct {
	BearerTokenEnv string `yaml:"bearer_token_env"`
	APIKeyEnv      string `yaml:"api_key_env"`
}

func (s ConfigSettings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

func (s ConfigSettings) CacheTTLDuration() time.Duration {
	return time.Duration(s.CacheTTL) * time.Second
}

func (s ConfigSettings) RefreshDuration() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

func (r ConfigRateLimit) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

func (b ConfigBreaker) DelayDuration() time.Duration {
	return time.Duration(b.Delay) * time.Second
}

// Query narrows a fetch. Providers always pull their full trending listing;
// the category is applied after the cached listing is read.
type Query struct {
	Category content.Category
}

func (q Query) matches(item content.Item) bool {
	return q.Category == "" || item.Category == q.Category
}
