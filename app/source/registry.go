package source

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lysyi3m/trend-comb/app/cache"
	"github.com/lysyi3m/trend-comb/app/ratelimit"
)

// Registry holds the active sources. Reloading a source swaps it atomically
// for readers.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source

	limiter *ratelimit.Limiter
	cache   *cache.ResponseCache
	opts    Options
}

func NewRegistry(limiter *ratelimit.Limiter, rc *cache.ResponseCache, opts Options) *Registry {
	return &Registry{
		sources: make(map[string]*Source),
		limiter: limiter,
		cache:   rc,
		opts:    opts.withDefaults(),
	}
}

// Apply builds a source from cfg and registers it, replacing any source of
// the same name. Disabled configs unregister the source.
func (r *Registry) Apply(cfg *Config) error {
	if !cfg.Settings.Enabled {
		r.Unregister(cfg.Name)
		return nil
	}

	provider, err := NewProvider(cfg, r.opts)
	if err != nil {
		return fmt.Errorf("failed to build provider for %s: %w", cfg.Name, err)
	}

	r.Register(NewSource(cfg, provider, r.limiter, r.cache, r.opts.Logger))
	return nil
}

func (r *Registry) Register(s *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
	slog.Debug("Source registered", "source", s.Name(), "type", s.Type())
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; ok {
		delete(r.sources, name)
		// a re-enabled source starts with a clean window
		r.limiter.Reset(name)
		slog.Debug("Source unregistered", "source", name)
	}
}

func (r *Registry) Get(name string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// Sources returns the registered sources sorted by name.
func (r *Registry) Sources() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name() < sources[j].Name() })
	return sources
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
