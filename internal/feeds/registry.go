package feeds

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
)

// Options are shared adapter settings
type Options struct {
	OTXBaseURL        string
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	HTTPClient        *http.Client
	Logger            *logger.Logger
}

// OptionsFromConfig builds adapter options from the feed configuration
func OptionsFromConfig(cfg config.FeedConfig, log *logger.Logger) Options {
	return Options{
		OTXBaseURL:        cfg.OTXBaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		UserAgent:         cfg.UserAgent,
		Logger:            log,
	}
}

// Constructor builds an adapter for a configured source
type Constructor func(src *source.Source, opts Options) (Adapter, error)

type cachedAdapter struct {
	revision time.Time
	endpoint string
	adapter  Adapter
}

func (c cachedAdapter) current(src *source.Source) bool {
	return c.revision.Equal(src.UpdatedAt) && c.endpoint == src.Endpoint
}

// Registry maps provider keys to adapter constructors and keeps one adapter per
// source so rate limiter state survives between polls.
type Registry struct {
	opts         Options
	mu           sync.Mutex
	constructors map[string]Constructor
	adapters     map[string]cachedAdapter
}

// NewRegistry creates a registry with the built-in providers
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	r := &Registry{
		opts:         opts,
		constructors: make(map[string]Constructor),
		adapters:     make(map[string]cachedAdapter),
	}
	r.Register(ProviderOTX, NewOTXAdapter)
	r.Register(ProviderBlocklist, NewBlocklistAdapter)
	return r
}

// Register adds or replaces the constructor for a provider key
func (r *Registry) Register(provider string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[provider] = c
}

// Supports reports whether a provider key has a constructor
func (r *Registry) Supports(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.constructors[provider]
	return ok
}

// For returns the adapter for a source, building it on first use or when the
// source's configuration revision (UpdatedAt) changed.
func (r *Registry) For(src *source.Source) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.adapters[src.ID]; ok && cached.current(src) {
		return cached.adapter, nil
	}

	construct, ok := r.constructors[src.Provider]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider %q", src.Provider)
	}
	adapter, err := construct(src, r.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s adapter for %s: %w", src.Provider, src.Name, err)
	}
	r.adapters[src.ID] = cachedAdapter{revision: src.UpdatedAt, endpoint: src.Endpoint, adapter: adapter}
	return adapter, nil
}
