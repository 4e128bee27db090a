package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// Registry manages provider instances
type Registry struct {
	providers map[string]TTSProvider
	configs   map[string]types.TTSProviderConfig
	mu        sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]TTSProvider),
		configs:   make(map[string]types.TTSProviderConfig),
	}
}

// Register registers a TTS provider along with the config it was built from.
func (r *Registry) Register(provider TTSProvider, cfg types.TTSProviderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("TTS provider already registered: %s", name)
	}

	r.providers[name] = provider
	r.configs[name] = cfg
	return nil
}

// Get retrieves a TTS provider by name
func (r *Registry) Get(name string) (TTSProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, domainerrors.NotFoundf("TTS provider not found: %s", name)
	}

	return provider, nil
}

// Config returns the configuration a provider was registered with.
func (r *Registry) Config(name string) (types.TTSProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[name]
	return cfg, ok
}

// List returns all registered provider names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all registered providers
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, provider := range r.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close TTS provider %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// InitializeProviders creates provider instances from configuration. A
// provider without a type takes it from its name when that names a known
// API, and is a stub otherwise.
func (r *Registry) InitializeProviders(cfg types.ProvidersConfig, log *slog.Logger) error {
	for _, ttsCfg := range cfg.TTS {
		if !ttsCfg.Enabled {
			continue
		}

		provider, err := newProvider(ttsCfg, log)
		if err != nil {
			return fmt.Errorf("failed to create TTS provider %s: %w", ttsCfg.Name, err)
		}
		if err := r.Register(provider, ttsCfg); err != nil {
			return err
		}
	}
	return nil
}

func newProvider(cfg types.TTSProviderConfig, log *slog.Logger) (TTSProvider, error) {
	switch providerType(cfg) {
	case GoogleTTSType:
		return NewGoogleTTSProvider(cfg, log)
	case ElevenLabsTTSType:
		return NewElevenLabsTTSProvider(cfg, log)
	case OpenAITTSType:
		return NewOpenAITTSProvider(cfg, log)
	case StubTTSType:
		return NewStubTTSProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

func providerType(cfg types.TTSProviderConfig) string {
	if cfg.Type != "" {
		return cfg.Type
	}
	switch cfg.Name {
	case GoogleTTSType, ElevenLabsTTSType, OpenAITTSType:
		return cfg.Name
	}
	return StubTTSType
}
