package factory

import (
	"context"
	"strings"
	"sync"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/claude"
	"github.com/go-go-golems/chatrelay/pkg/ai/gemini"
	"github.com/go-go-golems/chatrelay/pkg/ai/ollama"
	"github.com/go-go-golems/chatrelay/pkg/ai/openai"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/security"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// BackendFactory creates model backends based on provider settings.
// Callers only see the backend.Backend capability set and never need to know
// which concrete adapter was built.
type BackendFactory interface {
	// CreateBackend creates a Backend for apiType.
	// Returns an error if the provider is unsupported or its configuration is incomplete.
	CreateBackend(ctx context.Context, apiType types.ApiType, api *settings.APISettings, client *settings.ClientSettings) (backend.Backend, error)

	// SupportedProviders returns the provider names this factory supports.
	SupportedProviders() []string

	// DefaultProvider returns the provider used when none is specified.
	DefaultProvider() string
}

// StandardBackendFactory builds one adapter variant per ApiType.
type StandardBackendFactory struct{}

func NewStandardBackendFactory() *StandardBackendFactory {
	return &StandardBackendFactory{}
}

func (f *StandardBackendFactory) CreateBackend(
	ctx context.Context,
	apiType types.ApiType,
	api *settings.APISettings,
	client *settings.ClientSettings,
) (backend.Backend, error) {
	if api == nil {
		return nil, errors.New("API settings cannot be nil")
	}
	if apiType == "" {
		apiType = types.ApiType(f.DefaultProvider())
	}
	if err := f.validateSettings(apiType, api); err != nil {
		return nil, errors.Wrapf(err, "invalid settings for provider %s", apiType)
	}

	httpClient := client.HTTPClient()

	switch apiType {
	case types.ApiTypeOllama:
		return ollama.NewBackend(api.BaseURL(apiType), httpClient)
	case types.ApiTypeOpenAI, types.ApiTypeDeepSeek:
		return openai.NewBackend(apiType, api, httpClient)
	case types.ApiTypeGemini:
		return gemini.NewBackend(ctx, api, httpClient)
	case types.ApiTypeClaude:
		return claude.NewBackend(api, httpClient)
	default:
		supported := strings.Join(f.SupportedProviders(), ", ")
		return nil, errors.Errorf("unsupported provider %s. Supported providers: %s", apiType, supported)
	}
}

func (f *StandardBackendFactory) SupportedProviders() []string {
	ret := []string{}
	for _, t := range types.AllApiTypes() {
		ret = append(ret, string(t))
	}
	return ret
}

func (f *StandardBackendFactory) DefaultProvider() string {
	return string(types.ApiTypeOllama)
}

// validateSettings checks that remote providers have an API key. The local
// runtime needs none.
func (f *StandardBackendFactory) validateSettings(apiType types.ApiType, api *settings.APISettings) error {
	if apiType == types.ApiTypeOllama {
		return nil
	}
	if _, ok := types.ParseApiType(string(apiType)); !ok {
		return errors.Errorf("unknown provider %s", apiType)
	}
	if _, ok := api.APIKey(apiType); !ok {
		return errors.Errorf("missing API key %s", settings.APIKeySlug(apiType))
	}
	baseURL := api.BaseURL(apiType)
	if baseURL == "" {
		return errors.Errorf("missing base URL %s", settings.BaseURLSlug(apiType))
	}
	if err := security.ValidateBaseURL(baseURL); err != nil {
		return errors.Wrap(err, settings.BaseURLSlug(apiType))
	}
	return nil
}

var _ BackendFactory = (*StandardBackendFactory)(nil)

// Registry caches one backend per ApiType so all models of a provider share a client.
type Registry struct {
	factory BackendFactory
	api     *settings.APISettings
	client  *settings.ClientSettings

	mu       sync.Mutex
	backends map[types.ApiType]backend.Backend
}

func NewRegistry(factory BackendFactory, api *settings.APISettings, client *settings.ClientSettings) *Registry {
	if factory == nil {
		factory = NewStandardBackendFactory()
	}
	return &Registry{
		factory:  factory,
		api:      api,
		client:   client,
		backends: map[types.ApiType]backend.Backend{},
	}
}

func (r *Registry) Get(ctx context.Context, apiType types.ApiType) (backend.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[apiType]; ok {
		return b, nil
	}
	b, err := r.factory.CreateBackend(ctx, apiType, r.api, r.client)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("api_type", string(apiType)).Msg("created backend")
	r.backends[apiType] = b
	return b, nil
}

// Register installs b for apiType, replacing any cached backend.
func (r *Registry) Register(apiType types.ApiType, b backend.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[apiType] = b
}
