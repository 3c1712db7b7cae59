package chat

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/factory"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultProbeTTL = 30 * time.Second

// Binding associates a catalog model with the backend serving it and the
// outcome of the last liveness probe.
type Binding struct {
	Model      string                  `json:"model"`
	Entry      settings.ModelEntry     `json:"-"`
	Descriptor backend.ModelDescriptor `json:"descriptor"`
	Backend    backend.Backend         `json:"-"`
	Available  bool                    `json:"available"`
	ProbedAt   time.Time               `json:"probed_at"`
	// Reason explains why the binding is unavailable.
	Reason string `json:"reason,omitempty"`
}

// ModelStatus is what listing reports for one catalog entry. Available is
// nil until the model has been probed.
type ModelStatus struct {
	Name      string     `json:"name" yaml:"name"`
	Engine    string     `json:"engine" yaml:"engine"`
	Kind      string     `json:"provider_kind" yaml:"provider_kind"`
	ApiType   string     `json:"api_type" yaml:"api_type"`
	Available *bool      `json:"available,omitempty" yaml:"available,omitempty"`
	ProbedAt  *time.Time `json:"probed_at,omitempty" yaml:"probed_at,omitempty"`
}

// Models resolves catalog names to bindings. Backends come from the registry
// and are shared by all models of a provider.
type Models struct {
	catalog  settings.Catalog
	registry *factory.Registry
	probeTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	bindings map[string]*Binding
}

type ModelsOption func(*Models)

func WithProbeTTL(ttl time.Duration) ModelsOption {
	return func(m *Models) {
		m.probeTTL = ttl
	}
}

func withClock(now func() time.Time) ModelsOption {
	return func(m *Models) {
		m.now = now
	}
}

func NewModels(catalog settings.Catalog, registry *factory.Registry, options ...ModelsOption) *Models {
	ret := &Models{
		catalog:  catalog,
		registry: registry,
		probeTTL: DefaultProbeTTL,
		now:      time.Now,
		bindings: map[string]*Binding{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (m *Models) Names() []string {
	return m.catalog.Names()
}

// Select builds the binding for name and probes it exactly once. A model
// whose probe fails is still returned, marked unavailable.
func (m *Models) Select(ctx context.Context, name string) (*Binding, error) {
	entry, err := m.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}

	b := &Binding{
		Model: name,
		Entry: entry,
		Descriptor: backend.ModelDescriptor{
			ProviderKind: entry.ApiType.ProviderKind(),
			ApiType:      entry.ApiType,
			Name:         entry.GetEngine(),
		},
		ProbedAt: m.now(),
	}

	be, err := m.registry.Get(ctx, entry.ApiType)
	if err != nil {
		b.Reason = err.Error()
		log.Warn().Err(err).Str("model", name).Msg("could not create backend")
	} else {
		b.Backend = be
		ok, err := be.Probe(ctx, entry.GetEngine())
		switch {
		case err != nil:
			b.Reason = err.Error()
		case !ok:
			b.Reason = "model " + entry.GetEngine() + " is not served by " + string(entry.ApiType)
		default:
			b.Available = true
		}
	}
	b.Descriptor.Available = b.Available

	log.Debug().Str("model", name).Bool("available", b.Available).Str("reason", b.Reason).Msg("probed model")

	m.mu.Lock()
	m.bindings[name] = b
	m.mu.Unlock()

	cp := *b
	return &cp, nil
}

// Resolve returns the last binding for name, probing when there is none or
// when it has gone stale.
func (m *Models) Resolve(ctx context.Context, name string) (*Binding, error) {
	m.mu.Lock()
	b, ok := m.bindings[name]
	m.mu.Unlock()
	if !ok {
		return m.Select(ctx, name)
	}
	return m.Refresh(ctx, b)
}

// Refresh re-probes b once it is older than the probe TTL, whatever the last
// probe reported.
func (m *Models) Refresh(ctx context.Context, b *Binding) (*Binding, error) {
	if b == nil {
		return nil, errors.New("nil binding")
	}
	if m.now().Sub(b.ProbedAt) < m.probeTTL {
		cp := *b
		return &cp, nil
	}
	return m.Select(ctx, b.Model)
}

// Statuses lists the catalog with the availability known from earlier probes.
// It does not probe.
func (m *Models) Statuses() []ModelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]ModelStatus, 0, len(m.catalog))
	for _, e := range m.catalog {
		s := ModelStatus{
			Name:    e.Name,
			Engine:  e.GetEngine(),
			Kind:    string(e.ApiType.ProviderKind()),
			ApiType: string(e.ApiType),
		}
		if b, ok := m.bindings[e.Name]; ok {
			available := b.Available
			probedAt := b.ProbedAt
			s.Available = &available
			s.ProbedAt = &probedAt
		}
		ret = append(ret, s)
	}
	return ret
}

// ServedModels is what one provider reports it serves. Error is set when the
// provider could not be reached or is not configured.
type ServedModels struct {
	ApiType types.ApiType             `json:"api_type" yaml:"api_type"`
	Models  []backend.ModelDescriptor `json:"models,omitempty" yaml:"models,omitempty"`
	Error   string                    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Served asks every provider used by the catalog for the models it serves,
// in catalog order. A failing provider does not stop the others.
func (m *Models) Served(ctx context.Context) []ServedModels {
	seen := map[types.ApiType]bool{}
	ret := []ServedModels{}
	for _, e := range m.catalog {
		if seen[e.ApiType] {
			continue
		}
		seen[e.ApiType] = true

		sm := ServedModels{ApiType: e.ApiType}
		be, err := m.registry.Get(ctx, e.ApiType)
		if err == nil {
			sm.Models, err = be.ListModels(ctx)
		}
		if err != nil {
			sm.Error = err.Error()
			log.Debug().Err(err).Str("api_type", string(e.ApiType)).Msg("could not list models")
		}
		ret = append(ret, sm)
	}
	return ret
}
