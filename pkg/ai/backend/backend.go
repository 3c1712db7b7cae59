package backend

import (
	"context"
	"math"

	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrInvalidParams = errors.New("invalid generation parameters")

// ModelDescriptor describes one model a backend can serve. Available is only
// meaningful right after a probe.
type ModelDescriptor struct {
	ProviderKind types.ProviderKind `json:"provider_kind" yaml:"provider_kind"`
	ApiType      types.ApiType      `json:"api_type" yaml:"api_type"`
	Name         string             `json:"name" yaml:"name"`
	Available    bool               `json:"available" yaml:"available"`
}

type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Validate rejects parameters that cannot be sent to any provider. It does
// not clamp: out of range temperatures are clamped per provider by the
// adapters, non-positive token caps are an error.
func (p Params) Validate() error {
	if p.MaxTokens <= 0 {
		return errors.Wrapf(ErrInvalidParams, "max_tokens must be positive, got %d", p.MaxTokens)
	}
	if math.IsNaN(p.Temperature) || math.IsInf(p.Temperature, 0) {
		return errors.Wrapf(ErrInvalidParams, "temperature must be a finite number")
	}
	return nil
}

// ClampTemperature bounds t to the range the provider accepts.
func ClampTemperature(apiType types.ApiType, t float64) float64 {
	hi := 2.0
	if apiType == types.ApiTypeClaude {
		hi = 1.0
	}
	if t < 0 {
		return 0
	}
	if t > hi {
		return hi
	}
	return t
}

// Request is the payload for one generation call. History already contains
// the newest user message and is bounded by the caller.
type Request struct {
	Model        string
	SystemPrompt string
	History      []conversation.Message
	Params       Params
}

// Backend is the capability set every model provider implements. Callers
// never branch on the concrete type once a backend is constructed.
type Backend interface {
	ListModels(ctx context.Context) ([]ModelDescriptor, error)
	// Probe performs exactly one liveness check for model.
	Probe(ctx context.Context, model string) (bool, error)
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}
