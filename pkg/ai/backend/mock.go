package backend

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/pkg/errors"
)

// MockTurn is one scripted response of a MockBackend.
type MockTurn struct {
	// Chunks are emitted as content events in order.
	Chunks []string
	// Err, when set, is emitted as the terminal event after Chunks (streaming)
	// or returned (Generate).
	Err error
	// Block makes the stream wait for ctx after Chunks have been sent.
	Block bool
	Delay time.Duration
}

// MockBackend replays scripted turns and records every request.
type MockBackend struct {
	ApiType   types.ApiType
	Models    []string
	Available map[string]bool

	mu         sync.Mutex
	turns      []MockTurn
	turnIndex  int
	Requests   []Request
	ProbeCalls int
}

func NewMockBackend(apiType types.ApiType, models ...string) *MockBackend {
	available := map[string]bool{}
	for _, m := range models {
		available[m] = true
	}
	return &MockBackend{ApiType: apiType, Models: models, Available: available}
}

func (m *MockBackend) AddTurn(t MockTurn) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

func (m *MockBackend) AddTextResponse(chunks ...string) *MockBackend {
	return m.AddTurn(MockTurn{Chunks: chunks})
}

func (m *MockBackend) AddError(err error) *MockBackend {
	return m.AddTurn(MockTurn{Err: err})
}

func (m *MockBackend) SetAvailable(model string, available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Available[model] = available
}

func (m *MockBackend) RecordedRequests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.Requests...)
}

func (m *MockBackend) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]ModelDescriptor, 0, len(m.Models))
	for _, name := range m.Models {
		ret = append(ret, ModelDescriptor{
			ProviderKind: m.ApiType.ProviderKind(),
			ApiType:      m.ApiType,
			Name:         name,
			Available:    m.Available[name],
		})
	}
	return ret, nil
}

func (m *MockBackend) Probe(ctx context.Context, model string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProbeCalls++
	return m.Available[model], nil
}

func (m *MockBackend) next(req Request) (MockTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.turnIndex >= len(m.turns) {
		return MockTurn{}, errors.Errorf("mock backend: no more turns configured (expected turn %d, have %d)", m.turnIndex, len(m.turns))
	}
	t := m.turns[m.turnIndex]
	m.turnIndex++
	return t, nil
}

func (m *MockBackend) Generate(ctx context.Context, req Request) (string, error) {
	t, err := m.next(req)
	if err != nil {
		return "", err
	}
	if t.Err != nil {
		return "", Normalize(string(m.ApiType), t.Err)
	}
	s := ""
	for _, c := range t.Chunks {
		s += c
	}
	return s, nil
}

func (m *MockBackend) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	t, err := m.next(req)
	if err != nil {
		return nil, err
	}
	return NewEventStream(ctx, string(m.ApiType), func(ctx context.Context, ch chan<- TokenEvent) error {
		if t.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.Delay):
			}
		}
		for _, c := range t.Chunks {
			if err := Send(ctx, ch, ContentEvent(c)); err != nil {
				return err
			}
		}
		if t.Block {
			<-ctx.Done()
			return ctx.Err()
		}
		return t.Err
	}), nil
}

var _ Backend = (*MockBackend)(nil)
