package chat

import (
	"context"
	"sync"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Orchestrator turns a user message into backend calls and a committed
// assistant message. It carries the process default model explicitly, and
// each conversation may override it with its own binding.
type Orchestrator struct {
	store  conversation.Store
	models *Models
	relay  *Relay

	defaultSystemPrompt string
	maxHistoryTurns     int

	mu           sync.RWMutex
	currentModel string

	gatesMu sync.Mutex
	gates   map[string]*semaphore.Weighted
}

type Option func(*Orchestrator)

func WithDefaultSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		o.defaultSystemPrompt = prompt
	}
}

// WithMaxHistoryTurns bounds the history sent to the backend. Zero means unbounded.
func WithMaxHistoryTurns(n int) Option {
	return func(o *Orchestrator) {
		o.maxHistoryTurns = n
	}
}

func NewOrchestrator(store conversation.Store, models *Models, options ...Option) *Orchestrator {
	ret := &Orchestrator{
		store:               store,
		models:              models,
		relay:               NewRelay(store),
		defaultSystemPrompt: settings.DefaultSystemPrompt,
		maxHistoryTurns:     settings.DefaultMaxHistoryTurns,
		gates:               map[string]*semaphore.Weighted{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (o *Orchestrator) Store() conversation.Store {
	return o.store
}

func (o *Orchestrator) DefaultSystemPrompt() string {
	return o.defaultSystemPrompt
}

// SelectModel binds the process default. The probe outcome is reported on
// the binding, an unavailable model is still selected.
func (o *Orchestrator) SelectModel(ctx context.Context, name string) (*Binding, error) {
	b, err := o.models.Select(ctx, name)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.currentModel = name
	o.mu.Unlock()
	log.Info().Str("model", name).Bool("available", b.Available).Msg("selected model")
	return b, nil
}

// CurrentModel returns the process default model name, empty when none is selected.
func (o *Orchestrator) CurrentModel() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.currentModel
}

// BindConversation makes the conversation use name instead of the process default.
func (o *Orchestrator) BindConversation(ctx context.Context, conversationID string, name string) (*Binding, error) {
	if _, err := o.store.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	b, err := o.models.Select(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := o.store.SetActiveModel(ctx, conversationID, name); err != nil {
		return nil, err
	}
	return b, nil
}

func (o *Orchestrator) ListModels() ([]ModelStatus, string) {
	return o.models.Statuses(), o.CurrentModel()
}

// NewConversation creates a conversation. A nil systemPrompt uses the default.
func (o *Orchestrator) NewConversation(ctx context.Context, systemPrompt *string) (*conversation.Conversation, error) {
	var opts []conversation.CreateOption
	if systemPrompt != nil {
		opts = append(opts, conversation.WithSystemPrompt(*systemPrompt))
	}
	return o.store.Create(ctx, opts...)
}

// Clear waits for an in-flight turn on the conversation before clearing it.
func (o *Orchestrator) Clear(ctx context.Context, conversationID string) error {
	release, err := o.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer release()
	return o.store.Clear(ctx, conversationID)
}

func (o *Orchestrator) Delete(ctx context.Context, conversationID string) error {
	release, err := o.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer release()
	if err := o.store.Delete(ctx, conversationID); err != nil {
		return err
	}
	o.gatesMu.Lock()
	delete(o.gates, conversationID)
	o.gatesMu.Unlock()
	return nil
}

func (o *Orchestrator) gate(conversationID string) *semaphore.Weighted {
	o.gatesMu.Lock()
	defer o.gatesMu.Unlock()
	g, ok := o.gates[conversationID]
	if !ok {
		g = semaphore.NewWeighted(1)
		o.gates[conversationID] = g
	}
	return g
}

// acquire takes the conversation's turn gate. Only one generation runs per
// conversation at a time, later turns wait for it.
func (o *Orchestrator) acquire(ctx context.Context, conversationID string) (func(), error) {
	g := o.gate(conversationID)
	if err := g.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.Release(1) }, nil
}

type turn struct {
	binding *Binding
	request backend.Request
	release func()
}

// prepareTurn validates the input, appends the user message and builds the
// backend payload. On success the caller owns the returned gate.
func (o *Orchestrator) prepareTurn(ctx context.Context, conversationID string, text string, params backend.Params) (*turn, error) {
	text = conversation.SanitizeInput(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if _, err := o.store.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	release, err := o.acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	conv, err := o.store.AppendMessage(ctx, conversationID, conversation.RoleUser, text)
	if err != nil {
		return nil, err
	}

	name := conv.ActiveModel
	if name == "" {
		name = o.CurrentModel()
	}
	if name == "" {
		return nil, ErrNoModelSelected
	}
	binding, err := o.models.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if !binding.Available || binding.Backend == nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "%s: %s", name, binding.Reason)
	}

	history, err := o.store.History(ctx, conversationID, o.maxHistoryTurns)
	if err != nil {
		return nil, err
	}
	systemPrompt := o.defaultSystemPrompt
	if history.SystemPrompt != nil {
		systemPrompt = *history.SystemPrompt
	}

	ok = true
	return &turn{
		binding: binding,
		request: backend.Request{
			Model:        binding.Entry.GetEngine(),
			SystemPrompt: systemPrompt,
			History:      history.Messages,
			Params:       params,
		},
		release: release,
	}, nil
}

// Send runs a non streaming turn. On backend failure the user message stays
// in the history and no assistant message is added.
func (o *Orchestrator) Send(ctx context.Context, conversationID string, text string, params backend.Params) (string, error) {
	t, err := o.prepareTurn(ctx, conversationID, text, params)
	if err != nil {
		return "", err
	}
	defer t.release()

	log.Debug().Str("conversation_id", conversationID).Str("model", t.binding.Model).Int("history", len(t.request.History)).Msg("generating")

	reply, err := t.binding.Backend.Generate(ctx, t.request)
	if err != nil {
		return "", wrapBackendError(string(t.binding.Entry.ApiType), err, ErrRequestCanceled)
	}
	if _, err := o.store.AppendMessage(ctx, conversationID, conversation.RoleAssistant, reply); err != nil {
		return "", errors.Wrap(err, "could not persist assistant message")
	}
	return reply, nil
}

// SendStream runs a streaming turn through the relay. Events go to sinks and
// to any sinks attached to ctx with events.WithEventSinks. Validation errors
// are returned before any event is published.
func (o *Orchestrator) SendStream(ctx context.Context, conversationID string, text string, params backend.Params, sinks ...events.EventSink) (string, error) {
	t, err := o.prepareTurn(ctx, conversationID, text, params)
	if err != nil {
		return "", err
	}
	defer t.release()

	allSinks := append(events.GetEventSinks(ctx), sinks...)

	stream, err := t.binding.Backend.GenerateStream(ctx, t.request)
	if err != nil {
		return "", wrapBackendError(string(t.binding.Entry.ApiType), err, ErrStreamAborted)
	}

	metadata := events.NewEventMetadata(conversationID, t.binding.Model)
	return o.relay.Run(ctx, conversationID, metadata, stream, allSinks)
}
