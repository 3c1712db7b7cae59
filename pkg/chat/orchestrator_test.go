package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultParams = backend.Params{Temperature: 0.7, MaxTokens: 2000}

type fixture struct {
	orch *Orchestrator
	mock *backend.MockBackend
	conv *conversation.Conversation
}

func newFixture(t *testing.T, options ...Option) *fixture {
	t.Helper()
	mock := backend.NewMockBackend(types.ApiTypeOllama, "llama3.1:8b", "gemma3:12b")
	models := NewModels(settings.DefaultCatalog(), newTestRegistry(mock))
	orch := NewOrchestrator(conversation.NewInMemoryStore(), models, options...)

	ctx := context.Background()
	_, err := orch.SelectModel(ctx, "llama3.1:8b")
	require.NoError(t, err)
	c, err := orch.NewConversation(ctx, nil)
	require.NoError(t, err)
	return &fixture{orch: orch, mock: mock, conv: c}
}

func (f *fixture) load(t *testing.T) *conversation.Conversation {
	t.Helper()
	c, err := f.orch.Store().Get(context.Background(), f.conv.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) messages(t *testing.T) []conversation.Message {
	t.Helper()
	return f.load(t).Messages
}

// requireOnlyUserMessage checks that a failed turn left the user message as
// the last write to the conversation.
func requireOnlyUserMessage(t *testing.T, c *conversation.Conversation) {
	t.Helper()
	require.Len(t, c.Messages, 1)
	assert.Equal(t, conversation.RoleUser, c.Messages[0].Role)
	assert.True(t, c.UpdatedAt.Equal(c.Messages[0].Timestamp),
		"updated_at %s moved past the user message at %s", c.UpdatedAt, c.Messages[0].Timestamp)
}

func TestSendAppendsBothMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.mock.AddTextResponse(fmt.Sprintf("reply %d", i))
	}
	for i := 0; i < 3; i++ {
		reply, err := f.orch.Send(ctx, f.conv.ID, fmt.Sprintf("question %d", i), defaultParams)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("reply %d", i), reply)
	}

	msgs := f.messages(t)
	require.Len(t, msgs, 6)
	for i, m := range msgs {
		if i%2 == 0 {
			assert.Equal(t, conversation.RoleUser, m.Role)
		} else {
			assert.Equal(t, conversation.RoleAssistant, m.Role)
		}
	}

	reqs := f.mock.RecordedRequests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "llama3.1:8b", reqs[2].Model)
	assert.Equal(t, settings.DefaultSystemPrompt, reqs[2].SystemPrompt)
	require.Len(t, reqs[2].History, 5)
	assert.Equal(t, "question 2", reqs[2].History[4].Content)
}

func TestSendFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	f.mock.AddError(errors.New("boom"))

	_, err := f.orch.Send(context.Background(), f.conv.ID, "hi", defaultParams)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendError))
	assert.False(t, IsConnectivity(err))

	requireOnlyUserMessage(t, f.load(t))
}

func TestSendCanceledIsNotStreamAborted(t *testing.T) {
	f := newFixture(t)
	f.mock.AddError(context.Canceled)

	_, err := f.orch.Send(context.Background(), f.conv.ID, "hi", defaultParams)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestCanceled))
	assert.False(t, errors.Is(err, ErrStreamAborted))
	requireOnlyUserMessage(t, f.load(t))
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Send(ctx, f.conv.ID, "  \x00 \n", defaultParams)
	assert.True(t, errors.Is(err, ErrEmptyMessage))

	_, err = f.orch.Send(ctx, f.conv.ID, "hi", backend.Params{Temperature: 0.7, MaxTokens: 0})
	assert.True(t, errors.Is(err, ErrInvalidParams))

	_, err = f.orch.Send(ctx, "missing", "hi", defaultParams)
	assert.True(t, errors.Is(err, ErrConversationNotFound))

	assert.Empty(t, f.messages(t))
	assert.Empty(t, f.mock.RecordedRequests())
}

func TestSendWithoutModel(t *testing.T) {
	models := NewModels(settings.DefaultCatalog(), newTestRegistry(nil))
	orch := NewOrchestrator(conversation.NewInMemoryStore(), models)
	ctx := context.Background()
	c, err := orch.NewConversation(ctx, nil)
	require.NoError(t, err)

	_, err = orch.Send(ctx, c.ID, "hi", defaultParams)
	assert.True(t, errors.Is(err, ErrNoModelSelected))
	assert.Equal(t, "", orch.CurrentModel())
}

func TestSendToUnavailableModel(t *testing.T) {
	f := newFixture(t)
	f.mock.SetAvailable("gemma3:12b", false)

	b, err := f.orch.SelectModel(context.Background(), "gemma3:12b")
	require.NoError(t, err)
	assert.False(t, b.Available)
	assert.Equal(t, "gemma3:12b", f.orch.CurrentModel())

	_, err = f.orch.Send(context.Background(), f.conv.ID, "hi", defaultParams)
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
	assert.Empty(t, f.mock.RecordedRequests())
}

func TestSelectUnknownModelKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.SelectModel(context.Background(), "gpt-17")
	assert.True(t, errors.Is(err, ErrUnknownModel))
	assert.Equal(t, "llama3.1:8b", f.orch.CurrentModel())
}

func TestBindConversationOverridesDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.BindConversation(ctx, f.conv.ID, "gemma3:12b")
	require.NoError(t, err)
	f.mock.AddTextResponse("ok")

	_, err = f.orch.Send(ctx, f.conv.ID, "hi", defaultParams)
	require.NoError(t, err)
	assert.Equal(t, "gemma3:12b", f.mock.RecordedRequests()[0].Model)
	assert.Equal(t, "llama3.1:8b", f.orch.CurrentModel())
}

func TestHistoryWindow(t *testing.T) {
	const k = 2
	f := newFixture(t, WithMaxHistoryTurns(k))
	ctx := context.Background()
	for i := 0; i < k+5; i++ {
		f.mock.AddTextResponse("ok")
		_, err := f.orch.Send(ctx, f.conv.ID, fmt.Sprintf("q%d", i), defaultParams)
		require.NoError(t, err)
	}

	reqs := f.mock.RecordedRequests()
	last := reqs[len(reqs)-1]
	// the previous turn plus the in-flight user message
	require.Len(t, last.History, 2*k-1)
	assert.Equal(t, "q5", last.History[0].Content)
	assert.Equal(t, "q6", last.History[2].Content)

	// storage is never trimmed
	assert.Len(t, f.messages(t), 2*(k+5))
}

func TestConversationSystemPrompt(t *testing.T) {
	f := newFixture(t, WithDefaultSystemPrompt("be brief"))
	ctx := context.Background()

	empty := ""
	c, err := f.orch.NewConversation(ctx, &empty)
	require.NoError(t, err)

	f.mock.AddTextResponse("a").AddTextResponse("b")
	_, err = f.orch.Send(ctx, f.conv.ID, "hi", defaultParams)
	require.NoError(t, err)
	_, err = f.orch.Send(ctx, c.ID, "hi", defaultParams)
	require.NoError(t, err)

	reqs := f.mock.RecordedRequests()
	assert.Equal(t, "be brief", reqs[0].SystemPrompt)
	assert.Equal(t, "", reqs[1].SystemPrompt)
}

func TestSendStreamPersistsConcatenation(t *testing.T) {
	f := newFixture(t)
	f.mock.AddTextResponse("Hel", "lo")
	sink := &events.CollectingSink{}

	text, err := f.orch.SendStream(context.Background(), f.conv.ID, "hi", defaultParams, sink)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Content)

	evs := sink.Events()
	require.Len(t, evs, 4)
	final, ok := evs[3].(*events.EventFinal)
	require.True(t, ok)
	assert.Equal(t, "Hello", final.Text)
	assert.Equal(t, f.conv.ID, final.Metadata().ConversationID)
	assert.Equal(t, "llama3.1:8b", final.Metadata().Model)
	// one completion id for every event of the turn
	assert.Equal(t, evs[0].Metadata().ID, final.Metadata().ID)
}

func TestSendStreamErrorPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.mock.AddTurn(backend.MockTurn{Chunks: []string{"Hel"}, Err: errors.New("model crashed")})
	sink := &events.CollectingSink{}

	_, err := f.orch.SendStream(context.Background(), f.conv.ID, "hi", defaultParams, sink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendError))

	requireOnlyUserMessage(t, f.load(t))
	assert.Equal(t, events.EventTypeError, sink.Types()[len(sink.Types())-1])
}

func TestSendStreamUsesContextSinks(t *testing.T) {
	f := newFixture(t)
	f.mock.AddTextResponse("ok")
	sink := &events.CollectingSink{}
	ctx := events.WithEventSinks(context.Background(), sink)

	_, err := f.orch.SendStream(ctx, f.conv.ID, "hi", defaultParams)
	require.NoError(t, err)
	assert.Len(t, sink.Events(), 3)
}

func TestSendStreamCancelAborts(t *testing.T) {
	f := newFixture(t)
	f.mock.AddTurn(backend.MockTurn{Chunks: []string{"Hel"}, Block: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := events.SinkFunc(func(ev events.Event) error {
		if ev.Type() == events.EventTypePartialCompletion {
			cancel()
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.SendStream(ctx, f.conv.ID, "hi", defaultParams, sink)
		done <- err
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrStreamAborted))
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not abort")
	}

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
}

func TestSendStreamValidationPublishesNothing(t *testing.T) {
	f := newFixture(t)
	sink := &events.CollectingSink{}
	_, err := f.orch.SendStream(context.Background(), f.conv.ID, "", defaultParams, sink)
	assert.True(t, errors.Is(err, ErrEmptyMessage))
	assert.Empty(t, sink.Events())
}

func TestClearKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mock.AddTextResponse("ok")
	_, err := f.orch.Send(ctx, f.conv.ID, "hi", defaultParams)
	require.NoError(t, err)

	require.NoError(t, f.orch.Clear(ctx, f.conv.ID))
	c, err := f.orch.Store().Get(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, c.Messages)
	assert.Equal(t, f.conv.ID, c.ID)

	require.NoError(t, f.orch.Delete(ctx, f.conv.ID))
	_, err = f.orch.Store().Get(ctx, f.conv.ID)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestTurnsOnOneConversationAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mock.AddTurn(backend.MockTurn{Chunks: []string{"first"}, Delay: 50 * time.Millisecond})
	f.mock.AddTextResponse("second")

	errs := make(chan error, 2)
	go func() {
		_, err := f.orch.SendStream(ctx, f.conv.ID, "one", defaultParams)
		errs <- err
	}()
	// let the first turn take the gate
	time.Sleep(10 * time.Millisecond)
	go func() {
		_, err := f.orch.SendStream(ctx, f.conv.ID, "two", defaultParams)
		errs <- err
	}()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	msgs := f.messages(t)
	require.Len(t, msgs, 4)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "two", msgs[2].Content)
	assert.Equal(t, "second", msgs[3].Content)
}

func TestListModelsReportsCurrent(t *testing.T) {
	f := newFixture(t)
	statuses, current := f.orch.ListModels()
	assert.Equal(t, "llama3.1:8b", current)
	require.NotEmpty(t, statuses)
	require.NotNil(t, statuses[0].Available)
	assert.True(t, *statuses[0].Available)
}
