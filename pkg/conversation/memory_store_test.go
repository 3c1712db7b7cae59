package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	c, err := store.Create(ctx, WithSystemPrompt("be brief"))
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, DefaultTitle, c.Title)
	require.NotNil(t, c.SystemPrompt)
	assert.Equal(t, "be brief", *c.SystemPrompt)
	assert.Empty(t, c.Messages)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	got.Title = "mutated"
	again, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, again.Title, "Get must hand out copies")
}

func TestInMemoryStore_EmptySystemPromptIsNotAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	withEmpty, err := store.Create(ctx, WithSystemPrompt(""))
	require.NoError(t, err)
	require.NotNil(t, withEmpty.SystemPrompt)
	assert.Equal(t, "", withEmpty.EffectiveSystemPrompt("default"))

	absent, err := store.Create(ctx)
	require.NoError(t, err)
	assert.Nil(t, absent.SystemPrompt)
	assert.Equal(t, "default", absent.EffectiveSystemPrompt("default"))
}

func TestInMemoryStore_GetNotFound(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestInMemoryStore_ListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	a, err := store.Create(ctx)
	require.NoError(t, err)
	b, err := store.Create(ctx)
	require.NoError(t, err)
	c, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, a.ID, RoleUser, "bump a")
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, c.ID, list[1].ID)
	assert.Equal(t, b.ID, list[2].ID)
	assert.Equal(t, 1, list[0].MessageCount)
}

func TestInMemoryStore_AppendDerivesTitle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	c, err := store.Create(ctx)
	require.NoError(t, err)

	c, err = store.AppendMessage(ctx, c.ID, RoleUser, "What is the capital of France and why?")
	require.NoError(t, err)
	assert.Equal(t, "What is the capital "+"...", c.Title)

	c, err = store.AppendMessage(ctx, c.ID, RoleUser, "second question")
	require.NoError(t, err)
	assert.Equal(t, "What is the capital ...", c.Title)
}

func TestInMemoryStore_AppendRefreshesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	c, err := store.Create(ctx)
	require.NoError(t, err)
	created := c.UpdatedAt

	c, err = store.AppendMessage(ctx, c.ID, RoleUser, "hello")
	require.NoError(t, err)
	assert.True(t, c.UpdatedAt.After(created))
	require.Len(t, c.Messages, 1)
	assert.Equal(t, base.Add(2*time.Minute), c.Messages[0].Timestamp)
	assert.Equal(t, c.Messages[0].Timestamp, c.UpdatedAt)

	before := c.UpdatedAt
	require.NoError(t, store.UpdateSystemPrompt(ctx, c.ID, "new prompt"))
	c, err = store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, c.UpdatedAt.After(before))
}

func TestInMemoryStore_ClearKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	c, err := store.Create(ctx, WithSystemPrompt("prompt"))
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, RoleUser, "hello there")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, RoleAssistant, "hi")
	require.NoError(t, err)
	before, err := store.Get(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, c.ID))

	after, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Messages)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, *before.SystemPrompt, *after.SystemPrompt)
}

func TestInMemoryStore_DeleteRemoves(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	c, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, c.ID))

	_, err = store.Get(ctx, c.ID)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
	err = store.Delete(ctx, c.ID)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
	_, err = store.AppendMessage(ctx, c.ID, RoleUser, "late")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestInMemoryStore_HistoryWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	const k = 3

	c, err := store.Create(ctx, WithSystemPrompt("system"))
	require.NoError(t, err)
	for i := 0; i < k+5; i++ {
		_, err = store.AppendMessage(ctx, c.ID, RoleUser, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
		_, err = store.AppendMessage(ctx, c.ID, RoleAssistant, fmt.Sprintf("a%d", i))
		require.NoError(t, err)
	}

	h, err := store.History(ctx, c.ID, k)
	require.NoError(t, err)
	require.NotNil(t, h.SystemPrompt)
	assert.Equal(t, "system", *h.SystemPrompt)
	require.Len(t, h.Messages, 2*k)
	assert.Equal(t, "q5", h.Messages[0].Content)
	assert.Equal(t, "a7", h.Messages[len(h.Messages)-1].Content)

	all, err := store.History(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all.Messages, 2*(k+5))
}

func TestInMemoryStore_ExportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	c, err := store.Create(ctx, WithSystemPrompt("prompt"))
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, RoleUser, "hello")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, RoleAssistant, "world")
	require.NoError(t, err)

	for _, format := range []Format{FormatJSON, FormatText, FormatYAML, FormatMarkdown} {
		first, err := store.Export(ctx, c.ID, format)
		require.NoError(t, err)
		second, err := store.Export(ctx, c.ID, format)
		require.NoError(t, err)
		assert.Equal(t, first, second, "format %s", format)
	}

	after, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, after.Messages, 2)
}

func TestInMemoryStore_ExportText(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	c, err := store.Create(ctx, WithSystemPrompt("prompt"))
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, RoleUser, "hello")
	require.NoError(t, err)

	out, err := store.Export(ctx, c.ID, FormatText)
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "Title: hello", lines[0])
	assert.Equal(t, "System prompt: prompt", lines[3])
	assert.Equal(t, strings.Repeat("=", 50), lines[4])
	assert.True(t, strings.HasSuffix(lines[5], "] User:"))
	assert.Equal(t, "hello", lines[6])
	assert.Equal(t, strings.Repeat("-", 30), lines[7])

	_, err = store.Export(ctx, c.ID, Format("pdf"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestInMemoryStore_ImportAssignsNewID(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	c, err := store.Create(ctx)
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, RoleUser, "hello")
	require.NoError(t, err)
	data, err := store.Export(ctx, c.ID, FormatJSON)
	require.NoError(t, err)

	imported, err := store.Import(ctx, []byte(data))
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, imported.ID)
	require.Len(t, imported.Messages, 1)
	assert.Equal(t, "hello", imported.Messages[0].Content)

	_, err = store.Import(ctx, []byte(`{"messages":[{"role":"system","content":"x"}]}`))
	assert.True(t, errors.Is(err, ErrInvalidConversation))
	_, err = store.Import(ctx, []byte(`{"title":"no messages"}`))
	assert.True(t, errors.Is(err, ErrInvalidConversation))
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	a, err := store.Create(ctx)
	require.NoError(t, err)
	b, err := store.Create(ctx)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, a.ID, RoleUser, fmt.Sprintf("a%d", i))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, b.ID, RoleUser, fmt.Sprintf("b%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	gotA, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, gotA.Messages, n)
	assert.Len(t, gotB.Messages, n)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalConversations)
	assert.Equal(t, 2*n, stats.TotalMessages)
	assert.InDelta(t, float64(n), stats.AverageMessages, 0.001)
}
