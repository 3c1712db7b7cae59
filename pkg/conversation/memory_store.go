package conversation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type entry struct {
	mu      sync.Mutex
	conv    *Conversation
	deleted bool
}

// persistFunc is called with the new state of a conversation before it is
// committed. Returning an error aborts the mutation.
type persistFunc func(ctx context.Context, c *Conversation) error

type deleteFunc func(ctx context.Context, id string) error

// InMemoryStore keeps conversations in a map. The map is guarded by a
// RWMutex, every conversation has its own mutex.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*entry

	persist persistFunc
	remove  deleteFunc
	now     func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: map[string]*entry{},
		now:           time.Now,
	}
}

func (s *InMemoryStore) Create(ctx context.Context, options ...CreateOption) (*Conversation, error) {
	opts := &createOptions{}
	for _, o := range options {
		o(opts)
	}

	now := s.now()
	c := &Conversation{
		ID:           uuid.NewString(),
		Title:        DefaultTitle,
		SystemPrompt: opts.systemPrompt,
		Messages:     []Message{},
		CreatedAt:    now,
		UpdatedAt:    now,
		ActiveModel:  opts.activeModel,
	}
	if opts.title != "" {
		c.Title = opts.title
	}

	if err := s.insert(ctx, c); err != nil {
		return nil, err
	}

	log.Debug().Str("conversation_id", c.ID).Msg("Created conversation")
	return c.Clone(), nil
}

func (s *InMemoryStore) insert(ctx context.Context, c *Conversation) error {
	if s.persist != nil {
		if err := s.persist(ctx, c); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = &entry{conv: c}
	return nil
}

func (s *InMemoryStore) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.conversations[id]
	if !ok {
		return nil, errors.Wrapf(ErrConversationNotFound, "conversation %s", id)
	}
	return e, nil
}

// mutate applies fn to a copy of the conversation and commits the copy only
// if fn and the persist hook succeed. now is the store clock reading that
// also becomes UpdatedAt.
func (s *InMemoryStore) mutate(ctx context.Context, id string, fn func(c *Conversation, now time.Time) error) (*Conversation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, errors.Wrapf(ErrConversationNotFound, "conversation %s", id)
	}

	now := s.now()
	next := e.conv.Clone()
	if err := fn(next, now); err != nil {
		return nil, err
	}
	next.UpdatedAt = now

	if s.persist != nil {
		if err := s.persist(ctx, next); err != nil {
			return nil, errors.Wrapf(err, "could not persist conversation %s", id)
		}
	}
	e.conv = next
	return next.Clone(), nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, errors.Wrapf(ErrConversationNotFound, "conversation %s", id)
	}
	return e.conv.Clone(), nil
}

func (s *InMemoryStore) snapshot() []*Conversation {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.conversations))
	for _, e := range s.conversations {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	ret := make([]*Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			ret = append(ret, e.conv.Clone())
		}
		e.mu.Unlock()
	}
	return ret
}

func (s *InMemoryStore) List(ctx context.Context) ([]Summary, error) {
	convs := s.snapshot()
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	ret := make([]Summary, 0, len(convs))
	for _, c := range convs {
		ret = append(ret, c.Summary())
	}
	return ret, nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, id string, role Role, content string) (*Conversation, error) {
	if !role.IsValid() {
		return nil, errors.Errorf("invalid role %q", role)
	}
	return s.mutate(ctx, id, func(c *Conversation, now time.Time) error {
		c.Messages = append(c.Messages, newMessageAt(role, content, now))
		if role == RoleUser && c.Title == DefaultTitle && countRole(c.Messages, RoleUser) == 1 {
			c.Title = DeriveTitle(content)
		}
		return nil
	})
}

func countRole(msgs []Message, role Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) UpdateSystemPrompt(ctx context.Context, id string, prompt string) error {
	_, err := s.mutate(ctx, id, func(c *Conversation, _ time.Time) error {
		c.SystemPrompt = &prompt
		return nil
	})
	return err
}

func (s *InMemoryStore) UpdateTitle(ctx context.Context, id string, title string) error {
	_, err := s.mutate(ctx, id, func(c *Conversation, _ time.Time) error {
		c.Title = title
		return nil
	})
	return err
}

func (s *InMemoryStore) SetActiveModel(ctx context.Context, id string, model string) error {
	_, err := s.mutate(ctx, id, func(c *Conversation, _ time.Time) error {
		c.ActiveModel = model
		return nil
	})
	return err
}

func (s *InMemoryStore) Clear(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, func(c *Conversation, _ time.Time) error {
		c.Messages = []Message{}
		return nil
	})
	if err == nil {
		log.Debug().Str("conversation_id", id).Msg("Cleared conversation")
	}
	return err
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return errors.Wrapf(ErrConversationNotFound, "conversation %s", id)
	}
	if s.remove != nil {
		if err := s.remove(ctx, id); err != nil {
			return errors.Wrapf(err, "could not delete conversation %s", id)
		}
	}
	e.deleted = true

	s.mu.Lock()
	delete(s.conversations, id)
	s.mu.Unlock()

	log.Debug().Str("conversation_id", id).Msg("Deleted conversation")
	return nil
}

func (s *InMemoryStore) History(ctx context.Context, id string, maxTurns int) (*History, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &History{
		SystemPrompt: c.SystemPrompt,
		Messages:     windowTurns(c.Messages, maxTurns),
	}, nil
}

func (s *InMemoryStore) Export(ctx context.Context, id string, format Format) (string, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return Render(c, format)
}

func (s *InMemoryStore) Import(ctx context.Context, data []byte) (*Conversation, error) {
	c := &Conversation{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(ErrInvalidConversation, err.Error())
	}
	if err := ValidateImported(c); err != nil {
		return nil, err
	}

	now := s.now()
	c.ID = uuid.NewString()
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	for i := range c.Messages {
		if c.Messages[i].Timestamp.IsZero() {
			c.Messages[i].Timestamp = now
		}
	}

	if err := s.insert(ctx, c); err != nil {
		return nil, err
	}
	log.Debug().Str("conversation_id", c.ID).Int("messages", len(c.Messages)).Msg("Imported conversation")
	return c.Clone(), nil
}

// ValidateImported checks that an imported conversation only carries user and
// assistant messages.
func ValidateImported(c *Conversation) error {
	if c.Messages == nil {
		return errors.Wrap(ErrInvalidConversation, "missing messages")
	}
	for i, m := range c.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return errors.Wrapf(ErrInvalidConversation, "message %d has role %q", i, m.Role)
		}
	}
	return nil
}

func (s *InMemoryStore) Stats(ctx context.Context) (Stats, error) {
	convs := s.snapshot()
	ret := Stats{TotalConversations: len(convs)}
	for _, c := range convs {
		ret.TotalMessages += len(c.Messages)
	}
	if ret.TotalConversations > 0 {
		ret.AverageMessages = float64(ret.TotalMessages) / float64(ret.TotalConversations)
	}
	return ret, nil
}
