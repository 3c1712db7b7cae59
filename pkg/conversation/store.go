package conversation

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnsupportedFormat    = errors.New("unsupported export format")
	ErrInvalidConversation  = errors.New("invalid conversation data")
	ErrStoreClosed          = errors.New("conversation store closed")
)

// Store owns every Conversation. Implementations must be safe for concurrent
// use: operations on different conversations may run in parallel, operations
// on the same conversation are serialized.
type Store interface {
	Create(ctx context.Context, options ...CreateOption) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
	AppendMessage(ctx context.Context, id string, role Role, content string) (*Conversation, error)
	UpdateSystemPrompt(ctx context.Context, id string, prompt string) error
	UpdateTitle(ctx context.Context, id string, title string) error
	SetActiveModel(ctx context.Context, id string, model string) error
	// Clear removes all messages but keeps id, title and system prompt.
	Clear(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// History returns the last maxTurns turns and the system prompt.
	History(ctx context.Context, id string, maxTurns int) (*History, error)
	Export(ctx context.Context, id string, format Format) (string, error)
	// Import loads a JSON export under a freshly assigned id.
	Import(ctx context.Context, data []byte) (*Conversation, error)
	Stats(ctx context.Context) (Stats, error)
}

type createOptions struct {
	systemPrompt *string
	title        string
	activeModel  string
}

type CreateOption func(*createOptions)

// WithSystemPrompt sets an explicit system prompt. An empty string is kept as
// an empty prompt and does not fall back to the default.
func WithSystemPrompt(prompt string) CreateOption {
	return func(o *createOptions) {
		o.systemPrompt = &prompt
	}
}

func WithTitle(title string) CreateOption {
	return func(o *createOptions) {
		o.title = title
	}
}

func WithActiveModel(model string) CreateOption {
	return func(o *createOptions) {
		o.activeModel = model
	}
}
