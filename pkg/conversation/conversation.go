// Package conversation holds the conversation entities and the Store that owns them.
//
// A Conversation is an ordered, append-only list of messages plus an optional
// system prompt. All mutation goes through a Store; callers only ever see
// copies handed out by Get.
package conversation

import (
	"time"
	"unicode/utf8"
)

const (
	DefaultTitle = "New conversation"

	titleMaxRunes = 20
)

type Conversation struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	// SystemPrompt is nil when the conversation uses the process default.
	// An empty string is an explicit empty prompt.
	SystemPrompt *string   `json:"system_prompt" yaml:"system_prompt"`
	Messages     []Message `json:"messages" yaml:"messages"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
	ActiveModel  string    `json:"active_model,omitempty" yaml:"active_model,omitempty"`
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	ret := *c
	if c.SystemPrompt != nil {
		s := *c.SystemPrompt
		ret.SystemPrompt = &s
	}
	ret.Messages = append([]Message{}, c.Messages...)
	return &ret
}

// EffectiveSystemPrompt returns the conversation prompt, or fallback when none was set.
func (c *Conversation) EffectiveSystemPrompt(fallback string) string {
	if c.SystemPrompt != nil {
		return *c.SystemPrompt
	}
	return fallback
}

func (c *Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		UpdatedAt:    c.UpdatedAt,
		ActiveModel:  c.ActiveModel,
	}
}

type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
	ActiveModel  string    `json:"active_model,omitempty"`
}

type Stats struct {
	TotalConversations int     `json:"total_conversations"`
	TotalMessages      int     `json:"total_messages"`
	AverageMessages    float64 `json:"average_messages_per_conversation"`
}

// History is the bounded view of a conversation handed to a backend.
type History struct {
	SystemPrompt *string
	Messages     []Message
}

// DeriveTitle builds a conversation title from the first user message.
func DeriveTitle(firstMessage string) string {
	s := SanitizeInput(firstMessage)
	if s == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(s) <= titleMaxRunes {
		return s
	}
	return TruncateText(s, titleMaxRunes) + "..."
}

// windowTurns keeps the last maxTurns turns of msgs. A turn starts at a user
// message; anything before the first user message counts as its own turn.
// maxTurns <= 0 disables the window.
func windowTurns(msgs []Message, maxTurns int) []Message {
	if maxTurns <= 0 || len(msgs) == 0 {
		return append([]Message{}, msgs...)
	}

	turns := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser || i == 0 {
			turns++
			start = i
			if turns == maxTurns {
				break
			}
		}
	}
	return append([]Message{}, msgs[start:]...)
}
