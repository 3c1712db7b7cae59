package settings

import (
	"github.com/huandu/go-clone"
)

const (
	DefaultTemperature       = 0.7
	DefaultMaxResponseTokens = 2000
)

type ChatSettings struct {
	Temperature       *float64 `yaml:"temperature,omitempty"`
	MaxResponseTokens *int     `yaml:"max_response_tokens,omitempty"`
	Stream            bool     `yaml:"stream,omitempty"`
}

func NewChatSettings() *ChatSettings {
	temperature := DefaultTemperature
	maxTokens := DefaultMaxResponseTokens
	return &ChatSettings{
		Temperature:       &temperature,
		MaxResponseTokens: &maxTokens,
		Stream:            true,
	}
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}

// GetTemperature returns the configured temperature or the package default.
func (s *ChatSettings) GetTemperature() float64 {
	if s == nil || s.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Temperature
}

func (s *ChatSettings) GetMaxResponseTokens() int {
	if s == nil || s.MaxResponseTokens == nil {
		return DefaultMaxResponseTokens
	}
	return *s.MaxResponseTokens
}
