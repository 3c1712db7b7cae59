package settings

import (
	"io"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultModel           = "llama3.1:8b"
	DefaultMaxHistoryTurns = 50
	DefaultSystemPrompt    = "You are a professional AI assistant. Answer accurately and concisely, say so when you are unsure, and keep a friendly tone."
)

// Settings is everything needed to bind models and drive chat turns.
type Settings struct {
	Chat   *ChatSettings   `yaml:"chat,omitempty"`
	API    *APISettings    `yaml:"api,omitempty"`
	Client *ClientSettings `yaml:"client,omitempty"`

	Catalog             Catalog `yaml:"models,omitempty"`
	DefaultModel        string  `yaml:"default_model,omitempty"`
	DefaultSystemPrompt string  `yaml:"default_system_prompt,omitempty"`
	MaxHistoryTurns     int     `yaml:"max_history_turns,omitempty"`
}

func NewSettings() *Settings {
	return &Settings{
		Chat:                NewChatSettings(),
		API:                 NewAPISettings(),
		Client:              NewClientSettings(),
		Catalog:             DefaultCatalog(),
		DefaultModel:        DefaultModel,
		DefaultSystemPrompt: DefaultSystemPrompt,
		MaxHistoryTurns:     DefaultMaxHistoryTurns,
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// NewSettingsFromYAML decodes s on top of the defaults. Sections missing from
// the document keep their default values.
func NewSettingsFromYAML(r io.Reader) (*Settings, error) {
	ret := NewSettings()
	if err := yaml.NewDecoder(r).Decode(ret); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if ret.Chat == nil {
		ret.Chat = NewChatSettings()
	}
	if ret.API == nil {
		ret.API = NewAPISettings()
	}
	if ret.Client == nil {
		ret.Client = NewClientSettings()
	}
	if len(ret.Catalog) == 0 {
		ret.Catalog = DefaultCatalog()
	}
	if ret.MaxHistoryTurns < 0 {
		return nil, errors.Errorf("max_history_turns must not be negative, got %d", ret.MaxHistoryTurns)
	}
	if err := ret.Catalog.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}
