package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/factory"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// app wires settings, store, backends and the orchestrator for one process.
type app struct {
	settings *settings.Settings
	store    conversation.Store
	models   *chat.Models
	orch     *chat.Orchestrator
	close    func() error
}

// loadSettings reads the provider settings from the viper config file, then
// applies environment variables and command line overrides.
func loadSettings() (*settings.Settings, error) {
	s := settings.NewSettings()
	if path := viper.ConfigFileUsed(); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "could not open config")
		}
		defer func() { _ = f.Close() }()
		s, err = settings.NewSettingsFromYAML(f)
		if err != nil {
			return nil, errors.Wrapf(err, "could not load %s", path)
		}
	}

	for _, apiType := range types.AllApiTypes() {
		if v := viper.GetString(settings.APIKeySlug(apiType)); v != "" {
			s.API.SetAPIKey(apiType, v)
		}
		if v := viper.GetString(settings.BaseURLSlug(apiType)); v != "" {
			s.API.SetBaseURL(apiType, v)
		}
	}
	s.API.LoadFromEnv(os.LookupEnv)

	if viper.IsSet("temperature") {
		v := viper.GetFloat64("temperature")
		s.Chat.Temperature = &v
	}
	if viper.IsSet("max-tokens") {
		v := viper.GetInt("max-tokens")
		s.Chat.MaxResponseTokens = &v
	}
	if v := viper.GetString("system-prompt"); v != "" {
		s.DefaultSystemPrompt = v
	}
	if v := viper.GetString("model"); v != "" {
		s.DefaultModel = v
	}
	return s, nil
}

func defaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".chatrelay", "conversations.db"), nil
}

func openStore() (conversation.Store, func() error, error) {
	switch kind := viper.GetString("store"); kind {
	case "", "memory":
		return conversation.NewInMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		path := viper.GetString("store-path")
		if path == "" {
			var err error
			path, err = defaultStorePath()
			if err != nil {
				return nil, nil, err
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "could not create store directory")
		}
		dsn, err := conversation.SQLiteDSNForFile(path)
		if err != nil {
			return nil, nil, err
		}
		store, err := conversation.NewSQLiteStore(dsn)
		if err != nil {
			return nil, nil, err
		}
		log.Debug().Str("path", path).Msg("Opened sqlite conversation store")
		return store, store.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown store %q (memory, sqlite)", kind)
	}
}

func newApp() (*app, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openStore()
	if err != nil {
		return nil, err
	}

	registry := factory.NewRegistry(factory.NewStandardBackendFactory(), s.API, s.Client)
	models := chat.NewModels(s.Catalog, registry)
	orch := chat.NewOrchestrator(store, models,
		chat.WithDefaultSystemPrompt(s.DefaultSystemPrompt),
		chat.WithMaxHistoryTurns(s.MaxHistoryTurns),
	)
	return &app{
		settings: s,
		store:    store,
		models:   models,
		orch:     orch,
		close:    closeStore,
	}, nil
}

func (a *app) params() backend.Params {
	return backend.Params{
		Temperature: a.settings.Chat.GetTemperature(),
		MaxTokens:   a.settings.Chat.GetMaxResponseTokens(),
	}
}

// selectDefaultModel binds the configured model. An unavailable model is
// reported but not fatal, the user can switch later.
func (a *app) selectDefaultModel(ctx context.Context) (*chat.Binding, error) {
	b, err := a.orch.SelectModel(ctx, a.settings.DefaultModel)
	if err != nil {
		return nil, err
	}
	if !b.Available {
		log.Warn().Str("model", b.Model).Str("reason", b.Reason).Msg("Selected model is not available")
	}
	return b, nil
}
