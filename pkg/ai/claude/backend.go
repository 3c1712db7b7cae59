package claude

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	ai_types "github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const providerName = string(ai_types.ApiTypeClaude)

type Backend struct {
	client anthropic.Client
}

func NewBackend(api *settings.APISettings, httpClient *http.Client) (*Backend, error) {
	apiKey, ok := api.APIKey(ai_types.ApiTypeClaude)
	if !ok {
		return nil, errors.Errorf("no API key for %s", ai_types.ApiTypeClaude)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(api.BaseURL(ai_types.ApiTypeClaude)),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Backend{client: anthropic.NewClient(opts...)}, nil
}

func makeMessageParams(req backend.Request) anthropic.MessageNewParams {
	msgs := make([]anthropic.MessageParam, 0, len(req.History))
	for _, m := range req.History {
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case conversation.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.Params.MaxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(backend.ClampTemperature(ai_types.ApiTypeClaude, req.Params.Temperature)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	return params
}

func (b *Backend) ListModels(ctx context.Context) ([]backend.ModelDescriptor, error) {
	page, err := b.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, normalize(err)
	}
	ret := make([]backend.ModelDescriptor, 0, len(page.Data))
	for _, m := range page.Data {
		ret = append(ret, backend.ModelDescriptor{
			ProviderKind: ai_types.ProviderKindRemoteAPI,
			ApiType:      ai_types.ApiTypeClaude,
			Name:         m.ID,
			Available:    true,
		})
	}
	return ret, nil
}

func (b *Backend) Probe(ctx context.Context, model string) (bool, error) {
	_, err := b.client.Models.Get(ctx, model, anthropic.ModelGetParams{})
	if err == nil {
		return true, nil
	}
	be := normalize(err)
	if be.Kind == backend.ErrorKindUnavailable {
		return false, nil
	}
	return false, be
}

func (b *Backend) Generate(ctx context.Context, req backend.Request) (string, error) {
	msg, err := b.client.Messages.New(ctx, makeMessageParams(req))
	if err != nil {
		return "", normalize(err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (b *Backend) GenerateStream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	params := makeMessageParams(req)
	return backend.NewEventStream(ctx, providerName, func(ctx context.Context, ch chan<- backend.TokenEvent) error {
		stream := b.client.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				if err := backend.Send(ctx, ch, backend.ContentEvent(delta.Text)); err != nil {
					return err
				}
			case anthropic.MessageStopEvent:
				log.Trace().Str("model", req.Model).Msg("claude message stop")
			}
		}
		if err := stream.Err(); err != nil {
			return normalize(err)
		}
		return nil
	}), nil
}

func normalize(err error) *backend.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return backend.NewError(providerName, backend.KindForStatus(apiErr.StatusCode), err, "%s", apiErr.Error())
	}
	return backend.Normalize(providerName, err)
}

var _ backend.Backend = (*Backend)(nil)
