package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	ai_types "github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// Backend serves every OpenAI compatible API (openai, deepseek).
type Backend struct {
	apiType ai_types.ApiType
	client  *go_openai.Client
}

func MakeClient(apiSettings *settings.APISettings, apiType ai_types.ApiType, httpClient *http.Client) (*go_openai.Client, error) {
	apiKey, ok := apiSettings.APIKey(apiType)
	if !ok {
		return nil, errors.Errorf("no API key for %s", apiType)
	}
	config := go_openai.DefaultConfig(apiKey)
	config.BaseURL = apiSettings.BaseURL(apiType)
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return go_openai.NewClientWithConfig(config), nil
}

func NewBackend(apiType ai_types.ApiType, apiSettings *settings.APISettings, httpClient *http.Client) (*Backend, error) {
	client, err := MakeClient(apiSettings, apiType, httpClient)
	if err != nil {
		return nil, err
	}
	return &Backend{apiType: apiType, client: client}, nil
}

func (b *Backend) provider() string { return string(b.apiType) }

func (b *Backend) ListModels(ctx context.Context) ([]backend.ModelDescriptor, error) {
	list, err := b.client.ListModels(ctx)
	if err != nil {
		return nil, b.normalize(err)
	}
	ret := make([]backend.ModelDescriptor, 0, len(list.Models))
	for _, m := range list.Models {
		ret = append(ret, backend.ModelDescriptor{
			ProviderKind: ai_types.ProviderKindRemoteAPI,
			ApiType:      b.apiType,
			Name:         m.ID,
			Available:    true,
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

// Probe retrieves the model once. A 404 means the model is not served.
func (b *Backend) Probe(ctx context.Context, model string) (bool, error) {
	_, err := b.client.GetModel(ctx, model)
	if err == nil {
		return true, nil
	}
	be := b.normalize(err)
	if be.Kind == backend.ErrorKindUnavailable {
		return false, nil
	}
	return false, be
}

func makeCompletionRequest(apiType ai_types.ApiType, req backend.Request, stream bool) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.History {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return go_openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(backend.ClampTemperature(apiType, req.Params.Temperature)),
		MaxTokens:   req.Params.MaxTokens,
		Stream:      stream,
	}
}

func (b *Backend) Generate(ctx context.Context, req backend.Request) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, makeCompletionRequest(b.apiType, req, false))
	if err != nil {
		return "", b.normalize(err)
	}
	if len(resp.Choices) == 0 {
		return "", backend.NewError(b.provider(), backend.ErrorKindMalformed, nil, "response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *Backend) GenerateStream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	completionReq := makeCompletionRequest(b.apiType, req, true)
	return backend.NewEventStream(ctx, b.provider(), func(ctx context.Context, ch chan<- backend.TokenEvent) error {
		stream, err := b.client.CreateChatCompletionStream(ctx, completionReq)
		if err != nil {
			return b.normalize(err)
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return b.normalize(err)
			}
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if err := backend.Send(ctx, ch, backend.ContentEvent(delta)); err != nil {
				return err
			}
		}
	}), nil
}

func (b *Backend) normalize(err error) *backend.Error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		log.Debug().Str("provider", b.provider()).Int("status", apiErr.HTTPStatusCode).Str("type", apiErr.Type).Msg("api error")
		return backend.NewError(b.provider(), backend.KindForStatus(apiErr.HTTPStatusCode), err, "%s", apiErr.Message)
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return backend.NewError(b.provider(), backend.KindForStatus(reqErr.HTTPStatusCode), err, "%s", reqErr.Error())
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return backend.NewError(b.provider(), backend.ErrorKindMalformed, err, "unparsable chunk: %s", syn.Error())
	}
	if errors.Is(err, go_openai.ErrTooManyEmptyStreamMessages) {
		return backend.NewError(b.provider(), backend.ErrorKindMalformed, err, "%s", err.Error())
	}
	return backend.Normalize(b.provider(), err)
}

var _ backend.Backend = (*Backend)(nil)
