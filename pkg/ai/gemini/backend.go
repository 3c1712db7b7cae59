package gemini

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	ai_types "github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/pkg/errors"
	genai "google.golang.org/genai"
)

const providerName = string(ai_types.ApiTypeGemini)

type Backend struct {
	client *genai.Client
}

func makeClient(ctx context.Context, api *settings.APISettings, httpClient *http.Client) (*genai.Client, error) {
	apiKey, ok := api.APIKey(ai_types.ApiTypeGemini)
	if !ok {
		return nil, errors.Errorf("no API key for %s", ai_types.ApiTypeGemini)
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: api.BaseURL(ai_types.ApiTypeGemini)},
	})
}

func NewBackend(ctx context.Context, api *settings.APISettings, httpClient *http.Client) (*Backend, error) {
	client, err := makeClient(ctx, api, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "could not create gemini client")
	}
	return &Backend{client: client}, nil
}

func roleToGeminiRole(r conversation.Role) genai.Role {
	if r == conversation.RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func makeContents(msgs []conversation.Message) []*genai.Content {
	res := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem {
			continue
		}
		res = append(res, genai.NewContentFromText(m.Content, roleToGeminiRole(m.Role)))
	}
	return res
}

func makeConfig(req backend.Request) *genai.GenerateContentConfig {
	temperature := float32(backend.ClampTemperature(ai_types.ApiTypeGemini, req.Params.Temperature))
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.Params.MaxTokens),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return cfg
}

// modelName strips the "models/" resource prefix the API reports.
func modelName(name string) string {
	return strings.TrimPrefix(name, "models/")
}

func (b *Backend) ListModels(ctx context.Context) ([]backend.ModelDescriptor, error) {
	page, err := b.client.Models.List(ctx, nil)
	if err != nil {
		return nil, normalize(err)
	}
	ret := make([]backend.ModelDescriptor, 0, len(page.Items))
	for _, m := range page.Items {
		ret = append(ret, backend.ModelDescriptor{
			ProviderKind: ai_types.ProviderKindRemoteAPI,
			ApiType:      ai_types.ApiTypeGemini,
			Name:         modelName(m.Name),
			Available:    true,
		})
	}
	return ret, nil
}

func (b *Backend) Probe(ctx context.Context, model string) (bool, error) {
	_, err := b.client.Models.Get(ctx, model, nil)
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
	resp, err := b.client.Models.GenerateContent(ctx, req.Model, makeContents(req.History), makeConfig(req))
	if err != nil {
		return "", normalize(err)
	}
	return resp.Text(), nil
}

func (b *Backend) GenerateStream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	contents := makeContents(req.History)
	cfg := makeConfig(req)
	return backend.NewEventStream(ctx, providerName, func(ctx context.Context, ch chan<- backend.TokenEvent) error {
		for chunk, err := range b.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return normalize(err)
			}
			delta := chunk.Text()
			if delta == "" {
				continue
			}
			if err := backend.Send(ctx, ch, backend.ContentEvent(delta)); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func normalize(err error) *backend.Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return backend.NewError(providerName, backend.KindForStatus(apiErr.Code), err, "%s", apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return backend.NewError(providerName, backend.KindForStatus(apiErrPtr.Code), err, "%s", apiErrPtr.Message)
	}
	return backend.Normalize(providerName, err)
}

var _ backend.Backend = (*Backend)(nil)
