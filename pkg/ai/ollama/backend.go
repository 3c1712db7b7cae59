package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const providerName = string(types.ApiTypeOllama)

// Backend talks to a local ollama runtime.
type Backend struct {
	client *api.Client
}

// ParseHost accepts "host:port" as well as full URLs, like OLLAMA_HOST does.
func ParseHost(host string) (*url.URL, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "http://localhost:11434"
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama host %q", host)
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid ollama host %q", host)
	}
	return u, nil
}

func NewBackend(host string, httpClient *http.Client) (*Backend, error) {
	u, err := ParseHost(host)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Backend{client: api.NewClient(u, httpClient)}, nil
}

func (b *Backend) ListModels(ctx context.Context) ([]backend.ModelDescriptor, error) {
	resp, err := b.client.List(ctx)
	if err != nil {
		return nil, normalize(err)
	}
	ret := make([]backend.ModelDescriptor, 0, len(resp.Models))
	for _, m := range resp.Models {
		ret = append(ret, backend.ModelDescriptor{
			ProviderKind: types.ProviderKindLocalRuntime,
			ApiType:      types.ApiTypeOllama,
			Name:         m.Name,
			Available:    true,
		})
	}
	return ret, nil
}

// Probe lists the locally pulled models and looks for model, treating a
// missing tag as ":latest".
func (b *Backend) Probe(ctx context.Context, model string) (bool, error) {
	resp, err := b.client.List(ctx)
	if err != nil {
		return false, normalize(err)
	}
	for _, m := range resp.Models {
		if sameModel(m.Name, model) || sameModel(m.Model, model) {
			return true, nil
		}
	}
	return false, nil
}

func sameModel(have, want string) bool {
	if have == "" {
		return false
	}
	if have == want {
		return true
	}
	if !strings.Contains(want, ":") {
		return have == want+":latest"
	}
	return false
}

func buildMessages(req backend.Request) []api.Message {
	ret := make([]api.Message, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		ret = append(ret, api.Message{Role: string(conversation.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		ret = append(ret, api.Message{Role: string(m.Role), Content: m.Content})
	}
	return ret
}

func buildChatRequest(req backend.Request, stream bool) *api.ChatRequest {
	return &api.ChatRequest{
		Model:    req.Model,
		Messages: buildMessages(req),
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": backend.ClampTemperature(types.ApiTypeOllama, req.Params.Temperature),
			"num_predict": req.Params.MaxTokens,
		},
	}
}

func (b *Backend) Generate(ctx context.Context, req backend.Request) (string, error) {
	var sb strings.Builder
	err := b.client.Chat(ctx, buildChatRequest(req, false), func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", normalize(err)
	}
	return sb.String(), nil
}

func (b *Backend) GenerateStream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	chatReq := buildChatRequest(req, true)
	return backend.NewEventStream(ctx, providerName, func(ctx context.Context, ch chan<- backend.TokenEvent) error {
		chunks := 0
		err := b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			chunks++
			return backend.Send(ctx, ch, backend.ContentEvent(resp.Message.Content))
		})
		log.Debug().Str("model", req.Model).Int("chunks", chunks).Err(err).Msg("ollama stream finished")
		if err != nil {
			return normalize(err)
		}
		return nil
	}), nil
}

func normalize(err error) *backend.Error {
	var se api.StatusError
	if errors.As(err, &se) {
		msg := se.ErrorMessage
		if msg == "" {
			msg = se.Status
		}
		return backend.NewError(providerName, backend.KindForStatus(se.StatusCode), err, "%s", msg)
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return backend.NewError(providerName, backend.ErrorKindMalformed, err, "unparsable chunk: %s", syn.Error())
	}
	be := backend.Normalize(providerName, err)
	// the runtime reports missing models in the stream body, not the status
	if be.Kind == backend.ErrorKindProvider && strings.Contains(strings.ToLower(be.Message), "not found") {
		be.Kind = backend.ErrorKindUnavailable
	}
	return be
}

var _ backend.Backend = (*Backend)(nil)
