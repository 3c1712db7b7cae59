package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/factory"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	mock *backend.MockBackend
	orch *chat.Orchestrator
}

func newTestServer(t *testing.T, selectModel bool) *testServer {
	t.Helper()
	mock := backend.NewMockBackend(types.ApiTypeOllama, "llama3.1:8b", "gemma3:12b")
	registry := factory.NewRegistry(nil, settings.NewAPISettings(), settings.NewClientSettings())
	registry.Register(types.ApiTypeOllama, mock)
	orch := chat.NewOrchestrator(
		conversation.NewInMemoryStore(),
		chat.NewModels(settings.DefaultCatalog(), registry),
	)
	if selectModel {
		_, err := orch.SelectModel(context.Background(), "llama3.1:8b")
		require.NoError(t, err)
	}
	srv := httptest.NewServer(NewServer(orch).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, mock: mock, orch: orch}
}

func (ts *testServer) do(t *testing.T, method, path string, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	ret := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ret))
	return resp.StatusCode, ret
}

func (ts *testServer) newConversation(t *testing.T) string {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/api/conversations", "")
	require.Equal(t, http.StatusOK, status)
	id, ok := body["conversation_id"].(string)
	require.True(t, ok)
	return id
}

func TestHealthAndUnknownRoute(t *testing.T) {
	ts := newTestServer(t, true)

	status, body := ts.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Not found", body["error"])
}

func TestListAndSelectModels(t *testing.T) {
	ts := newTestServer(t, false)

	status, body := ts.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "", body["current_model"])
	assert.Len(t, body["models"], len(settings.DefaultCatalog()))
	assert.Equal(t, 0, ts.mock.ProbeCalls)

	status, body = ts.do(t, http.MethodPost, "/api/models/gemma3:12b", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "gemma3:12b", ts.orch.CurrentModel())

	status, _ = ts.do(t, http.MethodPost, "/api/models/gpt-17", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestChatNonStreaming(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.newConversation(t)
	ts.mock.AddTextResponse("Hello")

	status, body := ts.do(t, http.MethodPost, "/api/conversations/"+id+"/chat", `{"message":"hi","temperature":0.2,"max_tokens":64}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hello", body["response"])

	req := ts.mock.RecordedRequests()[0]
	assert.Equal(t, 0.2, req.Params.Temperature)
	assert.Equal(t, 64, req.Params.MaxTokens)

	status, body = ts.do(t, http.MethodGet, "/api/conversations/"+id, "")
	require.Equal(t, http.StatusOK, status)
	c := body["conversation"].(map[string]interface{})
	assert.Len(t, c["messages"], 2)
	assert.Equal(t, "hi", c["title"])
}

func TestChatStreaming(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.newConversation(t)
	ts.mock.AddTextResponse("Hel", "lo")

	resp, err := ts.Client().Post(ts.URL+"/api/conversations/"+id+"/chat", "application/json",
		bytes.NewBufferString(`{"message":"hi","stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t,
		"data: {\"content\":\"Hel\"}\n\n"+
			"data: {\"content\":\"lo\"}\n\n"+
			"data: {\"done\":true}\n\n",
		string(b))

	c, err := ts.orch.Store().Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "Hello", c.Messages[1].Content)
}

func TestChatStreamingErrorFrame(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.newConversation(t)
	ts.mock.AddTurn(backend.MockTurn{Chunks: []string{"Hel"}, Err: errors.New("model crashed")})

	resp, err := ts.Client().Post(ts.URL+"/api/conversations/"+id+"/chat", "application/json",
		bytes.NewBufferString(`{"message":"hi","stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := strings.Split(strings.TrimSpace(string(b)), "\n\n")
	require.Len(t, frames, 2)
	assert.Equal(t, `data: {"content":"Hel"}`, frames[0])
	assert.True(t, strings.HasPrefix(frames[1], `data: {"success":false,"error":`), frames[1])
	assert.Contains(t, frames[1], "model crashed")

	c, err := ts.orch.Store().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, c.Messages, 1)
}

func TestChatStatusMapping(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.newConversation(t)
	path := "/api/conversations/" + id + "/chat"

	status, body := ts.do(t, http.MethodPost, path, `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])

	status, _ = ts.do(t, http.MethodPost, path, `{"message":"hi","max_tokens":0}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodPost, path, `{"message":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodPost, "/api/conversations/missing/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, status)

	ts.mock.AddError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})
	status, body = ts.do(t, http.MethodPost, path, `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, true, body["connectivity"])

	ts.mock.AddError(errors.New("bad answer"))
	status, body = ts.do(t, http.MethodPost, path, `{"message":"hi","stream":false}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Nil(t, body["connectivity"])

	ts.mock.AddError(context.Canceled)
	status, body = ts.do(t, http.MethodPost, path, `{"message":"hi","stream":false}`)
	assert.Equal(t, statusClientClosedRequest, status)
	assert.Contains(t, body["error"], "request canceled")

	ts.mock.SetAvailable("gemma3:12b", false)
	status, _ = ts.do(t, http.MethodPost, "/api/conversations/"+id+"/model/gemma3:12b", "")
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, path, `{"message":"hi","stream":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestChatWithoutModel(t *testing.T) {
	ts := newTestServer(t, false)
	id := ts.newConversation(t)
	status, _ := ts.do(t, http.MethodPost, "/api/conversations/"+id+"/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusConflict, status)
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t, true)

	status, body := ts.do(t, http.MethodPost, "/api/conversations", `{"system_prompt":"be brief"}`)
	require.Equal(t, http.StatusOK, status)
	id := body["conversation_id"].(string)

	status, _ = ts.do(t, http.MethodPut, "/api/conversations/"+id+"/system-prompt", `{"system_prompt":"be verbose"}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPut, "/api/conversations/"+id+"/system-prompt", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	ts.mock.AddTextResponse("sure")
	status, _ = ts.do(t, http.MethodPost, "/api/conversations/"+id+"/chat", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "be verbose", ts.mock.RecordedRequests()[0].SystemPrompt)

	status, body = ts.do(t, http.MethodGet, "/api/conversations/"+id+"/export?format=markdown", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "markdown", body["format"])
	assert.Contains(t, body["content"], "sure")

	status, _ = ts.do(t, http.MethodGet, "/api/conversations/"+id+"/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["conversations"], 1)

	status, _ = ts.do(t, http.MethodPost, "/api/conversations/"+id+"/clear", "")
	require.Equal(t, http.StatusOK, status)
	status, body = ts.do(t, http.MethodGet, "/api/conversations/"+id, "")
	require.Equal(t, http.StatusOK, status)
	c := body["conversation"].(map[string]interface{})
	assert.Empty(t, c["messages"])

	status, _ = ts.do(t, http.MethodDelete, "/api/conversations/"+id, "")
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodGet, "/api/conversations/"+id, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, true)
	ts.newConversation(t)
	status, body := ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, status)
	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["total_conversations"])
}
