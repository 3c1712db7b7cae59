package web

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.Store().Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"stats":         stats,
		"current_model": s.orch.CurrentModel(),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	statuses, current := s.orch.ListModels()
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, st.Name)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"models":        names,
		"details":       statuses,
		"current_model": current,
	})
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	b, err := s.orch.SelectModel(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"model":     b.Model,
		"available": b.Available,
		"reason":    b.Reason,
	})
}

func (s *Server) handleBindModel(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.BindConversation(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"model":     b.Model,
		"available": b.Available,
		"reason":    b.Reason,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.orch.Store().List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"conversations": summaries,
	})
}

type createConversationRequest struct {
	SystemPrompt *string `json:"system_prompt"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	c, err := s.orch.NewConversation(r.Context(), req.SystemPrompt)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"conversation_id": c.ID,
	})
}

func (s *Server) handleImportConversation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	c, err := s.orch.Store().Import(r.Context(), body)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"conversation_id": c.ID,
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.orch.Store().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"conversation": c,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Clear(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type systemPromptRequest struct {
	SystemPrompt *string `json:"system_prompt"`
}

func (s *Server) handleUpdateSystemPrompt(w http.ResponseWriter, r *http.Request) {
	var req systemPromptRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.SystemPrompt == nil {
		writeErr(w, errors.Wrap(errBadRequest, "system_prompt is required"))
		return
	}
	if err := s.orch.Store().UpdateSystemPrompt(r.Context(), r.PathValue("id"), *req.SystemPrompt); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(conversation.FormatJSON)
	}
	format, err := conversation.ParseFormat(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	content, err := s.orch.Store().Export(r.Context(), r.PathValue("id"), format)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"content": content,
		"format":  format,
	})
}

type chatRequest struct {
	Message     string   `json:"message"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

func (s *Server) params(req chatRequest) backend.Params {
	p := s.defaultParams
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		p.MaxTokens = *req.MaxTokens
	}
	return p
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	params := s.params(req)

	if !req.Stream {
		reply, err := s.orch.Send(r.Context(), id, req.Message, params)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":         true,
			"response":        reply,
			"conversation_id": id,
		})
		return
	}

	sink := newSSESink(w)
	_, err := s.orch.SendStream(r.Context(), id, req.Message, params, sink)
	if err == nil {
		return
	}
	if !sink.started {
		writeErr(w, err)
		return
	}
	if errors.Is(err, chat.ErrStreamAborted) {
		log.Debug().Err(err).Str("conversation_id", id).Msg("stream aborted")
		return
	}
	sink.fail(err)
}
