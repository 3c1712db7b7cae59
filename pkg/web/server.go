// Package web exposes the chat orchestrator over HTTP.
//
// Every response is a JSON object with a "success" field. Streaming chat
// turns are answered with text/event-stream frames instead, see sseSink.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5000

	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 1 << 20
)

type Server struct {
	orch          *chat.Orchestrator
	defaultParams backend.Params
	host          string
	port          int
	mux           *http.ServeMux
}

type ServerOption func(*Server)

func WithAddress(host string, port int) ServerOption {
	return func(s *Server) {
		s.host = host
		s.port = port
	}
}

// WithDefaultParams sets the generation parameters used when a chat request
// omits temperature or max_tokens.
func WithDefaultParams(p backend.Params) ServerOption {
	return func(s *Server) {
		s.defaultParams = p
	}
}

func NewServer(orch *chat.Orchestrator, options ...ServerOption) *Server {
	s := &Server{
		orch:          orch,
		defaultParams: backend.Params{Temperature: 0.7, MaxTokens: 2000},
		host:          DefaultHost,
		port:          DefaultPort,
		mux:           http.NewServeMux(),
	}
	for _, o := range options {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	s.mux.HandleFunc("GET /api/models", s.handleListModels)
	s.mux.HandleFunc("POST /api/models/{name}", s.handleSelectModel)

	s.mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.mux.HandleFunc("POST /api/conversations/import", s.handleImportConversation)
	s.mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("POST /api/conversations/{id}/clear", s.handleClearConversation)
	s.mux.HandleFunc("POST /api/conversations/{id}/model/{name}", s.handleBindModel)
	s.mux.HandleFunc("POST /api/conversations/{id}/chat", s.handleChat)
	s.mux.HandleFunc("PUT /api/conversations/{id}/system-prompt", s.handleUpdateSystemPrompt)
	s.mux.HandleFunc("GET /api/conversations/{id}/export", s.handleExport)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Run serves until ctx is canceled, then shuts down gracefully. In-flight
// streams see their request context canceled and abort.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Starting web server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "web server failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down web server")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying flusher.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
