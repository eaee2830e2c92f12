// ABOUTME: HTTP surface for sessions, tools, chat, and command execution behind a chi router.
// ABOUTME: Every response uses one JSON envelope: success, data, message, session_id, timestamp.

package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/porterhq/porter/agent"
	"github.com/porterhq/porter/router"
)

// Generator is the narrow chat interface the /llm/chat endpoint consumes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, sink func(string)) (string, error)
}

// Runner executes a goal-driven loop over a session.
type Runner interface {
	Run(ctx context.Context, session *agent.Session, opts agent.RunOptions) agent.Outcome
}

// ServerConfig holds the configuration for the HTTP server.
type ServerConfig struct {
	Addr            string
	DefaultMaxSteps int

	// Emitter, when set, feeds the /events stream with loop run events.
	Emitter *agent.EventEmitter
}

// Server exposes the orchestrator over HTTP.
type Server struct {
	addr            string
	defaultMaxSteps int
	rt              *router.Router
	runner          Runner
	generator       Generator
	sessions        *agent.Registry
	emitter         *agent.EventEmitter
	mux             chi.Router
	logger          *log.Logger
	initialized     bool
}

// NewServer assembles the HTTP server over the given collaborators.
func NewServer(cfg ServerConfig, rt *router.Router, runner Runner, generator Generator, sessions *agent.Registry, logger *log.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8765"
	}
	if cfg.DefaultMaxSteps < 1 {
		cfg.DefaultMaxSteps = 10
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		addr:            cfg.Addr,
		defaultMaxSteps: cfg.DefaultMaxSteps,
		rt:              rt,
		runner:          runner,
		generator:       generator,
		sessions:        sessions,
		emitter:         cfg.Emitter,
		logger:          logger,
		initialized:     true,
	}
	s.mux = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server with timeouts guarding against slow
// clients.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	s.logger.Printf("component=web action=listen addr=%s", s.addr)
	return srv.ListenAndServe()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/tools/list", s.handleToolsList)
	r.Post("/tools/call", s.handleToolsCall)
	r.Get("/mcp/services", s.handleServices)
	r.Get("/mcp/capabilities", s.handleCapabilities)
	r.Post("/llm/chat", s.handleChat)
	r.Post("/command/execute", s.handleCommandExecute)
	r.Get("/events", s.handleEvents)
	r.Post("/session/manage", s.handleSessionManage)
	r.Delete("/session/{id}", s.handleSessionDelete)
	r.Get("/session/{id}/transcript", s.handleSessionTranscript)
	return r
}

// envelope is the uniform JSON response shape.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
