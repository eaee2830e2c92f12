// ABOUTME: Request handlers for the HTTP surface: health, tools, chat, commands, sessions.
// ABOUTME: Session transcripts render to HTML through goldmark.

package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/porterhq/porter/agent"
	"github.com/porterhq/porter/transcript"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"status": "ok", "initialized": s.initialized})
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.rt.Catalog(r.Context()))
}

type toolsCallRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id"`
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request) {
	var req toolsCallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	session := s.sessions.GetOrCreate(req.SessionID)
	env, err := s.rt.Call(r.Context(), req.ToolName, req.Arguments)
	if err != nil {
		writeJSON(w, http.StatusNotFound, envelope{
			Success:   false,
			Message:   err.Error(),
			SessionID: session.ID,
		})
		return
	}
	session.Append(transcript.CallEntry(
		transcript.ToolCall{Name: req.ToolName, Arguments: req.Arguments}, env))

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: env, SessionID: session.ID})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.rt.Services())
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.rt.CapabilitiesDetail())
}

type chatRequest struct {
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	var response string
	var err error
	if req.Stream {
		var parts []string
		response, err = s.generator.GenerateStream(r.Context(), req.Prompt, func(frag string) {
			parts = append(parts, frag)
		})
	} else {
		response, err = s.generator.Generate(r.Context(), req.Prompt)
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOK(w, map[string]any{"response": response, "stream": req.Stream})
}

type commandRequest struct {
	Command      string `json:"command"`
	SessionID    string `json:"session_id"`
	AutoContinue bool   `json:"auto_continue"`
	MaxSteps     int    `json:"max_steps"`
}

func (s *Server) handleCommandExecute(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if req.MaxSteps < 1 {
		req.MaxSteps = s.defaultMaxSteps
	}

	session := s.sessions.GetOrCreate(req.SessionID)
	session.SetGoal(req.Command)
	outcome := s.runner.Run(r.Context(), session, agent.RunOptions{
		MaxSteps:     req.MaxSteps,
		AutoContinue: req.AutoContinue,
	})

	writeJSON(w, http.StatusOK, envelope{
		Success:   outcome.Status != agent.StatusError,
		Data:      outcome,
		SessionID: session.ID,
	})
}

// handleEvents streams loop run events over server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.emitter == nil {
		writeError(w, http.StatusNotFound, "event stream not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := s.emitter.Subscribe()
	defer s.emitter.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type sessionManageRequest struct {
	SessionID    string `json:"session_id"`
	ClearHistory bool   `json:"clear_history"`
}

type sessionInfo struct {
	ID             string `json:"id"`
	Goal           string `json:"goal"`
	HistoryLength  int    `json:"history_length"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
}

func infoFor(s *agent.Session) sessionInfo {
	return sessionInfo{
		ID:             s.ID,
		Goal:           s.CurrentGoal(),
		HistoryLength:  s.HistoryLen(),
		CreatedAt:      s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		LastActivityAt: s.LastActivity().UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleSessionManage(w http.ResponseWriter, r *http.Request) {
	var req sessionManageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// No id: list every live session.
	if req.SessionID == "" {
		sessions := s.sessions.List()
		infos := make([]sessionInfo, len(sessions))
		for i, sess := range sessions {
			infos[i] = infoFor(sess)
		}
		writeOK(w, infos)
		return
	}

	session := s.sessions.GetOrCreate(req.SessionID)
	if req.ClearHistory {
		s.sessions.ClearHistory(session.ID)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: infoFor(session), SessionID: session.ID})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeOK(w, map[string]any{"deleted": id})
}

// handleSessionTranscript renders a session's history as HTML.
func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session := s.sessions.Get(id)
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# Session %s\n\n**Goal:** %s\n\n", session.ID, session.CurrentGoal())
	for i, entry := range session.Snapshot() {
		fmt.Fprintf(&md, "## Step %d: %s\n\n", i+1, entry.Label())
		fmt.Fprintf(&md, "- status: `%s`\n", entry.Result.Status)
		if entry.Result.ProviderID != "" {
			fmt.Fprintf(&md, "- provider: `%s`\n", entry.Result.ProviderID)
		}
		if entry.Result.ErrorMessage != "" {
			fmt.Fprintf(&md, "- error: %s\n", entry.Result.ErrorMessage)
		}
		if entry.Summary != "" {
			fmt.Fprintf(&md, "\n%s\n", entry.Summary)
		}
		md.WriteString("\n")
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &html); err != nil {
		writeError(w, http.StatusInternalServerError, "rendering transcript: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html.Bytes())
}
