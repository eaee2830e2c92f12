// ABOUTME: HTTP surface tests via httptest: envelope shape, routing, session lifecycle.
// ABOUTME: Runner and generator are scripted; the tool router runs over a stub provider.

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/porterhq/porter/agent"
	"github.com/porterhq/porter/router"
	"github.com/porterhq/porter/tools"
	"github.com/porterhq/porter/transcript"
)

type stubProvider struct {
	name    string
	toolSet []string
}

func (p *stubProvider) Name() string           { return p.name }
func (p *stubProvider) Priority() int          { return 1 }
func (p *stubProvider) Capabilities() []string { return []string{"file"} }
func (p *stubProvider) Available() bool        { return true }
func (p *stubProvider) Disconnect() error      { return nil }

func (p *stubProvider) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	out := make([]tools.Descriptor, len(p.toolSet))
	for i, n := range p.toolSet {
		out[i] = tools.Descriptor{Name: n, Description: "stub " + n}
	}
	return out, nil
}

func (p *stubProvider) Call(ctx context.Context, name string, args map[string]any) (transcript.Envelope, error) {
	return transcript.Success(map[string]any{"tool": name}), nil
}

type stubRunner struct {
	outcome agent.Outcome
	lastReq agent.RunOptions
}

func (r *stubRunner) Run(ctx context.Context, session *agent.Session, opts agent.RunOptions) agent.Outcome {
	r.lastReq = opts
	for _, entry := range r.outcome.Results {
		session.Append(entry)
	}
	return r.outcome
}

type stubGenerator struct{}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "echo: " + prompt, nil
}

func (g *stubGenerator) GenerateStream(ctx context.Context, prompt string, sink func(string)) (string, error) {
	sink("echo: ")
	sink(prompt)
	return "echo: " + prompt, nil
}

func newTestServer(t *testing.T, runner Runner) (*Server, *agent.Registry) {
	t.Helper()
	rt := router.New(
		[]tools.Provider{&stubProvider{name: "local", toolSet: []string{"list_directory", "read_file"}}},
		router.WithLogger(log.New(io.Discard, "", 0)),
	)
	registry := agent.NewRegistry()
	if runner == nil {
		runner = &stubRunner{outcome: agent.Outcome{Status: agent.StatusSuccess, FinalSummary: "done"}}
	}
	s := NewServer(ServerConfig{}, rt, runner, &stubGenerator{}, registry, log.New(io.Discard, "", 0))
	return s, registry
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var env envelope
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decoding envelope: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec, env := doJSON(t, s, http.MethodGet, "/health", nil)

	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("code=%d env=%+v", rec.Code, env)
	}
	data := env.Data.(map[string]any)
	if data["status"] != "ok" || data["initialized"] != true {
		t.Errorf("data = %v", data)
	}
	if env.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestToolsList(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec, env := doJSON(t, s, http.MethodGet, "/tools/list", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	list := env.Data.([]any)
	if len(list) != 2 {
		t.Fatalf("got %d tools, want 2", len(list))
	}
	first := list[0].(map[string]any)
	if first["name"] != "list_directory" || first["provider_id"] != "local" {
		t.Errorf("first tool = %v", first)
	}
}

func TestToolsCallRecordsHistory(t *testing.T) {
	s, registry := newTestServer(t, nil)
	rec, env := doJSON(t, s, http.MethodPost, "/tools/call", map[string]any{
		"tool_name": "read_file",
		"arguments": map[string]any{"path": "/tmp/x"},
	})

	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("code=%d env=%+v", rec.Code, env)
	}
	if env.SessionID == "" {
		t.Fatal("session id missing")
	}
	session := registry.Get(env.SessionID)
	if session == nil || len(session.History) != 1 {
		t.Fatalf("history not recorded: %+v", session)
	}
}

func TestToolsCallConcurrentSharedSession(t *testing.T) {
	s, registry := newTestServer(t, nil)

	body := []byte(`{"tool_name":"read_file","arguments":{"path":"/tmp/x"},"session_id":"shared"}`)
	var wg sync.WaitGroup
	codes := make(chan int, 8*10)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				req := httptest.NewRequest(http.MethodPost, "/tools/call", bytes.NewReader(body))
				rec := httptest.NewRecorder()
				s.ServeHTTP(rec, req)
				codes <- rec.Code
			}
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		if code != http.StatusOK {
			t.Fatalf("code = %d", code)
		}
	}
	session := registry.Get("shared")
	if session == nil {
		t.Fatal("shared session missing")
	}
	if got := session.HistoryLen(); got != 80 {
		t.Errorf("history length = %d, want 80", got)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec, env := doJSON(t, s, http.MethodPost, "/tools/call", map[string]any{"tool_name": "ghost"})

	if rec.Code != http.StatusNotFound || env.Success {
		t.Errorf("code=%d env=%+v", rec.Code, env)
	}
}

func TestToolsCallValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec, _ := doJSON(t, s, http.MethodPost, "/tools/call", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestServicesAndCapabilities(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, env := doJSON(t, s, http.MethodGet, "/mcp/services", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	services := env.Data.([]any)
	if len(services) != 1 {
		t.Fatalf("services = %v", services)
	}
	svc := services[0].(map[string]any)
	if svc["name"] != "local" || svc["available"] != true {
		t.Errorf("service = %v", svc)
	}

	rec, env = doJSON(t, s, http.MethodGet, "/mcp/capabilities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	caps := env.Data.(map[string]any)
	if _, ok := caps["local"]; !ok {
		t.Errorf("capabilities = %v", caps)
	}
}

func TestChat(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec, env := doJSON(t, s, http.MethodPost, "/llm/chat", map[string]any{"prompt": "hi"})

	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("code=%d env=%+v", rec.Code, env)
	}
	data := env.Data.(map[string]any)
	if data["response"] != "echo: hi" {
		t.Errorf("response = %v", data["response"])
	}

	rec, _ = doJSON(t, s, http.MethodPost, "/llm/chat", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty prompt code = %d, want 400", rec.Code)
	}
}

func TestCommandExecute(t *testing.T) {
	runner := &stubRunner{outcome: agent.Outcome{
		Status:       agent.StatusSuccess,
		FinalSummary: "listed the directory",
	}}
	s, registry := newTestServer(t, runner)

	rec, env := doJSON(t, s, http.MethodPost, "/command/execute", map[string]any{
		"command":       "list the tmp directory",
		"auto_continue": true,
	})
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("code=%d env=%+v", rec.Code, env)
	}
	if runner.lastReq.MaxSteps != 10 {
		t.Errorf("default max steps = %d, want 10", runner.lastReq.MaxSteps)
	}
	if !runner.lastReq.AutoContinue {
		t.Error("auto_continue not forwarded")
	}
	data := env.Data.(map[string]any)
	if data["final_summary"] != "listed the directory" {
		t.Errorf("data = %v", data)
	}
	if registry.Get(env.SessionID) == nil {
		t.Error("session not created")
	}
}

func TestCommandExecuteErrorOutcome(t *testing.T) {
	runner := &stubRunner{outcome: agent.Outcome{Status: agent.StatusError, FinalSummary: "aborted due to repetition"}}
	s, _ := newTestServer(t, runner)

	rec, env := doJSON(t, s, http.MethodPost, "/command/execute", map[string]any{"command": "loop"})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if env.Success {
		t.Error("error outcome should map to success=false")
	}
}

func TestEventsStream(t *testing.T) {
	emitter := agent.NewEventEmitter()
	rt := router.New(
		[]tools.Provider{&stubProvider{name: "local", toolSet: []string{"read_file"}}},
		router.WithLogger(log.New(io.Discard, "", 0)),
	)
	s := NewServer(ServerConfig{Emitter: emitter}, rt,
		&stubRunner{outcome: agent.Outcome{Status: agent.StatusSuccess}},
		&stubGenerator{}, agent.NewRegistry(), log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.ServeHTTP(rec, req)
		close(done)
	}()

	// The subscriber registers shortly after the handler starts; keep
	// emitting so at least one event lands after that point.
	for i := 0; i < 20; i++ {
		emitter.Emit(agent.EventRunStart, "s1", map[string]any{"goal": "demo"})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content type = %s", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"kind":"run_start"`) {
		t.Errorf("stream missing run_start event: %q", body)
	}
	if !strings.Contains(body, "data: ") {
		t.Error("stream not framed as server-sent events")
	}
}

func TestEventsStreamDisabled(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec, env := doJSON(t, s, http.MethodGet, "/events", nil)
	if rec.Code != http.StatusNotFound || env.Success {
		t.Errorf("code=%d env=%+v", rec.Code, env)
	}
}

func TestSessionManageAndDelete(t *testing.T) {
	s, registry := newTestServer(t, nil)

	// Create via manage.
	_, env := doJSON(t, s, http.MethodPost, "/session/manage", map[string]any{"session_id": "abc"})
	if env.SessionID != "abc" {
		t.Fatalf("env = %+v", env)
	}

	// List.
	_, env = doJSON(t, s, http.MethodPost, "/session/manage", map[string]any{})
	if len(env.Data.([]any)) != 1 {
		t.Errorf("list = %v", env.Data)
	}

	// Clear history.
	sess := registry.Get("abc")
	sess.History = append(sess.History, transcript.NoticeEntry(transcript.NoticeRoutingFailed, "x", transcript.StatusError))
	_, env = doJSON(t, s, http.MethodPost, "/session/manage", map[string]any{"session_id": "abc", "clear_history": true})
	info := env.Data.(map[string]any)
	if info["history_length"] != float64(0) {
		t.Errorf("info = %v", info)
	}

	// Delete.
	rec, _ := doJSON(t, s, http.MethodDelete, "/session/abc", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete code = %d", rec.Code)
	}
	rec, _ = doJSON(t, s, http.MethodDelete, "/session/abc", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete code = %d, want 404", rec.Code)
	}
}

func TestSessionTranscriptHTML(t *testing.T) {
	s, registry := newTestServer(t, nil)
	sess := registry.GetOrCreate("t1")
	sess.Goal = "demo goal"
	entry := transcript.CallEntry(
		transcript.ToolCall{Name: "read_file", Arguments: map[string]any{"path": "/tmp/x"}},
		transcript.Success("contents"),
	)
	entry.Summary = "read the file"
	sess.History = append(sess.History, entry)

	req := httptest.NewRequest(http.MethodGet, "/session/t1/transcript", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("content type = %s", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"demo goal", "read_file", "read the file", "<h1"} {
		if !strings.Contains(body, want) {
			t.Errorf("transcript missing %q", want)
		}
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/ghost/transcript", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("ghost transcript code = %d", rec.Code)
	}
}
