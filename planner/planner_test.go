// ABOUTME: Tests for planning, summaries, and shell translation with a scripted adapter.
// ABOUTME: Verifies prompt assembly and tolerant parsing of model output.

package planner

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/porterhq/porter/llm"
	"github.com/porterhq/porter/tools"
	"github.com/porterhq/porter/transcript"
)

// scriptedAdapter returns canned responses and records requests.
type scriptedAdapter struct {
	responses []string
	stream    []string
	requests  []llm.Request
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	text := ""
	if len(s.responses) > 0 {
		text = s.responses[0]
		s.responses = s.responses[1:]
	}
	return &llm.Response{Provider: "scripted", Message: llm.AssistantMessage(text)}, nil
}

func (s *scriptedAdapter) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	s.requests = append(s.requests, req)
	ch := make(chan llm.StreamEvent, len(s.stream)+2)
	ch <- llm.StreamEvent{Type: llm.StreamStart}
	for _, frag := range s.stream {
		ch <- llm.StreamEvent{Type: llm.StreamTextDelta, Delta: frag}
	}
	ch <- llm.StreamEvent{Type: llm.StreamFinish}
	close(ch)
	return ch, nil
}

func (s *scriptedAdapter) Close() error { return nil }

func newPlanner(t *testing.T, adapter *scriptedAdapter) *Planner {
	t.Helper()
	client, err := llm.NewClient(llm.WithProvider(adapter), llm.WithClientLogger(quiet()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return New(client, "test-model", WithLogger(quiet()))
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestPlanNextParsesFencedJSON(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		"```json\n[{\"name\": \"read_file\", \"arguments\": {\"path\": \"/tmp/a\"}}]\n```",
	}}
	p := newPlanner(t, adapter)

	call, err := p.PlanNext(context.Background(), "read the file", "linux", nil, nil)
	if err != nil {
		t.Fatalf("PlanNext: %v", err)
	}
	if call == nil || call.Name != "read_file" {
		t.Fatalf("call = %+v, want read_file", call)
	}
	if call.Arguments["path"] != "/tmp/a" {
		t.Errorf("arguments = %v", call.Arguments)
	}
}

func TestPlanNextEmptyListMeansDone(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"[]"}}
	p := newPlanner(t, adapter)

	call, err := p.PlanNext(context.Background(), "done already", "linux", nil, nil)
	if err != nil {
		t.Fatalf("PlanNext: %v", err)
	}
	if call != nil {
		t.Errorf("call = %+v, want nil for empty plan", call)
	}
}

func TestPlanNextParseFailureMeansNoCall(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"I think we should probably click around."}}
	p := newPlanner(t, adapter)

	call, err := p.PlanNext(context.Background(), "goal", "linux", nil, nil)
	if err != nil {
		t.Fatalf("PlanNext: %v", err)
	}
	if call != nil {
		t.Errorf("call = %+v, want nil on unparseable output", call)
	}
}

func TestPlanNextPromptCarriesContext(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"[]"}}
	p := newPlanner(t, adapter)

	catalog := []tools.Descriptor{{Name: "screenshot", Description: "take a screenshot"}}
	step := transcript.CallEntry(transcript.ToolCall{Name: "screenshot"}, transcript.Success("saved"))
	step.Summary = "took a screenshot"
	history := []transcript.Entry{step}

	if _, err := p.PlanNext(context.Background(), "open the browser", "darwin", catalog, history); err != nil {
		t.Fatalf("PlanNext: %v", err)
	}

	if len(adapter.requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(adapter.requests))
	}
	req := adapter.requests[0]
	var prompt string
	for _, msg := range req.Messages {
		prompt += msg.TextContent() + "\n"
	}
	for _, want := range []string{
		"darwin",
		"screenshot",
		"open the browser",
		"took a screenshot",
		"zero or one tool call",
		"Return [] when the goal is complete",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestStepSummary(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"  The file was read successfully.  "}}
	p := newPlanner(t, adapter)

	call := &transcript.ToolCall{Name: "read_file", Arguments: map[string]any{"path": "/tmp/a"}}
	summary, err := p.StepSummary(context.Background(), "read it", call, transcript.Success("contents"))
	if err != nil {
		t.Fatalf("StepSummary: %v", err)
	}
	if summary != "The file was read successfully." {
		t.Errorf("summary = %q", summary)
	}
}

func TestFinalSummaryStreamsToSink(t *testing.T) {
	adapter := &scriptedAdapter{stream: []string{"All ", "done ", "here."}}
	p := newPlanner(t, adapter)

	var got []string
	summary, err := p.FinalSummary(context.Background(), "goal", nil, func(frag string) {
		got = append(got, frag)
	})
	if err != nil {
		t.Fatalf("FinalSummary: %v", err)
	}
	if summary != "All done here." {
		t.Errorf("summary = %q", summary)
	}
	if len(got) != 3 {
		t.Errorf("sink received %d fragments, want 3", len(got))
	}
}

func TestGenerate(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"pong"}}
	p := newPlanner(t, adapter)

	out, err := p.Generate(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "pong" {
		t.Errorf("out = %q", out)
	}
}

func TestShellCommandStripsFencesAndExtraLines(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"```sh\nls -la /tmp\necho ignored\n```"}}
	p := newPlanner(t, adapter)

	cmd, err := p.ShellCommand(context.Background(), "list temp files", "linux")
	if err != nil {
		t.Fatalf("ShellCommand: %v", err)
	}
	if cmd != "ls -la /tmp" {
		t.Errorf("cmd = %q, want ls -la /tmp", cmd)
	}
}

func TestAnalyzeCapabilitiesFallsBackToKeywords(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"not json at all"}}
	p := newPlanner(t, adapter)

	tags := p.AnalyzeCapabilities(context.Background(), "open the browser and click the button")
	want := []string{"browser", "mouse"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tags[%d] = %s, want %s", i, tags[i], want[i])
		}
	}
}

func TestKeywordCapabilities(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{"read the config file", []string{"file"}},
		{"run a shell command in the terminal", []string{"shell"}},
		{"type the password and press enter", []string{"keyboard"}},
		{"just think about it", nil},
	}
	for _, tt := range tests {
		got := KeywordCapabilities(tt.command)
		if len(got) != len(tt.want) {
			t.Errorf("KeywordCapabilities(%q) = %v, want %v", tt.command, got, tt.want)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("KeywordCapabilities(%q)[%d] = %s, want %s", tt.command, i, got[i], tt.want[i])
			}
		}
	}
}

func TestExtractJSONArrayFromProse(t *testing.T) {
	var calls []plannedCall
	ok := extractJSONArray(`Here is my plan: [{"name": "sleep", "arguments": {"seconds": 5}}] hope that helps`, &calls)
	if !ok || len(calls) != 1 || calls[0].Name != "sleep" {
		t.Fatalf("ok=%v calls=%+v", ok, calls)
	}

	var tags []string
	ok = extractJSONArray(`text with ["bracket in string ]"] inside`, &tags)
	if !ok || len(tags) != 1 || tags[0] != "bracket in string ]" {
		t.Errorf("string-embedded brackets should still parse: ok=%v tags=%v", ok, tags)
	}

	if extractJSONArray("no array here", &calls) {
		t.Error("expected failure with no array")
	}
}
