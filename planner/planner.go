// ABOUTME: LLM-backed planning: next tool call, step and final summaries, shell translation.
// ABOUTME: Prompts carry the OS tag, the tool catalog, and the rendered history.

package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/porterhq/porter/llm"
	"github.com/porterhq/porter/tools"
	"github.com/porterhq/porter/transcript"
)

// Planner drives planning and summarization through an llm.Client.
type Planner struct {
	client      *llm.Client
	model       string
	provider    string
	temperature *float64
	maxTokens   *int
	logger      *log.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithProvider pins planning calls to a named provider.
func WithProvider(name string) Option {
	return func(p *Planner) { p.provider = name }
}

// WithTemperature sets the sampling temperature for planning calls.
func WithTemperature(t float64) Option {
	return func(p *Planner) { p.temperature = &t }
}

// WithMaxTokens caps model output per call.
func WithMaxTokens(n int) Option {
	return func(p *Planner) { p.maxTokens = &n }
}

// WithLogger sets the planner's logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Planner) { p.logger = logger }
}

// New builds a planner over the given client and model.
func New(client *llm.Client, model string, opts ...Option) *Planner {
	p := &Planner{
		client: client,
		model:  model,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) request(messages ...llm.Message) llm.Request {
	return llm.Request{
		Model:       p.model,
		Provider:    p.provider,
		Messages:    messages,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
}

const planSystemPrompt = `You are a task automation planner. You select at most one tool call per step.
Rules:
- Output a JSON list containing zero or one tool call: [{"name": "...", "arguments": {...}}]
- Return [] when the goal is complete or no tool applies.
- Avoid repeating a call that just succeeded without progress.
- Output only the JSON list, nothing else.`

// PlanNext asks the model for the next tool call given the goal, the catalog,
// and the (already truncated) history. Returns nil when the model signals
// completion or its output cannot be parsed.
func (p *Planner) PlanNext(ctx context.Context, goal, osTag string, catalog []tools.Descriptor, history []transcript.Entry) (*transcript.ToolCall, error) {
	catalogJSON, err := json.Marshal(catalog)
	if err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}

	prompt := fmt.Sprintf(`Operating system: %s

Available tools:
%s

Execution history:
%s

Goal: %s

Decide the next step. Output a JSON list containing zero or one tool call. Return [] when the goal is complete.`,
		osTag, catalogJSON, transcript.Render(history), goal)

	resp, err := p.client.Complete(ctx, p.request(llm.SystemMessage(planSystemPrompt), llm.UserMessage(prompt)))
	if err != nil {
		return nil, err
	}

	var planned []plannedCall
	if !extractJSONArray(resp.TextContent(), &planned) {
		p.logger.Printf("component=planner action=plan_parse_failed model=%s", p.model)
		return nil, nil
	}
	if len(planned) == 0 || planned[0].Name == "" {
		return nil, nil
	}
	return &transcript.ToolCall{Name: planned[0].Name, Arguments: planned[0].Arguments}, nil
}

// StepSummary produces a one-or-two sentence summary of a single executed step.
func (p *Planner) StepSummary(ctx context.Context, goal string, call *transcript.ToolCall, result transcript.Envelope) (string, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	prompt := fmt.Sprintf(`Goal: %s

A tool was just executed.
Call: %s
Result: %s

Summarize in one or two sentences what happened and what it means for the goal. Plain text only.`,
		goal, call.Signature(), resultJSON)

	resp, err := p.client.Complete(ctx, p.request(llm.UserMessage(prompt)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.TextContent()), nil
}

// FinalSummary produces a closing summary of the whole run. When sink is
// non-nil each text fragment is forwarded to it as it streams.
func (p *Planner) FinalSummary(ctx context.Context, goal string, history []transcript.Entry, sink func(string)) (string, error) {
	prompt := fmt.Sprintf(`Goal: %s

Execution history:
%s

Write a final summary for the user: what was done, what the outcome is, and anything left incomplete. Plain text only.`,
		goal, transcript.Render(history))

	if sink == nil {
		resp, err := p.client.Complete(ctx, p.request(llm.UserMessage(prompt)))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(resp.TextContent()), nil
	}
	return p.streamText(ctx, p.request(llm.UserMessage(prompt)), sink)
}

// Generate is a primitive completion for pass-through chat.
func (p *Planner) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Complete(ctx, p.request(llm.UserMessage(prompt)))
	if err != nil {
		return "", err
	}
	return resp.TextContent(), nil
}

// GenerateStream is a primitive streamed completion. Fragments go to sink and
// the full text is returned.
func (p *Planner) GenerateStream(ctx context.Context, prompt string, sink func(string)) (string, error) {
	return p.streamText(ctx, p.request(llm.UserMessage(prompt)), sink)
}

func (p *Planner) streamText(ctx context.Context, req llm.Request, sink func(string)) (string, error) {
	events, err := p.client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var text strings.Builder
	for ev := range events {
		switch ev.Type {
		case llm.StreamTextDelta:
			text.WriteString(ev.Delta)
			if sink != nil {
				sink(ev.Delta)
			}
		case llm.StreamFailed:
			return text.String(), ev.Err
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// ShellCommand translates a natural-language request into a single shell
// command for the given OS. The result is the bare command line.
func (p *Planner) ShellCommand(ctx context.Context, goal, osTag string) (string, error) {
	prompt := fmt.Sprintf(`Translate this request into exactly one shell command for %s.
Output only the command, no explanation, no code fences.

Request: %s`, osTag, goal)

	resp, err := p.client.Complete(ctx, p.request(llm.UserMessage(prompt)))
	if err != nil {
		return "", err
	}
	cmd := stripFences(resp.TextContent())
	if idx := strings.Index(cmd, "\n"); idx >= 0 {
		cmd = cmd[:idx]
	}
	return strings.TrimSpace(cmd), nil
}

// capabilityKeywords backs the non-LLM fallback for capability analysis.
var capabilityKeywords = map[string][]string{
	"file":     {"file", "directory", "folder", "read", "write", "save"},
	"browser":  {"browser", "url", "website", "web", "http", "page"},
	"process":  {"process", "launch", "start", "kill", "application"},
	"mouse":    {"mouse", "click", "drag", "scroll"},
	"keyboard": {"keyboard", "type", "press", "key"},
	"shell":    {"shell", "command", "terminal", "script"},
}

// AnalyzeCapabilities infers which capability tags a command needs. The model
// is asked first; when its output is unusable the keyword scan decides.
func (p *Planner) AnalyzeCapabilities(ctx context.Context, command string) []string {
	prompt := fmt.Sprintf(`Which capability tags does this request need? Choose from: file, browser, process, mouse, keyboard, shell.
Output a JSON list of tags, nothing else.

Request: %s`, command)

	resp, err := p.client.Complete(ctx, p.request(llm.UserMessage(prompt)))
	if err == nil {
		var tags []string
		if extractJSONArray(resp.TextContent(), &tags) && len(tags) > 0 {
			return tags
		}
	} else {
		p.logger.Printf("component=planner action=capability_fallback err=%v", err)
	}
	return KeywordCapabilities(command)
}

// KeywordCapabilities scans the command for capability keywords. Tags come
// back in a fixed order so callers see deterministic results.
func KeywordCapabilities(command string) []string {
	lowered := strings.ToLower(command)
	var tags []string
	for _, tag := range []string{"file", "browser", "process", "mouse", "keyboard", "shell"} {
		for _, kw := range capabilityKeywords[tag] {
			if strings.Contains(lowered, kw) {
				tags = append(tags, tag)
				break
			}
		}
	}
	return tags
}
