// ABOUTME: Anthropic provider adapter built on the official anthropic-sdk-go client.
// ABOUTME: Converts the unified model to Messages API params and back, streaming included.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicAdapter implements ProviderAdapter over the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	name   string
}

// AnthropicConfig configures an AnthropicAdapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// NewAnthropicAdapter builds an adapter from config. The API key is required.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, NewProviderError(KindConfiguration, "anthropic", "API key is required", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...), name: "anthropic"}, nil
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) Close() error { return nil }

// Complete performs a blocking Messages API call.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.wrapError(err)
	}
	return a.convertResponse(msg), nil
}

// Stream performs a streaming Messages API call. Tool call arguments are
// accumulated across input_json_delta events and emitted once complete.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	events := make(chan StreamEvent)

	go func() {
		defer close(events)
		events <- StreamEvent{Type: StreamStart}

		resp := &Response{Model: req.Model, Provider: a.name}
		var text strings.Builder
		var toolCall *ToolCallData
		var toolInput strings.Builder
		finish := FinishReason{Reason: FinishStop}

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				resp.ID = start.Message.ID
				resp.Usage.InputTokens = int(start.Message.Usage.InputTokens)

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					use := block.AsToolUse()
					toolCall = &ToolCallData{ID: use.ID, Name: use.Name}
					toolInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						text.WriteString(delta.Text)
						events <- StreamEvent{Type: StreamTextDelta, Delta: delta.Text}
					}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if toolCall != nil {
					args := toolInput.String()
					if args == "" {
						args = "{}"
					}
					toolCall.Arguments = json.RawMessage(args)
					resp.Message.Content = append(resp.Message.Content, ContentPart{Kind: ContentToolCall, ToolCall: toolCall})
					events <- StreamEvent{Type: StreamToolCall, ToolCall: toolCall}
					finish = FinishReason{Reason: FinishToolCalls, Raw: "tool_use"}
					toolCall = nil
				}

			case "message_delta":
				delta := event.AsMessageDelta()
				if delta.Usage.OutputTokens > 0 {
					resp.Usage.OutputTokens = int(delta.Usage.OutputTokens)
				}
				if delta.Delta.StopReason != "" {
					finish = convertAnthropicStop(string(delta.Delta.StopReason))
				}
			}
		}
		if err := stream.Err(); err != nil {
			events <- StreamEvent{Type: StreamFailed, Err: a.wrapError(err)}
			return
		}

		if text.Len() > 0 {
			resp.Message.Content = append([]ContentPart{TextPart(text.String())}, resp.Message.Content...)
		}
		resp.Message.Role = RoleAssistant
		resp.FinishReason = finish
		resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
		events <- StreamEvent{Type: StreamFinish, FinishReason: &finish, Response: resp}
	}()

	return events, nil
}

// buildParams converts a unified request into Messages API params. System
// messages travel out-of-band and tool roles fold into user messages.
func (a *AnthropicAdapter) buildParams(req Request) (anthropic.MessageNewParams, error) {
	system, rest := ExtractSystemText(req.Messages)

	maxTokens := defaultAnthropicMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	for _, msg := range rest {
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case ContentToolCall:
				var input map[string]any
				if err := json.Unmarshal(part.ToolCall.Arguments, &input); err != nil {
					return params, NewProviderError(KindInvalidRequest, a.name,
						fmt.Sprintf("invalid tool call arguments for %s", part.ToolCall.Name), err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			case ContentToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(
					part.ToolResult.ToolCallID, part.ToolResult.Content, part.ToolResult.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}

	for _, tool := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return params, NewProviderError(KindInvalidRequest, a.name,
				fmt.Sprintf("invalid schema for tool %s", tool.Name), err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	return params, nil
}

func (a *AnthropicAdapter) convertResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		ID:       msg.ID,
		Model:    string(msg.Model),
		Provider: a.name,
		Message:  Message{Role: RoleAssistant},
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		FinishReason: convertAnthropicStop(string(msg.StopReason)),
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Message.Content = append(resp.Message.Content, TextPart(block.Text))
		case "tool_use":
			use := block.AsToolUse()
			resp.Message.Content = append(resp.Message.Content, ContentPart{
				Kind:     ContentToolCall,
				ToolCall: &ToolCallData{ID: use.ID, Name: use.Name, Arguments: json.RawMessage(use.Input)},
			})
		}
	}
	return resp
}

func convertAnthropicStop(raw string) FinishReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return FinishReason{Reason: FinishStop, Raw: raw}
	case "max_tokens":
		return FinishReason{Reason: FinishLength, Raw: raw}
	case "tool_use":
		return FinishReason{Reason: FinishToolCalls, Raw: raw}
	default:
		return FinishReason{Reason: FinishOther, Raw: raw}
	}
}

func (a *AnthropicAdapter) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := ErrorFromStatusCode(a.name, apiErr.StatusCode, apiErr.Error())
		pe.Err = err
		return pe
	}
	return NewProviderError(KindNetwork, a.name, err.Error(), err)
}
