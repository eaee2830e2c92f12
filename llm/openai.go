// ABOUTME: OpenAI Chat Completions adapter with base URL support for compatible providers.
// ABOUTME: Works against OpenRouter, Cerebras, local gateways, and anything API-compatible.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter implements ProviderAdapter over the Chat Completions API.
// A custom base URL points it at any OpenAI-compatible provider.
type OpenAIAdapter struct {
	client openai.Client
	name   string
}

// OpenAIConfig configures an OpenAIAdapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	// Name overrides the provider identifier, useful when the adapter fronts
	// a compatible gateway rather than OpenAI itself.
	Name string
}

// NewOpenAIAdapter builds an adapter from config. The API key is required.
func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, NewProviderError(KindConfiguration, "openai", "API key is required", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), name: name}, nil
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) Close() error { return nil }

// Complete performs a blocking Chat Completions call.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.wrapError(err)
	}
	return a.convertResponse(resp), nil
}

// Stream performs a streaming Chat Completions call, accumulating chunks so
// the finish event carries the full response.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	events := make(chan StreamEvent)

	go func() {
		defer close(events)
		events <- StreamEvent{Type: StreamStart}

		var acc openai.ChatCompletionAccumulator
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				events <- StreamEvent{Type: StreamTextDelta, Delta: chunk.Choices[0].Delta.Content}
			}
			if tc, ok := acc.JustFinishedToolCall(); ok {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				events <- StreamEvent{Type: StreamToolCall, ToolCall: &ToolCallData{
					ID:        tc.ID,
					Name:      tc.Name,
					Arguments: json.RawMessage(args),
				}}
			}
		}
		if err := stream.Err(); err != nil {
			events <- StreamEvent{Type: StreamFailed, Err: a.wrapError(err)}
			return
		}

		resp := a.convertResponse(&acc.ChatCompletion)
		events <- StreamEvent{Type: StreamFinish, FinishReason: &resp.FinishReason, Response: resp}
	}()

	return events, nil
}

func (a *OpenAIAdapter) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	var messages []openai.ChatCompletionMessageParamUnion
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.TextContent()))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.TextContent()))
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind == ContentToolResult {
					messages = append(messages, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ToolCallID))
				}
			}
		case RoleAssistant:
			converted, err := convertAssistantMessage(msg)
			if err != nil {
				return params, NewProviderError(KindInvalidRequest, a.name, "invalid assistant message", err)
			}
			messages = append(messages, converted)
		}
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				return params, NewProviderError(KindInvalidRequest, a.name,
					fmt.Sprintf("invalid schema for tool %s", tool.Name), err)
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(schema),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

func convertAssistantMessage(msg Message) (openai.ChatCompletionMessageParamUnion, error) {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	text := msg.TextContent()

	for _, part := range msg.Content {
		if part.Kind != ContentToolCall {
			continue
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   part.ToolCall.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      part.ToolCall.Name,
				Arguments: string(part.ToolCall.Arguments),
			},
		})
	}

	if len(toolCalls) > 0 {
		asst := openai.ChatCompletionAssistantMessageParam{
			Role:      "assistant",
			ToolCalls: toolCalls,
		}
		if text != "" {
			asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(text),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	}
	return openai.AssistantMessage(text), nil
}

func (a *OpenAIAdapter) convertResponse(resp *openai.ChatCompletion) *Response {
	result := &Response{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: a.name,
		Message:  Message{Role: RoleAssistant},
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		FinishReason: FinishReason{Reason: FinishStop},
	}
	if len(resp.Choices) == 0 {
		return result
	}

	choice := resp.Choices[0]
	switch choice.FinishReason {
	case "stop":
		result.FinishReason = FinishReason{Reason: FinishStop, Raw: "stop"}
	case "tool_calls":
		result.FinishReason = FinishReason{Reason: FinishToolCalls, Raw: "tool_calls"}
	case "length":
		result.FinishReason = FinishReason{Reason: FinishLength, Raw: "length"}
	case "content_filter":
		result.FinishReason = FinishReason{Reason: FinishContentFilter, Raw: "content_filter"}
	default:
		result.FinishReason = FinishReason{Reason: FinishOther, Raw: choice.FinishReason}
	}

	if choice.Message.Content != "" {
		result.Message.Content = append(result.Message.Content, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = GenerateCallID()
		}
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		result.Message.Content = append(result.Message.Content, ContentPart{
			Kind:     ContentToolCall,
			ToolCall: &ToolCallData{ID: id, Name: tc.Function.Name, Arguments: json.RawMessage(args)},
		})
	}
	return result
}

func (a *OpenAIAdapter) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := ErrorFromStatusCode(a.name, apiErr.StatusCode, apiErr.Error())
		pe.Err = err
		return pe
	}
	return NewProviderError(KindNetwork, a.name, err.Error(), err)
}
