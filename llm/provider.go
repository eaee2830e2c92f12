// ABOUTME: ProviderAdapter contract plus helpers shared by concrete adapters.
// ABOUTME: Adapters convert the unified request/response model to one vendor's SDK types.

package llm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// ProviderAdapter is implemented once per upstream vendor SDK.
type ProviderAdapter interface {
	// Name returns the provider identifier, e.g. "anthropic" or "openai".
	Name() string

	// Complete performs a blocking completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream performs a streaming completion. The returned channel is closed
	// after the finish or error event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)

	// Close releases adapter resources.
	Close() error
}

// ExtractSystemText pulls system message text out of the conversation and
// returns the remaining messages. Providers that take system prompts
// out-of-band use this before converting.
func ExtractSystemText(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.TextContent()
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// GenerateCallID produces a unique tool call id for providers that omit one.
func GenerateCallID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "call_00000000"
	}
	return "call_" + hex.EncodeToString(b)
}
