// ABOUTME: Tool plugin contract and descriptor types shared by all providers.
// ABOUTME: Plugins register at startup; there is no runtime discovery or reflection.

package tools

import (
	"context"
	"encoding/json"

	"github.com/porterhq/porter/transcript"
)

// Descriptor describes one invokable tool: its name, a free-text description
// for the model, and a JSON-schema object for its arguments. The router stamps
// ProviderID at aggregation time.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	ProviderID  string          `json:"provider_id,omitempty"`
}

// Plugin is the contract each local tool module exposes: capability tags, the
// descriptors of its tools, and a dispatch entry point. Errors inside Call are
// the plugin's to report via an error envelope; panics are caught by the
// provider.
type Plugin interface {
	Capabilities() []string
	Tools() []Descriptor
	Call(ctx context.Context, name string, args map[string]any) transcript.Envelope
}

// Provider is a source of tools the router can dispatch to.
type Provider interface {
	Name() string
	Priority() int
	Capabilities() []string
	Available() bool
	ListTools(ctx context.Context) ([]Descriptor, error)
	Call(ctx context.Context, name string, args map[string]any) (transcript.Envelope, error)
	Disconnect() error
}

// StringArg extracts a string argument, returning ok=false when absent or of
// the wrong type.
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// NumberArg extracts a numeric argument. JSON numbers arrive as float64;
// integer types from direct callers are accepted too.
func NumberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
