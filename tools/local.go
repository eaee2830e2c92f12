// ABOUTME: Local in-process tool provider assembled from registered plugins.
// ABOUTME: Unions capability tags, concatenates descriptors, and dispatches by tool name.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/porterhq/porter/transcript"
)

// LocalProvider serves tools from in-process plugins. The plugin set is fixed
// at construction; list results are pre-assembled and stable.
type LocalProvider struct {
	name        string
	priority    int
	caps        []string
	descriptors []Descriptor
	byName      map[string]Plugin
	logger      *log.Logger

	mu        sync.Mutex
	connected bool
}

// LocalOption configures a LocalProvider.
type LocalOption func(*LocalProvider)

// WithLocalPriority sets the provider's routing priority.
func WithLocalPriority(priority int) LocalOption {
	return func(p *LocalProvider) {
		p.priority = priority
	}
}

// WithLocalLogger sets the logger used for duplicate-tool warnings.
func WithLocalLogger(logger *log.Logger) LocalOption {
	return func(p *LocalProvider) {
		p.logger = logger
	}
}

// NewLocalProvider builds a provider from the given plugins. Capability tags
// are unioned, descriptor lists concatenated in plugin order, and each tool
// name mapped to its owning plugin. A name claimed by two plugins stays with
// the first registrant.
func NewLocalProvider(name string, plugins []Plugin, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		name:      name,
		byName:    make(map[string]Plugin),
		logger:    log.Default(),
		connected: true,
	}
	for _, opt := range opts {
		opt(p)
	}

	capSet := make(map[string]bool)
	for _, plugin := range plugins {
		for _, tag := range plugin.Capabilities() {
			capSet[tag] = true
		}
		for _, desc := range plugin.Tools() {
			if _, taken := p.byName[desc.Name]; taken {
				p.logger.Printf("component=tools provider=%s action=register_skip tool=%s reason=duplicate", name, desc.Name)
				continue
			}
			p.byName[desc.Name] = plugin
			p.descriptors = append(p.descriptors, desc)
		}
	}

	p.caps = make([]string, 0, len(capSet))
	for tag := range capSet {
		p.caps = append(p.caps, tag)
	}
	sort.Strings(p.caps)

	return p
}

// Name returns the provider id.
func (p *LocalProvider) Name() string { return p.name }

// Priority returns the configured routing priority.
func (p *LocalProvider) Priority() int { return p.priority }

// Capabilities returns the union of all plugin capability tags.
func (p *LocalProvider) Capabilities() []string { return p.caps }

// Available reports whether the provider accepts calls.
func (p *LocalProvider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// ListTools returns the pre-assembled descriptor list.
func (p *LocalProvider) ListTools(ctx context.Context) ([]Descriptor, error) {
	out := make([]Descriptor, len(p.descriptors))
	copy(out, p.descriptors)
	return out, nil
}

// Call dispatches to the plugin owning the tool name. Unknown names produce an
// error envelope; a panicking plugin is converted to an error envelope too.
func (p *LocalProvider) Call(ctx context.Context, name string, args map[string]any) (env transcript.Envelope, err error) {
	plugin, ok := p.byName[name]
	if !ok {
		return transcript.Errorf("unknown tool: %s", name), nil
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("component=tools provider=%s action=call_panic tool=%s panic=%v", p.name, name, r)
			env = transcript.Errorf("tool %s panicked: %v", name, r)
			err = nil
		}
	}()

	return plugin.Call(ctx, name, args), nil
}

// Disconnect marks the provider unavailable. It is idempotent.
func (p *LocalProvider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// ensure the interface stays satisfied.
var _ Provider = (*LocalProvider)(nil)

// staticPlugin is a Plugin built from literal parts, used by tests and by
// small single-tool modules that do not warrant a named type.
type staticPlugin struct {
	caps    []string
	tools   []Descriptor
	handler func(ctx context.Context, name string, args map[string]any) transcript.Envelope
}

func (s *staticPlugin) Capabilities() []string { return s.caps }
func (s *staticPlugin) Tools() []Descriptor    { return s.tools }
func (s *staticPlugin) Call(ctx context.Context, name string, args map[string]any) transcript.Envelope {
	return s.handler(ctx, name, args)
}

// NewStaticPlugin builds a plugin from a capability list, descriptors, and a
// dispatch function.
func NewStaticPlugin(caps []string, descriptors []Descriptor, handler func(ctx context.Context, name string, args map[string]any) transcript.Envelope) Plugin {
	if handler == nil {
		handler = func(ctx context.Context, name string, args map[string]any) transcript.Envelope {
			return transcript.Errorf("no handler for tool: %s", name)
		}
	}
	return &staticPlugin{caps: caps, tools: descriptors, handler: handler}
}

// mustSchema keeps plugin schema literals honest at init time.
func mustSchema(s string) []byte {
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(fmt.Sprintf("invalid tool schema: %v", err))
	}
	return []byte(s)
}
