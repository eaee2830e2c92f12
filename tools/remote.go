// ABOUTME: Remote tool provider speaking MCP over a streamable HTTP session.
// ABOUTME: Connect performs the initialize handshake with retries; calls get a bounded retry budget.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/porterhq/porter/transcript"
)

// RemoteProvider forwards tool calls to a remote MCP server. The session
// lifecycle is disconnected -> connecting -> ready; there is no background
// reconnection.
type RemoteProvider struct {
	name           string
	endpoint       string
	priority       int
	caps           []string
	connectTimeout time.Duration
	callTimeout    time.Duration
	maxRetries     int
	callRetries    int
	retryDelay     time.Duration
	logger         *log.Logger

	// transport is swappable so tests can connect over in-memory pipes.
	transport func() mcp.Transport

	// connectMu serializes Connect so concurrent callers cannot dial twice.
	connectMu sync.Mutex

	mu          sync.Mutex
	session     *mcp.ClientSession
	remoteTools []Descriptor
}

// RemoteOption configures a RemoteProvider.
type RemoteOption func(*RemoteProvider)

// WithRemotePriority sets the provider's routing priority.
func WithRemotePriority(priority int) RemoteOption {
	return func(p *RemoteProvider) { p.priority = priority }
}

// WithRemoteCapabilities sets the configured capability tags.
func WithRemoteCapabilities(caps []string) RemoteOption {
	return func(p *RemoteProvider) { p.caps = caps }
}

// WithRemoteTimeouts sets the per-stage connect timeout and per-call timeout.
func WithRemoteTimeouts(connect, call time.Duration) RemoteOption {
	return func(p *RemoteProvider) {
		p.connectTimeout = connect
		p.callTimeout = call
	}
}

// WithRemoteRetries sets the connect attempt budget, the per-call retry
// budget, and the delay between call attempts.
func WithRemoteRetries(connectAttempts, callRetries int, delay time.Duration) RemoteOption {
	return func(p *RemoteProvider) {
		p.maxRetries = connectAttempts
		p.callRetries = callRetries
		p.retryDelay = delay
	}
}

// WithRemoteLogger sets the provider's logger.
func WithRemoteLogger(logger *log.Logger) RemoteOption {
	return func(p *RemoteProvider) { p.logger = logger }
}

// WithRemoteTransport overrides how the underlying MCP transport is built.
// Tests use this to connect over in-memory pipes.
func WithRemoteTransport(fn func() mcp.Transport) RemoteOption {
	return func(p *RemoteProvider) { p.transport = fn }
}

// NewRemoteProvider builds a provider for the given MCP endpoint. The provider
// starts disconnected; call Connect before routing to it.
func NewRemoteProvider(name, endpoint string, opts ...RemoteOption) *RemoteProvider {
	p := &RemoteProvider{
		name:           name,
		endpoint:       endpoint,
		connectTimeout: 10 * time.Second,
		callTimeout:    60 * time.Second,
		maxRetries:     3,
		callRetries:    2,
		retryDelay:     time.Second,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.transport == nil {
		p.transport = func() mcp.Transport {
			return &mcp.StreamableClientTransport{
				Endpoint:   p.endpoint,
				HTTPClient: &http.Client{Timeout: p.callTimeout},
			}
		}
	}
	return p
}

// Name returns the provider id.
func (p *RemoteProvider) Name() string { return p.name }

// Priority returns the configured routing priority.
func (p *RemoteProvider) Priority() int { return p.priority }

// Capabilities returns the configured capability tags.
func (p *RemoteProvider) Capabilities() []string { return p.caps }

// Available reports whether a session is open.
func (p *RemoteProvider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// Connect opens the streamable transport and performs the initialize
// handshake, retrying up to the attempt budget. On success the remote tool
// catalog is fetched immediately; a listing failure leaves the catalog empty
// but keeps the connection open, since the server may expose tools later.
func (p *RemoteProvider) Connect(ctx context.Context) error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	// A second caller waits out the dial above and then sees its session.
	p.mu.Lock()
	if p.session != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	client := mcp.NewClient(&mcp.Implementation{Name: "porter", Version: "1.0.0"}, nil)

	var session *mcp.ClientSession
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
		session, lastErr = client.Connect(attemptCtx, p.transport(), nil)
		cancel()
		if lastErr == nil {
			break
		}
		p.logger.Printf("component=tools provider=%s action=connect_retry attempt=%d err=%v", p.name, attempt+1, lastErr)
	}
	if lastErr != nil {
		return fmt.Errorf("connecting to %s: %w", p.endpoint, lastErr)
	}

	p.mu.Lock()
	p.session = session
	p.mu.Unlock()

	listCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	descriptors, err := p.fetchTools(listCtx, session)
	if err != nil {
		p.logger.Printf("component=tools provider=%s action=initial_list_failed err=%v", p.name, err)
		descriptors = nil
	}

	p.mu.Lock()
	p.remoteTools = descriptors
	p.mu.Unlock()
	return nil
}

// ListTools fetches the server's current tool catalog. The cached copy from
// connect time is returned when the fetch fails but a session is open.
func (p *RemoteProvider) ListTools(ctx context.Context) ([]Descriptor, error) {
	p.mu.Lock()
	session := p.session
	cached := p.remoteTools
	p.mu.Unlock()

	if session == nil {
		return nil, fmt.Errorf("provider %s is not connected", p.name)
	}

	descriptors, err := p.fetchTools(ctx, session)
	if err != nil {
		p.logger.Printf("component=tools provider=%s action=list_failed err=%v", p.name, err)
		return cached, nil
	}

	p.mu.Lock()
	p.remoteTools = descriptors
	p.mu.Unlock()
	return descriptors, nil
}

func (p *RemoteProvider) fetchTools(ctx context.Context, session *mcp.ClientSession) ([]Descriptor, error) {
	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		var schema json.RawMessage
		if tool.InputSchema != nil {
			if encoded, err := json.Marshal(tool.InputSchema); err == nil {
				schema = encoded
			}
		}
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return descriptors, nil
}

// Call forwards one tool invocation over the session, retrying transport
// errors up to the call retry budget with a fixed delay. Fallback to other
// providers is the router's job, not this provider's.
func (p *RemoteProvider) Call(ctx context.Context, name string, args map[string]any) (transcript.Envelope, error) {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()

	if session == nil {
		return transcript.Envelope{}, fmt.Errorf("provider %s is not connected", p.name)
	}

	var lastErr error
	for attempt := 0; attempt <= p.callRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return transcript.Envelope{}, ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		result, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: name, Arguments: args})
		cancel()
		if err != nil {
			lastErr = err
			p.logger.Printf("component=tools provider=%s action=call_retry tool=%s attempt=%d err=%v", p.name, name, attempt+1, err)
			continue
		}
		return envelopeFromResult(result), nil
	}

	return transcript.Envelope{}, fmt.Errorf("calling %s on %s: %w", name, p.name, lastErr)
}

// Disconnect closes the session. It is idempotent: a second call is a no-op.
func (p *RemoteProvider) Disconnect() error {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.remoteTools = nil
	p.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

var _ Provider = (*RemoteProvider)(nil)

// envelopeFromResult collapses an MCP CallToolResult into the normalized
// envelope shape: textual content blocks concatenated, structured content
// appended as a trailing annotation, is_error mapped onto the status.
func envelopeFromResult(result *mcp.CallToolResult) transcript.Envelope {
	var parts []string
	for _, block := range result.Content {
		if text, ok := block.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	payload := strings.Join(parts, "\n")

	if result.StructuredContent != nil {
		if encoded, err := json.Marshal(transcript.Sanitize(result.StructuredContent)); err == nil {
			if payload != "" {
				payload += "\n"
			}
			payload += string(encoded)
		}
	}

	if result.IsError {
		return transcript.Envelope{Status: transcript.StatusError, Payload: payload, ErrorMessage: payload}
	}
	return transcript.Envelope{Status: transcript.StatusSuccess, Payload: payload}
}
