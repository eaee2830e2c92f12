// ABOUTME: Client multiplexes provider adapters behind one Complete/Stream surface.
// ABOUTME: Requests pick a provider by name or fall back to the configured default.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Client routes unified requests to registered provider adapters, applying
// the retry policy around each call.
type Client struct {
	mu              sync.RWMutex
	providers       map[string]ProviderAdapter
	defaultProvider string
	retry           RetryPolicy
	logger          *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers an adapter. The first registered adapter becomes the
// default unless WithDefaultProvider overrides it.
func WithProvider(adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[adapter.Name()] = adapter
		if c.defaultProvider == "" {
			c.defaultProvider = adapter.Name()
		}
	}
}

// WithDefaultProvider sets which provider handles requests that name none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.defaultProvider = name }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = policy }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a client from the given options.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
		retry:     DefaultRetryPolicy(),
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.providers) == 0 {
		return nil, errors.New("llm: no providers registered")
	}
	if _, ok := c.providers[c.defaultProvider]; !ok {
		return nil, fmt.Errorf("llm: default provider %q not registered", c.defaultProvider)
	}
	return c, nil
}

// Providers returns the registered provider names, sorted.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProvider returns the default provider name.
func (c *Client) DefaultProvider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider
}

func (c *Client) resolve(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	adapter, ok := c.providers[name]
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
	return adapter, nil
}

// Complete routes a blocking completion to the requested provider, retrying
// transient failures per the configured policy.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	resp, err := Retry(ctx, c.retry, func() (*Response, error) {
		return adapter.Complete(ctx, req)
	})
	if err != nil {
		c.logger.Printf("component=llm action=complete_failed provider=%s model=%s err=%v", adapter.Name(), req.Model, err)
		return nil, err
	}
	return resp, nil
}

// Stream routes a streaming completion to the requested provider. Streams
// are not retried; transient failures surface as an error event.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	return adapter.Stream(ctx, req)
}

// Close shuts down every registered adapter, collecting errors.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, adapter := range c.providers {
		if err := adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
