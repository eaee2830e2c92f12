// ABOUTME: HTTP fetch plugin: fetch_url retrieves a page body for the model to inspect.
// ABOUTME: Responses are size-capped and non-2xx statuses become error envelopes.

package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/porterhq/porter/transcript"
)

// maxFetchBytes caps the body read from a fetched URL.
const maxFetchBytes = 256 * 1024

// FetchPlugin retrieves web content over HTTP.
type FetchPlugin struct {
	client *http.Client
}

// NewFetchPlugin builds a fetch plugin with a 30 second request timeout.
func NewFetchPlugin() *FetchPlugin {
	return &FetchPlugin{client: &http.Client{Timeout: 30 * time.Second}}
}

// Capabilities returns the plugin's capability tags.
func (p *FetchPlugin) Capabilities() []string {
	return []string{"browser"}
}

// Tools returns the descriptors for the fetch tools.
func (p *FetchPlugin) Tools() []Descriptor {
	return []Descriptor{
		{
			Name:        "fetch_url",
			Description: "Fetch a URL over HTTP GET and return the response body as text.",
			InputSchema: mustSchema(`{"type":"object","properties":{"url":{"type":"string","description":"Absolute http or https URL"}},"required":["url"]}`),
		},
	}
}

// Call dispatches a fetch tool by name.
func (p *FetchPlugin) Call(ctx context.Context, name string, args map[string]any) transcript.Envelope {
	if name != "fetch_url" {
		return transcript.Errorf("unknown tool: %s", name)
	}
	url, ok := StringArg(args, "url")
	if !ok || url == "" {
		return transcript.Errorf("missing required argument: url")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return transcript.Errorf("url must start with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return transcript.Errorf("building request: %v", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return transcript.Errorf("fetching %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return transcript.Errorf("reading response from %s: %v", url, err)
	}

	result := map[string]any{
		"url":          url,
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		env := transcript.Errorf("fetch returned status %d", resp.StatusCode)
		env.Payload = transcript.Sanitize(result)
		return env
	}
	return transcript.Success(result)
}

var _ Plugin = (*FetchPlugin)(nil)
