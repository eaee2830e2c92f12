// ABOUTME: Tests for the remote MCP provider using in-memory transports.
// ABOUTME: Covers connect, catalog listing, call normalization, error results, and disconnect.

package tools

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/porterhq/porter/transcript"
)

// startTestServer runs an MCP server over an in-memory pipe and returns a
// connected RemoteProvider plus a cleanup function.
func startTestServer(t *testing.T, configure func(*mcp.Server)) *RemoteProvider {
	t.Helper()
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: "testserver", Version: "0.1.0"}, nil)
	if configure != nil {
		configure(server)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	provider := NewRemoteProvider("remote", "inmemory://test",
		WithRemoteLogger(quietLogger()),
		WithRemoteCapabilities([]string{"browser"}),
		WithRemoteTransport(func() mcp.Transport { return clientTransport }),
	)
	if err := provider.Connect(ctx); err != nil {
		t.Fatalf("provider connect: %v", err)
	}
	t.Cleanup(func() { _ = provider.Disconnect() })
	return provider
}

func addEchoTool(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the input back.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		text, _ := args["text"].(string)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "echo: " + text}},
		}, nil, nil
	})
}

func TestRemoteProviderConcurrentConnectDialsOnce(t *testing.T) {
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: "testserver", Version: "0.1.0"}, nil)
	addEchoTool(server)
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	var dials atomic.Int32
	provider := NewRemoteProvider("remote", "inmemory://test",
		WithRemoteLogger(quietLogger()),
		WithRemoteTransport(func() mcp.Transport {
			dials.Add(1)
			return clientTransport
		}),
	)
	t.Cleanup(func() { _ = provider.Disconnect() })

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- provider.Connect(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if got := dials.Load(); got != 1 {
		t.Errorf("transport dialed %d times, want 1", got)
	}
	if !provider.Available() {
		t.Error("provider should be connected")
	}
}

func TestRemoteProviderListsToolsAfterConnect(t *testing.T) {
	provider := startTestServer(t, addEchoTool)

	if !provider.Available() {
		t.Fatal("provider should be available after connect")
	}

	descriptors, err := provider.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].Name != "echo" {
		t.Fatalf("descriptors = %+v, want one echo tool", descriptors)
	}
	if descriptors[0].Description != "Echo the input back." {
		t.Errorf("description = %q", descriptors[0].Description)
	}
}

func TestRemoteProviderCall(t *testing.T) {
	provider := startTestServer(t, addEchoTool)

	env, err := provider.Call(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if env.Status != transcript.StatusSuccess {
		t.Errorf("status = %s, want success", env.Status)
	}
	payload, _ := env.Payload.(string)
	if payload != "echo: hello" {
		t.Errorf("payload = %q, want echo: hello", payload)
	}
}

func TestRemoteProviderErrorResult(t *testing.T) {
	provider := startTestServer(t, func(server *mcp.Server) {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "fails",
			Description: "Always reports a tool-level failure.",
		}, func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "remote failure"}},
			}, nil, nil
		})
	})

	env, err := provider.Call(context.Background(), "fails", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if env.Status != transcript.StatusError {
		t.Errorf("status = %s, want error", env.Status)
	}
	if !strings.Contains(env.ErrorMessage, "remote failure") {
		t.Errorf("error message = %q, want remote failure", env.ErrorMessage)
	}
}

func TestRemoteProviderCallWhileDisconnected(t *testing.T) {
	provider := NewRemoteProvider("remote", "http://127.0.0.1:0", WithRemoteLogger(quietLogger()))

	if provider.Available() {
		t.Error("provider should start disconnected")
	}
	if _, err := provider.Call(context.Background(), "echo", nil); err == nil {
		t.Error("expected error calling a disconnected provider")
	}
}

func TestRemoteProviderDisconnectIdempotent(t *testing.T) {
	provider := startTestServer(t, addEchoTool)

	if err := provider.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := provider.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if provider.Available() {
		t.Error("provider still available after disconnect")
	}
}

func TestEnvelopeFromResultConcatenatesBlocks(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "first"},
			&mcp.TextContent{Text: "second"},
		},
		StructuredContent: map[string]any{"count": 2},
	}

	env := envelopeFromResult(result)
	if env.Status != transcript.StatusSuccess {
		t.Errorf("status = %s, want success", env.Status)
	}
	payload := env.Payload.(string)
	for _, want := range []string{"first", "second", `"count":2`} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload %q missing %q", payload, want)
		}
	}
}
