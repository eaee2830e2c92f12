// ABOUTME: Assembles the runtime from configuration: LLM client, planner, tool
// ABOUTME: providers, router, token window, and the optional audit trail.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/porterhq/porter/agent"
	"github.com/porterhq/porter/audit"
	"github.com/porterhq/porter/config"
	"github.com/porterhq/porter/llm"
	"github.com/porterhq/porter/planner"
	"github.com/porterhq/porter/router"
	"github.com/porterhq/porter/tokens"
	"github.com/porterhq/porter/tools"
)

// app bundles the long-lived collaborators built from one configuration.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	client   *llm.Client
	planner  *planner.Planner
	rt       *router.Router
	sessions *agent.Registry
	emitter  *agent.EventEmitter
	window   *tokens.Window
	trail    *audit.Trail
}

func buildApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	if len(cfg.LLM.Services) == 0 {
		return nil, fmt.Errorf("no LLM services configured; add llm.services to the config file or .env")
	}

	client, adapterNames, err := buildLLMClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	defaultName := cfg.LLM.Default
	if defaultName == "" {
		names := make([]string, 0, len(cfg.LLM.Services))
		for name := range cfg.LLM.Services {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultName = names[0]
	}
	defaultSvc := cfg.LLM.Services[defaultName]

	plannerOpts := []planner.Option{
		planner.WithProvider(adapterNames[defaultName]),
		planner.WithLogger(logger),
	}
	if defaultSvc.Temperature > 0 {
		plannerOpts = append(plannerOpts, planner.WithTemperature(defaultSvc.Temperature))
	}
	if defaultSvc.MaxTokens > 0 {
		plannerOpts = append(plannerOpts, planner.WithMaxTokens(defaultSvc.MaxTokens))
	}
	pl := planner.New(client, defaultSvc.Model, plannerOpts...)

	providers := buildProviders(ctx, cfg, logger)
	rt := router.New(providers,
		router.WithStrategy(router.Strategy(cfg.MCP.RoutingStrategy)),
		router.WithLogger(logger),
	)

	var window *tokens.Window
	if counter, err := tokens.NewCounter(defaultSvc.Model); err != nil {
		logger.Printf("component=cli action=token_counter_unavailable err=%v", err)
	} else {
		window = &tokens.Window{
			Counter:  counter,
			Limit:    cfg.Context.MaxTokens,
			Reserved: cfg.Context.ReservedTokens,
		}
	}

	var trail *audit.Trail
	if cfg.Server.AuditDB != "" {
		trail, err = audit.Open(cfg.Server.AuditDB, logger)
		if err != nil {
			return nil, fmt.Errorf("opening audit trail: %w", err)
		}
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		planner:  pl,
		rt:       rt,
		sessions: agent.NewRegistry(),
		emitter:  agent.NewEventEmitter(),
		window:   window,
		trail:    trail,
	}, nil
}

// buildLLMClient registers one adapter per configured service and returns the
// client plus a service-name to adapter-name mapping for default selection.
func buildLLMClient(cfg *config.Config, logger *log.Logger) (*llm.Client, map[string]string, error) {
	names := make([]string, 0, len(cfg.LLM.Services))
	for name := range cfg.LLM.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	adapterNames := make(map[string]string, len(names))
	opts := []llm.ClientOption{llm.WithClientLogger(logger)}
	for _, name := range names {
		svc := cfg.LLM.Services[name]
		adapter, err := buildAdapter(name, svc)
		if err != nil {
			return nil, nil, fmt.Errorf("llm.services.%s: %w", name, err)
		}
		adapterNames[name] = adapter.Name()
		opts = append(opts, llm.WithProvider(adapter))
	}
	if cfg.LLM.Default != "" {
		opts = append(opts, llm.WithDefaultProvider(adapterNames[cfg.LLM.Default]))
	}

	client, err := llm.NewClient(opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, adapterNames, nil
}

func buildAdapter(name string, svc config.LLMService) (llm.ProviderAdapter, error) {
	switch svc.Type {
	case "anthropic":
		return llm.NewAnthropicAdapter(llm.AnthropicConfig{APIKey: svc.APIKey, BaseURL: svc.BaseURL})
	case "openai":
		return llm.NewOpenAIAdapter(llm.OpenAIConfig{APIKey: svc.APIKey, BaseURL: svc.BaseURL, Name: name})
	case "local":
		// Local gateways speak the Chat Completions dialect and rarely check
		// the key, but the SDK requires one.
		key := svc.APIKey
		if key == "" {
			key = "local"
		}
		return llm.NewOpenAIAdapter(llm.OpenAIConfig{APIKey: key, BaseURL: svc.BaseURL, Name: name})
	default:
		return nil, fmt.Errorf("unknown type %q", svc.Type)
	}
}

// buildProviders assembles the built-in local provider plus every enabled
// cloud MCP service. Connection failures degrade the service to unavailable
// rather than aborting startup.
func buildProviders(ctx context.Context, cfg *config.Config, logger *log.Logger) []tools.Provider {
	var providers []tools.Provider

	localName := "local"
	localPriority := 10
	includeLocal := true
	for name, svc := range cfg.MCP.Services {
		if svc.Type != "local" {
			continue
		}
		localName = name
		if svc.Priority != 0 {
			localPriority = svc.Priority
		}
		includeLocal = svc.IsEnabled()
	}
	if includeLocal {
		plugins := []tools.Plugin{
			tools.NewFilePlugin(cfg.Security.AllowedPaths, cfg.Security.DeniedPaths),
			tools.NewShellPlugin(),
			tools.NewClockPlugin(),
			tools.NewFetchPlugin(),
		}
		providers = append(providers, tools.NewLocalProvider(localName, plugins,
			tools.WithLocalPriority(localPriority),
			tools.WithLocalLogger(logger),
		))
	}

	names := make([]string, 0, len(cfg.MCP.Services))
	for name := range cfg.MCP.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := cfg.MCP.Services[name]
		if svc.Type != "cloud" || !svc.IsEnabled() {
			continue
		}
		opts := []tools.RemoteOption{
			tools.WithRemotePriority(svc.Priority),
			tools.WithRemoteCapabilities(svc.Capabilities),
			tools.WithRemoteLogger(logger),
		}
		if svc.TimeoutSeconds > 0 {
			d := time.Duration(svc.TimeoutSeconds) * time.Second
			opts = append(opts, tools.WithRemoteTimeouts(d, d))
		}
		if svc.APIKey != "" {
			endpoint, key, callTimeout := svc.URL, svc.APIKey, remoteCallTimeout(svc)
			opts = append(opts, tools.WithRemoteTransport(func() mcp.Transport {
				return &mcp.StreamableClientTransport{
					Endpoint: endpoint,
					HTTPClient: &http.Client{
						Timeout:   callTimeout,
						Transport: bearerTransport{key: key},
					},
				}
			}))
		}
		rp := tools.NewRemoteProvider(name, svc.URL, opts...)
		if err := rp.Connect(ctx); err != nil {
			logger.Printf("component=cli action=mcp_connect_failed service=%s err=%v", name, err)
		}
		providers = append(providers, rp)
	}
	return providers
}

func remoteCallTimeout(svc config.MCPService) time.Duration {
	if svc.TimeoutSeconds > 0 {
		return time.Duration(svc.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// bearerTransport stamps an Authorization header on every request.
type bearerTransport struct {
	key string
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.key)
	return http.DefaultTransport.RoundTrip(clone)
}

// newLoop builds a step loop bound to the given interactor. The router,
// planner, window, and audit trail are shared across loops.
func (a *app) newLoop(inter agent.Interactor) *agent.Loop {
	opts := []agent.LoopOption{
		agent.WithLogger(a.logger),
		agent.WithEmitter(a.emitter),
		agent.WithDangerousTools(a.cfg.Security.DangerousTools),
		agent.WithSecurityPolicy(
			a.cfg.Security.ShellConfirm,
			a.cfg.Security.AutoContinueDangerous,
			a.cfg.Security.AutoContinueInteractive,
		),
	}
	if a.window != nil {
		opts = append(opts, agent.WithWindow(a.window))
	}
	if a.trail != nil {
		opts = append(opts, agent.WithRecorder(a.trail))
	}
	if inter != nil {
		opts = append(opts, agent.WithInteractor(inter))
	}
	return agent.NewLoop(a.rt, a.planner, opts...)
}

func (a *app) Close() error {
	var errs []error
	if a.emitter != nil {
		a.emitter.Close()
	}
	if a.trail != nil {
		errs = append(errs, a.trail.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.rt != nil {
		errs = append(errs, a.rt.DisconnectAll())
	}
	return errors.Join(errs...)
}
