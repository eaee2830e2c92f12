// ABOUTME: Provider router: aggregates tool catalogs, dispatches calls, and fails over.
// ABOUTME: Catalog dedupe is first-wins; routing ties break by priority then insertion order.

package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/porterhq/porter/tools"
	"github.com/porterhq/porter/transcript"
)

// ErrNoProvider is the only router failure surfaced to callers as an error.
// Everything else is reported inside a result envelope.
var ErrNoProvider = errors.New("no provider available for tool")

// Strategy selects how capability-based routing picks a provider.
type Strategy string

const (
	StrategyCapabilityMatch Strategy = "capability_match"
	StrategyPriorityFirst   Strategy = "priority_first"
	StrategyLoadBalance     Strategy = "load_balance"
)

// ServiceInfo summarizes one provider for the services listing.
type ServiceInfo struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Available    bool     `json:"available"`
	Priority     int      `json:"priority"`
}

// Router aggregates tools across providers and dispatches calls to them.
// Provider order is the configured insertion order and never changes.
type Router struct {
	providers []tools.Provider
	strategy  Strategy
	logger    *log.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithStrategy sets the capability routing strategy.
func WithStrategy(s Strategy) Option {
	return func(r *Router) { r.strategy = s }
}

// WithLogger sets the router's logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New builds a router over the given providers, kept in insertion order.
func New(providers []tools.Provider, opts ...Option) *Router {
	r := &Router{
		providers: providers,
		strategy:  StrategyCapabilityMatch,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the providers in configured order.
func (r *Router) Providers() []tools.Provider {
	out := make([]tools.Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Catalog aggregates every available provider's tool list into one snapshot.
// Each descriptor is stamped with its provider id. Names collide first-wins:
// the earlier provider keeps the name and the duplicate is dropped with a
// warning. With providers held fixed the snapshot order is deterministic.
func (r *Router) Catalog(ctx context.Context) []tools.Descriptor {
	var catalog []tools.Descriptor
	seen := make(map[string]string)

	for _, p := range r.providers {
		if !p.Available() {
			continue
		}
		descriptors, err := p.ListTools(ctx)
		if err != nil {
			r.logger.Printf("component=router action=catalog_skip provider=%s err=%v", p.Name(), err)
			continue
		}
		for _, d := range descriptors {
			if owner, dup := seen[d.Name]; dup {
				r.logger.Printf("component=router action=catalog_dedupe tool=%s kept=%s dropped=%s", d.Name, owner, p.Name())
				continue
			}
			d.ProviderID = p.Name()
			seen[d.Name] = p.Name()
			catalog = append(catalog, d)
		}
	}
	return catalog
}

// Call routes a tool invocation to the first provider exposing the name.
// When that provider fails at the transport level the call is retried on the
// remaining providers exposing the same name, and the result is annotated
// with fallback. Tool-reported failures (an error envelope) are returned
// as-is and not retried. Returns ErrNoProvider when no provider lists the
// tool.
func (r *Router) Call(ctx context.Context, name string, args map[string]any) (transcript.Envelope, error) {
	candidates := r.providersForTool(ctx, name)
	if len(candidates) == 0 {
		return transcript.Envelope{}, fmt.Errorf("%w: %s", ErrNoProvider, name)
	}

	var lastErr error
	for i, p := range candidates {
		env, err := p.Call(ctx, name, args)
		if err != nil {
			lastErr = err
			r.logger.Printf("component=router action=call_failover tool=%s provider=%s err=%v", name, p.Name(), err)
			continue
		}
		env.ProviderID = p.Name()
		if i > 0 {
			env.Fallback = true
		}
		return env, nil
	}

	env := transcript.Errorf("all providers failed for %s: %v", name, lastErr)
	env.ProviderID = candidates[len(candidates)-1].Name()
	if len(candidates) > 1 {
		env.Fallback = true
	}
	return env, nil
}

// providersForTool returns the available providers exposing the tool, in
// configured order.
func (r *Router) providersForTool(ctx context.Context, name string) []tools.Provider {
	var out []tools.Provider
	for _, p := range r.providers {
		if !p.Available() {
			continue
		}
		descriptors, err := p.ListTools(ctx)
		if err != nil {
			continue
		}
		for _, d := range descriptors {
			if d.Name == name {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Route picks one available provider for a set of required capability tags
// using the configured strategy. Ties always break by higher priority, then
// insertion order.
func (r *Router) Route(required []string) (tools.Provider, error) {
	available := r.availableProviders()
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: no providers available", ErrNoProvider)
	}

	switch r.strategy {
	case StrategyPriorityFirst:
		return pickBest(available, func(tools.Provider) int { return 0 }), nil
	case StrategyLoadBalance:
		return available[rand.IntN(len(available))], nil
	default:
		return r.routeByCapability(available, required), nil
	}
}

// routeByCapability prefers providers covering every required tag; when none
// does, the provider with the largest overlap wins.
func (r *Router) routeByCapability(available []tools.Provider, required []string) tools.Provider {
	if len(required) == 0 {
		return pickBest(available, func(tools.Provider) int { return 0 })
	}

	var full []tools.Provider
	for _, p := range available {
		if overlap(p.Capabilities(), required) == len(required) {
			full = append(full, p)
		}
	}
	if len(full) > 0 {
		return pickBest(full, func(tools.Provider) int { return 0 })
	}

	return pickBest(available, func(p tools.Provider) int {
		return overlap(p.Capabilities(), required)
	})
}

// pickBest returns the provider maximizing (score, priority), keeping the
// earliest on ties.
func pickBest(providers []tools.Provider, score func(tools.Provider) int) tools.Provider {
	best := providers[0]
	bestScore := score(best)
	for _, p := range providers[1:] {
		s := score(p)
		if s > bestScore || (s == bestScore && p.Priority() > best.Priority()) {
			best = p
			bestScore = s
		}
	}
	return best
}

func overlap(have, want []string) int {
	set := make(map[string]bool, len(have))
	for _, tag := range have {
		set[tag] = true
	}
	n := 0
	for _, tag := range want {
		if set[tag] {
			n++
		}
	}
	return n
}

func (r *Router) availableProviders() []tools.Provider {
	var out []tools.Provider
	for _, p := range r.providers {
		if p.Available() {
			out = append(out, p)
		}
	}
	return out
}

// Services lists every provider with its capability tags and availability.
func (r *Router) Services() []ServiceInfo {
	out := make([]ServiceInfo, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, ServiceInfo{
			Name:         p.Name(),
			Capabilities: p.Capabilities(),
			Available:    p.Available(),
			Priority:     p.Priority(),
		})
	}
	return out
}

// CapabilitiesDetail maps each provider name to its capability tags.
func (r *Router) CapabilitiesDetail() map[string][]string {
	out := make(map[string][]string, len(r.providers))
	for _, p := range r.providers {
		out[p.Name()] = p.Capabilities()
	}
	return out
}

// DisconnectAll disconnects every provider, collecting errors.
func (r *Router) DisconnectAll() error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnecting %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
