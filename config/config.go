// ABOUTME: YAML configuration with environment interpolation, defaults, and validation.
// ABOUTME: Loaded once at startup; a bad document refuses to serve rather than limp.

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// LLMService configures one model provider.
type LLMService struct {
	Type           string  `yaml:"type"` // openai, anthropic, local
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// LLMConfig selects the default provider and holds per-provider settings.
type LLMConfig struct {
	Default  string                `yaml:"default"`
	Services map[string]LLMService `yaml:"services"`
}

// MCPService configures one tool provider.
type MCPService struct {
	Type           string   `yaml:"type"` // local, cloud
	Enabled        *bool    `yaml:"enabled"`
	Priority       int      `yaml:"priority"`
	URL            string   `yaml:"url"`
	APIKey         string   `yaml:"api_key"`
	Capabilities   []string `yaml:"capabilities"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// IsEnabled defaults to true when the flag is omitted.
func (s MCPService) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// MCPConfig holds the routing strategy and the provider set.
type MCPConfig struct {
	RoutingStrategy string                `yaml:"routing_strategy"`
	Services        map[string]MCPService `yaml:"services"`
}

// SecurityConfig controls the dangerous-tool gate.
type SecurityConfig struct {
	ShellConfirm            bool     `yaml:"shell_confirm"`
	AutoContinueDangerous   bool     `yaml:"auto_continue_dangerous"`
	AutoContinueInteractive bool     `yaml:"auto_continue_interactive"`
	DangerousTools          []string `yaml:"dangerous_tools"`
	AllowedPaths            []string `yaml:"allowed_paths"`
	DeniedPaths             []string `yaml:"denied_paths"`
}

// ContextConfig bounds the step loop and the history token window.
type ContextConfig struct {
	MaxRounds      int `yaml:"max_rounds"`
	MaxTokens      int `yaml:"max_tokens"`
	ReservedTokens int `yaml:"reserved_tokens"`
}

// LoggingConfig mirrors the log file rotation settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSize     int    `yaml:"max_size"`
	BackupCount int    `yaml:"backup_count"`
	Format      string `yaml:"format"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	AuditDB string `yaml:"audit_db"`
}

// Config is the whole startup document.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	MCP      MCPConfig      `yaml:"mcp"`
	Security SecurityConfig `yaml:"security"`
	Context  ContextConfig  `yaml:"context"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// interpolate replaces ${VAR} references with environment values. Unset
// variables become empty strings.
func interpolate(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads, interpolates, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(raw)
}

// Parse builds a Config from raw YAML.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(interpolate(raw), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MCP.RoutingStrategy == "" {
		c.MCP.RoutingStrategy = "capability_match"
	}
	if len(c.Security.DangerousTools) == 0 {
		c.Security.DangerousTools = []string{"execute_shell", "start_process"}
	}
	if c.Context.MaxRounds == 0 {
		c.Context.MaxRounds = 10
	}
	if c.Context.MaxTokens == 0 {
		c.Context.MaxTokens = 4096
	}
	if c.Context.ReservedTokens == 0 {
		c.Context.ReservedTokens = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8765"
	}
}

// Validate rejects configurations the process cannot serve with.
func (c *Config) Validate() error {
	if c.LLM.Default != "" {
		if _, ok := c.LLM.Services[c.LLM.Default]; !ok {
			return fmt.Errorf("llm.default %q not present in llm.services", c.LLM.Default)
		}
	}
	for name, svc := range c.LLM.Services {
		switch svc.Type {
		case "openai", "anthropic", "local":
		default:
			return fmt.Errorf("llm.services.%s: unknown type %q", name, svc.Type)
		}
		if svc.Model == "" {
			return fmt.Errorf("llm.services.%s: model is required", name)
		}
		if svc.Type != "local" && svc.APIKey == "" {
			return fmt.Errorf("llm.services.%s: api_key is required", name)
		}
	}

	switch c.MCP.RoutingStrategy {
	case "capability_match", "priority_first", "load_balance":
	default:
		return fmt.Errorf("mcp.routing_strategy: unknown strategy %q", c.MCP.RoutingStrategy)
	}
	for name, svc := range c.MCP.Services {
		switch svc.Type {
		case "local", "cloud":
		default:
			return fmt.Errorf("mcp.services.%s: unknown type %q", name, svc.Type)
		}
		if svc.Type == "cloud" && svc.URL == "" && svc.IsEnabled() {
			return fmt.Errorf("mcp.services.%s: url is required for cloud providers", name)
		}
	}

	if c.Context.MaxRounds < 1 {
		return fmt.Errorf("context.max_rounds must be at least 1")
	}
	if c.Context.ReservedTokens >= c.Context.MaxTokens {
		return fmt.Errorf("context.reserved_tokens must be below context.max_tokens")
	}
	return nil
}
