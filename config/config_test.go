// ABOUTME: Tests for config parsing: interpolation, defaults, and validation failures.
// ABOUTME: Uses inline YAML documents; env vars are scoped with t.Setenv.

package config

import (
	"strings"
	"testing"
)

const validDoc = `
llm:
  default: claude
  services:
    claude:
      type: anthropic
      api_key: ${PORTER_TEST_KEY}
      model: claude-sonnet-4-5
      max_tokens: 2048
      temperature: 0.2
mcp:
  routing_strategy: priority_first
  services:
    local:
      type: local
      priority: 10
    browser:
      type: cloud
      url: http://127.0.0.1:9000/mcp
      priority: 5
      capabilities: [browser]
security:
  shell_confirm: true
context:
  max_rounds: 6
`

func TestParseInterpolatesEnv(t *testing.T) {
	t.Setenv("PORTER_TEST_KEY", "sk-test-123")

	cfg, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LLM.Services["claude"].APIKey != "sk-test-123" {
		t.Errorf("api_key = %q, want interpolated value", cfg.LLM.Services["claude"].APIKey)
	}
	if cfg.Context.MaxRounds != 6 {
		t.Errorf("max_rounds = %d", cfg.Context.MaxRounds)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("PORTER_TEST_KEY", "k")
	cfg, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []string{"execute_shell", "start_process"}
	got := cfg.Security.DangerousTools
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("dangerous_tools = %v, want %v", got, want)
	}
	if cfg.Context.MaxTokens != 4096 || cfg.Context.ReservedTokens != 1000 {
		t.Errorf("token defaults = %d/%d", cfg.Context.MaxTokens, cfg.Context.ReservedTokens)
	}
	if cfg.Server.Addr != ":8765" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}

func TestMCPServiceEnabledDefaultsTrue(t *testing.T) {
	t.Setenv("PORTER_TEST_KEY", "k")
	cfg, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.MCP.Services["local"].IsEnabled() {
		t.Error("enabled should default to true")
	}

	cfg2, err := Parse([]byte(strings.Replace(validDoc, "type: local\n", "type: local\n      enabled: false\n", 1)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg2.MCP.Services["local"].IsEnabled() {
		t.Error("explicit enabled: false should stick")
	}
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "default not registered",
			doc: `
llm:
  default: ghost
  services:
    claude: {type: anthropic, api_key: k, model: m}
`,
			want: "llm.default",
		},
		{
			name: "unknown llm type",
			doc: `
llm:
  services:
    x: {type: mystery, model: m}
`,
			want: "unknown type",
		},
		{
			name: "missing api key",
			doc: `
llm:
  services:
    x: {type: openai, model: m}
`,
			want: "api_key",
		},
		{
			name: "bad routing strategy",
			doc: `
mcp:
  routing_strategy: roulette
`,
			want: "routing_strategy",
		},
		{
			name: "cloud provider without url",
			doc: `
mcp:
  services:
    remote: {type: cloud}
`,
			want: "url",
		},
		{
			name: "reserved above limit",
			doc: `
context:
  max_tokens: 500
  reserved_tokens: 600
`,
			want: "reserved_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestInterpolateLeavesUnknownEmpty(t *testing.T) {
	out := interpolate([]byte("key: ${PORTER_DEFINITELY_UNSET_VAR}"))
	if string(out) != "key: " {
		t.Errorf("out = %q", out)
	}
}
