// ABOUTME: Shell plugin: execute_shell runs a command to completion, start_process detaches one.
// ABOUTME: Both tools are in the default dangerous set and sit behind the confirmation gate.

package tools

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/porterhq/porter/transcript"
)

// defaultShellTimeout bounds execute_shell when the caller's context has no
// earlier deadline.
const defaultShellTimeout = 120 * time.Second

// ShellPlugin runs shell commands on the host.
type ShellPlugin struct {
	// Timeout overrides the default execute_shell deadline when positive.
	Timeout time.Duration
}

// NewShellPlugin builds a shell plugin with the default timeout.
func NewShellPlugin() *ShellPlugin {
	return &ShellPlugin{Timeout: defaultShellTimeout}
}

// Capabilities returns the plugin's capability tags.
func (p *ShellPlugin) Capabilities() []string {
	return []string{"shell", "process"}
}

// Tools returns the descriptors for the shell tools.
func (p *ShellPlugin) Tools() []Descriptor {
	return []Descriptor{
		{
			Name:        "execute_shell",
			Description: "Run a shell command and wait for it to finish. Returns stdout, stderr, and the exit code.",
			InputSchema: mustSchema(`{"type":"object","properties":{"command":{"type":"string","description":"Command line to run"}},"required":["command"]}`),
		},
		{
			Name:        "start_process",
			Description: "Start a command without waiting for it. Returns the process id.",
			InputSchema: mustSchema(`{"type":"object","properties":{"command":{"type":"string","description":"Command line to start"}},"required":["command"]}`),
		},
	}
}

// Call dispatches a shell tool by name.
func (p *ShellPlugin) Call(ctx context.Context, name string, args map[string]any) transcript.Envelope {
	command, ok := StringArg(args, "command")
	if !ok || command == "" {
		return transcript.Errorf("missing required argument: command")
	}

	switch name {
	case "execute_shell":
		return p.execute(ctx, command)
	case "start_process":
		return p.start(command)
	default:
		return transcript.Errorf("unknown tool: %s", name)
	}
}

func (p *ShellPlugin) execute(ctx context.Context, command string) transcript.Envelope {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return transcript.Errorf("running command: %v", err)
		}
	}

	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}
	if exitCode != 0 {
		env := transcript.Errorf("command exited with code %d", exitCode)
		env.Payload = transcript.Sanitize(result)
		return env
	}
	return transcript.Success(result)
}

func (p *ShellPlugin) start(command string) transcript.Envelope {
	cmd := shellCommand(context.Background(), command)
	if err := cmd.Start(); err != nil {
		return transcript.Errorf("starting command: %v", err)
	}
	pid := cmd.Process.Pid
	// Reap the process in the background so it never zombies.
	go func() { _ = cmd.Wait() }()
	return transcript.Success(map[string]any{"pid": pid, "command": command})
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

var _ Plugin = (*ShellPlugin)(nil)
