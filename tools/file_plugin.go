// ABOUTME: File operations plugin: list_directory, read_file, write_file.
// ABOUTME: Every path is checked against allow/deny prefix lists before touching disk.

package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/porterhq/porter/transcript"
)

// maxReadBytes bounds read_file so a single tool result cannot swamp history.
const maxReadBytes = 512 * 1024

// FilePlugin exposes basic filesystem tools guarded by a path policy.
type FilePlugin struct {
	// AllowedPaths, when non-empty, restricts access to these prefixes.
	AllowedPaths []string
	// DeniedPaths always win over allowed prefixes.
	DeniedPaths []string
}

// NewFilePlugin builds a file plugin with the given path policy. Both lists
// hold absolute path prefixes; an empty allow list permits everything not
// denied.
func NewFilePlugin(allowed, denied []string) *FilePlugin {
	return &FilePlugin{AllowedPaths: allowed, DeniedPaths: denied}
}

// Capabilities returns the plugin's capability tags.
func (p *FilePlugin) Capabilities() []string {
	return []string{"file"}
}

// Tools returns the descriptors for the file tools.
func (p *FilePlugin) Tools() []Descriptor {
	return []Descriptor{
		{
			Name:        "list_directory",
			Description: "List the entries of a directory. Returns names with a trailing slash for subdirectories.",
			InputSchema: mustSchema(`{"type":"object","properties":{"path":{"type":"string","description":"Directory to list"}},"required":["path"]}`),
		},
		{
			Name:        "read_file",
			Description: "Read a text file and return its contents.",
			InputSchema: mustSchema(`{"type":"object","properties":{"path":{"type":"string","description":"File to read"}},"required":["path"]}`),
		},
		{
			Name:        "write_file",
			Description: "Write text content to a file, creating parent directories as needed.",
			InputSchema: mustSchema(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
		},
	}
}

// Call dispatches a file tool by name.
func (p *FilePlugin) Call(ctx context.Context, name string, args map[string]any) transcript.Envelope {
	path, ok := StringArg(args, "path")
	if !ok {
		return transcript.Errorf("missing required argument: path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return transcript.Errorf("resolving path %s: %v", path, err)
	}
	if !p.pathAllowed(abs) {
		return transcript.Errorf("path not permitted by policy: %s", abs)
	}

	switch name {
	case "list_directory":
		return p.listDirectory(abs)
	case "read_file":
		return p.readFile(abs)
	case "write_file":
		content, ok := StringArg(args, "content")
		if !ok {
			return transcript.Errorf("missing required argument: content")
		}
		return p.writeFile(abs, content)
	default:
		return transcript.Errorf("unknown tool: %s", name)
	}
}

// pathAllowed applies the deny list first, then the allow list. An empty
// allow list means any path not denied is permitted.
func (p *FilePlugin) pathAllowed(abs string) bool {
	for _, prefix := range p.DeniedPaths {
		if strings.HasPrefix(abs, prefix) {
			return false
		}
	}
	if len(p.AllowedPaths) == 0 {
		return true
	}
	for _, prefix := range p.AllowedPaths {
		if strings.HasPrefix(abs, prefix) {
			return true
		}
	}
	return false
}

func (p *FilePlugin) listDirectory(path string) transcript.Envelope {
	entries, err := os.ReadDir(path)
	if err != nil {
		return transcript.Errorf("listing %s: %v", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return transcript.Success(map[string]any{"path": path, "entries": names})
}

func (p *FilePlugin) readFile(path string) transcript.Envelope {
	info, err := os.Stat(path)
	if err != nil {
		return transcript.Errorf("reading %s: %v", path, err)
	}
	if info.Size() > maxReadBytes {
		return transcript.Errorf("file too large: %s is %d bytes (limit %d)", path, info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return transcript.Errorf("reading %s: %v", path, err)
	}
	return transcript.Success(string(data))
}

func (p *FilePlugin) writeFile(path, content string) transcript.Envelope {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return transcript.Errorf("creating parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return transcript.Errorf("writing %s: %v", path, err)
	}
	return transcript.Success(map[string]any{"path": path, "bytes_written": len(content)})
}

var _ Plugin = (*FilePlugin)(nil)
