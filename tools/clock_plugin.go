// ABOUTME: Clock plugin: an asynchronous sleep tool and a current_time tool.
// ABOUTME: Sleep suspends on the context so cancellation interrupts it cleanly.

package tools

import (
	"context"
	"time"

	"github.com/porterhq/porter/transcript"
)

// maxSleepSeconds caps a single sleep so a bad plan cannot park a session.
const maxSleepSeconds = 300

// ClockPlugin provides time-related tools.
type ClockPlugin struct{}

// NewClockPlugin builds a clock plugin.
func NewClockPlugin() *ClockPlugin {
	return &ClockPlugin{}
}

// Capabilities returns the plugin's capability tags.
func (p *ClockPlugin) Capabilities() []string {
	return []string{"time"}
}

// Tools returns the descriptors for the clock tools.
func (p *ClockPlugin) Tools() []Descriptor {
	return []Descriptor{
		{
			Name:        "sleep",
			Description: "Pause for the given number of seconds before continuing.",
			InputSchema: mustSchema(`{"type":"object","properties":{"seconds":{"type":"number","description":"Seconds to wait, up to 300"}},"required":["seconds"]}`),
		},
		{
			Name:        "current_time",
			Description: "Return the current local time in RFC 3339 format.",
			InputSchema: mustSchema(`{"type":"object","properties":{}}`),
		},
	}
}

// Call dispatches a clock tool by name.
func (p *ClockPlugin) Call(ctx context.Context, name string, args map[string]any) transcript.Envelope {
	switch name {
	case "sleep":
		return p.sleep(ctx, args)
	case "current_time":
		return transcript.Success(map[string]any{"time": time.Now().Format(time.RFC3339)})
	default:
		return transcript.Errorf("unknown tool: %s", name)
	}
}

func (p *ClockPlugin) sleep(ctx context.Context, args map[string]any) transcript.Envelope {
	seconds, ok := NumberArg(args, "seconds")
	if !ok || seconds < 0 {
		return transcript.Errorf("missing or invalid argument: seconds")
	}
	if seconds > maxSleepSeconds {
		return transcript.Errorf("sleep of %.0f seconds exceeds the %d second limit", seconds, maxSleepSeconds)
	}

	select {
	case <-ctx.Done():
		return transcript.Cancelled("sleep interrupted")
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return transcript.Success(map[string]any{"slept_seconds": seconds})
	}
}

var _ Plugin = (*ClockPlugin)(nil)
