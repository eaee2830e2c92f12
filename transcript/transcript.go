// ABOUTME: Shared history data model for the orchestrator: tool calls, result envelopes, entries.
// ABOUTME: Every provider result is normalized into an Envelope before it reaches the history.

package transcript

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Status classifies the outcome of a dispatched tool call.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusInfo      Status = "info"
)

// ToolCall is a model-proposed tool invocation.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Signature returns the canonical identity of a call: the tool name plus its
// arguments as sorted key=value pairs. Semantically identical calls produce
// identical signatures regardless of argument ordering.
func (c ToolCall) Signature() string {
	keys := make([]string, 0, len(c.Arguments))
	for k := range c.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString("(")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString("=")
		encoded, err := json.Marshal(Sanitize(c.Arguments[k]))
		if err != nil {
			b.WriteString(fmt.Sprintf("%v", c.Arguments[k]))
			continue
		}
		b.Write(encoded)
	}
	b.WriteString(")")
	return b.String()
}

// Envelope is the normalized result record every dispatch path returns.
type Envelope struct {
	Status       Status `json:"status"`
	Payload      any    `json:"payload"`
	ProviderID   string `json:"provider_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Fallback     bool   `json:"fallback,omitempty"`
}

// Success builds a success envelope around a payload.
func Success(payload any) Envelope {
	return Envelope{Status: StatusSuccess, Payload: Sanitize(payload)}
}

// Errorf builds an error envelope with a formatted message.
func Errorf(format string, args ...any) Envelope {
	msg := fmt.Sprintf(format, args...)
	return Envelope{Status: StatusError, Payload: msg, ErrorMessage: msg}
}

// Cancelled builds a cancelled envelope with a reason.
func Cancelled(reason string) Envelope {
	return Envelope{Status: StatusCancelled, Payload: reason}
}

// Info builds an informational envelope.
func Info(payload any) Envelope {
	return Envelope{Status: StatusInfo, Payload: Sanitize(payload)}
}

// NoticeKind identifies why the loop injected a synthetic entry.
type NoticeKind string

const (
	NoticeRepeatRejected NoticeKind = "repeat_rejected"
	NoticeLoopAborted    NoticeKind = "loop_aborted"
	NoticeRoutingFailed  NoticeKind = "routing_failed"
)

// Notice is a synthetic command recorded by the loop for guard actions.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// Entry is one step of history: either a real tool call or a loop notice,
// the normalized result, and the model's intermediate summary once available.
type Entry struct {
	Call    *ToolCall `json:"call,omitempty"`
	Notice  *Notice   `json:"notice,omitempty"`
	Result  Envelope  `json:"result"`
	Summary string    `json:"summary,omitempty"`
}

// CallEntry builds an entry for an executed (or attempted) tool call.
func CallEntry(call ToolCall, result Envelope) Entry {
	result.Payload = Sanitize(result.Payload)
	return Entry{Call: &call, Result: result}
}

// NoticeEntry builds a synthetic entry recording a guard action.
func NoticeEntry(kind NoticeKind, text string, status Status) Entry {
	return Entry{
		Notice: &Notice{Kind: kind, Text: text},
		Result: Envelope{Status: status, Payload: text},
	}
}

// Label returns a short human-readable identifier for the entry's command.
func (e Entry) Label() string {
	switch {
	case e.Call != nil:
		return e.Call.Name
	case e.Notice != nil:
		return string(e.Notice.Kind)
	default:
		return "unknown"
	}
}

// Sanitize converts an arbitrary value into plain JSON values: maps, slices,
// strings, float64, bool, nil. Wrapper types from native libraries are
// flattened through a JSON round trip; anything that cannot be encoded is
// stringified. Conversion happens once, at provider egress.
func Sanitize(v any) any {
	switch v.(type) {
	case nil, bool, string, float64:
		return v
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return string(encoded)
	}
	return out
}

// Render formats history entries step by step for inclusion in a prompt.
// Each step shows the command, the result status and payload, and the
// intermediate summary when one was recorded.
func Render(entries []Entry) string {
	if len(entries) == 0 {
		return "(no steps executed yet)"
	}

	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "Step %d:\n", i+1)
		switch {
		case e.Call != nil:
			args, _ := json.Marshal(e.Call.Arguments)
			fmt.Fprintf(&b, "  call: %s %s\n", e.Call.Name, args)
		case e.Notice != nil:
			fmt.Fprintf(&b, "  notice: %s\n", e.Notice.Text)
		}
		payload, _ := json.Marshal(e.Result.Payload)
		fmt.Fprintf(&b, "  result: %s %s\n", e.Result.Status, payload)
		if e.Result.ErrorMessage != "" {
			fmt.Fprintf(&b, "  error: %s\n", e.Result.ErrorMessage)
		}
		if e.Summary != "" {
			fmt.Fprintf(&b, "  summary: %s\n", e.Summary)
		}
	}
	return b.String()
}
