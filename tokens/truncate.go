// ABOUTME: Greedy newest-first history truncation against a token budget.
// ABOUTME: Oversized single entries get their inner strings capped with visible markers.

package tokens

import (
	"github.com/porterhq/porter/transcript"
)

// Marker is inserted at every cut site when an inner string is shortened.
const Marker = "[content truncated]"

// innerCaps is the shrinking sequence of per-string caps applied when a single
// entry exceeds the whole budget on its own.
var innerCaps = []int{2000, 1000, 500, 200, 100, 50, 20}

// Window computes the portion of history that fits a model's context budget.
type Window struct {
	Counter *Counter

	// Limit is the model context size in tokens.
	Limit int

	// Reserved is the budget held back for prompt scaffolding and output.
	Reserved int
}

// Fit walks the history newest to oldest and retains the longest newest-suffix
// whose estimated tokens fit within Limit-Reserved. When even the newest entry
// alone exceeds the budget, its long strings are capped at progressively
// smaller sizes until it fits; if the smallest cap is not enough, the result
// is empty. The returned flag reports whether anything was dropped or capped.
func (w Window) Fit(history []transcript.Entry) ([]transcript.Entry, bool) {
	available := w.Limit - w.Reserved
	if len(history) == 0 {
		return nil, false
	}
	if available <= 0 {
		return nil, true
	}

	var kept []transcript.Entry
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := w.Counter.CountEntry(history[i])
		if used+cost > available {
			break
		}
		kept = append([]transcript.Entry{history[i]}, kept...)
		used += cost
	}

	if len(kept) > 0 {
		return kept, len(kept) < len(history)
	}

	// Newest entry alone is over budget; shrink its inner strings.
	newest := history[len(history)-1]
	for _, limit := range innerCaps {
		shrunk := capEntry(newest, limit)
		if w.Counter.CountEntry(shrunk) <= available {
			return []transcript.Entry{shrunk}, true
		}
	}
	return nil, true
}

// capEntry returns a deep copy of the entry with every string longer than
// limit cut down and marked.
func capEntry(e transcript.Entry, limit int) transcript.Entry {
	out := transcript.Entry{Summary: capString(e.Summary, limit)}
	if e.Call != nil {
		call := transcript.ToolCall{Name: e.Call.Name}
		if e.Call.Arguments != nil {
			args, _ := capValue(e.Call.Arguments, limit).(map[string]any)
			call.Arguments = args
		}
		out.Call = &call
	}
	if e.Notice != nil {
		out.Notice = &transcript.Notice{Kind: e.Notice.Kind, Text: capString(e.Notice.Text, limit)}
	}
	out.Result = transcript.Envelope{
		Status:       e.Result.Status,
		Payload:      capValue(e.Result.Payload, limit),
		ProviderID:   e.Result.ProviderID,
		ErrorMessage: capString(e.Result.ErrorMessage, limit),
		Fallback:     e.Result.Fallback,
	}
	return out
}

// capValue recursively caps strings inside a sanitized JSON value.
func capValue(v any, limit int) any {
	switch val := v.(type) {
	case string:
		return capString(val, limit)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = capValue(item, limit)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = capValue(item, limit)
		}
		return out
	default:
		return v
	}
}

func capString(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + " " + Marker
}
