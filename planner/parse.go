// ABOUTME: Tolerant JSON extraction for model output that may arrive fenced or chatty.
// ABOUTME: Pulls the first JSON array out of prose and code fences.

package planner

import (
	"encoding/json"
	"strings"
)

// plannedCall is the wire shape the planning prompt asks the model for.
type plannedCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// extractJSONArray finds and decodes the first JSON array in text. Models
// wrap output in markdown fences or preamble prose often enough that strict
// decoding would throw away good plans.
func extractJSONArray(text string, out any) bool {
	candidate := stripFences(text)
	start := strings.Index(candidate, "[")
	if start < 0 {
		return false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(candidate); i++ {
		c := candidate[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return json.Unmarshal([]byte(candidate[start:i+1]), out) == nil
			}
		}
	}
	return false
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
