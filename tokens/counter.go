// ABOUTME: Deterministic token estimation backed by tiktoken encodings.
// ABOUTME: Encodings are cached per model; unknown models fall back to cl100k_base.

package tokens

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/porterhq/porter/transcript"
)

// Counter estimates token counts for strings and history entries.
// Identical input always produces an identical count.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

// NewCounter creates a counter for the given model. Models tiktoken does not
// recognize use the cl100k_base encoding.
func NewCounter(model string) (*Counter, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := encodingCache[model]; ok {
		return &Counter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("loading fallback encoding: %w", err)
		}
	}

	encodingCache[model] = encoding
	return &Counter{encoding: encoding, model: model}, nil
}

// Count returns the estimated token count for text.
func (c *Counter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// CountEntry estimates the token cost of one history entry as it would be
// rendered into a prompt, plus a small per-entry framing overhead.
func (c *Counter) CountEntry(entry transcript.Entry) int {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return len(fmt.Sprintf("%v", entry)) / 4
	}
	return c.Count(string(encoded)) + 3
}

// Model returns the model name this counter was built for.
func (c *Counter) Model() string {
	return c.model
}
