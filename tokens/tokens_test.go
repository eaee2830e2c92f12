// ABOUTME: Tests for token counting and newest-first history truncation.
// ABOUTME: Covers determinism, suffix retention, inner-string capping, and the monotonicity property.

package tokens

import (
	"fmt"
	"strings"
	"testing"

	"github.com/porterhq/porter/transcript"
)

func testCounter(t *testing.T) *Counter {
	t.Helper()
	c, err := NewCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewCounter: %v", err)
	}
	return c
}

func entryWithPayload(payload string) transcript.Entry {
	return transcript.CallEntry(
		transcript.ToolCall{Name: "read_file", Arguments: map[string]any{"path": "/tmp/x"}},
		transcript.Success(payload),
	)
}

func TestCountDeterministic(t *testing.T) {
	c := testCounter(t)
	text := "the quick brown fox jumps over the lazy dog"
	first := c.Count(text)
	if first <= 0 {
		t.Fatalf("Count = %d, want > 0", first)
	}
	for i := 0; i < 5; i++ {
		if got := c.Count(text); got != first {
			t.Fatalf("Count not deterministic: %d then %d", first, got)
		}
	}
}

func TestCountUnknownModelFallsBack(t *testing.T) {
	c, err := NewCounter("some-unreleased-model")
	if err != nil {
		t.Fatalf("NewCounter: %v", err)
	}
	if c.Count("hello world") <= 0 {
		t.Error("fallback encoding produced zero tokens")
	}
}

func TestFitKeepsNewestSuffix(t *testing.T) {
	c := testCounter(t)

	history := make([]transcript.Entry, 50)
	for i := range history {
		history[i] = entryWithPayload(fmt.Sprintf("result %d: %s", i, strings.Repeat("data ", 400)))
	}

	perEntry := c.CountEntry(history[0])
	w := Window{Counter: c, Limit: perEntry*10 + 500, Reserved: 500}

	kept, truncated := w.Fit(history)
	if !truncated {
		t.Error("expected truncation for 50 oversized entries")
	}
	if len(kept) == 0 || len(kept) >= len(history) {
		t.Fatalf("kept %d entries, want a strict newest-suffix", len(kept))
	}

	// The retained entries must be exactly the newest ones, in order.
	offset := len(history) - len(kept)
	for i, e := range kept {
		want := history[offset+i].Result.Payload
		if e.Result.Payload != want {
			t.Fatalf("kept[%d] is not history[%d]", i, offset+i)
		}
	}

	// Adding one more entry would exceed the budget.
	total := 0
	for _, e := range kept {
		total += c.CountEntry(e)
	}
	if offset > 0 && total+c.CountEntry(history[offset-1]) <= w.Limit-w.Reserved {
		t.Error("an additional older entry would still have fit")
	}
}

func TestFitEverythingFits(t *testing.T) {
	c := testCounter(t)
	history := []transcript.Entry{entryWithPayload("small"), entryWithPayload("tiny")}

	w := Window{Counter: c, Limit: 4096, Reserved: 1000}
	kept, truncated := w.Fit(history)
	if truncated {
		t.Error("unexpected truncation for small history")
	}
	if len(kept) != len(history) {
		t.Errorf("kept %d entries, want %d", len(kept), len(history))
	}
}

func TestFitOversizedSingleEntryGetsCapped(t *testing.T) {
	c := testCounter(t)
	history := []transcript.Entry{entryWithPayload(strings.Repeat("x", 100000))}

	w := Window{Counter: c, Limit: 1200, Reserved: 200}
	kept, truncated := w.Fit(history)
	if !truncated {
		t.Error("expected truncated flag")
	}
	if len(kept) != 1 {
		t.Fatalf("kept %d entries, want 1 capped entry", len(kept))
	}
	payload, ok := kept[0].Result.Payload.(string)
	if !ok {
		t.Fatalf("payload is %T, want string", kept[0].Result.Payload)
	}
	if !strings.Contains(payload, Marker) {
		t.Errorf("capped payload missing %q marker", Marker)
	}
	if c.CountEntry(kept[0]) > 1000 {
		t.Errorf("capped entry still over budget: %d tokens", c.CountEntry(kept[0]))
	}
}

func TestFitHopelesslyOversizedReturnsEmpty(t *testing.T) {
	c := testCounter(t)
	history := []transcript.Entry{entryWithPayload(strings.Repeat("x", 100000))}

	w := Window{Counter: c, Limit: 30, Reserved: 10}
	kept, truncated := w.Fit(history)
	if !truncated {
		t.Error("expected truncated flag")
	}
	if len(kept) != 0 {
		t.Errorf("kept %d entries, want 0", len(kept))
	}
}

func TestFitMonotonicity(t *testing.T) {
	c := testCounter(t)

	history := make([]transcript.Entry, 20)
	for i := range history {
		history[i] = entryWithPayload(fmt.Sprintf("step %d %s", i, strings.Repeat("words ", 50+i*10)))
	}

	// For any pair of budgets A1 <= A2, the suffix kept under A1 must be a
	// suffix of the suffix kept under A2.
	budgets := []int{200, 500, 1000, 2000, 4000, 8000}
	var prev []transcript.Entry
	for _, budget := range budgets {
		w := Window{Counter: c, Limit: budget, Reserved: 0}
		kept, _ := w.Fit(history)
		if len(kept) < len(prev) {
			t.Fatalf("budget %d kept %d entries, smaller budget kept %d", budget, len(kept), len(prev))
		}
		offset := len(kept) - len(prev)
		for i, e := range prev {
			if capEqual(e, kept[offset+i]) == false {
				t.Fatalf("budget %d: retained set is not a suffix of larger budget's", budget)
			}
		}
		prev = kept
	}
}

func capEqual(a, b transcript.Entry) bool {
	return a.Result.Payload == b.Result.Payload && a.Label() == b.Label()
}

func TestCapValueNestedStructures(t *testing.T) {
	v := map[string]any{
		"long":  strings.Repeat("a", 300),
		"list":  []any{strings.Repeat("b", 300), "short"},
		"n":     float64(42),
		"inner": map[string]any{"deep": strings.Repeat("c", 300)},
	}

	got := capValue(v, 100).(map[string]any)
	if !strings.Contains(got["long"].(string), Marker) {
		t.Error("top-level string not capped")
	}
	if !strings.Contains(got["list"].([]any)[0].(string), Marker) {
		t.Error("list element not capped")
	}
	if got["list"].([]any)[1] != "short" {
		t.Error("short string should pass through untouched")
	}
	if !strings.Contains(got["inner"].(map[string]any)["deep"].(string), Marker) {
		t.Error("nested string not capped")
	}
	if got["n"] != float64(42) {
		t.Error("number should pass through untouched")
	}
}
