// Property-based tests for merge semantics and tree flattening using pgregory.net/rapid
package collect

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// genAttributes generates a small random attribute set.
func genAttributes(t *rapid.T, label string) Attributes {
	n := rapid.IntRange(0, 6).Draw(t, label+"N")
	attrs := make(Attributes, n)
	for i := 0; i < n; i++ {
		key := rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "f"}).Draw(t, fmt.Sprintf("%sKey%d", label, i))
		switch rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("%sKind%d", label, i)) {
		case 0:
			attrs.Set(key, Int64Value(rapid.Int64().Draw(t, fmt.Sprintf("%sI%d", label, i))))
		case 1:
			attrs.Set(key, Uint64Value(rapid.Uint64().Draw(t, fmt.Sprintf("%sU%d", label, i))))
		case 2:
			attrs.Set(key, BoolValue(rapid.Bool().Draw(t, fmt.Sprintf("%sB%d", label, i))))
		default:
			attrs.Set(key, StringValue(rapid.StringN(0, 8, 8).Draw(t, fmt.Sprintf("%sS%d", label, i))))
		}
	}
	return attrs
}

func TestMergeMissingIdempotent(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		child := genAttributes(t, "child")
		parent := genAttributes(t, "parent")

		once := child.Clone()
		once.MergeMissing(parent)

		twice := child.Clone()
		twice.MergeMissing(parent)
		twice.MergeMissing(parent)

		if len(once) != len(twice) {
			t.Fatalf("merge not idempotent: %d keys vs %d", len(once), len(twice))
		}
		for k, v := range once {
			if twice[k] != v {
				t.Fatalf("merge not idempotent at %q: %v vs %v", k, v, twice[k])
			}
		}
	})
}

func TestMergeMissingNeverOverrides(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		child := genAttributes(t, "child")
		parent := genAttributes(t, "parent")

		before := child.Clone()
		child.MergeMissing(parent)

		for k, v := range before {
			if child[k] != v {
				t.Fatalf("explicit key %q changed from %v to %v", k, v, child[k])
			}
		}
		for k := range parent {
			if _, ok := child[k]; !ok {
				t.Fatalf("missing key %q not copied", k)
			}
		}
	})
}

func TestRandomTreeEmitsOneCompleteBatch(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var batches []Batch
		agg := NewAggregator(Config{
			Sink: func(b Batch) { batches = append(batches, b) },
			IDs:  &SequentialIDs{},
			Now:  testClock(time.Millisecond),
		})

		// Build a random tree: span i's parent is a random earlier span
		// (span 1 is the root). Events fire on random spans.
		n := rapid.IntRange(1, 12).Draw(t, "spans")
		parents := make([]Handle, n+1)
		for i := 2; i <= n; i++ {
			parents[i] = Handle(rapid.IntRange(1, i-1).Draw(t, fmt.Sprintf("parent%d", i)))
		}
		agg.Open(1, 0)
		agg.SetAttribute(1, "root.only", StringValue("yes"))
		events := 0
		for i := 2; i <= n; i++ {
			agg.Open(Handle(i), parents[i])
			if rapid.Bool().Draw(t, fmt.Sprintf("ev%d", i)) {
				agg.AddEvent(Handle(i), nil)
				events++
			}
		}

		// Close children depth-last: descendants before ancestors.
		for i := n; i >= 1; i-- {
			agg.Close(Handle(i))
		}

		if len(batches) != 1 {
			t.Fatalf("expected 1 batch, got %d", len(batches))
		}
		b := batches[0]
		if len(b.Spans) != n {
			t.Fatalf("expected %d span events, got %d", n, len(b.Spans))
		}
		if len(b.Logs) != events {
			t.Fatalf("expected %d log events, got %d", events, len(b.Logs))
		}

		traceID := b.Spans[0].TraceID
		for _, ev := range append(append([]*Event{}, b.Spans...), b.Logs...) {
			if ev.TraceID != traceID {
				t.Fatalf("event %s has trace id %q, want %q", ev.ID, ev.TraceID, traceID)
			}
			if ev.Attrs["root.only"] != StringValue("yes") {
				t.Fatalf("event %s missing inherited root attribute", ev.ID)
			}
		}
	})
}
