// In-flight unit-of-work records: events, spans, and finished batches
package collect

import "time"

// Event is a point-in-time record. Every span owns one root event that
// represents the span itself; further events mark occurrences while the
// span was open. TraceID stays empty until the enclosing trace root
// closes and stamps the whole subtree.
type Event struct {
	ID        string
	TraceID   string
	CreatedAt time.Time
	Attrs     Attributes
}

// Span is an open or reparented unit of work. Events[0] is always the
// span's own root event; Events[1:] are events recorded while it was
// open. Children holds reparented child spans in close order.
type Span struct {
	Attrs    Attributes
	Events   []*Event
	Children []*Span
}

// Root returns the span's own root event.
func (s *Span) Root() *Event {
	return s.Events[0]
}

// mergeDown copies the span's attributes (missing-key-only) onto every
// event in its subtree. Performed once per span, when it travels upward
// at close; merging again is a no-op, so the extra pass at root closure
// is harmless.
func (s *Span) mergeDown() {
	s.walk(func(ev *Event) {
		ev.Attrs.MergeMissing(s.Attrs)
	})
}

// stampTraceID sets the trace identifier on every event in the subtree.
func (s *Span) stampTraceID(traceID string) {
	s.walk(func(ev *Event) {
		ev.TraceID = traceID
	})
}

// walk visits every event in the subtree in pre-order: the span's own
// events first, then each child's subtree in the order the children
// closed.
func (s *Span) walk(fn func(*Event)) {
	for _, ev := range s.Events {
		fn(ev)
	}
	for _, child := range s.Children {
		child.walk(fn)
	}
}

// Batch is the flattened, delivery-ready payload for one finished trace.
// Spans carries each span's own root event; Logs carries the events
// recorded inside them. Both are in pre-order.
type Batch struct {
	Logs  []*Event
	Spans []*Event
}

// flatten appends the subtree's events to the batch, splitting root
// events into the span stream and recorded events into the log stream.
func (s *Span) flatten(b *Batch) {
	b.Spans = append(b.Spans, s.Events[0])
	b.Logs = append(b.Logs, s.Events[1:]...)
	for _, child := range s.Children {
		child.flatten(b)
	}
}
