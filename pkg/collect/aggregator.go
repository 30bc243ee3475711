// Aggregator: reconstructs the forest of open spans into finished trace batches
// Children merge into parents as they close; a closing root flattens and emits
package collect

import (
	"fmt"
	"sync"
	"time"
)

// Handle identifies an open span to its caller. Handles are supplied by
// the instrumentation adapter; the zero handle means "no span".
type Handle uint64

// DefaultDurationKey is the attribute key the span duration is stored
// under when Config.DurationKey is empty.
const DefaultDurationKey = "duration.ms"

// Config configures an Aggregator.
type Config struct {
	// Sink receives the finished batch each time a trace root closes.
	// Required. It must not block: it runs on the instrumented caller's
	// goroutine.
	Sink func(Batch)

	// IDs mints event and trace identifiers. Nil means RandomIDs.
	IDs IDGenerator

	// Now is the clock. Nil means time.Now.
	Now func() time.Time

	// DurationKey is the attribute key for span durations in
	// milliseconds. Empty means DefaultDurationKey.
	DurationKey string
}

// Aggregator owns the table of currently open spans. All methods are
// safe for concurrent use; none of them performs I/O or blocks on the
// delivery side.
//
// Operating on a handle that was never opened, or was already closed,
// is a programmer error and panics: it means the instrumentation
// adapter violated the open/close protocol.
type Aggregator struct {
	sink        func(Batch)
	ids         IDGenerator
	now         func() time.Time
	durationKey string

	mu   sync.Mutex
	open map[Handle]*openSpan
}

type openSpan struct {
	span   *Span
	parent Handle
}

// NewAggregator creates an Aggregator. cfg.Sink is required.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.Sink == nil {
		panic("collect: Config.Sink is required")
	}
	ids := cfg.IDs
	if ids == nil {
		ids = RandomIDs{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	key := cfg.DurationKey
	if key == "" {
		key = DefaultDurationKey
	}
	return &Aggregator{
		sink:        cfg.Sink,
		ids:         ids,
		now:         now,
		durationKey: key,
		open:        make(map[Handle]*openSpan),
	}
}

// Open starts recording a span under handle. parent is the handle of
// the enclosing span, or zero for a root. The span's root event is
// created here, timestamped now.
func (a *Aggregator) Open(handle, parent Handle) *Span {
	if handle == 0 {
		panic("collect: cannot open the zero handle")
	}

	span := &Span{
		Attrs: make(Attributes),
		Events: []*Event{{
			ID:        a.ids.EventID(),
			CreatedAt: a.now(),
			Attrs:     make(Attributes),
		}},
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.open[handle]; ok {
		panic(fmt.Sprintf("collect: handle %#x opened twice", uint64(handle)))
	}
	a.open[handle] = &openSpan{span: span, parent: parent}
	return span
}

// SetAttribute records an attribute on the open span, overwriting any
// previous value for the key.
func (a *Aggregator) SetAttribute(handle Handle, key string, value Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lookup(handle).span.Attrs.Set(key, value)
}

// AddEvent records a point-in-time event against the open span,
// timestamped now. A zero handle means the event fired outside any
// span; it is dropped and AddEvent returns nil.
func (a *Aggregator) AddEvent(handle Handle, attrs Attributes) *Event {
	return a.AddEventAt(handle, a.now(), attrs)
}

// AddEventAt is AddEvent with an explicit timestamp, for adapters that
// replay events recorded earlier by a host SDK.
func (a *Aggregator) AddEventAt(handle Handle, at time.Time, attrs Attributes) *Event {
	if handle == 0 {
		return nil
	}
	if attrs == nil {
		attrs = make(Attributes)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	span := a.lookup(handle).span
	ev := &Event{
		ID:        a.ids.EventID(),
		CreatedAt: at,
		Attrs:     attrs,
	}
	// Link the event to the span it fired inside.
	ev.Attrs.Set("span.id", StringValue(span.Root().ID))
	span.Events = append(span.Events, ev)
	return ev
}

// Close ends the span. Its duration is stored on the root event, its
// attributes merge (missing-key-only) onto every event in its subtree,
// and then either the record reparents under its still-open parent or,
// with no parent open, it becomes a trace root: a trace identifier is
// stamped on the whole subtree and the flattened batch goes to the sink.
func (a *Aggregator) Close(handle Handle) {
	if batch, emit := a.close(handle); emit {
		a.sink(batch)
	}
}

// close does the table work under the lock; the sink runs outside it.
func (a *Aggregator) close(handle Handle) (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.lookup(handle)
	delete(a.open, handle)

	span := entry.span
	elapsed := a.now().Sub(span.Root().CreatedAt)
	span.Root().Attrs.Set(a.durationKey, Uint64Value(uint64(elapsed.Milliseconds())))

	// A recorded parent that already closed counts as no parent: the
	// span roots its own trace.
	if parent, ok := a.open[entry.parent]; ok {
		span.Root().Attrs.Set("parent.id", StringValue(parent.span.Root().ID))
		span.mergeDown()
		parent.span.Children = append(parent.span.Children, span)
		return Batch{}, false
	}

	span.mergeDown()
	span.stampTraceID(a.ids.TraceID())

	var batch Batch
	span.flatten(&batch)
	return batch, true
}

// lookup returns the open entry for handle. Callers hold a.mu.
func (a *Aggregator) lookup(handle Handle) *openSpan {
	entry, ok := a.open[handle]
	if !ok {
		panic(fmt.Sprintf("collect: unknown span handle %#x", uint64(handle)))
	}
	return entry
}
