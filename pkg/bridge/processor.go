// OpenTelemetry SDK adapter: feeds SDK span lifecycle into the aggregator
// Spans map to handle-keyed records; SDK events replay onto them at end
package bridge

import (
	"context"
	"encoding/binary"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/nrelay/pkg/api"
	"github.com/andrewh/nrelay/pkg/collect"
)

// Processor is a SpanProcessor that records SDK spans into an
// Aggregator. Register it on a TracerProvider alongside any other
// processors; it never blocks on delivery.
//
// If a Forwarder is attached, the provider's Shutdown drains it.
type Processor struct {
	agg *collect.Aggregator
	fwd *api.Forwarder
}

var _ sdktrace.SpanProcessor = (*Processor)(nil)

// NewProcessor wires an aggregator into the SDK. fwd may be nil when
// the caller manages the forwarder lifecycle itself.
func NewProcessor(agg *collect.Aggregator, fwd *api.Forwarder) *Processor {
	return &Processor{agg: agg, fwd: fwd}
}

// OnStart opens the record for a starting span. A parent from another
// process has no open record here, so the span roots a new trace.
func (p *Processor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	handle := handleOf(s.SpanContext().SpanID())

	var parent collect.Handle
	if pc := s.Parent(); pc.IsValid() && !pc.IsRemote() {
		parent = handleOf(pc.SpanID())
	}

	p.agg.Open(handle, parent)
	p.agg.SetAttribute(handle, "name", collect.StringValue(s.Name()))
}

// OnEnd replays the ended span's attributes, status, and events onto
// the record, then closes it.
func (p *Processor) OnEnd(s sdktrace.ReadOnlySpan) {
	handle := handleOf(s.SpanContext().SpanID())

	p.agg.SetAttribute(handle, "name", collect.StringValue(s.Name()))
	for _, kv := range s.Attributes() {
		p.agg.SetAttribute(handle, string(kv.Key), convertValue(kv.Value))
	}
	if st := s.Status(); st.Code == codes.Error {
		p.agg.SetAttribute(handle, "error.message", collect.StringValue(st.Description))
	}

	for _, ev := range s.Events() {
		attrs := make(collect.Attributes, len(ev.Attributes)+1)
		attrs.Set("message", collect.StringValue(ev.Name))
		for _, kv := range ev.Attributes {
			attrs.Set(string(kv.Key), convertValue(kv.Value))
		}
		p.agg.AddEventAt(handle, ev.Time, attrs)
	}

	p.agg.Close(handle)
}

// Shutdown drains the attached forwarder, honoring ctx.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p.fwd == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.fwd.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceFlush is a no-op: batches are pushed as trace roots close.
func (p *Processor) ForceFlush(context.Context) error {
	return nil
}

// handleOf derives the aggregator handle from the SDK span id.
func handleOf(id trace.SpanID) collect.Handle {
	return collect.Handle(binary.BigEndian.Uint64(id[:]))
}

// convertValue maps an OTel attribute value onto the wire union.
// Kinds outside the union (floats, slices) are stringified, matching
// the debug fallback of the log-record path.
func convertValue(v attribute.Value) collect.Value {
	switch v.Type() {
	case attribute.BOOL:
		return collect.BoolValue(v.AsBool())
	case attribute.INT64:
		return collect.Int64Value(v.AsInt64())
	case attribute.STRING:
		return collect.StringValue(v.AsString())
	default:
		return collect.StringValue(v.Emit())
	}
}
