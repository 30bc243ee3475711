// Wire encoding: per-stream JSON envelopes, gzip-compressed
package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"

	"github.com/andrewh/nrelay/pkg/collect"
)

// stream fixes the wire details of one data kind: the POST target, the
// JSON root key, extra headers, and the per-item shape.
type stream struct {
	key     string
	url     string
	headers map[string]string
	item    func(*collect.Event) any
}

func logStream(e Endpoint) stream {
	return stream{
		key:  "logs",
		url:  e.logURL(),
		item: func(ev *collect.Event) any { return logItem{ev} },
	}
}

func spanStream(e Endpoint) stream {
	return stream{
		key: "spans",
		url: e.traceURL(),
		headers: map[string]string{
			"Data-Format":         "newrelic",
			"Data-Format-Version": "1",
		},
		item: func(ev *collect.Event) any { return spanItem{ev} },
	}
}

// spanItem is the trace-API shape of an event.
type spanItem struct {
	ev *collect.Event
}

func (s spanItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string             `json:"id"`
		TraceID   string             `json:"trace.id,omitempty"`
		Timestamp int64              `json:"timestamp"`
		Attrs     collect.Attributes `json:"attributes"`
	}{s.ev.ID, s.ev.TraceID, s.ev.CreatedAt.UnixMilli(), s.ev.Attrs})
}

// logItem is the log-API shape of an event. The owning span's id rides
// in the attributes, set when the event was recorded.
type logItem struct {
	ev *collect.Event
}

func (l logItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp int64              `json:"timestamp"`
		TraceID   string             `json:"trace.id,omitempty"`
		Attrs     collect.Attributes `json:"attributes"`
	}{l.ev.CreatedAt.UnixMilli(), l.ev.TraceID, l.ev.Attrs})
}

// encodeBody serializes {<key>: [...items], common: {attributes}} and
// gzip-compresses it at the fastest level.
func encodeBody(s stream, events []*collect.Event, common collect.Attributes) ([]byte, error) {
	items := make([]any, len(events))
	for i, ev := range events {
		items[i] = s.item(ev)
	}
	payload := map[string]any{
		s.key: items,
		"common": map[string]any{
			"attributes": common,
		},
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(zw).Encode(payload); err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", s.key, err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
