// Batch delivery state machine: windowed sends, response classification,
// size adaptation on 413, and the exponential retry ladder
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/andrewh/nrelay/pkg/collect"
)

// Doer issues a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxRetries bounds the ladder: after the immediate retry and five
// waited retries the payload is given up on.
const maxRetries = 5

type outcomeKind int

const (
	// outcomeRemaining: progress was made and more data is pending.
	outcomeRemaining outcomeKind = iota
	// outcomeFinished: nothing left to do, by success or by drop.
	outcomeFinished
	// outcomeWait: retry after the carried duration.
	outcomeWait
)

type outcome struct {
	kind outcomeKind
	wait time.Duration
}

// deliveryService drains one stream's pending events. Owned exclusively
// by the worker goroutine; each attempt mutates at most one of
// retryCount, batchLen, or the pending prefix.
type deliveryService struct {
	stream stream
	apiKey string
	common collect.Attributes
	client Doer
	logger *zap.Logger

	pending    []*collect.Event
	batchLen   int
	retryCount int
}

func newDeliveryService(s stream, apiKey string, common collect.Attributes, client Doer, logger *zap.Logger) *deliveryService {
	return &deliveryService{
		stream: s,
		apiKey: apiKey,
		common: common,
		client: client,
		logger: logger.With(zap.String("stream", s.key)),
	}
}

// extend appends newly accepted events to the pending buffer.
func (s *deliveryService) extend(events []*collect.Event) {
	s.pending = append(s.pending, events...)
}

// beginCycle opens the delivery window over the whole pending buffer.
// Within a cycle the window only ever shrinks.
func (s *deliveryService) beginCycle() {
	s.batchLen = len(s.pending)
}

// attempt serializes the current window, issues one POST, and
// classifies the response.
func (s *deliveryService) attempt(ctx context.Context) outcome {
	if len(s.pending) == 0 {
		return outcome{kind: outcomeFinished}
	}

	n := min(s.batchLen, len(s.pending))
	if n < 1 {
		n = 1
	}

	body, err := encodeBody(s.stream, s.pending[:n], s.common)
	if err != nil {
		s.logger.Error("dropping events: payload encoding failed", zap.Error(err), zap.Int("events", len(s.pending)))
		s.pending = nil
		return outcome{kind: outcomeFinished}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.stream.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("dropping events: building request failed", zap.Error(err), zap.Int("events", len(s.pending)))
		s.pending = nil
		return outcome{kind: outcomeFinished}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Api-Key", s.apiKey)
	for k, v := range s.stream.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// No response at all: treated like a transient server error.
		s.logger.Warn("transport failure", zap.Error(err))
		return s.backoff()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch code := resp.StatusCode; {
	case code >= 200 && code <= 299:
		s.retryCount = 0
		s.pending = s.pending[n:]
		if len(s.pending) == 0 {
			return outcome{kind: outcomeFinished}
		}
		return outcome{kind: outcomeRemaining}

	case isFatalStatus(code):
		s.logger.Warn("dropping events: non-retryable response",
			zap.Int("status", code), zap.Int("events", len(s.pending)))
		s.pending = nil
		return outcome{kind: outcomeFinished}

	case code == http.StatusRequestEntityTooLarge:
		if n == 1 {
			// A single item the endpoint cannot accept at any window
			// size. Drop just that item; the rest stays buffered.
			s.logger.Warn("dropping one oversized event", zap.String("id", s.pending[0].ID))
			s.pending = s.pending[1:]
			return outcome{kind: outcomeFinished}
		}
		s.batchLen = n / 2
		return outcome{kind: outcomeRemaining}

	case code == http.StatusTooManyRequests:
		if secs, ok := retryAfter(resp); ok {
			return outcome{kind: outcomeWait, wait: time.Duration(secs) * time.Second}
		}
		s.logger.Warn("dropping events: rate limited without retry-after",
			zap.Int("events", len(s.pending)))
		s.pending = nil
		return outcome{kind: outcomeFinished}

	default:
		s.logger.Warn("transient delivery failure", zap.Int("status", code))
		return s.backoff()
	}
}

// backoff walks the retry ladder: an immediate retry on the first
// failure, then 2^(retryCount-1) seconds, giving up past maxRetries.
func (s *deliveryService) backoff() outcome {
	switch {
	case s.retryCount == 0:
		s.retryCount++
		return outcome{kind: outcomeWait}
	case s.retryCount <= maxRetries:
		wait := time.Duration(1<<(s.retryCount-1)) * time.Second
		s.retryCount++
		return outcome{kind: outcomeWait, wait: wait}
	default:
		s.logger.Warn("dropping events: retries exhausted", zap.Int("events", len(s.pending)))
		s.pending = nil
		return outcome{kind: outcomeFinished}
	}
}

// isFatalStatus reports whether the client error makes the payload
// permanently undeliverable.
func isFatalStatus(code int) bool {
	switch code {
	case 400, 401, 403, 404, 405, 409, 410, 411:
		return true
	}
	return false
}

// retryAfter reads the Retry-After header as an integer second count.
func retryAfter(resp *http.Response) (int, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return secs, true
}
