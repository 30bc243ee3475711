// Background delivery: unbounded hand-off queue, single worker goroutine,
// and the flush cycle that drains both streams concurrently
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewh/nrelay/pkg/collect"
)

// DefaultBatchSize is the per-stream buffer threshold that triggers a
// flush when Config.BatchSize is zero.
const DefaultBatchSize = 100

// Config configures a Forwarder.
type Config struct {
	// APIKey is the ingest credential sent on every request.
	APIKey string

	// LogEndpoint and TraceEndpoint select the POST targets per data
	// kind. Zero values mean the US region.
	LogEndpoint   Endpoint
	TraceEndpoint Endpoint

	// BatchSize is the buffered-event count at which the worker flushes.
	// Zero means DefaultBatchSize.
	BatchSize int

	// CommonAttributes ride in every request's common block
	// (typically service.name and hostname).
	CommonAttributes collect.Attributes

	// Client issues the HTTP requests. Nil means an *http.Client with a
	// 30 second timeout.
	Client Doer

	// Logger receives the worker's diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// Forwarder accepts finished batches on the producer's goroutine and
// delivers them from a single background worker. Enqueue never blocks
// on the network; the only synchronization between producer and worker
// is the queue hand-off.
type Forwarder struct {
	in   chan collect.Batch
	out  chan collect.Batch
	done chan struct{}

	logs      *deliveryService
	spans     *deliveryService
	batchSize int
	sleep     func(time.Duration)
	logger    *zap.Logger

	closeOnce sync.Once
}

// NewForwarder starts the background worker and returns the running
// Forwarder. Callers must invoke Shutdown exactly once when done.
func NewForwarder(cfg Config) *Forwarder {
	return startForwarder(cfg, time.Sleep)
}

func startForwarder(cfg Config, sleep func(time.Duration)) *Forwarder {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	common := cfg.CommonAttributes
	if common == nil {
		common = make(collect.Attributes)
	}

	f := &Forwarder{
		in:        make(chan collect.Batch),
		out:       make(chan collect.Batch),
		done:      make(chan struct{}),
		logs:      newDeliveryService(logStream(cfg.LogEndpoint), cfg.APIKey, common, client, logger),
		spans:     newDeliveryService(spanStream(cfg.TraceEndpoint), cfg.APIKey, common, client, logger),
		batchSize: batchSize,
		sleep:     sleep,
		logger:    logger,
	}
	go f.pump()
	go f.run()
	return f
}

// Enqueue hands a finished batch to the worker. It never blocks on
// delivery; batches are processed in enqueue order.
func (f *Forwarder) Enqueue(b collect.Batch) {
	f.in <- b
}

// Shutdown closes the producer side and blocks until the worker has
// flushed everything it accepted and exited.
func (f *Forwarder) Shutdown() {
	f.closeOnce.Do(func() { close(f.in) })
	<-f.done
}

// pump decouples the producer from the worker: it buffers without bound
// so Enqueue only ever waits for the pump itself, never for the
// network. Closing in drains the buffer and then closes out.
func (f *Forwarder) pump() {
	var buf []collect.Batch
	in := f.in
	for in != nil || len(buf) > 0 {
		var out chan collect.Batch
		var next collect.Batch
		if len(buf) > 0 {
			out = f.out
			next = buf[0]
		}
		select {
		case b, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, b)
		case out <- next:
			buf = buf[1:]
		}
	}
	close(f.out)
}

// run is the worker loop. It owns both pending buffers: each incoming
// batch extends both streams, a full buffer triggers a flush, and queue
// closure triggers the final drain.
func (f *Forwarder) run() {
	defer close(f.done)
	ctx := context.Background()

	for b := range f.out {
		f.logs.extend(b.Logs)
		f.spans.extend(b.Spans)
		if len(f.logs.pending) >= f.batchSize || len(f.spans.pending) >= f.batchSize {
			f.flush(ctx)
		}
	}

	f.flush(ctx)
	f.logger.Info("delivery worker stopped")
}

// flush runs one cycle: both streams attempt concurrently every
// iteration (a finished stream's attempt is a no-op), wait outcomes are
// reconciled into a single sleep, and the cycle ends when both report
// finished.
func (f *Forwarder) flush(ctx context.Context) {
	f.logs.beginCycle()
	f.spans.beginCycle()

	for {
		var logOut, spanOut outcome
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			logOut = f.logs.attempt(ctx)
		}()
		go func() {
			defer wg.Done()
			spanOut = f.spans.attempt(ctx)
		}()
		wg.Wait()

		switch {
		case logOut.kind == outcomeWait && spanOut.kind == outcomeWait:
			f.sleep(max(logOut.wait, spanOut.wait))
		case logOut.kind == outcomeWait:
			f.sleep(logOut.wait)
		case spanOut.kind == outcomeWait:
			f.sleep(spanOut.wait)
		case logOut.kind == outcomeFinished && spanOut.kind == outcomeFinished:
			return
		}
	}
}
