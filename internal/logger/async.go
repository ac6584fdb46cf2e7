package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncQueue is shared by an AsyncHandler and every handler derived from it.
type asyncQueue struct {
	records chan asyncRecord
	wg      sync.WaitGroup
	dropped atomic.Int64
	closed  bool
	once    sync.Once
	mu      sync.RWMutex // guards records against send after close
}

type asyncRecord struct {
	handler slog.Handler
	rec     slog.Record
}

// AsyncHandler hands records to a pool of writer goroutines through a
// bounded buffer. Records are dropped, and counted, when the buffer is full.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler creates an AsyncHandler with the given buffer size and worker count.
func NewAsyncHandler(inner slog.Handler, bufSize, workers int) *AsyncHandler {
	q := &asyncQueue{records: make(chan asyncRecord, bufSize)}
	for range workers {
		q.wg.Add(1)
		go q.run()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *asyncQueue) run() {
	defer q.wg.Done()
	for r := range q.records {
		_ = r.handler.Handle(context.Background(), r.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. The context is not forwarded.
// Records logged after Close are counted as dropped.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		h.q.dropped.Add(1)
		return nil
	}
	select {
	case h.q.records <- asyncRecord{handler: h.inner, rec: rec.Clone()}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close stops accepting records and waits for the buffer to drain.
// Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		h.q.mu.Lock()
		h.q.closed = true
		close(h.q.records)
		h.q.mu.Unlock()
	})
	h.q.wg.Wait()
}
