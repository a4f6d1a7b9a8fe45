package tail

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"secdb/internal/record"
)

// pendingPublish is one XADD buffered locally while the circuit is open.
type pendingPublish struct {
	Stream  string
	Kind    string
	Payload []byte
}

// BufferedWriter wraps a Writer with a CircuitBreaker: while the breaker is
// open, publishes are buffered locally and flushed once it closes again.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingPublish
	maxBuf int

	OnBuffer func()          // called when a publish is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered publishes
}

// NewBufferedWriter wraps w with cb, buffering up to maxBufferSize publishes
// (default 10000) while the circuit is open.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingPublish, 0, 256),
		maxBuf: maxBufferSize,
	}

	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// PublishQuote publishes a quote through the circuit breaker, buffering it
// locally if the circuit is open.
func (bw *BufferedWriter) PublishQuote(exchange, symbol, instrument string, ts time.Time, q record.Quote) error {
	stream := StreamKey(exchange, symbol, instrument)
	payload, err := json.Marshal(quoteEnvelope{TsUnixNano: ts.UnixNano(), Quote: q})
	if err != nil {
		return err
	}
	return bw.send(stream, KindQuote, payload)
}

// PublishTrade publishes a trade through the circuit breaker, buffering it
// locally if the circuit is open.
func (bw *BufferedWriter) PublishTrade(exchange, symbol, instrument string, ts time.Time, t record.Trade) error {
	stream := StreamKey(exchange, symbol, instrument)
	payload, err := json.Marshal(tradeEnvelope{TsUnixNano: ts.UnixNano(), Trade: t})
	if err != nil {
		return err
	}
	return bw.send(stream, KindTrade, payload)
}

func (bw *BufferedWriter) send(stream, kind string, payload []byte) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.xadd(bw.ctx, stream, kind, payload)
	})
	if err == ErrCircuitOpen {
		bw.bufferPublish(stream, kind, payload)
		return nil // buffered, not lost
	}
	return err
}

func (bw *BufferedWriter) bufferPublish(stream, kind string, payload []byte) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:] // drop oldest
	}
	bw.buffer = append(bw.buffer, pendingPublish{Stream: stream, Kind: kind, Payload: payload})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered publishes through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]pendingPublish, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for _, p := range toFlush {
		if err := bw.writer.xadd(bw.ctx, p.Stream, p.Kind, p.Payload); err == nil {
			flushed++
		}
	}

	log.Printf("[tail] flushed %d buffered publishes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered publishes waiting to be
// flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped Writer for direct access (e.g. health
// checks).
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
