// Package tail publishes decoded secdb records to Redis Streams as a file
// is replayed, so downstream consumers (e.g. internal/livefeed) can fan out
// without re-reading the file themselves.
package tail

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"secdb/internal/record"
)

// defaultStreamMaxLen bounds each symbol's Redis Stream to roughly the last
// trading session's worth of records.
const defaultStreamMaxLen = 500_000

// WriterConfig configures the Redis connection backing a Writer.
type WriterConfig struct {
	Addr     string
	Password string
	DB       int
}

// Writer publishes quote and trade records to the Redis Stream of the
// (exchange, symbol, instrument) tuple named in each call.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client, for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("tail: redis ping: %w", err)
	}

	log.Printf("[tail] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// StreamKey returns the Redis Stream key for one instrument's feed.
func StreamKey(exchange, symbol, instrument string) string {
	return fmt.Sprintf("secdb:%s:%s:%s", exchange, symbol, instrument)
}

type quoteEnvelope struct {
	TsUnixNano int64         `json:"ts"`
	Quote      record.Quote  `json:"quote"`
}

type tradeEnvelope struct {
	TsUnixNano int64        `json:"ts"`
	Trade      record.Trade `json:"trade"`
}

// KindQuote and KindTrade label the "kind" field of an XADDed entry so a
// Subscriber can dispatch without speculatively unmarshaling both envelope
// shapes.
const (
	KindQuote = "quote"
	KindTrade = "trade"
)

// PublishQuote XADDs one quote envelope to the instrument's stream.
func (w *Writer) PublishQuote(ctx context.Context, exchange, symbol, instrument string, ts time.Time, q record.Quote) error {
	payload, err := json.Marshal(quoteEnvelope{TsUnixNano: ts.UnixNano(), Quote: q})
	if err != nil {
		return fmt.Errorf("tail: marshal quote: %w", err)
	}
	return w.xadd(ctx, StreamKey(exchange, symbol, instrument), KindQuote, payload)
}

// PublishTrade XADDs one trade envelope to the instrument's stream.
func (w *Writer) PublishTrade(ctx context.Context, exchange, symbol, instrument string, ts time.Time, t record.Trade) error {
	payload, err := json.Marshal(tradeEnvelope{TsUnixNano: ts.UnixNano(), Trade: t})
	if err != nil {
		return fmt.Errorf("tail: marshal trade: %w", err)
	}
	return w.xadd(ctx, StreamKey(exchange, symbol, instrument), KindTrade, payload)
}

func (w *Writer) xadd(ctx context.Context, stream, kind string, payload []byte) error {
	err := w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: defaultStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"kind": kind, "data": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("tail: xadd %s: %w", stream, err)
	}
	return nil
}
