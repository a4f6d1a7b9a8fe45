package secdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"secdb/internal/candle"
	"secdb/internal/header"
	"secdb/internal/record"
	"secdb/internal/sdberr"
	"secdb/internal/streammeta"
	"secdb/internal/wire"
)

// MagicMarker separates the metadata section from the stream data.
const MagicMarker uint32 = 0xABBABABA

type writerState int

const (
	stateInit writerState = iota
	stateHeader
	stateStreamsMeta
	stateCandlesMeta
	stateData
	stateClosed
)

// Writer drives the write-side state machine described in spec.md §4.7: a
// text header, a StreamsMeta block, a CandlesMeta block, then an
// append-only stream of records, closed out by committing the candle
// arrays and back-patching StreamsMeta's data offset.
type Writer struct {
	f     *os.File
	cfg   Config
	state writerState

	hdr header.Header
	sm  streammeta.Meta
	cm  candle.Meta

	midnight time.Time

	hasLastTs  bool
	lastTsUsec int64
	prevUsec   int64

	hasNextSecond bool
	nextSecond    int32

	lastQuote record.PriceRef
	lastTrade record.PriceRef
}

// Create opens (creating or truncating) the file named by cfg under
// cfg.BaseDir and returns a Writer positioned in its initial state.
func Create(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if cfg.UUID == uuid.Nil {
		cfg.UUID = uuid.New()
	}

	path := Filename(cfg)
	if cfg.DeepDir {
		if err := os.MkdirAll(dirOf(cfg), 0750); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, cfg.FilePermissions)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, cfg: cfg, state: stateInit}, nil
}

// WriteHeader emits the text header derived from the Writer's Config. It
// fails with ErrAlreadyExists if the underlying file already holds data.
func (w *Writer) WriteHeader() error {
	if w.state != stateInit {
		return fmt.Errorf("secdb: WriteHeader: %w", sdberr.ErrSequence)
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos != 0 {
		return fmt.Errorf("secdb: WriteHeader: %w", sdberr.ErrAlreadyExists)
	}

	h := header.Set(w.cfg.Exchange, w.cfg.Symbol, w.cfg.Instrument, w.cfg.SecID, w.cfg.Date,
		w.cfg.TZName, w.cfg.TZOffsetSeconds, w.cfg.Depth, w.cfg.PxStep, w.cfg.UUID)
	if _, err := header.Write(w.f, h); err != nil {
		return err
	}

	w.hdr = h
	w.midnight = h.Date
	w.state = stateHeader
	return nil
}

// WriteStreamsMeta emits the StreamsMeta block listing the stream kinds
// this file carries.
func (w *Writer) WriteStreamsMeta(streams []wire.StreamType) error {
	if w.state != stateHeader {
		return fmt.Errorf("secdb: WriteStreamsMeta: %w", sdberr.ErrSequence)
	}
	m := streammeta.New(streams)
	if _, err := streammeta.Write(w.f, &m); err != nil {
		return err
	}
	w.sm = m
	w.state = stateStreamsMeta
	return nil
}

// WriteCandlesMeta emits the CandlesMeta block: one zeroed candle array per
// requested resolution.
func (w *Writer) WriteCandlesMeta(specs []candle.Spec) error {
	if w.state != stateStreamsMeta {
		return fmt.Errorf("secdb: WriteCandlesMeta: %w", sdberr.ErrSequence)
	}
	m := candle.NewFromSpecs(specs)
	if _, err := m.Write(w.f); err != nil {
		return err
	}
	w.cm = m
	w.state = stateCandlesMeta
	return nil
}

// ensureData performs the implicit WrCandlesMeta → WrData transition: emit
// the magic marker and back-patch StreamsMeta's data offset to point at it.
func (w *Writer) ensureData() error {
	switch w.state {
	case stateData:
		return nil
	case stateCandlesMeta:
		pos, err := w.f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		var magic [4]byte
		binary.LittleEndian.PutUint32(magic[:], MagicMarker)
		if _, err := w.f.Write(magic[:]); err != nil {
			return err
		}
		if err := streammeta.WriteDataOffset(w.f, w.sm.DataOffsetPos(), uint32(pos)); err != nil {
			return err
		}
		w.state = stateData
		return nil
	default:
		return fmt.Errorf("secdb: write data: %w", sdberr.ErrSequence)
	}
}

// Normalize converts a caller-supplied price in the given unit to an
// integer count of price steps, per spec.md §3's three accepted units.
func (w *Writer) Normalize(px float64, unit wire.PriceUnit) int32 {
	switch unit {
	case wire.PriceSteps:
		return int32(math.Round(px))
	case wire.PrecisionVal:
		scaled := px / math.Pow10(w.hdr.PxPrecision)
		return int32(math.Round(scaled / w.cfg.PxStep))
	default: // DoubleVal
		return int32(math.Round(px / w.cfg.PxStep))
	}
}

// writeSeconds implements the per-emission bookkeeping of spec.md §4.7: it
// rejects out-of-order timestamps, emits a SecondsSample whenever ts
// crosses into a new whole second, and resets the delta-price watermarks at
// that point.
func (w *Writer) writeSeconds(ts time.Time) (secChanged bool, sec int32, usec int64, err error) {
	elapsed := ts.Sub(w.midnight)
	sec = int32(elapsed / time.Second)
	absUsec := int64(elapsed / time.Microsecond)
	usec = absUsec % 1_000_000

	if w.hasLastTs && absUsec < w.lastTsUsec {
		return false, 0, 0, fmt.Errorf("secdb: ts %v before last %v: %w",
			ts, w.midnight.Add(time.Duration(w.lastTsUsec)*time.Microsecond), sdberr.ErrOutOfOrder)
	}

	if !w.hasNextSecond || sec >= w.nextSecond {
		pos, serr := w.f.Seek(0, io.SeekCurrent)
		if serr != nil {
			return false, 0, 0, serr
		}
		w.cm.UpdateDataOffset(sec, uint64(pos))

		buf := record.EncodeSeconds(sec, nil)
		if _, werr := w.f.Write(buf); werr != nil {
			return false, 0, 0, werr
		}

		w.nextSecond = sec + 1
		w.hasNextSecond = true
		w.lastQuote = record.PriceRef{}
		w.lastTrade = record.PriceRef{}
		secChanged = true
	}

	w.hasLastTs = true
	w.lastTsUsec = absUsec
	return secChanged, sec, usec, nil
}

func (w *Writer) tsDelta(secChanged bool, usec int64) uint64 {
	if secChanged {
		return uint64(usec)
	}
	return uint64(usec - w.prevUsec)
}

// WriteQuotes emits a QuoteSample for ts. bids must be sorted descending by
// price (best first); asks ascending (best first). Prices are integer
// price-steps; use Normalize to derive them from a raw price.
func (w *Writer) WriteQuotes(ts time.Time, bids, asks []record.Level) error {
	if err := w.ensureData(); err != nil {
		return err
	}
	if len(bids) > record.MaxNibbleCount || len(asks) > record.MaxNibbleCount {
		return fmt.Errorf("secdb: quote side exceeds %d levels: %w", record.MaxNibbleCount, sdberr.ErrFormat)
	}
	if len(bids)+len(asks) > w.cfg.Depth*2 {
		return fmt.Errorf("secdb: bid_count+ask_count exceeds configured depth: %w", sdberr.ErrFormat)
	}

	secChanged, _, usec, err := w.writeSeconds(ts)
	if err != nil {
		return err
	}

	delta := w.lastQuote.Set
	buf, newRef, err := record.EncodeQuote(delta, w.tsDelta(secChanged, usec), bids, asks, w.lastQuote, nil)
	if err != nil {
		return err
	}
	if _, err := w.f.Write(buf); err != nil {
		return err
	}

	w.lastQuote = newRef
	w.prevUsec = usec
	return nil
}

// WriteTrade emits a TradeSample for ts at the given (already normalized)
// price-step and magnitude quantity; qty contributes to buy volume for
// wire.Buy and sell volume for wire.Sell in the candle aggregates.
func (w *Writer) WriteTrade(ts time.Time, side wire.Side, priceSteps int32, qty uint32, aggr wire.Aggr,
	internal bool, tradeID, orderID *uint64) error {

	if err := w.ensureData(); err != nil {
		return err
	}

	secChanged, sec, usec, err := w.writeSeconds(ts)
	if err != nil {
		return err
	}

	t := record.Trade{Internal: internal, Aggr: aggr, Side: side, Price: priceSteps, TradeID: tradeID, OrderID: orderID}
	if qty > 0 {
		q := int32(qty)
		t.Qty = &q
	}

	buf, newRef := record.EncodeTrade(t, w.tsDelta(secChanged, usec), w.lastTrade, nil)
	if _, err := w.f.Write(buf); err != nil {
		return err
	}

	signedQty := int32(qty)
	if side == wire.Sell {
		signedQty = -signedQty
	}
	w.cm.UpdateCandles(sec, priceSteps, signedQty)

	w.lastTrade = newRef
	w.prevUsec = usec
	return nil
}

// WriteSummary and WriteMsg recognize the reserved Summary/Message stream
// kinds (spec.md §4.6) but carry no implemented body; they exist so callers
// following the orchestrator's write-state machine see a legal, if
// unsupported, transition rather than an undefined one.
func (w *Writer) WriteSummary(ts time.Time) error {
	if err := w.ensureData(); err != nil {
		return err
	}
	return fmt.Errorf("secdb: WriteSummary: %w", sdberr.ErrUnsupported)
}

func (w *Writer) WriteMsg(ts time.Time) error {
	if err := w.ensureData(); err != nil {
		return err
	}
	return fmt.Errorf("secdb: WriteMsg: %w", sdberr.ErrUnsupported)
}

// Flush fsyncs the underlying file.
func (w *Writer) Flush() error {
	return w.f.Sync()
}

// Close commits the candle arrays (entering the data state first if no
// record was ever written, so the magic marker and data offset are still
// finalized) and closes the file. It is idempotent: calling Close again
// after the first is a no-op.
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return nil
	}
	if w.state == stateCandlesMeta {
		if err := w.ensureData(); err != nil {
			return err
		}
	}
	if w.state == stateData {
		if err := w.cm.Commit(w.f); err != nil {
			return err
		}
	}
	w.state = stateClosed
	return w.f.Close()
}
