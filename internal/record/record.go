// Package record implements the tagged-union stream record codecs:
// SecondsSample, QuoteSample, and TradeSample, plus recognition of the
// reserved Summary/Message/Order tags.
package record

import (
	"fmt"

	"secdb/internal/sdberr"
	"secdb/internal/varint"
	"secdb/internal/wire"
)

const (
	deltaBit = 0x80
	typeMask = 0x7f

	// MaxNibbleCount is the hard wire-format limit on bid_count and
	// ask_count: each is packed into one 4-bit nibble of the quote's
	// count byte.
	MaxNibbleCount = 15

	// MaxDepth is the default configurable ceiling on bid_count+ask_count
	// for one quote. Callers may tighten it (e.g. to the header's Depth
	// field); it can never exceed 2*MaxNibbleCount.
	MaxDepth = 30
)

// MakeTag packs a stream type and its delta flag into a record's leading
// byte.
func MakeTag(st wire.StreamType, delta bool) byte {
	b := byte(st) & typeMask
	if delta {
		b |= deltaBit
	}
	return b
}

// SplitTag unpacks a record's leading byte into its stream type and delta
// flag.
func SplitTag(b byte) (wire.StreamType, bool) {
	return wire.StreamType(b & typeMask), b&deltaBit != 0
}

// Unset is not used by the codecs: the "no reference price yet" state of
// last_quote_px / last_trade_px is a PriceRef whose Set field is false,
// a tagged optional rather than the source's INT_MIN constant.
type Unset struct{}

// PriceRef holds the rolling "last price of this kind" reference the write
// and read paths both maintain. A zero-value PriceRef is unset.
type PriceRef struct {
	Value int32
	Set   bool
}

func (p *PriceRef) reset() { *p = PriceRef{} }

// ---- SecondsSample ----

// EncodeSeconds appends a SecondsSample record for the given
// seconds-since-midnight to buf.
func EncodeSeconds(sec int32, buf []byte) []byte {
	buf = append(buf, MakeTag(wire.Seconds, false))
	return varint.EncodeSleb128(int64(sec), buf)
}

// DecodeSeconds decodes a SecondsSample record from the front of data
// (which must begin at the tag byte). It returns (0, 0, nil) if data does
// not yet hold a complete record.
func DecodeSeconds(data []byte) (sec int32, consumed int, err error) {
	if len(data) < 1 {
		return 0, 0, nil
	}
	st, _ := SplitTag(data[0])
	if st != wire.Seconds {
		return 0, 0, fmt.Errorf("record: expected SecondsSample tag, got %v: %w", st, sdberr.ErrFormat)
	}
	v, n, err := varint.DecodeSleb128(data[1:])
	if err != nil {
		return 0, 0, err
	}
	if n == 0 {
		return 0, 0, nil
	}
	return int32(v), 1 + n, nil
}

// ---- QuoteSample ----

// Level is one price/quantity pair of a quote book side.
type Level struct {
	Price int32
	Qty   int32
}

// Quote is a decoded QuoteSample: Bids ordered best-to-worst (descending
// price), Asks ordered best-to-worst (ascending price) — the same order a
// caller passed to EncodeQuote.
type Quote struct {
	Delta         bool
	TimeDeltaUsec uint64
	Bids          []Level
	Asks          []Level
}

// EncodeQuote appends a QuoteSample record to buf. bids must be sorted
// descending by price (best first), asks ascending (best first). ref is the
// current last_quote_px reference; EncodeQuote returns the new reference
// value (the quote's anchor price) for the caller to store.
func EncodeQuote(delta bool, timeDeltaUsec uint64, bids, asks []Level, ref PriceRef, buf []byte) ([]byte, PriceRef, error) {
	if len(bids) > MaxNibbleCount || len(asks) > MaxNibbleCount {
		return nil, ref, fmt.Errorf("record: quote side exceeds %d levels: %w", MaxNibbleCount, sdberr.ErrFormat)
	}
	if len(bids)+len(asks) > MaxDepth {
		return nil, ref, fmt.Errorf("record: bid_count+ask_count exceeds MaxDepth %d: %w", MaxDepth, sdberr.ErrFormat)
	}

	wireLevels := make([]Level, 0, len(bids)+len(asks))
	for i := len(bids) - 1; i >= 0; i-- {
		wireLevels = append(wireLevels, bids[i])
	}
	wireLevels = append(wireLevels, asks...)

	buf = append(buf, MakeTag(wire.Quotes, delta))
	buf = varint.EncodeUleb128(timeDeltaUsec, buf)
	buf = append(buf, byte(len(asks)<<4)|byte(len(bids)))

	if len(wireLevels) == 0 {
		return buf, ref, nil
	}

	anchor := wireLevels[0].Price
	firstDelta := int64(anchor)
	if delta {
		firstDelta = int64(anchor) - int64(ref.Value)
	}
	buf = varint.EncodeSleb128(firstDelta, buf)
	buf = varint.EncodeSleb128(int64(wireLevels[0].Qty), buf)

	prev := anchor
	for _, lvl := range wireLevels[1:] {
		buf = varint.EncodeSleb128(int64(lvl.Price)-int64(prev), buf)
		buf = varint.EncodeSleb128(int64(lvl.Qty), buf)
		prev = lvl.Price
	}

	return buf, PriceRef{Value: anchor, Set: true}, nil
}

// DecodeQuote decodes a QuoteSample record from the front of data (which
// must begin at the tag byte), restoring absolute prices against ref. It
// returns (zero-value, 0, ref, nil) if data does not yet hold a complete
// record.
func DecodeQuote(data []byte, ref PriceRef) (Quote, int, PriceRef, error) {
	if len(data) < 1 {
		return Quote{}, 0, ref, nil
	}
	st, delta := SplitTag(data[0])
	if st != wire.Quotes {
		return Quote{}, 0, ref, fmt.Errorf("record: expected QuoteSample tag, got %v: %w", st, sdberr.ErrFormat)
	}

	pos := 1
	timeDelta, n, err := varint.DecodeUleb128(data[pos:])
	if err != nil {
		return Quote{}, 0, ref, err
	}
	if n == 0 {
		return Quote{}, 0, ref, nil
	}
	pos += n

	if len(data) <= pos {
		return Quote{}, 0, ref, nil
	}
	countByte := data[pos]
	pos++
	bidCount := int(countByte & 0x0f)
	askCount := int(countByte >> 4)
	if bidCount > MaxNibbleCount || askCount > MaxNibbleCount {
		return Quote{}, 0, ref, fmt.Errorf("record: quote side exceeds %d levels: %w", MaxNibbleCount, sdberr.ErrFormat)
	}
	if bidCount+askCount > MaxDepth {
		return Quote{}, 0, ref, fmt.Errorf("record: bid_count+ask_count exceeds MaxDepth %d: %w", MaxDepth, sdberr.ErrFormat)
	}

	total := bidCount + askCount
	wireLevels := make([]Level, total)
	newRef := ref
	var prev int32
	for i := 0; i < total; i++ {
		pd, n, err := varint.DecodeSleb128(data[pos:])
		if err != nil {
			return Quote{}, 0, ref, err
		}
		if n == 0 {
			return Quote{}, 0, ref, nil
		}
		pos += n

		qty, n, err := varint.DecodeSleb128(data[pos:])
		if err != nil {
			return Quote{}, 0, ref, err
		}
		if n == 0 {
			return Quote{}, 0, ref, nil
		}
		pos += n

		var price int32
		if i == 0 {
			if delta {
				price = ref.Value + int32(pd)
			} else {
				price = int32(pd)
			}
			newRef = PriceRef{Value: price, Set: true}
		} else {
			price = prev + int32(pd)
		}
		wireLevels[i] = Level{Price: price, Qty: int32(qty)}
		prev = price
	}

	q := Quote{Delta: delta, TimeDeltaUsec: timeDelta}
	q.Bids = make([]Level, bidCount)
	for i := 0; i < bidCount; i++ {
		q.Bids[bidCount-1-i] = wireLevels[i]
	}
	q.Asks = append(q.Asks, wireLevels[bidCount:]...)

	return q, pos, newRef, nil
}

// ---- TradeSample ----

const (
	fieldInternal byte = 1 << 0
	fieldAggrLow  byte = 1 << 1 // 2-bit aggressor field occupies bits 1-2
	fieldAggrHigh byte = 1 << 2
	fieldSide     byte = 1 << 3
	fieldHasQty   byte = 1 << 4
	fieldHasTrade byte = 1 << 5
	fieldHasOrder byte = 1 << 6
)

// Trade is a decoded TradeSample.
type Trade struct {
	Delta      bool
	TimeDeltaUsec uint64
	Internal   bool
	Aggr       wire.Aggr
	Side       wire.Side
	Price      int32
	Qty        *int32
	TradeID    *uint64
	OrderID    *uint64
}

func encodeFieldMask(t Trade) byte {
	var m byte
	if t.Internal {
		m |= fieldInternal
	}
	m |= byte(t.Aggr&0x3) << 1
	if t.Side == wire.Sell {
		m |= fieldSide
	}
	if t.Qty != nil {
		m |= fieldHasQty
	}
	if t.TradeID != nil {
		m |= fieldHasTrade
	}
	if t.OrderID != nil {
		m |= fieldHasOrder
	}
	return m
}

// EncodeTrade appends a TradeSample record to buf. ref is the current
// last_trade_px; EncodeTrade returns the new reference value.
func EncodeTrade(t Trade, timeDeltaUsec uint64, ref PriceRef, buf []byte) ([]byte, PriceRef) {
	buf = append(buf, MakeTag(wire.Trade, ref.Set))
	buf = varint.EncodeUleb128(timeDeltaUsec, buf)
	buf = append(buf, encodeFieldMask(t))

	priceDelta := int64(t.Price)
	if ref.Set {
		priceDelta = int64(t.Price) - int64(ref.Value)
	}
	buf = varint.EncodeSleb128(priceDelta, buf)

	if t.Qty != nil {
		buf = varint.EncodeSleb128(int64(*t.Qty), buf)
	}
	if t.TradeID != nil {
		buf = varint.EncodeUleb128(*t.TradeID, buf)
	}
	if t.OrderID != nil {
		buf = varint.EncodeUleb128(*t.OrderID, buf)
	}

	return buf, PriceRef{Value: t.Price, Set: true}
}

// DecodeTrade decodes a TradeSample record from the front of data (which
// must begin at the tag byte), restoring the absolute price against ref. It
// returns (zero-value, 0, ref, nil) if data does not yet hold a complete
// record.
func DecodeTrade(data []byte, ref PriceRef) (Trade, int, PriceRef, error) {
	if len(data) < 1 {
		return Trade{}, 0, ref, nil
	}
	st, delta := SplitTag(data[0])
	if st != wire.Trade {
		return Trade{}, 0, ref, fmt.Errorf("record: expected TradeSample tag, got %v: %w", st, sdberr.ErrFormat)
	}

	pos := 1
	timeDelta, n, err := varint.DecodeUleb128(data[pos:])
	if err != nil {
		return Trade{}, 0, ref, err
	}
	if n == 0 {
		return Trade{}, 0, ref, nil
	}
	pos += n

	if len(data) <= pos {
		return Trade{}, 0, ref, nil
	}
	mask := data[pos]
	pos++

	pd, n, err := varint.DecodeSleb128(data[pos:])
	if err != nil {
		return Trade{}, 0, ref, err
	}
	if n == 0 {
		return Trade{}, 0, ref, nil
	}
	pos += n

	var price int32
	if delta {
		price = ref.Value + int32(pd)
	} else {
		price = int32(pd)
	}

	t := Trade{
		Delta:         delta,
		TimeDeltaUsec: timeDelta,
		Internal:      mask&fieldInternal != 0,
		Aggr:          wire.Aggr((mask >> 1) & 0x3),
		Price:         price,
	}
	if mask&fieldSide != 0 {
		t.Side = wire.Sell
	} else {
		t.Side = wire.Buy
	}

	if mask&fieldHasQty != 0 {
		qty, n, err := varint.DecodeSleb128(data[pos:])
		if err != nil {
			return Trade{}, 0, ref, err
		}
		if n == 0 {
			return Trade{}, 0, ref, nil
		}
		pos += n
		q32 := int32(qty)
		t.Qty = &q32
	}
	if mask&fieldHasTrade != 0 {
		id, n, err := varint.DecodeUleb128(data[pos:])
		if err != nil {
			return Trade{}, 0, ref, err
		}
		if n == 0 {
			return Trade{}, 0, ref, nil
		}
		pos += n
		t.TradeID = &id
	}
	if mask&fieldHasOrder != 0 {
		id, n, err := varint.DecodeUleb128(data[pos:])
		if err != nil {
			return Trade{}, 0, ref, err
		}
		if n == 0 {
			return Trade{}, 0, ref, nil
		}
		pos += n
		t.OrderID = &id
	}

	return t, pos, PriceRef{Value: price, Set: true}, nil
}

// PeekReservedKind inspects a reserved-tag record's leading byte and
// reports the stream kind, for callers that must recognize Summary,
// Message, and Order tags without a decodable body.
func PeekReservedKind(tagByte byte) (wire.StreamType, error) {
	st, _ := SplitTag(tagByte)
	switch st {
	case wire.Summary, wire.Message, wire.Order:
		return st, nil
	default:
		return st, fmt.Errorf("record: not a reserved stream kind: %w", sdberr.ErrUnsupported)
	}
}
