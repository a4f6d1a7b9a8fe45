// Package candle implements the CandlesMeta block: a set of fixed-size OHLCV
// arrays, one per configured resolution, updated in memory as data is
// appended to the file and rewritten in place by Commit.
package candle

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"secdb/internal/sdberr"
)

const (
	// MetaTag is the CandlesMeta block's leading byte.
	MetaTag byte = 0x03
	// HeaderTag is each per-resolution CandleHeader's leading byte.
	HeaderTag byte = 0x04

	// RecordSize is the encoded size, in bytes, of one Candle.
	RecordSize = 4*4 + 4*2 + 8
)

// Candle is one OHLCV bucket: four int32 prices, buy and sell volume, and a
// uint64 absolute file offset of the first record folded into this bucket.
type Candle struct {
	Open, High, Low, Close int32
	BuyVolume              uint32
	SellVolume             uint32
	DataOffset             uint64
}

func (c Candle) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Open))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(c.High))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c.Low))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(c.Close))
	binary.LittleEndian.PutUint32(buf[16:20], c.BuyVolume)
	binary.LittleEndian.PutUint32(buf[20:24], c.SellVolume)
	binary.LittleEndian.PutUint64(buf[24:32], c.DataOffset)
}

func decodeCandle(buf []byte) Candle {
	return Candle{
		Open:       int32(binary.LittleEndian.Uint32(buf[0:4])),
		High:       int32(binary.LittleEndian.Uint32(buf[4:8])),
		Low:        int32(binary.LittleEndian.Uint32(buf[8:12])),
		Close:      int32(binary.LittleEndian.Uint32(buf[12:16])),
		BuyVolume:  binary.LittleEndian.Uint32(buf[16:20]),
		SellVolume: binary.LittleEndian.Uint32(buf[20:24]),
		DataOffset: binary.LittleEndian.Uint64(buf[24:32]),
	}
}

// Header is one resolution's candle array: its bucket width in seconds, the
// time range it covers, and the fixed-size array of buckets itself.
type Header struct {
	Resolution  uint16 // bucket width, seconds
	StartSecond int32  // seconds-since-midnight of the first bucket
	Candles     []Candle

	touched []bool // whether bucket i has received its first trade yet

	lastBucket    int  // index of the most recently touched bucket, or -1
	lastHadOffset bool // whether lastBucket's DataOffset has been set already

	arrayPos int64 // file position of the first Candle, set by Write
}

// NewHeader builds a Header covering [startSecond, endSecond) at the given
// resolution, with CalcSize buckets all zeroed.
func NewHeader(resolution uint16, startSecond, endSecond int32) Header {
	n := CalcSize(startSecond, endSecond, int32(resolution))
	return Header{
		Resolution:  resolution,
		StartSecond: startSecond,
		Candles:     make([]Candle, n),
		touched:     make([]bool, n),
		lastBucket:  -1,
	}
}

// CalcSize returns the number of resolution-second buckets needed to cover
// the half-open range [start, end), i.e. ceil((end-start)/resolution).
func CalcSize(start, end, resolution int32) int {
	if end <= start || resolution <= 0 {
		return 0
	}
	diff := int64(end) - int64(start)
	res := int64(resolution)
	return int(int64(math.Ceil(float64(diff) / float64(res))))
}

// TimeToCandle returns the bucket index covering the given second-of-day, or
// -1 if it falls outside the header's range.
func (h Header) TimeToCandle(second int32) int {
	if second < h.StartSecond {
		return -1
	}
	idx := int((second - h.StartSecond) / int32(h.Resolution))
	if idx >= len(h.Candles) {
		return -1
	}
	return idx
}

// CandleToTime returns the second-of-day at which bucket idx begins.
func (h Header) CandleToTime(idx int) int32 {
	return h.StartSecond + int32(idx)*int32(h.Resolution)
}

// UpdateCandle folds one trade (price in integer price-steps, signed qty in
// shares/lots — positive for buys, negative for sells, zero contributes no
// volume) into the bucket covering second. It is a no-op if second falls
// outside the header's range.
func (h *Header) UpdateCandle(second int32, price int32, qty int32) {
	idx := h.TimeToCandle(second)
	if idx < 0 {
		return
	}
	c := &h.Candles[idx]
	if !h.touched[idx] {
		c.Open = price
		c.High = price
		c.Low = price
		h.touched[idx] = true
	} else {
		if price > c.High {
			c.High = price
		}
		if price < c.Low {
			c.Low = price
		}
	}
	c.Close = price
	switch {
	case qty > 0:
		c.BuyVolume += uint32(qty)
	case qty < 0:
		c.SellVolume += uint32(-qty)
	}
	if idx != h.lastBucket {
		h.lastBucket = idx
		h.lastHadOffset = false
	}
}

// UpdateDataOffset records offset as the DataOffset field of the bucket
// covering second and marks that bucket as the last updated one.
// Subsequent calls for the same bucket are no-ops, so the field always
// holds the offset of the first record folded into the bucket.
func (h *Header) UpdateDataOffset(second int32, offset uint64) {
	idx := h.TimeToCandle(second)
	if idx < 0 {
		return
	}
	if idx == h.lastBucket && h.lastHadOffset {
		return
	}
	h.Candles[idx].DataOffset = offset
	h.lastBucket = idx
	h.lastHadOffset = true
}

// Write emits the CandleHeader block (tag, resolution, start second, count,
// the absolute file offset of the candle array, then the candle array
// itself) to w, recording the array's file position so Commit can later
// patch it in place.
func (h *Header) Write(w io.WriteSeeker) (int, error) {
	head := make([]byte, 1+1+2+4+4+4)
	head[0] = HeaderTag
	// head[1] is a reserved zero filler byte.
	binary.LittleEndian.PutUint16(head[2:4], h.Resolution)
	binary.LittleEndian.PutUint32(head[4:8], uint32(h.StartSecond))
	binary.LittleEndian.PutUint32(head[8:12], uint32(len(h.Candles)))

	pos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	// The candle array starts right after this header.
	h.arrayPos = pos + int64(len(head))
	binary.LittleEndian.PutUint32(head[12:16], uint32(h.arrayPos))
	n1, err := w.Write(head)
	if err != nil {
		return n1, err
	}

	buf := make([]byte, RecordSize*len(h.Candles))
	for i, c := range h.Candles {
		c.encode(buf[i*RecordSize : (i+1)*RecordSize])
	}
	n2, err := w.Write(buf)
	return n1 + n2, err
}

// Commit seeks back and rewrites the entire candle array with its current
// in-memory contents, then restores the writer's original position.
func (h *Header) Commit(w io.WriteSeeker) (err error) {
	saved, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	defer func() {
		if _, serr := w.Seek(saved, io.SeekStart); err == nil {
			err = serr
		}
	}()

	if _, err = w.Seek(h.arrayPos, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, RecordSize*len(h.Candles))
	for i, c := range h.Candles {
		c.encode(buf[i*RecordSize : (i+1)*RecordSize])
	}
	_, err = w.Write(buf)
	return err
}

func readHeader(r io.Reader) (Header, error) {
	var head [1 + 1 + 2 + 4 + 4 + 4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Header{}, fmt.Errorf("candle: %w", sdberr.ErrTruncated)
	}
	if head[0] != HeaderTag {
		return Header{}, fmt.Errorf("candle: bad tag 0x%02x: %w", head[0], sdberr.ErrFormat)
	}
	h := Header{
		Resolution:  binary.LittleEndian.Uint16(head[2:4]),
		StartSecond: int32(binary.LittleEndian.Uint32(head[4:8])),
		lastBucket:  -1,
	}
	count := binary.LittleEndian.Uint32(head[8:12])
	// head[12:16] (candle array offset) is unused by the reader, which reads
	// the array sequentially.

	h.Candles = make([]Candle, count)
	buf := make([]byte, RecordSize*int(count))
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("candle: %w", sdberr.ErrTruncated)
	}
	for i := range h.Candles {
		h.Candles[i] = decodeCandle(buf[i*RecordSize : (i+1)*RecordSize])
	}
	return h, nil
}

// Meta is the decoded CandlesMeta block: one Header per configured
// resolution.
type Meta struct {
	Headers []Header
}

// Spec describes one resolution's desired coverage.
type Spec struct {
	Resolution  uint16
	StartSecond int32
	EndSecond   int32
}

// New builds a Meta with one zeroed Header per resolution, each covering
// [startSecond, endSecond).
func New(resolutions []uint16, startSecond, endSecond int32) Meta {
	specs := make([]Spec, len(resolutions))
	for i, res := range resolutions {
		specs[i] = Spec{Resolution: res, StartSecond: startSecond, EndSecond: endSecond}
	}
	return NewFromSpecs(specs)
}

// NewFromSpecs builds a Meta with one zeroed Header per Spec, allowing each
// resolution to cover a distinct time range.
func NewFromSpecs(specs []Spec) Meta {
	m := Meta{Headers: make([]Header, len(specs))}
	for i, s := range specs {
		m.Headers[i] = NewHeader(s.Resolution, s.StartSecond, s.EndSecond)
	}
	return m
}

// UpdateCandles folds one trade into every resolution's covering bucket.
func (m *Meta) UpdateCandles(second int32, price int32, qty int32) {
	for i := range m.Headers {
		m.Headers[i].UpdateCandle(second, price, qty)
	}
}

// UpdateDataOffset records offset as the first-touch offset of every
// resolution's covering bucket for second.
func (m *Meta) UpdateDataOffset(second int32, offset uint64) {
	for i := range m.Headers {
		m.Headers[i].UpdateDataOffset(second, offset)
	}
}

// Write emits the CandlesMeta tag, a reserved byte, the resolution count,
// then each Header in turn.
func (m *Meta) Write(w io.WriteSeeker) (int, error) {
	lead := []byte{MetaTag, 0x00, 0, 0}
	binary.LittleEndian.PutUint16(lead[2:4], uint16(len(m.Headers)))
	n, err := w.Write(lead)
	if err != nil {
		return n, err
	}
	for i := range m.Headers {
		hn, err := m.Headers[i].Write(w)
		n += hn
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Commit rewrites every resolution's candle array in place with current
// in-memory contents.
func (m *Meta) Commit(w io.WriteSeeker) error {
	for i := range m.Headers {
		if err := m.Headers[i].Commit(w); err != nil {
			return err
		}
	}
	return nil
}

// Read parses a CandlesMeta block from r, which must immediately follow
// StreamsMeta.
func Read(r io.Reader) (Meta, error) {
	var lead [4]byte
	if _, err := io.ReadFull(r, lead[:]); err != nil {
		return Meta{}, fmt.Errorf("candle: %w", sdberr.ErrTruncated)
	}
	if lead[0] != MetaTag {
		return Meta{}, fmt.Errorf("candle: bad tag 0x%02x: %w", lead[0], sdberr.ErrFormat)
	}
	count := binary.LittleEndian.Uint16(lead[2:4])

	m := Meta{Headers: make([]Header, count)}
	for i := range m.Headers {
		h, err := readHeader(r)
		if err != nil {
			return Meta{}, err
		}
		m.Headers[i] = h
	}
	return m, nil
}
