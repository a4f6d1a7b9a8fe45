package secdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"secdb/internal/candle"
	"secdb/internal/header"
	"secdb/internal/record"
	"secdb/internal/sdberr"
	"secdb/internal/streammeta"
	"secdb/internal/wire"
)

// Visitor receives decoded quote and trade samples from Reader.Visit.
// SecondsSample records update the Reader's internal clock but are not
// delivered to either callback.
type Visitor struct {
	OnQuote func(ts time.Time, q record.Quote)
	OnTrade func(ts time.Time, t record.Trade)
}

// Reader drives the read-side path of spec.md §4.8: header, StreamsMeta,
// CandlesMeta are parsed eagerly at Open; Visit then seeks to the data
// offset and sequentially decodes the record stream.
type Reader struct {
	f        *os.File
	hdr      header.Header
	sm       streammeta.Meta
	cm       candle.Meta
	midnight time.Time
}

// Open opens path read-only and parses its header, StreamsMeta, and
// CandlesMeta.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	h, err := header.Read(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	if h.Version != header.Version {
		f.Close()
		return nil, fmt.Errorf("secdb: unsupported file version %d: %w", h.Version, sdberr.ErrUnsupported)
	}

	sm, err := streammeta.Read(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	cm, err := candle.Read(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Reader{f: f, hdr: h, sm: sm, cm: cm, midnight: h.Date}, nil
}

// Header returns the file's parsed text header.
func (r *Reader) Header() header.Header { return r.hdr }

// Streams returns the ordered list of stream kinds the file declares.
func (r *Reader) Streams() []wire.StreamType { return r.sm.Streams }

// Candles returns the parsed candle index.
func (r *Reader) Candles() candle.Meta { return r.cm }

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// Visit seeks to the data offset, verifies the magic marker, and decodes
// the record stream in order, delivering each quote and trade to v.
func (r *Reader) Visit(v Visitor) error {
	if _, err := r.f.Seek(int64(r.sm.DataOffset), io.SeekStart); err != nil {
		return err
	}

	var magic [4]byte
	if _, err := io.ReadFull(r.f, magic[:]); err != nil {
		return fmt.Errorf("secdb: reading magic marker: %w", sdberr.ErrTruncated)
	}
	if binary.LittleEndian.Uint32(magic[:]) != MagicMarker {
		return fmt.Errorf("secdb: bad magic marker: %w", sdberr.ErrFormat)
	}

	var (
		buf        []byte
		chunk       = make([]byte, 4096)
		lastQuote  record.PriceRef
		lastTrade  record.PriceRef
		curSecond  int32
		haveSecond bool
		lastUsec   uint64
	)

outer:
	for {
		n, rerr := r.f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}

		for len(buf) > 0 {
			st, _ := record.SplitTag(buf[0])
			switch st {
			case wire.Seconds:
				sec, consumed, err := record.DecodeSeconds(buf)
				if err != nil {
					return err
				}
				if consumed == 0 {
					if rerr == io.EOF {
						return fmt.Errorf("secdb: truncated SecondsSample: %w", sdberr.ErrTruncated)
					}
					continue outer
				}
				curSecond = sec
				haveSecond = true
				lastQuote = record.PriceRef{}
				lastTrade = record.PriceRef{}
				lastUsec = 0
				buf = buf[consumed:]

			case wire.Quotes:
				q, consumed, newRef, err := record.DecodeQuote(buf, lastQuote)
				if err != nil {
					return err
				}
				if consumed == 0 {
					if rerr == io.EOF {
						return fmt.Errorf("secdb: truncated QuoteSample: %w", sdberr.ErrTruncated)
					}
					continue outer
				}
				lastQuote = newRef
				buf = buf[consumed:]
				lastUsec += q.TimeDeltaUsec
				if v.OnQuote != nil && haveSecond {
					ts := r.midnight.Add(time.Duration(curSecond)*time.Second + time.Duration(lastUsec)*time.Microsecond)
					v.OnQuote(ts, q)
				}

			case wire.Trade:
				t, consumed, newRef, err := record.DecodeTrade(buf, lastTrade)
				if err != nil {
					return err
				}
				if consumed == 0 {
					if rerr == io.EOF {
						return fmt.Errorf("secdb: truncated TradeSample: %w", sdberr.ErrTruncated)
					}
					continue outer
				}
				lastTrade = newRef
				buf = buf[consumed:]
				lastUsec += t.TimeDeltaUsec
				if v.OnTrade != nil && haveSecond {
					ts := r.midnight.Add(time.Duration(curSecond)*time.Second + time.Duration(lastUsec)*time.Microsecond)
					v.OnTrade(ts, t)
				}

			default:
				return fmt.Errorf("secdb: reserved stream kind %v encountered: %w", st, sdberr.ErrUnsupported)
			}
		}

		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
