// Package streammeta implements the StreamsMeta binary block: the set of
// stream kinds present in a file, plus the back-patchable "beginning of
// data" absolute file offset.
package streammeta

import (
	"encoding/binary"
	"fmt"
	"io"

	"secdb/internal/sdberr"
	"secdb/internal/wire"
)

const (
	// Tag is the StreamsMeta block's leading byte.
	Tag byte = 0x01
	// StreamTag is each per-stream entry's leading byte.
	StreamTag byte = 0x02
)

// CompressKind identifies the (reserved) compression scheme applied to the
// data stream. Only None is implemented; any other value fails to read.
type CompressKind byte

const (
	CompressNone CompressKind = iota
	CompressGzip
)

// Meta is the decoded StreamsMeta block.
type Meta struct {
	Compression   CompressKind
	DataOffset    uint32
	Streams       []wire.StreamType
	dataOffsetPos int64 // file position of the DataOffset field, set by Write
}

// New builds a Meta listing the given stream kinds, uncompressed, with a
// zero (not yet known) data offset.
func New(streams []wire.StreamType) Meta {
	return Meta{Compression: CompressNone, Streams: streams}
}

// DataOffsetPos returns the file position of the DataOffset field recorded
// by the most recent call to Write.
func (m Meta) DataOffsetPos() int64 { return m.dataOffsetPos }

// Write emits the StreamsMeta block to w, which must support io.Seeker so a
// later WriteDataOffset call can return to patch the DataOffset field. It
// records the field's absolute position in m.dataOffsetPos.
func Write(w io.WriteSeeker, m *Meta) (int, error) {
	buf := []byte{Tag, byte(m.Compression)}
	n1, err := w.Write(buf)
	if err != nil {
		return n1, err
	}

	pos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return n1, err
	}
	m.dataOffsetPos = pos

	rest := make([]byte, 0, 4+1+2*len(m.Streams))
	rest = append(rest, 0, 0, 0, 0) // DataOffset placeholder, patched later
	rest = append(rest, byte(len(m.Streams)))
	for _, st := range m.Streams {
		rest = append(rest, StreamTag, byte(st))
	}
	n2, err := w.Write(rest)
	return n1 + n2, err
}

// WriteDataOffset seeks to the recorded DataOffset field, overwrites it with
// value, and restores the writer's original position on every exit path.
func WriteDataOffset(w io.WriteSeeker, pos int64, value uint32) (err error) {
	saved, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	defer func() {
		if _, serr := w.Seek(saved, io.SeekStart); err == nil {
			err = serr
		}
	}()

	if _, err = w.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	_, err = w.Write(buf[:])
	return err
}

// Read parses a StreamsMeta block from r, which must immediately follow the
// text header.
func Read(r io.Reader) (Meta, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Meta{}, fmt.Errorf("streammeta: %w", sdberr.ErrTruncated)
	}
	if hdr[0] != Tag {
		return Meta{}, fmt.Errorf("streammeta: bad tag 0x%02x: %w", hdr[0], sdberr.ErrFormat)
	}
	compression := CompressKind(hdr[1])
	if compression != CompressNone {
		return Meta{}, fmt.Errorf("streammeta: unsupported compression %d: %w", compression, sdberr.ErrUnsupported)
	}

	var rest [5]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return Meta{}, fmt.Errorf("streammeta: %w", sdberr.ErrTruncated)
	}
	dataOffset := binary.LittleEndian.Uint32(rest[:4])
	count := int(rest[4])

	streams := make([]wire.StreamType, 0, count)
	for i := 0; i < count; i++ {
		var entry [2]byte
		if _, err := io.ReadFull(r, entry[:]); err != nil {
			return Meta{}, fmt.Errorf("streammeta: %w", sdberr.ErrTruncated)
		}
		if entry[0] != StreamTag {
			return Meta{}, fmt.Errorf("streammeta: bad stream tag 0x%02x: %w", entry[0], sdberr.ErrFormat)
		}
		st := wire.StreamType(entry[1])
		if !st.Valid() {
			return Meta{}, fmt.Errorf("streammeta: invalid stream type %d: %w", entry[1], sdberr.ErrFormat)
		}
		streams = append(streams, st)
	}

	return Meta{Compression: compression, DataOffset: dataOffset, Streams: streams}, nil
}
