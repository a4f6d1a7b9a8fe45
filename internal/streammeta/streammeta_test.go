package streammeta

import (
	"bytes"
	"testing"

	"secdb/internal/wire"
)

// seekBuffer adapts a bytes.Buffer into an io.WriteSeeker for tests, since
// bytes.Buffer itself does not support seeking.
type seekBuffer struct {
	buf []byte
	pos int64
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.buf)) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	n := copy(s.buf[s.pos:end], p)
	s.pos = end
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = offset
	case 1:
		s.pos += offset
	case 2:
		s.pos = int64(len(s.buf)) + offset
	}
	return s.pos, nil
}

func TestWriteReadRoundTrip(t *testing.T) {
	streams := []wire.StreamType{wire.Seconds, wire.Quotes, wire.Trade}
	m := New(streams)

	var sb seekBuffer
	if _, err := Write(&sb, &m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := WriteDataOffset(&sb, m.DataOffsetPos(), 4242); err != nil {
		t.Fatalf("WriteDataOffset: %v", err)
	}

	got, err := Read(bytes.NewReader(sb.buf))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.DataOffset != 4242 {
		t.Errorf("DataOffset = %d, want 4242", got.DataOffset)
	}
	if len(got.Streams) != len(streams) {
		t.Fatalf("got %d streams, want %d", len(got.Streams), len(streams))
	}
	for i, st := range streams {
		if got.Streams[i] != st {
			t.Errorf("stream[%d] = %v, want %v", i, got.Streams[i], st)
		}
	}
}

func TestWriteDataOffsetRestoresPosition(t *testing.T) {
	m := New([]wire.StreamType{wire.Seconds})
	var sb seekBuffer
	if _, err := Write(&sb, &m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	end := sb.pos
	if err := WriteDataOffset(&sb, m.DataOffsetPos(), 99); err != nil {
		t.Fatalf("WriteDataOffset: %v", err)
	}
	if sb.pos != end {
		t.Errorf("position after WriteDataOffset = %d, want %d", sb.pos, end)
	}
}

func TestReadRejectsUnsupportedCompression(t *testing.T) {
	raw := []byte{Tag, 0x01, 0, 0, 0, 0, 0}
	if _, err := Read(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error for unsupported compression")
	}
}
