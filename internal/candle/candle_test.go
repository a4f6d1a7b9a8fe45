package candle

import (
	"bytes"
	"testing"
)

// seekBuffer adapts a growable byte slice into an io.WriteSeeker for tests.
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

func TestCalcSizeCeiling(t *testing.T) {
	cases := []struct{ start, end, res int32; want int }{
		{0, 86400, 60, 1440},
		{0, 61, 60, 2},
		{0, 60, 60, 1},
		{0, 59, 60, 1},
		{10, 10, 60, 0},
	}
	for _, c := range cases {
		got := CalcSize(c.start, c.end, c.res)
		if got != c.want {
			t.Errorf("CalcSize(%d,%d,%d) = %d, want %d", c.start, c.end, c.res, got, c.want)
		}
	}
}

func TestTimeToCandleAndBack(t *testing.T) {
	h := NewHeader(60, 0, 120)
	if idx := h.TimeToCandle(0); idx != 0 {
		t.Errorf("TimeToCandle(0) = %d, want 0", idx)
	}
	if idx := h.TimeToCandle(59); idx != 0 {
		t.Errorf("TimeToCandle(59) = %d, want 0", idx)
	}
	if idx := h.TimeToCandle(60); idx != 1 {
		t.Errorf("TimeToCandle(60) = %d, want 1", idx)
	}
	if idx := h.TimeToCandle(120); idx != -1 {
		t.Errorf("TimeToCandle(120) = %d, want -1 (out of range)", idx)
	}
	if sec := h.CandleToTime(1); sec != 60 {
		t.Errorf("CandleToTime(1) = %d, want 60", sec)
	}
}

func TestUpdateCandleOHLCV(t *testing.T) {
	// Scenario: resolution=60 starting at second 0 (09:00:00 as second-of-day
	// offset from the window start), trades at t=0 price 1000 qty +5,
	// t=30 price 1005 qty +3, t=45 price 995 qty -2, t=60 price 1002 qty +1
	// (price expressed in integer step-counts, e.g. cents of 10.00).
	h := NewHeader(60, 0, 120)
	h.UpdateCandle(0, 1000, 5)
	h.UpdateCandle(30, 1005, 3)
	h.UpdateCandle(45, 995, -2)
	h.UpdateCandle(60, 1002, 1)

	c0 := h.Candles[0]
	if c0.Open != 1000 || c0.High != 1005 || c0.Low != 995 || c0.Close != 995 {
		t.Errorf("bucket 0 ohlc = %+v", c0)
	}
	if c0.BuyVolume != 8 || c0.SellVolume != 2 {
		t.Errorf("bucket 0 volume = buy %d sell %d, want 8/2", c0.BuyVolume, c0.SellVolume)
	}

	c1 := h.Candles[1]
	if c1.Open != 1002 || c1.High != 1002 || c1.Low != 1002 || c1.Close != 1002 {
		t.Errorf("bucket 1 ohlc = %+v", c1)
	}
	if c1.BuyVolume != 1 || c1.SellVolume != 0 {
		t.Errorf("bucket 1 volume = buy %d sell %d, want 1/0", c1.BuyVolume, c1.SellVolume)
	}
}

func TestUpdateDataOffsetFirstTouchOnly(t *testing.T) {
	h := NewHeader(60, 0, 120)
	h.UpdateCandle(5, 100, 1)
	h.UpdateDataOffset(5, 1000)
	h.UpdateDataOffset(5, 2000) // same bucket, should not overwrite
	if h.Candles[0].DataOffset != 1000 {
		t.Errorf("DataOffset = %d, want 1000 (first touch)", h.Candles[0].DataOffset)
	}

	h.UpdateCandle(65, 101, 1) // next bucket
	h.UpdateDataOffset(65, 3000)
	if h.Candles[1].DataOffset != 3000 {
		t.Errorf("DataOffset = %d, want 3000", h.Candles[1].DataOffset)
	}
}

func TestMetaWriteReadRoundTrip(t *testing.T) {
	m := New([]uint16{60, 300}, 0, 600)
	m.UpdateCandles(30, 100, 5)
	m.UpdateDataOffset(30, 111)
	m.UpdateCandles(350, 120, 2)
	m.UpdateDataOffset(350, 222)

	var sb seekBuffer
	if _, err := m.Write(&sb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Commit(&sb); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := Read(bytes.NewReader(sb.buf))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Headers) != 2 {
		t.Fatalf("got %d headers, want 2", len(got.Headers))
	}
	if got.Headers[0].Resolution != 60 || got.Headers[1].Resolution != 300 {
		t.Errorf("resolutions = %d, %d", got.Headers[0].Resolution, got.Headers[1].Resolution)
	}
	c0 := got.Headers[0].Candles[0]
	if c0.Open != 100 || c0.BuyVolume != 5 || c0.DataOffset != 111 {
		t.Errorf("60s bucket 0 = %+v", c0)
	}
	c1 := got.Headers[1].Candles[1]
	if c1.Open != 120 || c1.BuyVolume != 2 || c1.DataOffset != 222 {
		t.Errorf("300s bucket 1 = %+v", c1)
	}
}
