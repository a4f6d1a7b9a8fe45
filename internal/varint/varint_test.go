package varint

import "testing"

func TestUleb128RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 32, 1<<64 - 1}
	for _, v := range cases {
		buf := EncodeUleb128(v, nil)
		got, n, err := DecodeUleb128(buf)
		if err != nil {
			t.Fatalf("decode(%d): %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("decode(%d): consumed %d, want %d", v, n, len(buf))
		}
		if got != v {
			t.Errorf("roundtrip(%d) = %d", v, got)
		}
	}
}

func TestSleb128RoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -64, 64, -65, 1<<62 - 1, -(1 << 62)}
	for _, v := range cases {
		buf := EncodeSleb128(v, nil)
		got, n, err := DecodeSleb128(buf)
		if err != nil {
			t.Fatalf("decode(%d): %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("decode(%d): consumed %d, want %d", v, n, len(buf))
		}
		if got != v {
			t.Errorf("roundtrip(%d) = %d", v, got)
		}
	}
}

func TestDecodeNeedsMoreInput(t *testing.T) {
	// A single continuation byte with no terminator is an incomplete value.
	buf := []byte{0x80}
	v, n, err := DecodeUleb128(buf)
	if err != nil || n != 0 || v != 0 {
		t.Fatalf("expected need-more-input, got v=%d n=%d err=%v", v, n, err)
	}
	sv, sn, serr := DecodeSleb128(buf)
	if serr != nil || sn != 0 || sv != 0 {
		t.Fatalf("expected need-more-input, got v=%d n=%d err=%v", sv, sn, serr)
	}
}

func TestDecodeOverflow(t *testing.T) {
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = 0x80
	}
	buf[len(buf)-1] = 0x01
	if _, _, err := DecodeUleb128(buf); err == nil {
		t.Fatal("expected overflow error")
	}
	if _, _, err := DecodeSleb128(buf); err == nil {
		t.Fatal("expected overflow error")
	}
}
