package record

import (
	"testing"

	"secdb/internal/wire"
)

func TestSecondsRoundTrip(t *testing.T) {
	buf := EncodeSeconds(3605, nil)
	sec, n, err := DecodeSeconds(buf)
	if err != nil {
		t.Fatalf("DecodeSeconds: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if sec != 3605 {
		t.Errorf("sec = %d, want 3605", sec)
	}
}

func TestSecondsNeedsMoreInput(t *testing.T) {
	buf := []byte{MakeTag(wire.Seconds, false)}
	_, n, err := DecodeSeconds(buf)
	if err != nil || n != 0 {
		t.Fatalf("expected need-more-input, got n=%d err=%v", n, err)
	}
}

func TestQuoteRoundTripFull(t *testing.T) {
	bids := []Level{{Price: 110, Qty: 30}, {Price: 105, Qty: 20}, {Price: 100, Qty: 10}}
	asks := []Level{{Price: 111, Qty: 20}, {Price: 116, Qty: 40}, {Price: 120, Qty: 60}}

	buf, ref, err := EncodeQuote(false, 0, bids, asks, PriceRef{}, nil)
	if err != nil {
		t.Fatalf("EncodeQuote: %v", err)
	}
	if !ref.Set || ref.Value != 100 {
		t.Fatalf("anchor ref = %+v, want deepest bid 100", ref)
	}

	q, n, newRef, err := DecodeQuote(buf, PriceRef{})
	if err != nil {
		t.Fatalf("DecodeQuote: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if newRef != ref {
		t.Errorf("decode ref %+v != encode ref %+v", newRef, ref)
	}
	if len(q.Bids) != 3 || len(q.Asks) != 3 {
		t.Fatalf("bid/ask counts = %d/%d", len(q.Bids), len(q.Asks))
	}
	for i, b := range bids {
		if q.Bids[i] != b {
			t.Errorf("bid[%d] = %+v, want %+v", i, q.Bids[i], b)
		}
	}
	for i, a := range asks {
		if q.Asks[i] != a {
			t.Errorf("ask[%d] = %+v, want %+v", i, q.Asks[i], a)
		}
	}
}

func TestQuoteRoundTripDelta(t *testing.T) {
	bids := []Level{{Price: 111, Qty: 31}, {Price: 106, Qty: 21}}
	asks := []Level{{Price: 112, Qty: 21}, {Price: 116, Qty: 41}}
	priorRef := PriceRef{Value: 100, Set: true}

	buf, ref, err := EncodeQuote(true, 5000000, bids, asks, priorRef, nil)
	if err != nil {
		t.Fatalf("EncodeQuote: %v", err)
	}

	q, _, newRef, err := DecodeQuote(buf, priorRef)
	if err != nil {
		t.Fatalf("DecodeQuote: %v", err)
	}
	if newRef != ref {
		t.Errorf("ref mismatch: %+v != %+v", newRef, ref)
	}
	if q.TimeDeltaUsec != 5000000 {
		t.Errorf("time delta = %d", q.TimeDeltaUsec)
	}
	if q.Bids[0].Price != 111 || q.Asks[1].Price != 116 {
		t.Errorf("bids/asks = %+v / %+v", q.Bids, q.Asks)
	}
}

func TestQuoteRejectsOverDepth(t *testing.T) {
	bids := make([]Level, MaxNibbleCount+1)
	if _, _, err := EncodeQuote(false, 0, bids, nil, PriceRef{}, nil); err == nil {
		t.Fatal("expected error for over-nibble bid count")
	}
}

func TestQuoteNeedsMoreInput(t *testing.T) {
	full, _, err := EncodeQuote(false, 0,
		[]Level{{Price: 100, Qty: 1}}, []Level{{Price: 101, Qty: 1}}, PriceRef{}, nil)
	if err != nil {
		t.Fatalf("EncodeQuote: %v", err)
	}
	for cut := 0; cut < len(full); cut++ {
		_, n, _, err := DecodeQuote(full[:cut], PriceRef{})
		if err != nil {
			t.Fatalf("unexpected error at cut %d: %v", cut, err)
		}
		if n != 0 {
			t.Fatalf("cut %d: expected 0 bytes consumed on partial input, got %d", cut, n)
		}
	}
}

func TestTradeRoundTripFullAndDelta(t *testing.T) {
	qty1 := int32(1)
	tid := uint64(42)
	oid := uint64(99)
	trade1 := Trade{Aggr: wire.AggrAggressor, Side: wire.Buy, Price: 10000, Qty: &qty1, TradeID: &tid, OrderID: &oid}

	buf, ref1 := EncodeTrade(trade1, 0, PriceRef{}, nil)
	decoded1, n1, refAfter1, err := DecodeTrade(buf, PriceRef{})
	if err != nil {
		t.Fatalf("DecodeTrade(1): %v", err)
	}
	if n1 != len(buf) {
		t.Fatalf("consumed %d, want %d", n1, len(buf))
	}
	if decoded1.Price != 10000 || decoded1.Side != wire.Buy || *decoded1.Qty != 1 {
		t.Errorf("decoded1 = %+v", decoded1)
	}
	if refAfter1 != ref1 {
		t.Errorf("ref mismatch: %+v != %+v", refAfter1, ref1)
	}

	trade2 := Trade{Aggr: wire.AggrAggressor, Side: wire.Buy, Price: 10001}
	buf2, ref2 := EncodeTrade(trade2, 1, ref1, nil)
	decoded2, _, refAfter2, err := DecodeTrade(buf2, refAfter1)
	if err != nil {
		t.Fatalf("DecodeTrade(2): %v", err)
	}
	if !decoded2.Delta {
		t.Error("expected second trade to be delta-encoded")
	}
	if decoded2.Price != 10001 {
		t.Errorf("decoded2.Price = %d, want 10001", decoded2.Price)
	}
	if decoded2.TimeDeltaUsec != 1 {
		t.Errorf("decoded2 time delta = %d, want 1", decoded2.TimeDeltaUsec)
	}
	if refAfter2 != ref2 {
		t.Errorf("ref mismatch: %+v != %+v", refAfter2, ref2)
	}
}

func TestPeekReservedKind(t *testing.T) {
	for _, st := range []wire.StreamType{wire.Summary, wire.Message, wire.Order} {
		got, err := PeekReservedKind(MakeTag(st, false))
		if err != nil {
			t.Fatalf("PeekReservedKind(%v): %v", st, err)
		}
		if got != st {
			t.Errorf("got %v, want %v", got, st)
		}
	}
	if _, err := PeekReservedKind(MakeTag(wire.Seconds, false)); err == nil {
		t.Fatal("expected error for non-reserved tag")
	}
}
