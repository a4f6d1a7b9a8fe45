package header

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWriteReadRoundTrip(t *testing.T) {
	id := uuid.MustParse("0f7f69c9-fc9d-4517-8318-706e3e58dadd")
	date := time.Date(2015, 10, 15, 0, 0, 0, 0, time.UTC)
	h := Set("KRX", "KR4101", "KR4101K60008", 1, date, "KST", 9*3600, 5, 0.01, id)

	var buf bytes.Buffer
	n, err := Write(&buf, h)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != buf.Len() {
		t.Fatalf("Write returned %d, buffer has %d bytes", n, buf.Len())
	}

	got, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len())+2000)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Exchange != h.Exchange || got.Symbol != h.Symbol || got.Instrument != h.Instrument {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.SecID != h.SecID {
		t.Errorf("secid = %d, want %d", got.SecID, h.SecID)
	}
	if !got.Date.Equal(date) {
		t.Errorf("date = %v, want %v", got.Date, date)
	}
	if got.TZName != "KST" || got.TZOffsetSecs != 9*3600 {
		t.Errorf("tz = %q %d", got.TZName, got.TZOffsetSecs)
	}
	if got.Depth != 5 {
		t.Errorf("depth = %d", got.Depth)
	}
	if got.PxStep != 0.01 {
		t.Errorf("px-step = %v", got.PxStep)
	}
	if got.UUID != id {
		t.Errorf("uuid = %v, want %v", got.UUID, id)
	}
}

func TestReadRejectsShortFile(t *testing.T) {
	id := uuid.New()
	date := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	h := Set("X", "Y", "Z", 0, date, "UTC", 0, 5, 0.01, id)

	var buf bytes.Buffer
	if _, err := Write(&buf, h); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := Read(bytes.NewReader(buf.Bytes()), MinFileSize-1); err == nil {
		t.Fatal("expected error for file below MinFileSize")
	}
}

func TestReadToleratesExtraHeaderLines(t *testing.T) {
	id := uuid.New()
	date := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	h := Set("X", "Y", "Z", 7, date, "UTC", 0, 5, 0.0001, id)

	var buf bytes.Buffer
	if _, err := Write(&buf, h); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw := buf.Bytes()
	// Splice an extra header line in before the terminating blank line.
	term := []byte("\n\n")
	idx := bytes.LastIndex(raw, term)
	if idx < 0 {
		t.Fatal("could not find terminating blank line in fixture")
	}
	spliced := append(append(append([]byte{}, raw[:idx+1]...), []byte("extra: field\n")...), raw[idx+1:]...)

	got, err := Read(bytes.NewReader(spliced), int64(len(spliced))+2000)
	if err != nil {
		t.Fatalf("Read with extra line: %v", err)
	}
	if got.SecID != 7 {
		t.Errorf("secid = %d, want 7", got.SecID)
	}
}

func TestDeriveScale(t *testing.T) {
	cases := []struct {
		step      float64
		wantScale int
	}{
		{0.01, 100},
		{0.0001, 10000},
		{1, 1},
	}
	for _, c := range cases {
		scale, _ := deriveScale(c.step)
		if scale != c.wantScale {
			t.Errorf("deriveScale(%v) scale = %d, want %d", c.step, scale, c.wantScale)
		}
	}
}
