// Package header implements the secdb text header: the human-readable,
// line-oriented block that opens every .sdb file and identifies the
// (exchange, symbol, instrument, date) tuple the file covers.
package header

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"secdb/internal/sdberr"
)

// Version is the only file format version this package writes and accepts.
const Version = 1

// MinFileSize is the minimum number of bytes a well-formed secdb file can
// have; anything shorter cannot contain a valid header.
const MinFileSize = 165

const shebang = "#!/usr/bin/env sdb\n"

// Header is the immutable (once written) identity of one secdb file.
type Header struct {
	Version      uint32
	Exchange     string
	Symbol       string
	Instrument   string
	SecID        int64
	Date         time.Time // UTC midnight of the file's logical day
	TZName       string
	TZOffsetSecs int
	Depth        int
	PxStep       float64
	PxScale      int
	PxPrecision  int
	UUID         uuid.UUID
}

// Set populates h from caller-supplied fields, deriving PxScale and
// PxPrecision from PxStep and generating a random UUID when none is given.
func Set(exchange, symbol, instrument string, secID int64, date time.Time,
	tzName string, tzOffsetSecs, depth int, pxStep float64, id uuid.UUID) Header {

	if id == uuid.Nil {
		id = uuid.New()
	}
	scale, precision := deriveScale(pxStep)
	return Header{
		Version:      Version,
		Exchange:     exchange,
		Symbol:       symbol,
		Instrument:   instrument,
		SecID:        secID,
		Date:         date.UTC().Truncate(24 * time.Hour),
		TZName:       tzName,
		TZOffsetSecs: tzOffsetSecs,
		Depth:        depth,
		PxStep:       pxStep,
		PxScale:      scale,
		PxPrecision:  precision,
		UUID:         id,
	}
}

func deriveScale(pxStep float64) (scale, precision int) {
	if pxStep == 0 {
		return 0, 0
	}
	scale = int(math.Round(1.0 / pxStep))
	if scale > 0 {
		precision = int(math.Round(math.Log10(float64(scale))))
	}
	return scale, precision
}

// tzString renders the "±HHMM TZNAME" group written after utc-date.
func (h Header) tzString() string {
	sign := byte('+')
	off := h.TZOffsetSecs
	if off < 0 {
		sign = '-'
		off = -off
	}
	hh := off / 3600
	mm := (off % 3600) / 60
	return fmt.Sprintf("%c%02d%02d %s", sign, hh, mm, h.TZName)
}

// Write emits the text header (shebang, fields, blank-line terminator) and
// returns the number of bytes written.
func Write(w io.Writer, h Header) (int, error) {
	y, m, d := h.Date.Date()
	s := shebang +
		fmt.Sprintf("version:  %d\n", h.Version) +
		fmt.Sprintf("utc-date: %04d-%02d-%02d (%s)\n", y, int(m), d, h.tzString()) +
		fmt.Sprintf("exchange: %s\n", h.Exchange) +
		fmt.Sprintf("symbol:   %s\n", h.Symbol) +
		fmt.Sprintf("instr:    %s\n", h.Instrument) +
		fmt.Sprintf("secid:    %d\n", h.SecID) +
		fmt.Sprintf("depth:    %d\n", h.Depth) +
		fmt.Sprintf("px-step:  %.*f\n", h.PxPrecision, h.PxStep) +
		fmt.Sprintf("uuid:     %s\n\n", h.UUID.String())

	n, err := io.WriteString(w, s)
	return n, err
}

// readLine reads a single '\n'-terminated line directly from r, one byte at
// a time. Unlike bufio.Reader, it never looks ahead past the delimiter, so r
// is left positioned exactly after the newline — callers that go on to parse
// further fixed-offset sections of the same stream (StreamsMeta, CandlesMeta)
// depend on this.
func readLine(r io.Reader) (string, error) {
	var buf []byte
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if n > 0 {
			buf = append(buf, b[0])
			if b[0] == '\n' {
				return string(buf), nil
			}
		}
		if err != nil {
			return string(buf), err
		}
	}
}

// Read parses a text header from r. It tolerates extra header lines between
// "uuid:" and the terminating blank line, consuming until the double
// newline. fileSize is the total size of the underlying file, used to
// reject files below MinFileSize before any parsing is attempted. r is left
// positioned immediately after the terminating blank line, ready for the
// next section to be read from the same stream.
func Read(r io.Reader, fileSize int64) (Header, error) {
	if fileSize < MinFileSize {
		return Header{}, fmt.Errorf("header: file size %d below minimum %d: %w",
			fileSize, MinFileSize, sdberr.ErrFormat)
	}

	line, err := readLine(r)
	if err != nil || line != shebang {
		return Header{}, fmt.Errorf("header: missing shebang line: %w", sdberr.ErrFormat)
	}

	fields := map[string]string{}
	order := []string{"version", "utc-date", "exchange", "symbol", "instr", "secid", "depth", "px-step", "uuid"}
	for _, key := range order {
		line, err = readLine(r)
		if err != nil {
			return Header{}, fmt.Errorf("header: reading %q: %w", key, sdberr.ErrFormat)
		}
		line = strings.TrimRight(line, "\n")
		prefix := key + ":"
		if !strings.HasPrefix(line, prefix) {
			return Header{}, fmt.Errorf("header: expected %q, got %q: %w", prefix, line, sdberr.ErrFormat)
		}
		fields[key] = strings.TrimSpace(line[len(prefix):])
	}

	// Consume lines until the blank-line terminator, tolerating extra
	// header lines a newer writer may have added.
	for {
		line, err = readLine(r)
		if err != nil {
			return Header{}, fmt.Errorf("header: missing terminating blank line: %w", sdberr.ErrFormat)
		}
		if line == "\n" {
			break
		}
	}

	h, err := parseFields(fields)
	if err != nil {
		return Header{}, err
	}
	return h, nil
}

func parseFields(f map[string]string) (Header, error) {
	var h Header

	ver, err := strconv.ParseUint(f["version"], 10, 32)
	if err != nil {
		return h, fmt.Errorf("header: bad version %q: %w", f["version"], sdberr.ErrFormat)
	}
	h.Version = uint32(ver)

	date, tzOff, tzName, err := parseUTCDate(f["utc-date"])
	if err != nil {
		return h, err
	}
	h.Date = date
	h.TZOffsetSecs = tzOff
	h.TZName = tzName

	h.Exchange = f["exchange"]
	h.Symbol = f["symbol"]
	h.Instrument = f["instr"]

	secid, err := strconv.ParseInt(f["secid"], 10, 64)
	if err != nil {
		return h, fmt.Errorf("header: bad secid %q: %w", f["secid"], sdberr.ErrFormat)
	}
	h.SecID = secid

	depth, err := strconv.Atoi(f["depth"])
	if err != nil {
		return h, fmt.Errorf("header: bad depth %q: %w", f["depth"], sdberr.ErrFormat)
	}
	h.Depth = depth

	step, err := strconv.ParseFloat(f["px-step"], 64)
	if err != nil {
		return h, fmt.Errorf("header: bad px-step %q: %w", f["px-step"], sdberr.ErrFormat)
	}
	h.PxStep = step
	h.PxScale, h.PxPrecision = deriveScale(step)

	id, err := uuid.Parse(f["uuid"])
	if err != nil {
		return h, fmt.Errorf("header: bad uuid %q: %w", f["uuid"], sdberr.ErrFormat)
	}
	h.UUID = id

	return h, nil
}

// parseUTCDate parses "YYYY-MM-DD (±HHMM TZNAME)".
func parseUTCDate(s string) (date time.Time, tzOffsetSecs int, tzName string, err error) {
	sp := strings.IndexByte(s, ' ')
	if sp < 0 || !strings.HasSuffix(s, ")") || s[sp+1] != '(' {
		return time.Time{}, 0, "", fmt.Errorf("header: malformed utc-date %q: %w", s, sdberr.ErrFormat)
	}
	dateStr := s[:sp]
	date, err = time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, 0, "", fmt.Errorf("header: malformed date %q: %w", dateStr, sdberr.ErrFormat)
	}

	tzGroup := s[sp+2 : len(s)-1] // strip "(" and ")"
	parts := strings.SplitN(tzGroup, " ", 2)
	if len(parts) != 2 || len(parts[0]) != 5 {
		return time.Time{}, 0, "", fmt.Errorf("header: malformed timezone offset %q: %w", tzGroup, sdberr.ErrFormat)
	}
	offStr := parts[0]
	sign := 1
	switch offStr[0] {
	case '-':
		sign = -1
	case '+':
		sign = 1
	default:
		return time.Time{}, 0, "", fmt.Errorf("header: malformed timezone sign %q: %w", offStr, sdberr.ErrFormat)
	}
	hh, err1 := strconv.Atoi(offStr[1:3])
	mm, err2 := strconv.Atoi(offStr[3:5])
	if err1 != nil || err2 != nil {
		return time.Time{}, 0, "", fmt.Errorf("header: malformed timezone offset %q: %w", offStr, sdberr.ErrFormat)
	}

	return date.UTC(), sign * (hh*3600 + mm*60), parts[1], nil
}
