// cmd/sdbdump prints the quotes and trades stored in a .sdb file.
//
// Usage:
//
//	go run ./cmd/sdbdump -f 20151015.KRX.KR4101.KR4101K60008.sdb -Q -T
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"secdb"
	"secdb/internal/header"
	"secdb/internal/record"
)

func main() {
	log.SetFlags(0)

	file := flag.String("f", "", "path to the .sdb file to read (required)")
	output := flag.String("o", "", "output filename (default: stdout)")
	quotes := flag.Bool("Q", false, "print quotes")
	trades := flag.Bool("T", false, "print trades")
	maxDepth := flag.Int("m", 100, "limit printed book depth to this many levels per side")
	delim := flag.String("delim", "|", "field delimiter")
	tzLocal := flag.Bool("z", false, "format time in the file's local timezone (default: UTC)")
	epoch := flag.Bool("epoch", false, "print time as microseconds since midnight instead of HH:MM:SS.uuuuuu")
	showSymbol := flag.Bool("S", false, "include the symbol in the output")
	showXchg := flag.Bool("X", false, "include the exchange in the output")
	showInstr := flag.Bool("I", false, "include the instrument in the output")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "sdbdump: -f is required")
		flag.Usage()
		os.Exit(1)
	}
	if !*quotes && !*trades {
		*quotes, *trades = true, true
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("sdbdump: %v", err)
		}
		defer f.Close()
		out = f
	}

	r, err := secdb.Open(*file)
	if err != nil {
		log.Fatalf("sdbdump: open %s: %v", *file, err)
	}
	defer r.Close()

	h := r.Header()
	w := csv.NewWriter(out)
	w.Comma = rune((*delim)[0])
	defer w.Flush()

	p := &printer{
		w: w, h: h, tzLocal: *tzLocal, epoch: *epoch, maxDepth: *maxDepth,
		showSymbol: *showSymbol, showXchg: *showXchg, showInstr: *showInstr,
	}

	visitor := secdb.Visitor{}
	if *quotes {
		visitor.OnQuote = p.printQuote
	}
	if *trades {
		visitor.OnTrade = p.printTrade
	}

	if err := r.Visit(visitor); err != nil {
		log.Fatalf("sdbdump: %s: %v", *file, err)
	}
}

type printer struct {
	w                                *csv.Writer
	h                                header.Header
	tzLocal, epoch                   bool
	maxDepth                         int
	showSymbol, showXchg, showInstr bool
}

func (p *printer) idColumns() []string {
	var cols []string
	if p.showXchg {
		cols = append(cols, p.h.Exchange)
	}
	if p.showSymbol {
		cols = append(cols, p.h.Symbol)
	}
	if p.showInstr {
		cols = append(cols, p.h.Instrument)
	}
	return cols
}

func (p *printer) timeField(ts time.Time) string {
	local := ts
	if p.tzLocal {
		local = ts.In(time.FixedZone(p.h.TZName, p.h.TZOffsetSecs))
	} else {
		local = ts.UTC()
	}
	if p.epoch {
		hh, mm, ss := local.Clock()
		usec := int64(hh*3600+mm*60+ss)*1_000_000 + int64(local.Nanosecond()/1000)
		return strconv.FormatInt(usec, 10)
	}
	return local.Format("15:04:05.000000")
}

func (p *printer) printQuote(ts time.Time, q record.Quote) {
	row := append([]string{p.timeField(ts)}, p.idColumns()...)
	row = append(row, "Q")
	row = append(row, levelsField(q.Bids, p.maxDepth), levelsField(q.Asks, p.maxDepth))
	p.w.Write(row)
}

func (p *printer) printTrade(ts time.Time, t record.Trade) {
	row := append([]string{p.timeField(ts)}, p.idColumns()...)
	row = append(row, "T", t.Side.String(), strconv.Itoa(int(t.Price)))
	qty := ""
	if t.Qty != nil {
		qty = strconv.Itoa(int(*t.Qty))
	}
	row = append(row, qty)
	row = append(row, idField(t.TradeID), idField(t.OrderID))
	p.w.Write(row)
}

func levelsField(levels []record.Level, maxDepth int) string {
	if len(levels) > maxDepth {
		levels = levels[:maxDepth]
	}
	parts := make([]string, len(levels))
	for i, lvl := range levels {
		parts[i] = fmt.Sprintf("%d@%d", lvl.Price, lvl.Qty)
	}
	return strings.Join(parts, " ")
}

func idField(id *uint64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatUint(*id, 10)
}
