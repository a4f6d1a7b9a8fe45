package secdb

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Suffix is the file extension every secdb file carries.
const Suffix = ".sdb"

// Filename renders the path for a (exchange, symbol, instrument, date)
// tuple under cfg.BaseDir, following either the flat layout
// (<YYYYMMDD>.<exchange>.<symbol>.<instrument>.sdb) or, when cfg.DeepDir is
// set, the nested layout
// (<base>/<exchange>/<symbol>/<YYYY>/<MM>/<instrument>.<YYYYMMDD>.sdb).
// Slash characters in the instrument name are rewritten to hyphens.
func Filename(cfg Config) string {
	instrument := strings.ReplaceAll(cfg.Instrument, "/", "-")
	ymd := cfg.Date.Format("20060102")

	if !cfg.DeepDir {
		name := fmt.Sprintf("%s.%s.%s.%s%s", ymd, cfg.Exchange, cfg.Symbol, instrument, Suffix)
		return filepath.Join(cfg.BaseDir, name)
	}

	yyyy := cfg.Date.Format("2006")
	mm := cfg.Date.Format("01")
	name := fmt.Sprintf("%s.%s%s", instrument, ymd, Suffix)
	return filepath.Join(cfg.BaseDir, cfg.Exchange, cfg.Symbol, yyyy, mm, name)
}

// dirOf returns the directory Filename's result lives in, so a deep-dir
// writer can create it before opening the file.
func dirOf(cfg Config) string {
	return filepath.Dir(Filename(cfg))
}
