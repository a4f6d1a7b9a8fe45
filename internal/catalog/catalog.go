// Package catalog maintains a SQLite index of finalized .sdb files, so
// callers can locate a file by (exchange, symbol, instrument, date) without
// walking the filesystem.
package catalog

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the catalog's backing SQLite database.
type Config struct {
	DBPath string // path to the SQLite database file, e.g. "data/catalog.db"
}

// Catalog is a single-writer SQLite index of .sdb files.
type Catalog struct {
	db *sql.DB
}

// DB returns the underlying sql.DB, for health checks.
func (c *Catalog) DB() *sql.DB { return c.db }

// Open opens (creating if needed) the catalog database in WAL mode and
// ensures its schema exists.
func Open(cfg Config) (*Catalog, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: schema: %w", err)
	}

	log.Printf("[catalog] opened database at %s", cfg.DBPath)
	return &Catalog{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			exchange   TEXT    NOT NULL,
			symbol     TEXT    NOT NULL,
			instrument TEXT    NOT NULL,
			secid      INTEGER NOT NULL,
			date       TEXT    NOT NULL,
			path       TEXT    NOT NULL,
			depth      INTEGER NOT NULL,
			px_step    REAL    NOT NULL,
			uuid       TEXT    NOT NULL,
			size_bytes INTEGER NOT NULL,
			indexed_at INTEGER NOT NULL,
			PRIMARY KEY (exchange, symbol, instrument, date)
		);
		CREATE INDEX IF NOT EXISTS idx_files_date ON files(date);
	`)
	return err
}

// Entry is one indexed .sdb file.
type Entry struct {
	Exchange   string
	Symbol     string
	Instrument string
	SecID      int64
	Date       time.Time
	Path       string
	Depth      int
	PxStep     float64
	UUID       string
	SizeBytes  int64
	IndexedAt  time.Time
}

// Upsert records or replaces one file's catalog entry.
func (c *Catalog) Upsert(e Entry) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO files
			(exchange, symbol, instrument, secid, date, path, depth, px_step, uuid, size_bytes, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Exchange, e.Symbol, e.Instrument, e.SecID, e.Date.Format("2006-01-02"), e.Path,
		e.Depth, e.PxStep, e.UUID, e.SizeBytes, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("catalog: upsert %s: %w", e.Path, err)
	}
	return nil
}

// Find returns the catalog entry for (exchange, symbol, instrument, date), or
// sql.ErrNoRows if none is indexed.
func (c *Catalog) Find(exchange, symbol, instrument string, date time.Time) (Entry, error) {
	row := c.db.QueryRow(`
		SELECT exchange, symbol, instrument, secid, date, path, depth, px_step, uuid, size_bytes, indexed_at
		FROM files WHERE exchange = ? AND symbol = ? AND instrument = ? AND date = ?`,
		exchange, symbol, instrument, date.Format("2006-01-02"))

	var e Entry
	var dateStr string
	var indexedAtUnix int64
	err := row.Scan(&e.Exchange, &e.Symbol, &e.Instrument, &e.SecID, &dateStr, &e.Path,
		&e.Depth, &e.PxStep, &e.UUID, &e.SizeBytes, &indexedAtUnix)
	if err != nil {
		return Entry{}, err
	}
	e.Date, _ = time.Parse("2006-01-02", dateStr)
	e.IndexedAt = time.Unix(indexedAtUnix, 0).UTC()
	return e, nil
}

// ListBySymbol returns every indexed file for (exchange, symbol), most
// recent date first.
func (c *Catalog) ListBySymbol(exchange, symbol string) ([]Entry, error) {
	rows, err := c.db.Query(`
		SELECT exchange, symbol, instrument, secid, date, path, depth, px_step, uuid, size_bytes, indexed_at
		FROM files WHERE exchange = ? AND symbol = ? ORDER BY date DESC`, exchange, symbol)
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s/%s: %w", exchange, symbol, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var dateStr string
		var indexedAtUnix int64
		if err := rows.Scan(&e.Exchange, &e.Symbol, &e.Instrument, &e.SecID, &dateStr, &e.Path,
			&e.Depth, &e.PxStep, &e.UUID, &e.SizeBytes, &indexedAtUnix); err != nil {
			return nil, err
		}
		e.Date, _ = time.Parse("2006-01-02", dateStr)
		e.IndexedAt = time.Unix(indexedAtUnix, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
