// Package sqlite persists executed fills to a SQLite journal for audit and
// post-trade analysis. The journal is append-only; the current position
// snapshot lives in the ledger's JSON file.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"exitpro-engine/internal/model"
)

// Journal persists fills to SQLite. Implements model.FillJournal.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) the journal database in WAL mode.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		side        TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		fee         REAL DEFAULT 0,
		realized    REAL DEFAULT 0,
		reason      TEXT,
		bar_ts      DATETIME NOT NULL,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[journal] opened fill journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists one fill.
func (j *Journal) RecordFill(fill model.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO fills (order_id, side, symbol, qty, price, fee, realized, reason, bar_ts, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.OrderID,
		string(fill.Signal.Side),
		fill.Signal.Symbol,
		fill.FillQty,
		fill.Price,
		fill.Fee,
		fill.Realized,
		fill.Signal.Reason,
		fill.Signal.TS.Format(time.RFC3339),
		fill.FilledAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// FillRecord is one row from the fills table.
type FillRecord struct {
	ID       int64   `json:"id"`
	OrderID  string  `json:"order_id"`
	Side     string  `json:"side"`
	Symbol   string  `json:"symbol"`
	Qty      int64   `json:"qty"`
	Price    float64 `json:"price"`
	Fee      float64 `json:"fee"`
	Realized float64 `json:"realized"`
	Reason   string  `json:"reason"`
	BarTS    string  `json:"bar_ts"`
	FilledAt string  `json:"filled_at"`
}

// Fills returns the last N fills, newest first.
func (j *Journal) Fills(limit int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, side, symbol, qty, price, fee, realized, reason, bar_ts, filled_at
		 FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Side, &f.Symbol, &f.Qty,
			&f.Price, &f.Fee, &f.Realized, &f.Reason, &f.BarTS, &f.FilledAt); err != nil {
			continue
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
