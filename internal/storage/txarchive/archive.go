// Package txarchive mirrors the transaction journal into a relational
// table and serves per-account history queries from it. It implements
// ledger.Sink, so it can be fanned out next to the pebble journal.
package txarchive

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/simecon/ledgerd/internal/core/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	seq       INTEGER PRIMARY KEY,
	kind      TEXT    NOT NULL,
	from_addr TEXT    NOT NULL,
	to_addr   TEXT    NOT NULL,
	amount    INTEGER NOT NULL,
	fee       INTEGER NOT NULL,
	ts        INTEGER NOT NULL,
	memo      TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(from_addr);
CREATE INDEX IF NOT EXISTS idx_transactions_to   ON transactions(to_addr);
`

// Archive is a sqlite-backed transaction store.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive. dsn is a sqlite path or
// ":memory:" for tests.
func Open(dsn string) (*Archive, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", dsn, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Append inserts one record. Records are immutable, so a duplicate
// sequence number is a defect and surfaces as a constraint error.
func (a *Archive) Append(rec ledger.TxRecord) error {
	_, err := a.db.Exec(
		`INSERT INTO transactions (seq, kind, from_addr, to_addr, amount, fee, ts, memo)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Seq, string(rec.Kind), string(rec.From), string(rec.To),
		rec.Amount, rec.Fee, rec.Timestamp.UnixNano(), rec.Memo,
	)
	if err != nil {
		return fmt.Errorf("archive record %d: %w", rec.Seq, err)
	}
	return nil
}

// RecentByAccount returns up to limit records touching addr, most
// recent first.
func (a *Archive) RecentByAccount(addr ledger.Address, limit int) ([]ledger.TxRecord, error) {
	rows, err := a.db.Query(
		`SELECT seq, kind, from_addr, to_addr, amount, fee, ts, memo
		 FROM transactions
		 WHERE from_addr = ? OR to_addr = ?
		 ORDER BY seq DESC LIMIT ?`,
		string(addr), string(addr), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.TxRecord
	for rows.Next() {
		var rec ledger.TxRecord
		var kind, from, to string
		var ts int64
		if err := rows.Scan(&rec.Seq, &kind, &from, &to, &rec.Amount, &rec.Fee, &ts, &rec.Memo); err != nil {
			return nil, err
		}
		rec.Kind = ledger.RecordKind(kind)
		rec.From = ledger.Address(from)
		rec.To = ledger.Address(to)
		rec.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of archived records.
func (a *Archive) Count() (int, error) {
	var n int
	err := a.db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
