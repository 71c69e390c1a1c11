// Package store persists auction state and the deposits ledger in
// SQLite so a restarted auctiond can rehydrate every auction it was
// custodian of.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/cloudx-io/escrowauction/core"
)

// Store wraps a single SQLite database. Writes go through transactions;
// the connection pool is pinned to one connection, which is all SQLite
// can usefully serve for this write pattern.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps writers from blocking the status reads auctiond serves.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS auctions (
			id             TEXT PRIMARY KEY,
			phase          TEXT NOT NULL,
			terminated     INTEGER NOT NULL DEFAULT 0,
			seller         TEXT NOT NULL,
			collection     TEXT NOT NULL DEFAULT '',
			token_id       TEXT NOT NULL DEFAULT '',
			end_time_unix  INTEGER NOT NULL DEFAULT 0,
			highest_bid    TEXT NOT NULL DEFAULT '0',
			highest_bidder TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS deposits (
			auction_id TEXT NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
			bidder     TEXT NOT NULL,
			amount     TEXT NOT NULL,
			PRIMARY KEY (auction_id, bidder)
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save writes one auction snapshot atomically: the auction row is
// upserted and the deposits ledger replaced in the same transaction.
func (s *Store) Save(snap core.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var endUnix int64
	if !snap.EndTime.IsZero() {
		endUnix = snap.EndTime.Unix()
	}

	_, err = tx.Exec(`INSERT INTO auctions
		(id, phase, terminated, seller, collection, token_id, end_time_unix, highest_bid, highest_bidder)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			terminated = excluded.terminated,
			collection = excluded.collection,
			token_id = excluded.token_id,
			end_time_unix = excluded.end_time_unix,
			highest_bid = excluded.highest_bid,
			highest_bidder = excluded.highest_bidder`,
		snap.ID, string(snap.Phase), boolToInt(snap.Terminated), string(snap.Seller),
		snap.Asset.Collection, snap.Asset.TokenID, endUnix,
		snap.HighestBid.String(), string(snap.HighestBidder))
	if err != nil {
		return fmt.Errorf("upsert auction %s: %w", snap.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM deposits WHERE auction_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clear deposits for %s: %w", snap.ID, err)
	}
	for bidder, amount := range snap.Deposits {
		if amount.IsZero() {
			continue
		}
		_, err := tx.Exec(`INSERT INTO deposits (auction_id, bidder, amount) VALUES (?, ?, ?)`,
			snap.ID, string(bidder), amount.String())
		if err != nil {
			return fmt.Errorf("insert deposit %s/%s: %w", snap.ID, bidder, err)
		}
	}

	return tx.Commit()
}

// LoadAll reads every persisted auction snapshot for rehydration.
func (s *Store) LoadAll() ([]core.Snapshot, error) {
	rows, err := s.db.Query(`SELECT id, phase, terminated, seller, collection, token_id,
		end_time_unix, highest_bid, highest_bidder FROM auctions`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var snaps []core.Snapshot
	for rows.Next() {
		var (
			snap       core.Snapshot
			phase      string
			terminated int
			sellerID   string
			bidderID   string
			highestBid string
			endUnix    int64
		)
		err := rows.Scan(&snap.ID, &phase, &terminated, &sellerID,
			&snap.Asset.Collection, &snap.Asset.TokenID, &endUnix, &highestBid, &bidderID)
		if err != nil {
			return nil, err
		}
		snap.Phase = core.Phase(phase)
		snap.Terminated = terminated != 0
		snap.Seller = core.Identity(sellerID)
		snap.HighestBidder = core.Identity(bidderID)
		if endUnix != 0 {
			snap.EndTime = time.Unix(endUnix, 0).UTC()
		}
		snap.HighestBid, err = decimal.NewFromString(highestBid)
		if err != nil {
			return nil, fmt.Errorf("auction %s: bad highest bid %q: %w", snap.ID, highestBid, err)
		}
		snap.Deposits = make(map[core.Identity]decimal.Decimal)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range snaps {
		if err := s.loadDeposits(&snaps[i]); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

func (s *Store) loadDeposits(snap *core.Snapshot) error {
	rows, err := s.db.Query(`SELECT bidder, amount FROM deposits WHERE auction_id = ?`, snap.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var bidder, amount string
		if err := rows.Scan(&bidder, &amount); err != nil {
			return err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("auction %s: bad deposit %q for %s: %w", snap.ID, amount, bidder, err)
		}
		snap.Deposits[core.Identity(bidder)] = d
	}
	return rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
