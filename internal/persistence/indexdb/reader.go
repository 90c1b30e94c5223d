package indexdb

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type TradeRow struct {
	ID        string `db:"id" json:"id"`
	At        string `db:"at" json:"at"`
	TraderID  string `db:"trader_id" json:"trader_id"`
	SessionID string `db:"session_id" json:"session_id"`
	Kind      string `db:"kind" json:"kind"`
	EntryKind string `db:"entry_kind" json:"entry_kind"`
	Tpl       string `db:"tpl" json:"tpl"`
	Count     int    `db:"count" json:"count"`
	GroupSize int    `db:"group_size" json:"group_size"`
	Removed   bool   `db:"removed" json:"removed"`
	Merged    bool   `db:"merged" json:"merged"`
}

// FlowRow is the units sold to and bought from a trader per template.
type FlowRow struct {
	Tpl    string `db:"tpl" json:"tpl"`
	Sold   int64  `db:"sold" json:"sold"`
	Bought int64  `db:"bought" json:"bought"`
	Trades int64  `db:"trades" json:"trades"`
}

type SnapshotRow struct {
	Path     string `db:"path" json:"path"`
	TraderID string `db:"trader_id" json:"trader_id"`
	TakenAt  string `db:"taken_at" json:"taken_at"`
	Entries  int    `db:"entries" json:"entries"`
	Digest   string `db:"digest" json:"digest"`
	Reason   string `db:"reason" json:"reason"`
}

// Reader runs read queries against an index file.
type Reader struct {
	db *sqlx.DB
}

// OpenReader opens an existing index file.
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Reader{db: db}, nil
}

func NewReader(db *sqlx.DB) *Reader { return &Reader{db: db} }

func (r *Reader) Close() error { return r.db.Close() }

// RecentTrades returns the newest trades, optionally filtered by trader.
func (r *Reader) RecentTrades(ctx context.Context, traderID string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []TradeRow
	var err error
	if traderID == "" {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT id, at, trader_id, session_id, kind, entry_kind, tpl, count, group_size, removed, merged
			 FROM trades ORDER BY at DESC, id LIMIT ?`, limit)
	} else {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT id, at, trader_id, session_id, kind, entry_kind, tpl, count, group_size, removed, merged
			 FROM trades WHERE trader_id = ? ORDER BY at DESC, id LIMIT ?`, traderID, limit)
	}
	return rows, err
}

// Flow aggregates sold and bought units per template for one trader.
func (r *Reader) Flow(ctx context.Context, traderID string) ([]FlowRow, error) {
	var rows []FlowRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tpl,
			COALESCE(SUM(CASE WHEN kind = 'sell' THEN count ELSE 0 END), 0) AS sold,
			COALESCE(SUM(CASE WHEN kind = 'buy' THEN count ELSE 0 END), 0) AS bought,
			COUNT(*) AS trades
		FROM trades WHERE trader_id = ?
		GROUP BY tpl ORDER BY tpl`, traderID)
	return rows, err
}

func (r *Reader) Snapshots(ctx context.Context, traderID string) ([]SnapshotRow, error) {
	var rows []SnapshotRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT path, trader_id, taken_at, entries, digest, reason FROM snapshots WHERE trader_id = ? ORDER BY taken_at`, traderID)
	return rows, err
}

func (r *Reader) TradeCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM trades`)
	return n, err
}
