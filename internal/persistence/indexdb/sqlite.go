package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"cooptrader.dev/internal/persistence/archive"
	"cooptrader.dev/internal/persistence/snapshot"
	"cooptrader.dev/internal/trader"
)

// SQLiteIndex is a queryable read model of trade events, snapshots and wipes.
// Writes are queued and applied by a single goroutine; the journal stays the
// source of truth.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed and every send on ch against Close closing it.
	mu     sync.RWMutex
	closed bool

	dropTrade    atomic.Uint64
	dropSnapshot atomic.Uint64
	dropWipe     atomic.Uint64
}

type reqKind int

const (
	reqTrade reqKind = iota + 1
	reqSnapshot
	reqWipe
)

type req struct {
	kind reqKind

	trade    trader.Event
	snapshot snapshotRow
	wipe     archive.WipeArchiveMeta
}

type snapshotRow struct {
	TraderID string
	Path     string
	TakenAt  string
	Entries  int
	Digest   string
	Reason   string
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTradeTotal    uint64
	DropSnapshotTotal uint64
	DropWipeTotal     uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			at TEXT NOT NULL,
			trader_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			entry_kind TEXT NOT NULL,
			tpl TEXT NOT NULL,
			count INTEGER NOT NULL,
			group_size INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			merged INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_trader_at ON trades(trader_id, at);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_tpl ON trades(tpl);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			trader_id TEXT NOT NULL,
			taken_at TEXT NOT NULL,
			entries INTEGER NOT NULL,
			digest TEXT NOT NULL,
			reason TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_trader ON snapshots(trader_id, taken_at);`,
		`CREATE TABLE IF NOT EXISTS wipes (
			trader_id TEXT NOT NULL,
			wipe INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			digest TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (trader_id, wipe)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// DB exposes the underlying handle for read queries.
func (s *SQLiteIndex) DB() *sqlx.DB { return s.db }

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTradeTotal:    s.dropTrade.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropWipeTotal:     s.dropWipe.Load(),
	}
}

// enqueue hands r to the writer goroutine without blocking. It reports false
// when the queue is full; requests after Close are ignored.
func (s *SQLiteIndex) enqueue(r req) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

func (s *SQLiteIndex) RecordTrade(ev trader.Event) error {
	if s == nil {
		return nil
	}
	if !s.enqueue(req{kind: reqTrade, trade: ev}) {
		s.dropTrade.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	if s == nil {
		return
	}
	r := snapshotRow{
		TraderID: h.TraderID,
		Path:     path,
		TakenAt:  h.TakenAt,
		Entries:  h.Entries,
		Digest:   h.Digest,
		Reason:   h.Reason,
	}
	if !s.enqueue(req{kind: reqSnapshot, snapshot: r}) {
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) RecordWipe(meta archive.WipeArchiveMeta) {
	if s == nil || meta.Wipe <= 0 || meta.TraderID == "" {
		return
	}
	if !s.enqueue(req{kind: reqWipe, wipe: meta}) {
		s.dropWipe.Add(1)
	}
}

// UpsertCatalog stores the raw item catalog so trades can be joined against
// the prices in effect.
func (s *SQLiteIndex) UpsertCatalog(name, digest string, raw []byte) error {
	if s == nil || name == "" || digest == "" || len(raw) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`, name, digest, string(raw), now); err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTrade, _ := s.db.Prepare(`INSERT OR REPLACE INTO trades(id,at,trader_id,session_id,kind,entry_kind,tpl,count,group_size,removed,merged) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,trader_id,taken_at,entries,digest,reason) VALUES(?,?,?,?,?,?)`)
	insertWipe, _ := s.db.Prepare(`INSERT OR REPLACE INTO wipes(trader_id,wipe,entries,digest,reason,created_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTrade, insertSnapshot, insertWipe} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		// Commit when idle too, so readers see trades without waiting for a batch.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTrade:
			ev := r.trade
			exec(insertTrade,
				ev.ID,
				ev.At,
				ev.TraderID,
				ev.SessionID,
				ev.Kind,
				ev.EntryKind,
				ev.Tpl,
				ev.Count,
				ev.GroupSize,
				boolInt(ev.Removed),
				boolInt(ev.Merged),
			)
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.Path, sn.TraderID, sn.TakenAt, sn.Entries, sn.Digest, sn.Reason)
		case reqWipe:
			w := r.wipe
			exec(insertWipe, w.TraderID, w.Wipe, w.Entries, w.Digest, w.Reason, w.CreatedAt)
		}
		flushIfNeeded()
	}

	commit()
}
