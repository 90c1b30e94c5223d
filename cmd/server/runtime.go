package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"cooptrader.dev/internal/assort/ledger"
	"cooptrader.dev/internal/catalogs"
	"cooptrader.dev/internal/config"
	"cooptrader.dev/internal/host"
	"cooptrader.dev/internal/persistence/archive"
	"cooptrader.dev/internal/persistence/indexdb"
	persistlog "cooptrader.dev/internal/persistence/log"
	"cooptrader.dev/internal/persistence/snapshot"
	"cooptrader.dev/internal/protocol"
	"cooptrader.dev/internal/trader"
	"cooptrader.dev/internal/transport/ws"
)

// runtime owns every long-lived component of the server process.
type runtime struct {
	cfg config.Config
	cat *catalogs.ItemCatalog

	registry *trader.Registry
	journal  *persistlog.TradeLogger
	audit    *persistlog.AuditLogger
	idx      *indexdb.SQLiteIndex

	tables  *host.Tables
	trades  *host.TradeInterceptor
	assorts *host.AssortInterceptor
	bridge  *ws.Server

	logger *log.Logger
}

func buildRuntime(cfg config.Config, disableDB bool, logger *log.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	catPath := cfg.Catalog
	cat, err := catalogs.Load(catPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	rt.cat = cat

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, err
	}

	if cfg.Journal.Enabled {
		dir := cfg.Resolve(cfg.Journal.Dir)
		rt.journal = persistlog.NewTradeLogger(dir)
		rt.audit = persistlog.NewAuditLogger(dir)
	}
	if cfg.Index.Enabled && !disableDB {
		idx, err := indexdb.OpenSQLite(cfg.Resolve(cfg.Index.Path))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open index: %w", err)
		}
		rt.idx = idx
		raw, err := os.ReadFile(catPath)
		if err == nil {
			err = idx.UpsertCatalog("items", cat.Digest, raw)
		}
		if err != nil {
			logger.Printf("index: upsert catalog: %v", err)
		}
	}

	var sinks trader.MultiSink
	if rt.journal != nil {
		sinks = append(sinks, rt.journal)
	}
	if rt.idx != nil {
		sinks = append(sinks, rt.idx)
	}

	rt.registry = trader.NewRegistry()
	traderLog := log.New(logger.Writer(), "[trader] ", logger.Flags())
	for _, spec := range cfg.Traders {
		store := ledger.NewStore(cfg.CacheDir, spec.ID)
		t := trader.New(trader.Config{
			ID:              spec.ID,
			Currency:        spec.Currency,
			LoyaltyLevel:    spec.LoyaltyLevel,
			GroupStackCount: spec.GroupStackCount,
		}, store, cat.PriceFunc(spec.Multiplier()),
			trader.WithLogger(traderLog),
			trader.WithEventSink(sinks),
		)
		if err := rt.registry.Register(t); err != nil {
			rt.Close()
			return nil, err
		}
	}

	hostLog := log.New(logger.Writer(), "[host] ", logger.Flags())
	rt.tables = host.NewTables()
	rt.trades = host.NewTradeInterceptor(rt.registry, nil, hostLog)
	rt.assorts = host.NewAssortInterceptor(rt.registry, rt.tables, nil, hostLog)

	refs := make([]protocol.TraderRef, 0, len(cfg.Traders))
	for _, spec := range cfg.Traders {
		refs = append(refs, protocol.TraderRef{
			TraderID:     spec.ID,
			Currency:     spec.Currency,
			LoyaltyLevel: spec.LoyaltyLevel,
		})
	}
	wsLog := log.New(logger.Writer(), "[ws] ", logger.Flags())
	rt.bridge = ws.NewServer(rt.trades, rt.assorts, ws.Options{
		Traders:       refs,
		CatalogDigest: cat.Digest,
	}, wsLog)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.journal != nil {
		_ = rt.journal.Close()
	}
	if rt.audit != nil {
		_ = rt.audit.Close()
	}
	if rt.idx != nil {
		_ = rt.idx.Close()
	}
}

type snapshotResult struct {
	TraderID string `json:"trader_id"`
	Path     string `json:"path,omitempty"`
	Entries  int    `json:"entries"`
	Pruned   int    `json:"pruned,omitempty"`
	Error    string `json:"error,omitempty"`
}

// snapshotAll writes one snapshot per registered trader and prunes old ones.
func (rt *runtime) snapshotAll(reason string) ([]snapshotResult, error) {
	dir := rt.cfg.Resolve(rt.cfg.Snapshots.Dir)
	now := time.Now()
	var out []snapshotResult
	var firstErr error
	for _, id := range rt.registry.IDs() {
		res := snapshotResult{TraderID: id}
		path, h, err := rt.snapshotTrader(dir, id, reason, now)
		if err != nil {
			res.Error = err.Error()
			if firstErr == nil {
				firstErr = fmt.Errorf("snapshot %s: %w", id, err)
			}
			out = append(out, res)
			continue
		}
		res.Path = path
		res.Entries = h.Entries
		n, err := snapshot.Prune(dir, id, rt.cfg.Snapshots.Keep)
		if err != nil {
			rt.logger.Printf("prune snapshots %s: %v", id, err)
		}
		res.Pruned = n
		rt.idx.RecordSnapshot(path, h)
		out = append(out, res)
	}
	return out, firstErr
}

func (rt *runtime) snapshotTrader(dir, traderID, reason string, at time.Time) (string, snapshot.Header, error) {
	t, err := rt.registry.Get(traderID)
	if err != nil {
		return "", snapshot.Header{}, err
	}
	l, err := t.Ledger()
	if err != nil {
		return "", snapshot.Header{}, err
	}
	path, err := snapshot.Take(dir, traderID, reason, l, at)
	if err != nil {
		return "", snapshot.Header{}, err
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return "", snapshot.Header{}, err
	}
	return path, snap.Header, nil
}

// wipe archives a trader's ledger and resets it to empty.
func (rt *runtime) wipe(traderID, actor, reason string) (archive.WipeArchiveMeta, error) {
	var meta archive.WipeArchiveMeta
	t, err := rt.registry.Get(traderID)
	if err != nil {
		return meta, err
	}
	err = t.Exclusive(func(store *ledger.Store) error {
		m, _, err := archive.Wipe(store, traderID, reason)
		meta = m
		return err
	})
	if err != nil {
		return meta, err
	}
	rt.idx.RecordWipe(meta)
	if rt.audit != nil {
		_ = rt.audit.WriteAudit(persistlog.AuditEntry{
			Action:   "wipe",
			TraderID: traderID,
			Actor:    actor,
			Detail:   reason,
			Entries:  meta.Entries,
		})
	}
	rt.logger.Printf("wiped %s: archived %d entries as wipe %d", traderID, meta.Entries, meta.Wipe)
	return meta, nil
}
