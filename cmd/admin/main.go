package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cooptrader.dev/internal/assort/ledger"
	"cooptrader.dev/internal/catalogs"
	"cooptrader.dev/internal/config"
	"cooptrader.dev/internal/persistence/archive"
	persistlog "cooptrader.dev/internal/persistence/log"
	"cooptrader.dev/internal/persistence/snapshot"
	"cooptrader.dev/internal/trader"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "ledger":
			ledgerCmd(os.Args[2:])
			return
		case "assort":
			assortCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "wipe":
			wipeCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <ledger|assort|db|journal|snapshot|wipe|state> [flags]")
	os.Exit(2)
}

// target is the trader an offline command operates on.
type target struct {
	cfg    config.Config
	spec   config.TraderSpec
	trader *trader.Trader
}

func commonFlags(fs *flag.FlagSet) (cfgPath, cacheDir, traderID *string) {
	cfgPath = fs.String("config", "./configs/cooptrader.yaml", "server config path")
	cacheDir = fs.String("cache_dir", "", "override cache_dir from the config")
	traderID = fs.String("trader", trader.DefaultID, "trader id")
	return
}

func openTarget(cfgPath, cacheDir, traderID string) (target, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return target{}, err
	}
	if v := strings.TrimSpace(cacheDir); v != "" {
		cfg.CacheDir = v
	}
	spec, ok := cfg.Trader(strings.TrimSpace(traderID))
	if !ok {
		return target{}, fmt.Errorf("%w: %s", trader.ErrUnknownTrader, traderID)
	}
	cat, err := catalogs.Load(cfg.Catalog)
	if err != nil {
		return target{}, err
	}
	t := trader.New(trader.Config{
		ID:              spec.ID,
		Currency:        spec.Currency,
		LoyaltyLevel:    spec.LoyaltyLevel,
		GroupStackCount: spec.GroupStackCount,
	}, ledger.NewStore(cfg.CacheDir, spec.ID), cat.PriceFunc(spec.Multiplier()))
	return target{cfg: cfg, spec: spec, trader: t}, nil
}

func mustTarget(cfgPath, cacheDir, traderID string) target {
	tg, err := openTarget(cfgPath, cacheDir, traderID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return tg
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func ledgerCmd(args []string) {
	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	cfgPath, cacheDir, traderID := commonFlags(fs)
	_ = fs.Parse(args)

	tg := mustTarget(*cfgPath, *cacheDir, *traderID)
	l, err := tg.trader.Ledger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load ledger:", err)
		os.Exit(1)
	}
	if l == nil {
		l = ledger.Ledger{}
	}
	printJSON(l)
}

func assortCmd(args []string) {
	fs := flag.NewFlagSet("assort", flag.ExitOnError)
	cfgPath, cacheDir, traderID := commonFlags(fs)
	summary := fs.Bool("summary", false, "print offer counts instead of the table")
	_ = fs.Parse(args)

	tg := mustTarget(*cfgPath, *cacheDir, *traderID)
	tab, err := tg.trader.RefreshAssort()
	if err != nil {
		// Partial table: still printed.
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	if *summary {
		fmt.Printf("trader=%s offers=%d items=%d\n", tg.spec.ID, tab.Offers(), len(tab.Items))
		return
	}
	printJSON(tab)
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	cfgPath, cacheDir, traderID := commonFlags(fs)
	kind := fs.String("kind", "trades", "trades|audit")
	_ = fs.Parse(args)

	tg := mustTarget(*cfgPath, *cacheDir, *traderID)
	dir := tg.cfg.Resolve(tg.cfg.Journal.Dir)
	n, err := dumpJournal(dir, *kind, tg.spec.ID, func(line []byte) {
		fmt.Println(string(line))
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "journal:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d records\n", n)
}

// dumpJournal streams journal records belonging to traderID, oldest file first.
func dumpJournal(dir, kind, traderID string, fn func(line []byte)) (int, error) {
	sub := kind
	if sub != "trades" && sub != "audit" {
		return 0, fmt.Errorf("unknown journal kind: %s", kind)
	}
	files, err := persistlog.Files(filepath.Join(dir, sub), sub)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		err := persistlog.ReadJSONL(f, func(line []byte) error {
			var head struct {
				TraderID string `json:"trader_id"`
			}
			if err := json.Unmarshal(line, &head); err != nil {
				return err
			}
			if traderID != "" && head.TraderID != traderID {
				return nil
			}
			fn(line)
			n++
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("%s: %w", f, err)
		}
	}
	return n, nil
}

func snapshotCmd(args []string) {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("snapshot "+sub, flag.ExitOnError)
	cfgPath, cacheDir, traderID := commonFlags(fs)
	path := fs.String("path", "", "snapshot path (restore; defaults to latest)")
	reason := fs.String("reason", "admin", "snapshot reason")
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url (request)")
	_ = fs.Parse(args)

	if sub == "request" {
		requestSnapshot(*baseURL, *reason)
		return
	}

	tg := mustTarget(*cfgPath, *cacheDir, *traderID)
	dir := tg.cfg.Resolve(tg.cfg.Snapshots.Dir)
	switch sub {
	case "list":
		paths, err := snapshot.List(dir, tg.spec.ID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		for _, p := range paths {
			fmt.Println(p)
		}
	case "take":
		l, err := tg.trader.Ledger()
		if err != nil {
			fmt.Fprintln(os.Stderr, "load ledger:", err)
			os.Exit(1)
		}
		p, err := snapshot.Take(dir, tg.spec.ID, *reason, l, time.Now())
		if err != nil {
			fmt.Fprintln(os.Stderr, "take:", err)
			os.Exit(1)
		}
		fmt.Println(p)
	case "restore":
		p, n, err := restoreSnapshot(tg, dir, *path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "restore:", err)
			os.Exit(1)
		}
		writeAudit(tg, "restore", p, n)
		fmt.Printf("restored %d entries from %s\n", n, p)
	default:
		fmt.Fprintln(os.Stderr, "usage: admin snapshot <list|take|restore|request> [flags]")
		os.Exit(2)
	}
}

var errNoSnapshot = errors.New("no snapshot found")

// restoreSnapshot replaces the trader's ledger with a snapshot's ledger. An
// empty path picks the newest snapshot.
func restoreSnapshot(tg target, dir, path string) (string, int, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		p, ok, err := snapshot.Latest(dir, tg.spec.ID)
		if err != nil {
			return "", 0, err
		}
		if !ok {
			return "", 0, errNoSnapshot
		}
		path = p
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return path, 0, err
	}
	if snap.Header.TraderID != "" && snap.Header.TraderID != tg.spec.ID {
		return path, 0, fmt.Errorf("snapshot trader mismatch: want=%s snap=%s", tg.spec.ID, snap.Header.TraderID)
	}
	err = tg.trader.Exclusive(func(store *ledger.Store) error {
		return store.Save(snap.Ledger)
	})
	return path, len(snap.Ledger), err
}

func wipeCmd(args []string) {
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	cfgPath, cacheDir, traderID := commonFlags(fs)
	reason := fs.String("reason", "", "wipe reason")
	_ = fs.Parse(args)

	tg := mustTarget(*cfgPath, *cacheDir, *traderID)
	var meta archive.WipeArchiveMeta
	var dir string
	err := tg.trader.Exclusive(func(store *ledger.Store) error {
		var err error
		meta, dir, err = archive.Wipe(store, tg.spec.ID, *reason)
		return err
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "wipe:", err)
		os.Exit(1)
	}
	writeAudit(tg, "wipe", *reason, meta.Entries)
	fmt.Printf("archived %d entries to %s\n", meta.Entries, dir)
}

func writeAudit(tg target, action, detail string, entries int) {
	if !tg.cfg.Journal.Enabled {
		return
	}
	al := persistlog.NewAuditLogger(tg.cfg.Resolve(tg.cfg.Journal.Dir))
	defer al.Close()
	if err := al.WriteAudit(persistlog.AuditEntry{
		Action:   action,
		TraderID: tg.spec.ID,
		Actor:    "admin-cli",
		Detail:   detail,
		Entries:  entries,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "audit:", err)
	}
}
