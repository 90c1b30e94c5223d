package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"cooptrader.dev/internal/config"
	"cooptrader.dev/internal/persistence/indexdb"
	"cooptrader.dev/internal/trader"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	cfgPath := fs.String("config", "./configs/cooptrader.yaml", "server config path")
	cacheDir := fs.String("cache_dir", "", "override cache_dir from the config")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to the configured index)")
	traderID := fs.String("trader", trader.DefaultID, "trader id filter (empty for all, trades only)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "trades"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		if v := strings.TrimSpace(*cacheDir); v != "" {
			cfg.CacheDir = v
		}
		path = cfg.Resolve(cfg.Index.Path)
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := runQuery(ctx, r, q, strings.TrimSpace(*traderID), *limit); err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, r *indexdb.Reader, q, traderID string, limit int) error {
	switch q {
	case "trades":
		rows, err := r.RecentTrades(ctx, traderID, limit)
		if err != nil {
			return err
		}
		for _, row := range rows {
			printJSONLine(row)
		}
	case "flow":
		rows, err := r.Flow(ctx, traderID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			printJSONLine(row)
		}
	case "snapshots":
		rows, err := r.Snapshots(ctx, traderID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			printJSONLine(row)
		}
	case "count":
		n, err := r.TradeCount(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
	default:
		return fmt.Errorf("unknown query: %s (want trades|flow|snapshots|count)", q)
	}
	return nil
}
