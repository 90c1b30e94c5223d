package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cooptrader.dev/internal/assort/ledger"
	"cooptrader.dev/internal/persistence/indexdb"
	"cooptrader.dev/internal/trader"
)

// registerAdmin mounts the local-only admin endpoints.
func (rt *runtime) registerAdmin(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", rt.localOnly(rt.handleState))
	mux.HandleFunc("/admin/v1/ledger", rt.localOnly(rt.handleLedger))
	mux.HandleFunc("/admin/v1/assort", rt.localOnly(rt.handleAssort))
	mux.HandleFunc("/admin/v1/trades", rt.localOnly(rt.handleTrades))
	mux.HandleFunc("/admin/v1/snapshot", rt.localOnly(rt.handleSnapshot))
	mux.HandleFunc("/admin/v1/wipe", rt.localOnly(rt.handleWipe))
}

func (rt *runtime) localOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

type traderState struct {
	TraderID string `json:"trader_id"`
	Entries  int    `json:"entries"`
	Offers   int    `json:"offers"`
	Error    string `json:"error,omitempty"`
}

func (rt *runtime) handleState(rw http.ResponseWriter, r *http.Request) {
	resp := struct {
		CatalogDigest string        `json:"catalog_digest"`
		Sessions      int64         `json:"sessions"`
		Traders       []traderState `json:"traders"`
	}{
		CatalogDigest: rt.cat.Digest,
		Sessions:      rt.bridge.Stats().Sessions,
		Traders:       []traderState{},
	}
	for _, id := range rt.registry.IDs() {
		st := traderState{TraderID: id}
		t, _ := rt.registry.Get(id)
		if l, err := t.Ledger(); err != nil {
			st.Error = err.Error()
		} else {
			st.Entries = len(l)
		}
		if tab, ok := rt.tables.Get(id); ok {
			st.Offers = tab.Offers()
		}
		resp.Traders = append(resp.Traders, st)
	}
	writeJSONResponse(rw, http.StatusOK, resp)
}

func (rt *runtime) traderFor(rw http.ResponseWriter, r *http.Request) (*trader.Trader, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("trader"))
	if id == "" {
		id = trader.DefaultID
	}
	t, err := rt.registry.Get(id)
	if err != nil {
		writeJSONResponse(rw, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
		return nil, false
	}
	return t, true
}

func (rt *runtime) handleLedger(rw http.ResponseWriter, r *http.Request) {
	t, ok := rt.traderFor(rw, r)
	if !ok {
		return
	}
	l, err := t.Ledger()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ledger.ErrCorrupt) {
			status = http.StatusConflict
		}
		writeJSONResponse(rw, status, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if l == nil {
		l = ledger.Ledger{}
	}
	writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "trader_id": t.TraderID(), "ledger": l})
}

func (rt *runtime) handleAssort(rw http.ResponseWriter, r *http.Request) {
	t, ok := rt.traderFor(rw, r)
	if !ok {
		return
	}
	tab, err := t.RefreshAssort()
	resp := map[string]any{"ok": true, "trader_id": t.TraderID(), "assort": tab}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSONResponse(rw, http.StatusOK, resp)
}

func (rt *runtime) handleTrades(rw http.ResponseWriter, r *http.Request) {
	if rt.idx == nil {
		writeJSONResponse(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "index disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rows, err := indexdb.NewReader(rt.idx.DB()).RecentTrades(ctx, strings.TrimSpace(r.URL.Query().Get("trader")), limit)
	if err != nil {
		writeJSONResponse(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if rows == nil {
		rows = []indexdb.TradeRow{}
	}
	writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "trades": rows})
}

func (rt *runtime) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = "admin"
	}
	res, err := rt.snapshotAll(reason)
	if err != nil {
		writeJSONResponse(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "snapshots": res, "error": err.Error()})
		return
	}
	writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "snapshots": res})
}

func (rt *runtime) handleWipe(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	t, ok := rt.traderFor(rw, r)
	if !ok {
		return
	}
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	meta, err := rt.wipe(t.TraderID(), "admin-http", reason)
	if err != nil {
		writeJSONResponse(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	// Republish so hosts stop offering wiped stock.
	if tab, err := t.RefreshAssort(); err == nil {
		rt.tables.Set(t.TraderID(), tab)
	}
	writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "wipe": meta})
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
