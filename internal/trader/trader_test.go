package trader

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cooptrader.dev/internal/assort/ledger"
	"cooptrader.dev/internal/assort/live"
	"cooptrader.dev/internal/host"
)

type recordSink struct {
	events []Event
	err    error
}

func (r *recordSink) RecordTrade(ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func flatPrices(tpl string) (int64, error) {
	switch tpl {
	case "tpl_unknown":
		return 0, live.ErrUnknownPrice
	}
	return 100, nil
}

func newTestTrader(t *testing.T, opts ...Option) *Trader {
	t.Helper()
	store := ledger.NewStore(t.TempDir(), DefaultID)
	return New(Config{ID: DefaultID}, store, flatPrices, opts...)
}

func ammoPlayer(id string, count int) *host.PlayerState {
	return &host.PlayerState{ID: "pmc", Inventory: host.Inventory{Items: []host.Item{
		{ID: "stash", Tpl: "tpl_stash"},
		{ID: id, Tpl: "tpl_ammo", ParentID: "stash", SlotID: "hideout", Upd: json.RawMessage(`{"StackObjectsCount":` + itoa(count) + `}`)},
	}}}
}

func weaponPlayer() *host.PlayerState {
	return &host.PlayerState{ID: "pmc", Inventory: host.Inventory{Items: []host.Item{
		{ID: "stash", Tpl: "tpl_stash"},
		{ID: "gun", Tpl: "tpl_gun", ParentID: "stash", SlotID: "hideout", Location: json.RawMessage(`{"x":1,"y":2,"r":0}`)},
		{ID: "mag", Tpl: "tpl_mag", ParentID: "gun", SlotID: "mod_magazine"},
		{ID: "scope", Tpl: "tpl_scope", ParentID: "gun", SlotID: "mod_scope"},
	}}}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func rootID(t *testing.T, tr *Trader, tpl string) string {
	t.Helper()
	tab, err := tr.RefreshAssort()
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	for _, it := range tab.Roots() {
		if it.Tpl == tpl {
			return it.ID
		}
	}
	t.Fatalf("no offer for %s in %+v", tpl, tab.Items)
	return ""
}

func mustLedger(t *testing.T, tr *Trader) ledger.Ledger {
	t.Helper()
	l, err := tr.Ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	return l
}

func TestSellSingleItemThenBuyDecrements(t *testing.T) {
	sink := &recordSink{}
	tr := newTestTrader(t, WithEventSink(sink))

	ok, err := tr.HandleSell(ammoPlayer("a1", 30), host.SellRequest{TraderID: DefaultID, Items: []host.SellItem{{ID: "a1", Count: 30}}}, "s1")
	if err != nil || !ok {
		t.Fatalf("sell ok=%t err=%v", ok, err)
	}
	l := mustLedger(t, tr)
	if len(l) != 1 || !l[0].IsStack() || l[0].Tpl != "tpl_ammo" || l[0].Count != 30 {
		t.Fatalf("ledger after sell: %+v", l)
	}

	id := rootID(t, tr, "tpl_ammo")
	ok, err = tr.HandleBuy(nil, host.BuyRequest{TraderID: DefaultID, ItemID: id, Count: 10}, "s1")
	if err != nil || !ok {
		t.Fatalf("buy ok=%t err=%v", ok, err)
	}
	l = mustLedger(t, tr)
	if len(l) != 1 || l[0].Count != 20 {
		t.Fatalf("ledger after buy: %+v", l)
	}
	if len(sink.events) != 2 || sink.events[0].Kind != EventSell || sink.events[1].Kind != EventBuy {
		t.Fatalf("events: %+v", sink.events)
	}
	if sink.events[1].Count != 10 || sink.events[1].Removed {
		t.Fatalf("buy event: %+v", sink.events[1])
	}
}

func TestBuyWholeStackRemovesEntry(t *testing.T) {
	tr := newTestTrader(t)
	if err := tr.Store().Save(ledger.Ledger{ledger.Stack("tpl_ammo", 5)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := rootID(t, tr, "tpl_ammo")
	ok, err := tr.HandleBuy(nil, host.BuyRequest{TraderID: DefaultID, ItemID: id, Count: 5}, "s1")
	if err != nil || !ok {
		t.Fatalf("buy ok=%t err=%v", ok, err)
	}
	if l := mustLedger(t, tr); len(l) != 0 {
		t.Fatalf("expected empty ledger, got %+v", l)
	}
	b, err := os.ReadFile(tr.Store().Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil || len(raw) != 0 {
		t.Fatalf("file should hold []: %s", b)
	}
}

func TestSellMergesIntoExistingStack(t *testing.T) {
	tr := newTestTrader(t)
	if err := tr.Store().Save(ledger.Ledger{ledger.Stack("tpl_ammo", 20)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := tr.HandleSell(ammoPlayer("a2", 7), host.SellRequest{TraderID: DefaultID, Items: []host.SellItem{{ID: "a2"}}}, "s1"); err != nil {
		t.Fatalf("sell: %v", err)
	}
	l := mustLedger(t, tr)
	if len(l) != 1 || l[0].Count != 27 {
		t.Fatalf("expected merged stack of 27, got %+v", l)
	}
}

func TestSellWeaponWithAttachmentsCreatesGroup(t *testing.T) {
	tr := newTestTrader(t)
	ok, err := tr.HandleSell(weaponPlayer(), host.SellRequest{TraderID: DefaultID, Items: []host.SellItem{{ID: " gun\n"}}}, "s1")
	if err != nil || !ok {
		t.Fatalf("sell ok=%t err=%v", ok, err)
	}
	l := mustLedger(t, tr)
	if len(l) != 1 || !l[0].IsGroup() {
		t.Fatalf("expected one group, got %+v", l)
	}
	comps := l[0].Components
	want := []string{"gun", "mag", "scope"}
	if len(comps) != len(want) {
		t.Fatalf("components=%+v", comps)
	}
	for i, id := range want {
		if comps[i].ID != id {
			t.Fatalf("component %d = %s want %s", i, comps[i].ID, id)
		}
	}
	if comps[0].ParentID != "stash" || comps[0].SlotID != "hideout" || string(comps[0].Location) != `{"x":1,"y":2,"r":0}` {
		t.Fatalf("root record should be stored as discovered: %+v", comps[0])
	}
	if comps[1].ParentID != "gun" || comps[1].SlotID != "mod_magazine" {
		t.Fatalf("child link lost: %+v", comps[1])
	}

	tab, err := tr.RefreshAssort()
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	roots := tab.Roots()
	if len(roots) != 1 || len(tab.Items) != 3 {
		t.Fatalf("table roots=%d items=%d", len(roots), len(tab.Items))
	}
	if roots[0].ParentID != live.RootParentID || roots[0].SlotID != live.RootSlotID || roots[0].Location != nil {
		t.Fatalf("offered root not moved to the trader slot: %+v", roots[0])
	}
	if got := tab.BarterScheme[roots[0].ID][0][0].Count; got != 300 {
		t.Fatalf("group price=%d want 300", got)
	}

	ok, err = tr.HandleBuy(nil, host.BuyRequest{TraderID: DefaultID, ItemID: roots[0].ID, Count: 1}, "s1")
	if err != nil || !ok {
		t.Fatalf("buy group ok=%t err=%v", ok, err)
	}
	if l := mustLedger(t, tr); len(l) != 0 {
		t.Fatalf("group should be removed, got %+v", l)
	}
	tab, err = tr.RefreshAssort()
	if err != nil {
		t.Fatalf("refresh after buy: %v", err)
	}
	if tab.Offers() != 0 || len(tab.Items) != 0 {
		t.Fatalf("bought group still listed: offers=%d items=%d", tab.Offers(), len(tab.Items))
	}
}

func TestBuySkipsAndDropsEmptyGroups(t *testing.T) {
	tr := newTestTrader(t)
	path := tr.Store().Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(`[[],{"tpl":"tpl_ammo","count":5},[]]`), 0o644); err != nil {
		t.Fatalf("write ledger: %v", err)
	}

	id := rootID(t, tr, "tpl_ammo")
	ok, err := tr.HandleBuy(nil, host.BuyRequest{TraderID: DefaultID, ItemID: id, Count: 2}, "s1")
	if err != nil || !ok {
		t.Fatalf("buy ok=%t err=%v", ok, err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, b); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if got := compact.String(); got != `[{"tpl":"tpl_ammo","count":3}]` {
		t.Fatalf("ledger file=%s", got)
	}
	tab, err := tr.RefreshAssort()
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tab.Offers() != 1 {
		t.Fatalf("offers=%d want 1", tab.Offers())
	}
}

func TestSellThenBuyRestoresLedger(t *testing.T) {
	tr := newTestTrader(t)
	if err := tr.Store().Save(ledger.Ledger{ledger.Stack("tpl_salt", 2), ledger.Stack("tpl_ammo", 3)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := mustLedger(t, tr)

	if _, err := tr.HandleSell(ammoPlayer("a3", 12), host.SellRequest{TraderID: DefaultID, Items: []host.SellItem{{ID: "a3"}}}, "s1"); err != nil {
		t.Fatalf("sell: %v", err)
	}
	id := rootID(t, tr, "tpl_ammo")
	if _, err := tr.HandleBuy(nil, host.BuyRequest{TraderID: DefaultID, ItemID: id, Count: 12}, "s1"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	after := mustLedger(t, tr)
	if len(after) != len(before) {
		t.Fatalf("before=%+v after=%+v", before, after)
	}
	for i := range before {
		if before[i].Tpl != after[i].Tpl || before[i].Count != after[i].Count {
			t.Fatalf("before=%+v after=%+v", before, after)
		}
	}
}

func TestOtherTraderIsIgnored(t *testing.T) {
	tr := newTestTrader(t)
	ok, err := tr.HandleSell(ammoPlayer("a1", 30), host.SellRequest{TraderID: "prapor", Items: []host.SellItem{{ID: "a1"}}}, "s1")
	if err != nil || ok {
		t.Fatalf("sell for other trader ok=%t err=%v", ok, err)
	}
	ok, err = tr.HandleBuy(nil, host.BuyRequest{TraderID: "prapor", ItemID: "x", Count: 1}, "s1")
	if err != nil || ok {
		t.Fatalf("buy for other trader ok=%t err=%v", ok, err)
	}
	if _, err := os.Stat(tr.Store().Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ledger file should not be touched: %v", err)
	}
}

func TestSellSkipsMissingIDs(t *testing.T) {
	tr := newTestTrader(t)
	req := host.SellRequest{TraderID: DefaultID, Items: []host.SellItem{{ID: "ghost"}, {ID: "a1"}}}
	ok, err := tr.HandleSell(ammoPlayer("a1", 4), req, "s1")
	if err != nil || !ok {
		t.Fatalf("sell ok=%t err=%v", ok, err)
	}
	l := mustLedger(t, tr)
	if len(l) != 1 || l[0].Count != 4 {
		t.Fatalf("ledger=%+v", l)
	}
}

func TestBuyUnknownIDLeavesLedger(t *testing.T) {
	tr := newTestTrader(t)
	if err := tr.Store().Save(ledger.Ledger{ledger.Stack("tpl_ammo", 5)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ok, err := tr.HandleBuy(nil, host.BuyRequest{TraderID: DefaultID, ItemID: "000000000000000000000000", Count: 1}, "s1")
	if err != nil || ok {
		t.Fatalf("buy ok=%t err=%v", ok, err)
	}
	if l := mustLedger(t, tr); len(l) != 1 || l[0].Count != 5 {
		t.Fatalf("ledger changed: %+v", l)
	}
}

func TestCorruptLedgerFailsTrade(t *testing.T) {
	tr := newTestTrader(t)
	if err := os.MkdirAll(filepath.Dir(tr.Store().Path()), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(tr.Store().Path(), []byte(`{"tpl":"x"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := tr.HandleSell(ammoPlayer("a1", 1), host.SellRequest{TraderID: DefaultID, Items: []host.SellItem{{ID: "a1"}}}, "s1")
	if !errors.Is(err, ledger.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestRefreshAssortSkipsUnpriced(t *testing.T) {
	tr := newTestTrader(t)
	if err := tr.Store().Save(ledger.Ledger{ledger.Stack("tpl_unknown", 1), ledger.Stack("tpl_ammo", 2)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tab, err := tr.RefreshAssort()
	if !errors.Is(err, live.ErrUnknownPrice) {
		t.Fatalf("expected ErrUnknownPrice, got %v", err)
	}
	if tab.Offers() != 1 || tab.Items[0].Tpl != "tpl_ammo" {
		t.Fatalf("table=%+v", tab)
	}
}

func TestSinkErrorDoesNotFailTrade(t *testing.T) {
	tr := newTestTrader(t, WithEventSink(&recordSink{err: errors.New("index down")}))
	ok, err := tr.HandleSell(ammoPlayer("a1", 1), host.SellRequest{TraderID: DefaultID, Items: []host.SellItem{{ID: "a1"}}}, "s1")
	if err != nil || !ok {
		t.Fatalf("sell ok=%t err=%v", ok, err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	tr := newTestTrader(t)
	if err := r.Register(tr); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(tr); err == nil {
		t.Fatalf("duplicate register should fail")
	}
	if _, err := r.Get("prapor"); !errors.Is(err, ErrUnknownTrader) {
		t.Fatalf("expected ErrUnknownTrader, got %v", err)
	}
	if _, ok := r.Handler(DefaultID); !ok {
		t.Fatalf("handler missing")
	}
	if _, ok := r.Assorter("prapor"); ok {
		t.Fatalf("unexpected assorter")
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != DefaultID {
		t.Fatalf("ids=%v", ids)
	}

	ti := host.NewTradeInterceptor(r, nil, nil)
	if err := tr.Store().Save(ledger.Ledger{ledger.Stack("tpl_ammo", 3)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := rootID(t, tr, "tpl_ammo")
	out, err := ti.ConfirmTrading(nil, host.TradeRequest{Type: host.TradeTypeBuy, TraderID: DefaultID, ItemID: id, Count: 1}, "s1")
	if err != nil || !out.Handled || !out.LedgerUpdated {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestExclusiveSeesSavedLedger(t *testing.T) {
	tr := newTestTrader(t)
	if _, err := tr.HandleSell(ammoPlayer("a1", 5), host.SellRequest{TraderID: DefaultID, Items: []host.SellItem{{ID: "a1", Count: 5}}}, "s1"); err != nil {
		t.Fatalf("sell: %v", err)
	}
	err := tr.Exclusive(func(store *ledger.Store) error {
		l, err := store.Load()
		if err != nil {
			return err
		}
		if len(l) != 1 || l[0].Count != 5 {
			t.Fatalf("ledger=%+v", l)
		}
		return store.Save(nil)
	})
	if err != nil {
		t.Fatalf("exclusive: %v", err)
	}
	if l, _ := tr.Ledger(); len(l) != 0 {
		t.Fatalf("expected empty ledger after reset, got %+v", l)
	}
}
