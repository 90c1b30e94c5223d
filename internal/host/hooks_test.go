package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"

	"cooptrader.dev/internal/assort/live"
)

type fakeHandler struct {
	id       string
	buys     int
	sells    int
	updated  bool
	err      error
	assort   live.Table
	rebuilds int
}

func (f *fakeHandler) TraderID() string { return f.id }
func (f *fakeHandler) HandleBuy(*PlayerState, BuyRequest, string) (bool, error) {
	f.buys++
	return f.updated, f.err
}
func (f *fakeHandler) HandleSell(*PlayerState, SellRequest, string) (bool, error) {
	f.sells++
	return f.updated, f.err
}
func (f *fakeHandler) RefreshAssort() (live.Table, error) {
	f.rebuilds++
	return f.assort, nil
}

type fakeHandlers struct{ h *fakeHandler }

func (f fakeHandlers) Handler(id string) (TradeHandler, bool) {
	if f.h == nil || id != f.h.id {
		return nil, false
	}
	return f.h, true
}
func (f fakeHandlers) Assorter(id string) (AssortProvider, bool) {
	if f.h == nil || id != f.h.id {
		return nil, false
	}
	return f.h, true
}

type fakeHost struct{ buys, sells int }

func (f *fakeHost) BuyItem(*PlayerState, BuyRequest, string, *Output) error {
	f.buys++
	return nil
}
func (f *fakeHost) SellItem(*PlayerState, SellRequest, string, *Output) error {
	f.sells++
	return nil
}

func TestTradeInterceptor_TargetTraderRunsHandlerThenHost(t *testing.T) {
	h := &fakeHandler{id: "coopTrader", updated: true}
	next := &fakeHost{}
	ti := NewTradeInterceptor(fakeHandlers{h}, next, nil)

	out, err := ti.ConfirmTrading(&PlayerState{}, TradeRequest{Type: TradeTypeBuy, TraderID: "coopTrader", ItemID: "x", Count: 1}, "s1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if h.buys != 1 || next.buys != 1 {
		t.Fatalf("buys handler=%d host=%d want 1/1", h.buys, next.buys)
	}
	if !out.Handled || !out.LedgerUpdated || out.SessionID != "s1" {
		t.Fatalf("output mismatch: %+v", out)
	}

	out, err = ti.ConfirmTrading(&PlayerState{}, TradeRequest{Type: TradeTypeSell, TraderID: "coopTrader"}, "s1")
	if err != nil {
		t.Fatalf("confirm sell: %v", err)
	}
	if h.sells != 1 || next.sells != 1 || !out.Handled {
		t.Fatalf("sell not dispatched: handler=%d host=%d out=%+v", h.sells, next.sells, out)
	}
}

func TestTradeInterceptor_OtherTraderPassesThrough(t *testing.T) {
	h := &fakeHandler{id: "coopTrader", updated: true}
	next := &fakeHost{}
	ti := NewTradeInterceptor(fakeHandlers{h}, next, nil)

	out, err := ti.ConfirmTrading(&PlayerState{}, TradeRequest{Type: TradeTypeBuy, TraderID: "54cb50c76803fa8b248b4571"}, "s1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if h.buys != 0 {
		t.Fatalf("handler must not run for other traders")
	}
	if next.buys != 1 {
		t.Fatalf("host buy must still run")
	}
	if out.Handled {
		t.Fatalf("output must not be marked handled: %+v", out)
	}
}

func TestTradeInterceptor_LedgerMissStillCompletesTrade(t *testing.T) {
	h := &fakeHandler{id: "coopTrader", updated: false}
	next := &fakeHost{}
	ti := NewTradeInterceptor(fakeHandlers{h}, next, nil)

	out, err := ti.ConfirmTrading(&PlayerState{}, TradeRequest{Type: TradeTypeBuy, TraderID: "coopTrader", ItemID: "gone", Count: 1}, "s1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if next.buys != 1 || !out.Handled || out.LedgerUpdated {
		t.Fatalf("unexpected outcome: host=%d out=%+v", next.buys, out)
	}
}

func TestTradeInterceptor_LedgerMissLogNamesRequest(t *testing.T) {
	var buf bytes.Buffer
	h := &fakeHandler{id: "coopTrader", updated: false}
	ti := NewTradeInterceptor(fakeHandlers{h}, &fakeHost{}, log.New(&buf, "", 0))

	if _, err := ti.ConfirmTrading(&PlayerState{}, TradeRequest{Type: TradeTypeSell, TraderID: "coopTrader", Items: []SellItem{{ID: "a"}, {ID: "b"}}}, "s1"); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "items=2") || strings.Contains(got, "item=:") {
		t.Fatalf("sell log=%q", got)
	}
	buf.Reset()
	if _, err := ti.ConfirmTrading(&PlayerState{}, TradeRequest{Type: TradeTypeBuy, TraderID: "coopTrader", ItemID: "gone", Count: 1}, "s1"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "item=gone") {
		t.Fatalf("buy log=%q", got)
	}
}

func TestTradeInterceptor_PersistenceFailureStopsHost(t *testing.T) {
	h := &fakeHandler{id: "coopTrader", err: errors.New("disk full")}
	next := &fakeHost{}
	ti := NewTradeInterceptor(fakeHandlers{h}, next, nil)

	if _, err := ti.ConfirmTrading(&PlayerState{}, TradeRequest{Type: TradeTypeSell, TraderID: "coopTrader"}, "s1"); err == nil {
		t.Fatalf("expected error")
	}
	if next.sells != 0 {
		t.Fatalf("host sell must not run after a ledger write failure")
	}
}

func TestTradeInterceptor_UnknownType(t *testing.T) {
	ti := NewTradeInterceptor(fakeHandlers{}, &fakeHost{}, nil)
	out, err := ti.ConfirmTrading(&PlayerState{}, TradeRequest{Type: "exchange"}, "s1")
	if !errors.Is(err, ErrUnsupportedTrade) || out != nil {
		t.Fatalf("err=%v out=%+v", err, out)
	}
}

func TestAssortInterceptor_RebuildsOnlyRegisteredTrader(t *testing.T) {
	tab := live.NewTable()
	tab.Items = append(tab.Items, live.Item{ID: "a", Tpl: "tpl_ammo", ParentID: live.RootParentID, SlotID: live.RootSlotID})
	h := &fakeHandler{id: "coopTrader", assort: tab}
	tables := NewTables()
	ai := NewAssortInterceptor(fakeHandlers{h}, tables, nil, nil)

	got, err := ai.GetAssort("s1", "coopTrader")
	if err != nil {
		t.Fatalf("get assort: %v", err)
	}
	if h.rebuilds != 1 || len(got.Items) != 1 {
		t.Fatalf("rebuilds=%d items=%d", h.rebuilds, len(got.Items))
	}
	if stored, ok := tables.Get("coopTrader"); !ok || len(stored.Items) != 1 {
		t.Fatalf("table not stored")
	}

	other, err := ai.GetAssort("s1", "prapor")
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	if h.rebuilds != 1 || len(other.Items) != 0 {
		t.Fatalf("other trader must not rebuild: rebuilds=%d", h.rebuilds)
	}
	if !ai.Handles("coopTrader") || ai.Handles("prapor") {
		t.Fatalf("Handles mismatch")
	}
}

func TestInventory_FindWithChildren(t *testing.T) {
	inv := Inventory{Items: []Item{
		{ID: "stash", Tpl: "tpl_stash"},
		{ID: "mag", Tpl: "tpl_mag", ParentID: "gun", SlotID: "mod_magazine"},
		{ID: "gun", Tpl: "tpl_gun", ParentID: "stash", SlotID: "hideout"},
		{ID: "ammo", Tpl: "tpl_ammo", ParentID: "mag", SlotID: "cartridges", Upd: json.RawMessage(`{"StackObjectsCount":30}`)},
		{ID: "grip", Tpl: "tpl_grip", ParentID: "gun", SlotID: "mod_pistol_grip"},
		{ID: "loose", Tpl: "tpl_ammo", ParentID: "stash", SlotID: "hideout"},
	}}
	got := inv.FindWithChildren("gun")
	var ids []string
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	want := []string{"gun", "mag", "ammo", "grip"}
	if len(ids) != len(want) {
		t.Fatalf("ids=%v want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids=%v want %v", ids, want)
		}
	}
	if got := inv.FindWithChildren("missing"); got != nil {
		t.Fatalf("expected nil for missing id, got %+v", got)
	}
	if n := got[2].StackCount(); n != 30 {
		t.Fatalf("ammo stack=%d want 30", n)
	}
	if n := got[0].StackCount(); n != 1 {
		t.Fatalf("default stack=%d want 1", n)
	}
}

func TestStripSpace(t *testing.T) {
	if got := StripSpace("  ab c\t\nd "); got != "abcd" {
		t.Fatalf("StripSpace=%q", got)
	}
}
