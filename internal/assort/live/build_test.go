package live

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"cooptrader.dev/internal/assort/ledger"
)

func testPrices(prices map[string]int64) PriceFunc {
	return func(tpl string) (int64, error) {
		p, ok := prices[tpl]
		if !ok {
			return 0, ErrUnknownPrice
		}
		return p, nil
	}
}

func weapon() []ledger.Component {
	return []ledger.Component{
		{ID: "gun", Tpl: "tpl_gun", Upd: json.RawMessage(`{"FireMode":{"FireMode":"single"}}`)},
		{ID: "rcv", Tpl: "tpl_receiver", ParentID: "gun", SlotID: "mod_reciever"},
		{ID: "muz", Tpl: "tpl_muzzle", ParentID: "rcv", SlotID: "mod_muzzle"},
	}
}

func TestBuild_EmptyLedger(t *testing.T) {
	tab, err := Build(nil, testPrices(nil), Options{TraderID: "coopTrader"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tab.Items) != 0 || len(tab.BarterScheme) != 0 || len(tab.LoyalLevelItems) != 0 {
		t.Fatalf("expected empty table, got %+v", tab)
	}
	b, _ := json.Marshal(tab)
	if string(b) != `{"items":[],"barter_scheme":{},"loyal_level_items":{}}` {
		t.Fatalf("unexpected json: %s", b)
	}
}

func TestBuild_StackAndGroup(t *testing.T) {
	l := ledger.Ledger{
		ledger.Stack("tpl_ammo", 30),
		ledger.Group(weapon()),
	}
	prices := testPrices(map[string]int64{"tpl_ammo": 7, "tpl_gun": 100, "tpl_receiver": 20, "tpl_muzzle": 5})
	tab, err := Build(l, prices, Options{TraderID: "coopTrader"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tab.Items) != 4 {
		t.Fatalf("items=%d want 4", len(tab.Items))
	}
	roots := tab.Roots()
	if len(roots) != 2 || tab.Offers() != 2 {
		t.Fatalf("roots=%d offers=%d want 2", len(roots), tab.Offers())
	}

	stack := roots[0]
	if stack.Tpl != "tpl_ammo" || len(stack.ID) != 24 {
		t.Fatalf("stack root mismatch: %+v", stack)
	}
	var upd struct {
		StackObjectsCount int
		UnlimitedCount    bool
	}
	if err := json.Unmarshal(stack.Upd, &upd); err != nil || upd.StackObjectsCount != 30 || upd.UnlimitedCount {
		t.Fatalf("stack upd mismatch: %s err=%v", stack.Upd, err)
	}
	if got := tab.BarterScheme[stack.ID][0][0]; got.Count != 7 || got.Tpl != Roubles {
		t.Fatalf("stack cost mismatch: %+v", got)
	}
	if tab.LoyalLevelItems[stack.ID] != 1 {
		t.Fatalf("stack loyalty=%d want 1", tab.LoyalLevelItems[stack.ID])
	}

	gun := roots[1]
	if got := tab.BarterScheme[gun.ID][0][0].Count; got != 125 {
		t.Fatalf("group cost=%d want 125", got)
	}
	var gunUpd map[string]any
	_ = json.Unmarshal(gun.Upd, &gunUpd)
	if gunUpd["StackObjectsCount"] != float64(1) || gunUpd["FireMode"] == nil {
		t.Fatalf("group root upd mismatch: %s", gun.Upd)
	}
	rcv, muz := tab.Items[2], tab.Items[3]
	if rcv.ParentID != gun.ID || rcv.SlotID != "mod_reciever" {
		t.Fatalf("receiver not attached to root: %+v", rcv)
	}
	if muz.ParentID != rcv.ID || muz.SlotID != "mod_muzzle" {
		t.Fatalf("muzzle not attached to receiver: %+v", muz)
	}
	if _, ok := tab.BarterScheme[rcv.ID]; ok {
		t.Fatalf("sub-items must not be priced separately")
	}
}

func TestBuild_Idempotent(t *testing.T) {
	l := ledger.Ledger{
		ledger.Stack("tpl_ammo", 30),
		ledger.Group(weapon()),
		ledger.Group(weapon()),
	}
	prices := testPrices(map[string]int64{"tpl_ammo": 7, "tpl_gun": 100, "tpl_receiver": 20, "tpl_muzzle": 5})
	a, errA := Build(l, prices, Options{TraderID: "coopTrader"})
	b, errB := Build(l, prices, Options{TraderID: "coopTrader"})
	if errA != nil || errB != nil {
		t.Fatalf("build errors: %v %v", errA, errB)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("builds differ")
	}
	roots := a.Roots()
	if len(roots) != 3 || roots[1].ID == roots[2].ID {
		t.Fatalf("identical groups must get distinct ids: %+v", roots)
	}
}

func TestBuild_SkipsInvalidEntries(t *testing.T) {
	l := ledger.Ledger{
		ledger.Group(nil),
		ledger.Stack("tpl_ammo", 0),
		ledger.Stack("tpl_ammo", 2),
	}
	tab, err := Build(l, testPrices(map[string]int64{"tpl_ammo": 1}), Options{TraderID: "coopTrader"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tab.Items) != 1 || tab.Items[0].Tpl != "tpl_ammo" {
		t.Fatalf("expected only the valid stack, got %+v", tab.Items)
	}
}

func TestBuild_UnknownPriceIsIsolated(t *testing.T) {
	l := ledger.Ledger{
		ledger.Stack("tpl_mystery", 1),
		ledger.Stack("tpl_ammo", 2),
		ledger.Group(weapon()),
	}
	tab, err := Build(l, testPrices(map[string]int64{"tpl_ammo": 3, "tpl_gun": 1, "tpl_receiver": 1}), Options{TraderID: "coopTrader"})
	if !errors.Is(err, ErrUnknownPrice) {
		t.Fatalf("err=%v want ErrUnknownPrice", err)
	}
	if len(tab.Items) != 1 || tab.Items[0].Tpl != "tpl_ammo" {
		t.Fatalf("expected only the priced stack, got %+v", tab.Items)
	}
	for _, c := range tab.BarterScheme {
		if c[0][0].Count == 0 {
			t.Fatalf("zero price published")
		}
	}
}

func TestIndex_MatchesBuiltRoots(t *testing.T) {
	l := ledger.Ledger{
		ledger.Stack("tpl_ammo", 30),
		ledger.Group(nil),
		ledger.Group(weapon()),
	}
	prices := testPrices(map[string]int64{"tpl_ammo": 7, "tpl_gun": 100, "tpl_receiver": 20, "tpl_muzzle": 5})
	tab, err := Build(l, prices, Options{TraderID: "coopTrader"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	idx := Index("coopTrader", l)
	if len(idx) != 2 {
		t.Fatalf("index size=%d want 2", len(idx))
	}
	roots := tab.Roots()
	if idx[roots[0].ID] != 0 || idx[roots[1].ID] != 2 {
		t.Fatalf("index mismatch: %+v", idx)
	}
	if other := Index("otherTrader", l); reflect.DeepEqual(other, idx) {
		t.Fatalf("ids must be scoped per trader")
	}
}
