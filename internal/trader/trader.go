package trader

import (
	"fmt"
	"io"
	"log"
	"sync"

	"cooptrader.dev/internal/assort/ledger"
	"cooptrader.dev/internal/assort/live"
	"cooptrader.dev/internal/host"
)

// DefaultID is the id the coop trader is registered under on the host.
const DefaultID = "coopTrader"

type Config struct {
	ID              string
	Currency        string
	LoyaltyLevel    int
	GroupStackCount int
}

// InventoryLookup returns an item and all of its sub-items from a player's
// inventory, root first.
type InventoryLookup interface {
	FindWithChildren(player *host.PlayerState, itemID string) []host.Item
}

type inventoryTree struct{}

func (inventoryTree) FindWithChildren(player *host.PlayerState, itemID string) []host.Item {
	if player == nil {
		return nil
	}
	return player.Inventory.FindWithChildren(itemID)
}

type Option func(*Trader)

func WithLogger(l *log.Logger) Option {
	return func(t *Trader) {
		if l != nil {
			t.log = l
		}
	}
}

func WithEventSink(s EventSink) Option {
	return func(t *Trader) { t.events = s }
}

func WithInventoryLookup(inv InventoryLookup) Option {
	return func(t *Trader) {
		if inv != nil {
			t.inventory = inv
		}
	}
}

// Trader is a custom trader whose stock is the ledger of what players sold to it.
type Trader struct {
	cfg       Config
	store     *ledger.Store
	prices    live.PriceFunc
	inventory InventoryLookup
	events    EventSink
	log       *log.Logger

	// serializes load -> mutate -> save
	mu sync.Mutex
}

func New(cfg Config, store *ledger.Store, prices live.PriceFunc, opts ...Option) *Trader {
	if cfg.ID == "" {
		cfg.ID = DefaultID
	}
	t := &Trader{
		cfg:       cfg,
		store:     store,
		prices:    prices,
		inventory: inventoryTree{},
		log:       log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Trader) TraderID() string     { return t.cfg.ID }
func (t *Trader) Store() *ledger.Store { return t.store }

func (t *Trader) options() live.Options {
	return live.Options{
		TraderID:        t.cfg.ID,
		Currency:        t.cfg.Currency,
		LoyaltyLevel:    t.cfg.LoyaltyLevel,
		GroupStackCount: t.cfg.GroupStackCount,
	}
}

// Ledger returns the currently persisted ledger.
func (t *Trader) Ledger() (ledger.Ledger, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Load()
}

// Exclusive runs fn with the trade lock held, for offline edits of the ledger
// file (wipe, snapshot restore).
func (t *Trader) Exclusive(fn func(store *ledger.Store) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(t.store)
}

// RefreshAssort rebuilds the live table from the persisted ledger. A non-nil
// error with a usable table means some entries could not be priced.
func (t *Trader) RefreshAssort() (live.Table, error) {
	t.mu.Lock()
	l, err := t.store.Load()
	t.mu.Unlock()
	if err != nil {
		return live.NewTable(), fmt.Errorf("load ledger: %w", err)
	}
	return live.Build(l, t.prices, t.options())
}

// HandleBuy removes what a player bought from the ledger: a stack is
// decremented (and dropped at zero), a group is removed whole. It returns false
// when the request is for another trader or names no ledger entry.
func (t *Trader) HandleBuy(_ *host.PlayerState, req host.BuyRequest, sessionID string) (bool, error) {
	if req.TraderID != t.cfg.ID {
		return false, nil
	}
	if req.ItemID == "" || req.Count <= 0 {
		t.log.Printf("buy: bad request item=%q count=%d", req.ItemID, req.Count)
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.store.Load()
	if err != nil {
		return false, fmt.Errorf("load ledger: %w", err)
	}
	pos, ok := live.Index(t.cfg.ID, l)[req.ItemID]
	if !ok {
		t.log.Printf("buy: item %s not in ledger", req.ItemID)
		return false, nil
	}

	e := l[pos]
	ev := newEvent(t.cfg.ID, sessionID, EventBuy)
	ev.EntryKind = e.Kind.String()
	ev.Tpl = e.RootTpl()
	switch e.Kind {
	case ledger.KindStack:
		ev.Count = req.Count
		ev.Removed = l.TakeStack(pos, req.Count)
	case ledger.KindGroup:
		ev.Count = 1
		ev.GroupSize = len(e.Components)
		ev.Removed = true
		l.Remove(pos)
	}

	if err := t.store.Save(l); err != nil {
		return false, fmt.Errorf("save ledger: %w", err)
	}
	t.log.Printf("buy: %s %s x%d removed=%t", ev.EntryKind, ev.Tpl, ev.Count, ev.Removed)
	t.emit(ev)
	return true, nil
}

// HandleSell adds what a player sold to the ledger. A lone item merges into the
// stack of its template; an item with sub-items becomes a new group. Ids not
// found in the inventory are skipped. The ledger is saved once.
func (t *Trader) HandleSell(player *host.PlayerState, req host.SellRequest, sessionID string) (bool, error) {
	if req.TraderID != t.cfg.ID {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.store.Load()
	if err != nil {
		return false, fmt.Errorf("load ledger: %w", err)
	}

	var evs []Event
	for _, ref := range req.Items {
		id := host.StripSpace(ref.ID)
		items := t.inventory.FindWithChildren(player, id)
		if len(items) == 0 {
			t.log.Printf("sell: item %q not in inventory", id)
			continue
		}

		ev := newEvent(t.cfg.ID, sessionID, EventSell)
		ev.Tpl = items[0].Tpl
		if len(items) == 1 {
			n := items[0].StackCount()
			if n <= 0 {
				continue
			}
			ev.EntryKind = ledger.KindStack.String()
			ev.Count = n
			ev.Merged = l.AddStack(items[0].Tpl, n)
		} else {
			ev.EntryKind = ledger.KindGroup.String()
			ev.Count = 1
			ev.GroupSize = len(items)
			l.AppendGroup(toComponents(items))
		}
		evs = append(evs, ev)
	}

	if err := t.store.Save(l); err != nil {
		return false, fmt.Errorf("save ledger: %w", err)
	}
	for _, ev := range evs {
		t.log.Printf("sell: %s %s x%d merged=%t", ev.EntryKind, ev.Tpl, ev.Count, ev.Merged)
		t.emit(ev)
	}
	return true, nil
}

func (t *Trader) emit(ev Event) {
	if t.events == nil {
		return
	}
	if err := t.events.RecordTrade(ev); err != nil {
		t.log.Printf("record trade %s: %v", ev.ID, err)
	}
}

// toComponents copies the discovered records as they are. The root's inventory
// link is replaced with the trader's hideout slot when the table is built.
func toComponents(items []host.Item) []ledger.Component {
	out := make([]ledger.Component, 0, len(items))
	for _, it := range items {
		out = append(out, ledger.Component{
			ID:       it.ID,
			Tpl:      it.Tpl,
			ParentID: it.ParentID,
			SlotID:   it.SlotID,
			Location: it.Location,
			Upd:      it.Upd,
		})
	}
	return out
}
