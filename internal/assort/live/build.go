package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"cooptrader.dev/internal/assort/ledger"
)

var ErrUnknownPrice = errors.New("live: unknown item price")

// PriceFunc returns the unit price of a template in the trader's currency.
type PriceFunc func(tpl string) (int64, error)

type Options struct {
	TraderID        string
	Currency        string
	LoyaltyLevel    int
	GroupStackCount int
}

func (o Options) normalized() Options {
	if o.Currency == "" {
		o.Currency = Roubles
	}
	if o.LoyaltyLevel <= 0 {
		o.LoyaltyLevel = 1
	}
	if o.GroupStackCount <= 0 {
		o.GroupStackCount = 1
	}
	return o
}

// Build projects the ledger into a fresh Table. Invalid entries (empty groups,
// non-positive stacks) are skipped. An entry whose price cannot be resolved is
// left out of the table and reported in the returned error; every other entry
// is still built.
func Build(l ledger.Ledger, priceOf PriceFunc, opts Options) (Table, error) {
	opts = opts.normalized()
	t := NewTable()
	var errs []error

	forEachOffer(opts.TraderID, l, func(pos int, e ledger.Entry, rootID string, ordinal int) {
		price, err := entryPrice(e, priceOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", pos, e.RootTpl(), err))
			return
		}
		switch e.Kind {
		case ledger.KindStack:
			t.Items = append(t.Items, Item{
				ID:       rootID,
				Tpl:      e.Tpl,
				ParentID: RootParentID,
				SlotID:   RootSlotID,
				Upd:      rootUpd(nil, e.Count),
			})
		case ledger.KindGroup:
			t.Items = append(t.Items, groupItems(opts.TraderID, e, rootID, ordinal, opts.GroupStackCount)...)
		}
		t.BarterScheme[rootID] = [][]BarterCost{{{Count: price, Tpl: opts.Currency}}}
		t.LoyalLevelItems[rootID] = opts.LoyaltyLevel
	})
	return t, errors.Join(errs...)
}

// Index maps every live root id the ledger would produce to the ledger position
// it came from. It needs no prices, so a buy can resolve an id against a freshly
// loaded ledger.
func Index(traderID string, l ledger.Ledger) map[string]int {
	out := make(map[string]int, len(l))
	forEachOffer(traderID, l, func(pos int, _ ledger.Entry, rootID string, _ int) {
		out[rootID] = pos
	})
	return out
}

func forEachOffer(traderID string, l ledger.Ledger, fn func(pos int, e ledger.Entry, rootID string, ordinal int)) {
	seen := map[string]int{}
	for pos, e := range l {
		if !e.Valid() {
			continue
		}
		key := e.Key()
		ordinal := seen[key]
		seen[key] = ordinal + 1
		fn(pos, e, liveID(traderID, key, ordinal, ""), ordinal)
	}
}

func entryPrice(e ledger.Entry, priceOf PriceFunc) (int64, error) {
	if priceOf == nil {
		return 0, ErrUnknownPrice
	}
	if e.Kind == ledger.KindStack {
		return priceOf(e.Tpl)
	}
	var total int64
	for _, c := range e.Components {
		p, err := priceOf(c.Tpl)
		if err != nil {
			return 0, err
		}
		total += p
	}
	return total, nil
}

func groupItems(traderID string, e ledger.Entry, rootID string, ordinal, stackCount int) []Item {
	key := e.Key()
	ids := make(map[string]string, len(e.Components))
	for i, c := range e.Components {
		if i == 0 {
			ids[c.ID] = rootID
			continue
		}
		ids[c.ID] = liveID(traderID, key, ordinal, c.ID)
	}

	out := make([]Item, 0, len(e.Components))
	for i, c := range e.Components {
		if i == 0 {
			out = append(out, Item{
				ID:       rootID,
				Tpl:      c.Tpl,
				ParentID: RootParentID,
				SlotID:   RootSlotID,
				Upd:      rootUpd(c.Upd, stackCount),
			})
			continue
		}
		parent, ok := ids[c.ParentID]
		if !ok {
			parent = rootID
		}
		out = append(out, Item{
			ID:       ids[c.ID],
			Tpl:      c.Tpl,
			ParentID: parent,
			SlotID:   c.SlotID,
			Location: c.Location,
			Upd:      c.Upd,
		})
	}
	return out
}

// rootUpd merges the offer stack count into an item's upd object.
func rootUpd(upd json.RawMessage, count int) json.RawMessage {
	m := map[string]any{}
	if len(upd) > 0 {
		_ = json.Unmarshal(upd, &m)
		if m == nil {
			m = map[string]any{}
		}
	}
	m["UnlimitedCount"] = false
	m["StackObjectsCount"] = count
	b, _ := json.Marshal(m)
	return b
}
