package host

import (
	"encoding/json"
	"strings"
)

// Trade request types sent by the game client.
const (
	TradeTypeBuy  = "buy_from_trader"
	TradeTypeSell = "sell_to_trader"
)

// Item is one record of a player's inventory tree.
type Item struct {
	ID       string          `json:"_id"`
	Tpl      string          `json:"_tpl"`
	ParentID string          `json:"parentId,omitempty"`
	SlotID   string          `json:"slotId,omitempty"`
	Location json.RawMessage `json:"location,omitempty"`
	Upd      json.RawMessage `json:"upd,omitempty"`
}

// StackCount is upd.StackObjectsCount, or 1 when unset.
func (it Item) StackCount() int {
	if len(it.Upd) == 0 {
		return 1
	}
	var upd struct {
		StackObjectsCount *int `json:"StackObjectsCount"`
	}
	if err := json.Unmarshal(it.Upd, &upd); err != nil || upd.StackObjectsCount == nil {
		return 1
	}
	return *upd.StackObjectsCount
}

type Inventory struct {
	Items []Item `json:"items"`
}

// FindWithChildren returns the item with baseID followed by every item nested
// under it, depth first in inventory order. It returns nil when baseID is absent.
func (inv Inventory) FindWithChildren(baseID string) []Item {
	root := -1
	children := map[string][]int{}
	for i, it := range inv.Items {
		if it.ID == baseID && root < 0 {
			root = i
		}
		if it.ParentID != "" {
			children[it.ParentID] = append(children[it.ParentID], i)
		}
	}
	if root < 0 {
		return nil
	}

	out := []Item{inv.Items[root]}
	visited := map[string]bool{baseID: true}
	var walk func(id string)
	walk = func(id string) {
		for _, i := range children[id] {
			it := inv.Items[i]
			if visited[it.ID] {
				continue
			}
			visited[it.ID] = true
			out = append(out, it)
			walk(it.ID)
		}
	}
	walk(baseID)
	return out
}

// PlayerState is the part of the player profile the trader needs.
type PlayerState struct {
	ID        string    `json:"_id"`
	Inventory Inventory `json:"Inventory"`
}

type SchemeItem struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type SellItem struct {
	ID       string `json:"id"`
	Count    int    `json:"count"`
	SchemeID int    `json:"scheme_id"`
}

// TradeRequest is the union of the buy and sell request bodies; Type selects
// which fields apply.
type TradeRequest struct {
	Action   string `json:"Action,omitempty"`
	Type     string `json:"type"`
	TraderID string `json:"tid"`

	ItemID      string       `json:"item_id,omitempty"`
	Count       int          `json:"count,omitempty"`
	SchemeID    int          `json:"scheme_id,omitempty"`
	SchemeItems []SchemeItem `json:"scheme_items,omitempty"`

	Items []SellItem `json:"items,omitempty"`
	Price int64      `json:"price,omitempty"`
}

type BuyRequest struct {
	TraderID    string
	ItemID      string
	Count       int
	SchemeID    int
	SchemeItems []SchemeItem
}

type SellRequest struct {
	TraderID string
	Items    []SellItem
	Price    int64
}

func (r TradeRequest) Buy() BuyRequest {
	return BuyRequest{
		TraderID:    r.TraderID,
		ItemID:      r.ItemID,
		Count:       r.Count,
		SchemeID:    r.SchemeID,
		SchemeItems: r.SchemeItems,
	}
}

func (r TradeRequest) Sell() SellRequest {
	return SellRequest{TraderID: r.TraderID, Items: r.Items, Price: r.Price}
}

// StripSpace removes every whitespace rune from an item id reference.
func StripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
