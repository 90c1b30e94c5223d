package live

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// RootParentID and RootSlotID are the parent/slot the host expects on every
// top-level assort item.
const (
	RootParentID = "hideout"
	RootSlotID   = "hideout"
)

// Roubles is the default currency template.
const Roubles = "5449016a4bdc2d6f028b456f"

type Item struct {
	ID       string          `json:"_id"`
	Tpl      string          `json:"_tpl"`
	ParentID string          `json:"parentId"`
	SlotID   string          `json:"slotId"`
	Location json.RawMessage `json:"location,omitempty"`
	Upd      json.RawMessage `json:"upd,omitempty"`
}

type BarterCost struct {
	Count int64  `json:"count"`
	Tpl   string `json:"_tpl"`
}

// Table is the trader assort in the host's format. It is always rebuilt from
// the ledger as a whole.
type Table struct {
	Items           []Item                    `json:"items"`
	BarterScheme    map[string][][]BarterCost `json:"barter_scheme"`
	LoyalLevelItems map[string]int            `json:"loyal_level_items"`
}

func NewTable() Table {
	return Table{
		Items:           []Item{},
		BarterScheme:    map[string][][]BarterCost{},
		LoyalLevelItems: map[string]int{},
	}
}

// Roots returns the top-level items, one per offer.
func (t Table) Roots() []Item {
	var out []Item
	for _, it := range t.Items {
		if it.ParentID == RootParentID {
			out = append(out, it)
		}
	}
	return out
}

// Offers is the number of purchasable entries in the table.
func (t Table) Offers() int { return len(t.LoyalLevelItems) }

// liveID derives a 24-hex id (the host's id width) from the trader, entry key
// and ordinal, plus an optional component id.
func liveID(traderID, key string, ordinal int, componentID string) string {
	h := sha256.New()
	h.Write([]byte(traderID))
	h.Write([]byte{0})
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	if componentID != "" {
		h.Write([]byte{0})
		h.Write([]byte(componentID))
	}
	return hex.EncodeToString(h.Sum(nil))[:24]
}
