package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"

	"cooptrader.dev/internal/assort/live"
)

type ItemDef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Price int64  `json:"price"`
}

// ItemCatalog is the handbook price list keyed by template id.
type ItemCatalog struct {
	Defs   map[string]ItemDef
	IDs    []string
	Digest string
}

func Load(path string) (*ItemCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*ItemCatalog, error) {
	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("items.json: %w", err)
	}
	out := &ItemCatalog{Defs: make(map[string]ItemDef, len(defs)), Digest: sha256Hex(raw)}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("items.json: empty id")
		}
		if d.Price < 0 {
			return nil, fmt.Errorf("items.json: %s: negative price", d.ID)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return nil, fmt.Errorf("items.json: duplicate id %s", d.ID)
		}
		out.Defs[d.ID] = d
		out.IDs = append(out.IDs, d.ID)
	}
	sort.Strings(out.IDs)
	return out, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Price returns the base catalog price of tpl.
func (c *ItemCatalog) Price(tpl string) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("%w: %s", live.ErrUnknownPrice, tpl)
	}
	d, ok := c.Defs[tpl]
	if !ok {
		return 0, fmt.Errorf("%w: %s", live.ErrUnknownPrice, tpl)
	}
	return d.Price, nil
}

// PriceFunc scales catalog prices by multiplier, rounding half up. A known item
// never costs less than 1.
func (c *ItemCatalog) PriceFunc(multiplier decimal.Decimal) live.PriceFunc {
	return func(tpl string) (int64, error) {
		base, err := c.Price(tpl)
		if err != nil {
			return 0, err
		}
		p := decimal.NewFromInt(base).Mul(multiplier).Round(0).IntPart()
		if p < 1 {
			p = 1
		}
		return p, nil
	}
}
