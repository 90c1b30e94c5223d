package host

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"cooptrader.dev/internal/assort/live"
)

var ErrUnsupportedTrade = errors.New("host: unsupported trade type")

// TradeHandler is the per-trader side effect run before the host's own trade
// processing. The bool reports whether the trader's ledger changed; the error
// is a persistence failure.
type TradeHandler interface {
	TraderID() string
	HandleBuy(player *PlayerState, req BuyRequest, sessionID string) (bool, error)
	HandleSell(player *PlayerState, req SellRequest, sessionID string) (bool, error)
}

// AssortProvider rebuilds a trader's live assort from its ledger.
type AssortProvider interface {
	TraderID() string
	RefreshAssort() (live.Table, error)
}

// Handlers resolves trader ids to the custom traders that own them.
type Handlers interface {
	Handler(traderID string) (TradeHandler, bool)
	Assorter(traderID string) (AssortProvider, bool)
}

// TradeProcessor is the host's default buy/sell logic (currency and inventory
// transfer). It always runs after the trader side effect.
type TradeProcessor interface {
	BuyItem(player *PlayerState, req BuyRequest, sessionID string, out *Output) error
	SellItem(player *PlayerState, req SellRequest, sessionID string, out *Output) error
}

// AssortSource is the host's assort computation for a trader.
type AssortSource interface {
	GetAssort(sessionID, traderID string) (live.Table, error)
}

type Warning struct {
	Index  int    `json:"index"`
	ErrMsg string `json:"errmsg"`
	Code   string `json:"code,omitempty"`
}

// Output is the per-session holder returned from trade confirmation.
type Output struct {
	SessionID     string    `json:"session_id"`
	Handled       bool      `json:"handled"`
	LedgerUpdated bool      `json:"ledger_updated"`
	Warnings      []Warning `json:"warnings,omitempty"`
}

func (o *Output) Warn(code, msg string) {
	o.Warnings = append(o.Warnings, Warning{Index: len(o.Warnings), ErrMsg: msg, Code: code})
}

// TradeInterceptor wraps trade confirmation: requests for a registered trader
// run the trader handler first, then every request falls through to the host.
type TradeInterceptor struct {
	handlers Handlers
	next     TradeProcessor
	log      *log.Logger
}

func NewTradeInterceptor(handlers Handlers, next TradeProcessor, logger *log.Logger) *TradeInterceptor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &TradeInterceptor{handlers: handlers, next: next, log: logger}
}

func (t *TradeInterceptor) ConfirmTrading(player *PlayerState, req TradeRequest, sessionID string) (*Output, error) {
	out := &Output{SessionID: sessionID}
	var h TradeHandler
	if t.handlers != nil {
		if hh, ok := t.handlers.Handler(req.TraderID); ok {
			h = hh
		}
	}

	switch req.Type {
	case TradeTypeBuy:
		buy := req.Buy()
		if h != nil {
			updated, err := h.HandleBuy(player, buy, sessionID)
			if err != nil {
				return out, fmt.Errorf("trader %s buy: %w", req.TraderID, err)
			}
			t.mark(out, req, updated)
		}
		if t.next != nil {
			if err := t.next.BuyItem(player, buy, sessionID, out); err != nil {
				return out, err
			}
		}
		return out, nil

	case TradeTypeSell:
		sell := req.Sell()
		if h != nil {
			updated, err := h.HandleSell(player, sell, sessionID)
			if err != nil {
				return out, fmt.Errorf("trader %s sell: %w", req.TraderID, err)
			}
			t.mark(out, req, updated)
		}
		if t.next != nil {
			if err := t.next.SellItem(player, sell, sessionID, out); err != nil {
				return out, err
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedTrade, req.Type)
}

func (t *TradeInterceptor) mark(out *Output, req TradeRequest, updated bool) {
	out.Handled = true
	out.LedgerUpdated = updated
	if !updated {
		// The host trade still goes through; the ledger just did not change.
		if req.Type == TradeTypeSell {
			t.log.Printf("trader=%s type=%s items=%d: ledger not updated", req.TraderID, req.Type, len(req.Items))
		} else {
			t.log.Printf("trader=%s type=%s item=%s: ledger not updated", req.TraderID, req.Type, req.ItemID)
		}
	}
}

// AssortInterceptor rebuilds a registered trader's table before the host
// computes the visible assort from it.
type AssortInterceptor struct {
	assorters Handlers
	tables    *Tables
	next      AssortSource
	log       *log.Logger
}

// NewAssortInterceptor falls back to tables as the assort source when next is nil.
func NewAssortInterceptor(assorters Handlers, tables *Tables, next AssortSource, logger *log.Logger) *AssortInterceptor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if tables == nil {
		tables = NewTables()
	}
	if next == nil {
		next = tables
	}
	return &AssortInterceptor{assorters: assorters, tables: tables, next: next, log: logger}
}

// Handles reports whether traderID belongs to a registered custom trader.
func (a *AssortInterceptor) Handles(traderID string) bool {
	if a.assorters == nil {
		return false
	}
	_, ok := a.assorters.Assorter(traderID)
	return ok
}

func (a *AssortInterceptor) GetAssort(sessionID, traderID string) (live.Table, error) {
	if a.assorters != nil {
		if p, ok := a.assorters.Assorter(traderID); ok {
			tab, err := p.RefreshAssort()
			if err != nil {
				// Partial tables are still published; unpriced entries are left out.
				a.log.Printf("trader=%s assort rebuild: %v", traderID, err)
			}
			a.tables.Set(traderID, tab)
		}
	}
	return a.next.GetAssort(sessionID, traderID)
}

// Tables holds the live assort table per trader, standing in for the host's
// trader database.
type Tables struct {
	mu     sync.RWMutex
	tables map[string]live.Table
}

func NewTables() *Tables {
	return &Tables{tables: map[string]live.Table{}}
}

func (t *Tables) Set(traderID string, tab live.Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tables[traderID] = tab
}

func (t *Tables) Get(traderID string) (live.Table, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tab, ok := t.tables[traderID]
	return tab, ok
}

func (t *Tables) GetAssort(_ string, traderID string) (live.Table, error) {
	tab, ok := t.Get(traderID)
	if !ok {
		return live.NewTable(), nil
	}
	return tab, nil
}
