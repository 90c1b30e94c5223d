package trader

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"cooptrader.dev/internal/host"
)

var ErrUnknownTrader = errors.New("trader: unknown trader")

// Registry owns the custom traders built by the composition root.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Trader
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]*Trader{}}
}

func (r *Registry) Register(t *Trader) error {
	if t == nil {
		return fmt.Errorf("register: nil trader")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[t.TraderID()]; ok {
		return fmt.Errorf("register %s: already registered", t.TraderID())
	}
	r.byID[t.TraderID()] = t
	return nil
}

func (r *Registry) Get(traderID string) (*Trader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[traderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrader, traderID)
	}
	return t, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Handler(traderID string) (host.TradeHandler, bool) {
	t, err := r.Get(traderID)
	if err != nil {
		return nil, false
	}
	return t, true
}

func (r *Registry) Assorter(traderID string) (host.AssortProvider, bool) {
	t, err := r.Get(traderID)
	if err != nil {
		return nil, false
	}
	return t, true
}
