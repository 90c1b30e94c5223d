package trader

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventBuy  = "buy"
	EventSell = "sell"
)

// Event records one ledger mutation.
type Event struct {
	ID        string `json:"id"`
	At        string `json:"at"`
	TraderID  string `json:"trader_id"`
	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind"`
	EntryKind string `json:"entry_kind"`
	Tpl       string `json:"tpl"`
	Count     int    `json:"count"`
	GroupSize int    `json:"group_size,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
	Merged    bool   `json:"merged,omitempty"`
}

func newEvent(traderID, sessionID, kind string) Event {
	return Event{
		ID:        uuid.NewString(),
		At:        time.Now().UTC().Format(time.RFC3339Nano),
		TraderID:  traderID,
		SessionID: sessionID,
		Kind:      kind,
	}
}

// EventSink receives events after the ledger has been saved.
type EventSink interface {
	RecordTrade(ev Event) error
}

// MultiSink fans an event out to every non-nil sink and returns the first error.
type MultiSink []EventSink

func (m MultiSink) RecordTrade(ev Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.RecordTrade(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
