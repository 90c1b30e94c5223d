package protocol

import (
	"cooptrader.dev/internal/assort/live"
	"cooptrader.dev/internal/host"
)

// HELLO (host -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HostName        string `json:"host_name"`
}

// WELCOME (server -> host)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Traders         []TraderRef `json:"traders"`
	CatalogDigest   string      `json:"catalog_digest,omitempty"`
}

type TraderRef struct {
	TraderID     string `json:"trader_id"`
	Currency     string `json:"currency"`
	LoyaltyLevel int    `json:"loyalty_level"`
}

// CONFIRM_TRADE (host -> server): the host's trade confirmation, before its
// own buy/sell processing runs.
type ConfirmTradeMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Ref             string            `json:"ref"`
	SessionID       string            `json:"session_id"`
	Player          host.PlayerState  `json:"player"`
	Request         host.TradeRequest `json:"request"`
}

// TRADE_RESULT (server -> host)
type TradeResultMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Ref             string         `json:"ref"`
	OK              bool           `json:"ok"`
	Handled         bool           `json:"handled"`
	LedgerUpdated   bool           `json:"ledger_updated"`
	Warnings        []host.Warning `json:"warnings,omitempty"`
	Code            string         `json:"code,omitempty"`
	Message         string         `json:"message,omitempty"`
}

// GET_ASSORT (host -> server)
type GetAssortMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref"`
	SessionID       string `json:"session_id"`
	TraderID        string `json:"trader_id"`
}

// ASSORT (server -> host)
type AssortMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Ref             string      `json:"ref"`
	OK              bool        `json:"ok"`
	Handled         bool        `json:"handled"`
	TraderID        string      `json:"trader_id"`
	Assort          *live.Table `json:"assort,omitempty"`
	Warning         string      `json:"warning,omitempty"`
	Code            string      `json:"code,omitempty"`
	Message         string      `json:"message,omitempty"`
}

// ERROR (server -> host) for messages that could not be routed.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
