package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoHandshake   = "E_PROTO_HANDSHAKE"
	ErrProtoUnsupported = "E_PROTO_UNSUPPORTED"

	// Trade layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrUnknownTrader = "E_UNKNOWN_TRADER"
	ErrNotInLedger   = "E_NOT_IN_LEDGER"
	ErrUnpriced      = "E_UNPRICED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoHandshake:   {},
	ErrProtoUnsupported: {},
	ErrBadRequest:       {},
	ErrInvalidTarget:    {},
	ErrUnknownTrader:    {},
	ErrNotInLedger:      {},
	ErrUnpriced:         {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
