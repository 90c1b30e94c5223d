package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cooptrader.dev/internal/assort/live"
	"cooptrader.dev/internal/host"
	"cooptrader.dev/internal/protocol"
)

// TradeConfirmer runs the trader side effect of a trade confirmation.
type TradeConfirmer interface {
	ConfirmTrading(player *host.PlayerState, req host.TradeRequest, sessionID string) (*host.Output, error)
}

// AssortFetcher rebuilds and returns a registered trader's live assort.
type AssortFetcher interface {
	Handles(traderID string) bool
	GetAssort(sessionID, traderID string) (live.Table, error)
}

type Options struct {
	Traders       []protocol.TraderRef
	CatalogDigest string
	// Out queue depth per connection.
	MaxQueue int
}

type Stats struct {
	Sessions  int64
	Messages  uint64
	Rejected  uint64
	TradesErr uint64
}

// Server is the bridge the host mod connects to over websocket.
type Server struct {
	trades  TradeConfirmer
	assorts AssortFetcher
	opts    Options
	log     *log.Logger

	upgrader websocket.Upgrader

	sessions  atomic.Int64
	messages  atomic.Uint64
	rejected  atomic.Uint64
	tradesErr atomic.Uint64
}

func NewServer(trades TradeConfirmer, assorts AssortFetcher, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = 32
	}
	return &Server{
		trades:  trades,
		assorts: assorts,
		opts:    opts,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Sessions:  s.sessions.Load(),
		Messages:  s.messages.Load(),
		Rejected:  s.rejected.Load(),
		TradesErr: s.tradesErr.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, hostName := s.handshake(conn)
		if sessionID == "" {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.log.Printf("session %s: host %q connected", sessionID, hostName)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		out := make(chan []byte, s.opts.MaxQueue)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Requests are handled in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.messages.Add(1)
			resp := s.dispatch(msg)
			if resp == nil {
				continue
			}
			b, err := json.Marshal(resp)
			if err != nil {
				s.log.Printf("session %s: marshal response: %v", sessionID, err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		s.log.Printf("session %s: disconnected", sessionID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID, hostName string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", ""
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"), time.Now().Add(time.Second))
		return "", ""
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", ""
	}

	sessionID = uuid.NewString()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Traders:         s.opts.Traders,
		CatalogDigest:   s.opts.CatalogDigest,
	}
	if welcome.Traders == nil {
		welcome.Traders = []protocol.TraderRef{}
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return sessionID, hello.HostName
}

func (s *Server) dispatch(msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.rejected.Add(1)
		return errorMsg("", protocol.ErrProtoBadRequest, "bad json")
	}
	switch base.Type {
	case protocol.TypeConfirmTrade:
		if err := protocol.Validate(base.Type, msg); err != nil {
			s.rejected.Add(1)
			return tradeFailure(base.Ref, protocol.ErrProtoBadRequest, err.Error())
		}
		var m protocol.ConfirmTradeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.rejected.Add(1)
			return tradeFailure(base.Ref, protocol.ErrProtoBadRequest, err.Error())
		}
		return s.confirmTrade(m)

	case protocol.TypeGetAssort:
		if err := protocol.Validate(base.Type, msg); err != nil {
			s.rejected.Add(1)
			return assortFailure(base.Ref, "", protocol.ErrProtoBadRequest, err.Error())
		}
		var m protocol.GetAssortMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.rejected.Add(1)
			return assortFailure(base.Ref, "", protocol.ErrProtoBadRequest, err.Error())
		}
		return s.getAssort(m)
	}
	s.rejected.Add(1)
	return errorMsg(base.Ref, protocol.ErrProtoUnsupported, "unsupported message type: "+base.Type)
}

func (s *Server) confirmTrade(m protocol.ConfirmTradeMsg) protocol.TradeResultMsg {
	player := m.Player
	out, err := s.trades.ConfirmTrading(&player, m.Request, m.SessionID)
	if err != nil {
		s.tradesErr.Add(1)
		code := protocol.ErrInternal
		if errors.Is(err, host.ErrUnsupportedTrade) {
			code = protocol.ErrBadRequest
		}
		s.log.Printf("confirm trade ref=%s tid=%s: %v", m.Ref, m.Request.TraderID, err)
		res := tradeFailure(m.Ref, code, err.Error())
		if out != nil {
			res.Handled = out.Handled
		}
		return res
	}
	res := protocol.TradeResultMsg{
		Type:            protocol.TypeTradeResult,
		ProtocolVersion: protocol.Version,
		Ref:             m.Ref,
		OK:              true,
		Handled:         out.Handled,
		LedgerUpdated:   out.LedgerUpdated,
		Warnings:        out.Warnings,
	}
	if out.Handled && !out.LedgerUpdated && m.Request.Type == host.TradeTypeBuy {
		res.Code = protocol.ErrNotInLedger
		res.Message = "item not found in trader ledger"
	}
	return res
}

func (s *Server) getAssort(m protocol.GetAssortMsg) protocol.AssortMsg {
	res := protocol.AssortMsg{
		Type:            protocol.TypeAssort,
		ProtocolVersion: protocol.Version,
		Ref:             m.Ref,
		OK:              true,
		TraderID:        m.TraderID,
	}
	if s.assorts == nil || !s.assorts.Handles(m.TraderID) {
		return res
	}
	tab, err := s.assorts.GetAssort(m.SessionID, m.TraderID)
	if err != nil {
		s.log.Printf("get assort ref=%s tid=%s: %v", m.Ref, m.TraderID, err)
		return assortFailure(m.Ref, m.TraderID, protocol.ErrInternal, err.Error())
	}
	res.Handled = true
	res.Assort = &tab
	return res
}

func tradeFailure(ref, code, msg string) protocol.TradeResultMsg {
	return protocol.TradeResultMsg{
		Type:            protocol.TypeTradeResult,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		Code:            code,
		Message:         msg,
	}
}

func assortFailure(ref, traderID, code, msg string) protocol.AssortMsg {
	return protocol.AssortMsg{
		Type:            protocol.TypeAssort,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		TraderID:        traderID,
		Code:            code,
		Message:         msg,
	}
}

func errorMsg(ref, code, msg string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		Code:            code,
		Message:         msg,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
