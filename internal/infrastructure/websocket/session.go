package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// ReasonAuctionClosed is the close-frame text sent when a listing closes.
const ReasonAuctionClosed = "auction closed"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	bidTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// BidPlacer is the slice of the auction engine a session needs.
type BidPlacer interface {
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
	PlaceBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*domain.Bid, error)
}

// ClientMessage is what a bidder sends. Amount is a decimal string.
type ClientMessage struct {
	Type   string `json:"type"`
	Amount string `json:"amount,omitempty"`
}

// ServerMessage is the reply to a single ClientMessage.
type ServerMessage struct {
	Type    string      `json:"type"`
	Bid     *domain.Bid `json:"bid,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

const (
	MessagePlaceBid    = "place_bid"
	MessagePing        = "ping"
	MessagePong        = "pong"
	MessageBidAccepted = "bid_accepted"
	MessageBidRejected = "bid_rejected"
	MessageError       = "error"
)

type WebSocketHandler struct {
	engine      BidPlacer
	connManager *ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(engine BidPlacer, connManager *ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		engine:      engine,
		connManager: connManager,
		log:         log,
	}
}

// Serve upgrades the request and runs a bid session for userID on listingID
// until the client disconnects. Listings that are missing or closed are
// rejected before the upgrade.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request, listingID, userID string) {
	l, err := h.engine.GetListing(r.Context(), listingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "listing not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to load listing", "listing_id", listingID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !l.IsOpen() {
		http.Error(w, "auction is closed", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	s := newBidSession(conn, userID, listingID, h.log)
	h.connManager.Register(s)
	defer func() {
		h.connManager.Unregister(s)
		s.Close()
	}()

	// A close that swept the listing's sessions before Register missed this one.
	if h.closedSince(listingID) {
		if err := s.CloseWithReason(ReasonAuctionClosed); err != nil {
			h.log.Debug("Failed to close connection", "user_id", userID, "listing_id", listingID, "error", err)
		}
		return
	}

	s.readLoop(h.handleMessage)
}

func (h *WebSocketHandler) closedSince(listingID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), bidTimeout)
	defer cancel()

	l, err := h.engine.GetListing(ctx, listingID)
	if err != nil {
		h.log.Warn("Failed to recheck listing", "listing_id", listingID, "error", err)
		return false
	}
	return !l.IsOpen()
}

func (h *WebSocketHandler) handleMessage(s *BidSession, msg ClientMessage) {
	switch msg.Type {
	case MessagePlaceBid:
		h.handleBid(s, msg)
	case MessagePing:
		s.Send(ServerMessage{Type: MessagePong})
	default:
		s.Send(ServerMessage{Type: MessageError, Code: "invalid_input", Message: "unknown message type"})
	}
}

func (h *WebSocketHandler) handleBid(s *BidSession, msg ClientMessage) {
	amount, err := domain.ParseAmount(msg.Amount)
	if err != nil {
		s.Send(ServerMessage{Type: MessageBidRejected, Code: domain.ErrorCode(err), Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), bidTimeout)
	defer cancel()

	bid, err := h.engine.PlaceBid(ctx, s.listingID, s.userID, amount)
	if err != nil {
		code := domain.ErrorCode(err)
		if code == "internal" {
			h.log.Error("Failed to place bid", "listing_id", s.listingID, "user_id", s.userID, "error", err)
			s.Send(ServerMessage{Type: MessageError, Code: code, Message: "failed to place bid"})
			return
		}
		s.Send(ServerMessage{Type: MessageBidRejected, Code: code, Message: err.Error()})
		return
	}
	s.Send(ServerMessage{Type: MessageBidAccepted, Bid: bid})
}

// BidSession is one bidder's connection to one listing. Writes are
// serialized because the underlying connection allows a single writer.
type BidSession struct {
	conn      *websocket.Conn
	userID    string
	listingID string
	log       logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newBidSession(conn *websocket.Conn, userID, listingID string, log logger.Logger) *BidSession {
	return &BidSession{
		conn:      conn,
		userID:    userID,
		listingID: listingID,
		log:       log,
	}
}

func (s *BidSession) readLoop(handle func(*BidSession, ClientMessage)) {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Error("Failed to read message", "user_id", s.userID, "listing_id", s.listingID, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(s, msg)
	}
}

func (s *BidSession) Send(msg ServerMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.Debug("Failed to send message", "user_id", s.userID, "type", msg.Type, "error", err)
	}
}

func (s *BidSession) CloseWithReason(reason string) error {
	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()

	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *BidSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *BidSession) UserID() string {
	return s.userID
}

func (s *BidSession) ListingID() string {
	return s.listingID
}
