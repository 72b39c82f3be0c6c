package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/infrastructure/memory"
	"commerce-auctions/internal/services"
	"commerce-auctions/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine  *services.AuctionEngine
	manager *ConnectionManager
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewNop()
	engine := services.NewAuctionEngine(memory.NewStore(), nil, log)
	manager := NewConnectionManager(log)
	handler := NewWebSocketHandler(engine, manager, log)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		handler.Serve(w, r, q.Get("listing"), q.Get("user"))
	}))
	t.Cleanup(server.Close)

	return &fixture{engine: engine, manager: manager, server: server}
}

func (f *fixture) listing(t *testing.T, price string) *domain.Listing {
	t.Helper()
	l, err := f.engine.CreateListing(context.Background(), domain.NewListing{
		Title:         "Guitar",
		Owner:         "alice",
		StartingPrice: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) url(listingID, user string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?listing=" + listingID + "&user=" + user
}

func (f *fixture) dial(t *testing.T, listingID, user string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.url(listingID, user), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg ClientMessage) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.WriteJSON(msg))
	var reply ServerMessage
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestSession_PlaceBid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.listing(t, "100")
	conn := f.dial(t, l.ID, "bob")

	reply := roundTrip(t, conn, ClientMessage{Type: MessagePlaceBid, Amount: "100"})
	require.Equal(t, MessageBidAccepted, reply.Type)
	require.NotNil(t, reply.Bid)
	require.Equal(t, "bob", reply.Bid.Bidder)

	reply = roundTrip(t, conn, ClientMessage{Type: MessagePlaceBid, Amount: "100"})
	require.Equal(t, MessageBidRejected, reply.Type)
	require.Equal(t, "bid_too_low", reply.Code)

	reply = roundTrip(t, conn, ClientMessage{Type: MessagePlaceBid, Amount: "abc"})
	require.Equal(t, MessageBidRejected, reply.Type)
	require.Equal(t, "invalid_input", reply.Code)

	reply = roundTrip(t, conn, ClientMessage{Type: MessagePing})
	require.Equal(t, MessagePong, reply.Type)

	reply = roundTrip(t, conn, ClientMessage{Type: "subscribe"})
	require.Equal(t, MessageError, reply.Type)

	got, err := f.engine.GetListing(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, "bob", got.HighBidder)
}

func TestSession_OwnerCannotBid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.listing(t, "10")
	conn := f.dial(t, l.ID, "alice")

	reply := roundTrip(t, conn, ClientMessage{Type: MessagePlaceBid, Amount: "20"})
	require.Equal(t, MessageBidRejected, reply.Type)
	require.Equal(t, "self_bid", reply.Code)
}

func TestSession_ClosedByListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.listing(t, "10")
	conn := f.dial(t, l.ID, "bob")

	require.Eventually(t, func() bool { return f.manager.Count(l.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	f.manager.CloseListing(l.ID, "auction closed")
	require.Zero(t, f.manager.Count(l.ID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	require.Equal(t, "auction closed", closeErr.Text)
}

// closingEngine closes the listing right after the pre-upgrade check, the way
// a concurrent close_auction would.
type closingEngine struct {
	*services.AuctionEngine
	closed atomic.Bool
}

func (e *closingEngine) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	l, err := e.AuctionEngine.GetListing(ctx, listingID)
	if err != nil || !e.closed.CompareAndSwap(false, true) {
		return l, err
	}
	if err := e.CloseAuction(ctx, listingID, l.Owner); err != nil {
		return nil, err
	}
	return l, nil
}

func TestSession_ClosedDuringUpgrade(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.listing(t, "10")

	log := logger.NewNop()
	manager := NewConnectionManager(log)
	handler := NewWebSocketHandler(&closingEngine{AuctionEngine: f.engine}, manager, log)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, l.ID, "bob")
	}))
	t.Cleanup(server.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	require.Equal(t, ReasonAuctionClosed, closeErr.Text)
	require.Eventually(t, func() bool { return manager.Count(l.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_CloseAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.listing(t, "10")
	second := f.listing(t, "10")
	f.dial(t, first.ID, "bob")
	f.dial(t, second.ID, "carol")

	require.Eventually(t, func() bool {
		return f.manager.Count(first.ID) == 1 && f.manager.Count(second.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.manager.CloseAll("shutting down")
	require.Zero(t, f.manager.Count(first.ID))
	require.Zero(t, f.manager.Count(second.ID))
}

func TestSession_RejectedBeforeUpgrade(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	closed := f.listing(t, "10")
	require.NoError(t, f.engine.CloseAuction(context.Background(), closed.ID, "alice"))

	tests := []struct {
		name       string
		listingID  string
		wantStatus int
	}{
		{name: "unknown listing", listingID: "listing_missing", wantStatus: http.StatusNotFound},
		{name: "closed listing", listingID: closed.ID, wantStatus: http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, resp, err := websocket.DefaultDialer.Dial(f.url(tc.listingID, "bob"), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			require.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}
}
