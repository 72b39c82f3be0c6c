package handlers

import (
	"encoding/json"
	"net/http"

	"commerce-auctions/internal/api/middleware"
	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/infrastructure/websocket"
	"commerce-auctions/pkg/logger"

	"github.com/gorilla/mux"
)

type BidHandler struct {
	engine websocket.BidPlacer
	ws     *websocket.WebSocketHandler
	log    logger.Logger
}

// PlaceBidRequest carries the amount as a decimal string, e.g. "150.00".
type PlaceBidRequest struct {
	Amount string `json:"amount"`
}

func NewBidHandler(engine websocket.BidPlacer, ws *websocket.WebSocketHandler, log logger.Logger) *BidHandler {
	return &BidHandler{engine: engine, ws: ws, log: log}
}

func (h *BidHandler) Register(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/listings/{id}/bids", middleware.RequireUserHTTP(http.HandlerFunc(h.PlaceBid))).Methods(http.MethodPost, http.MethodOptions)

	router.Handle("/ws/listings/{id}", middleware.RequireUserHTTP(http.HandlerFunc(h.HandleConnection)))
}

func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	listingID := mux.Vars(r)["id"]

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_input"})
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, h.log, "place bid", err)
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), listingID, middleware.UserID(r), amount)
	if err != nil {
		writeError(w, h.log, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, NewBidResponse(bid))
}

func (h *BidHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.ws.Serve(w, r, mux.Vars(r)["id"], middleware.UserID(r))
}
