package handlers

import (
	"context"
	"iter"
	"net/http"
	"strconv"

	"commerce-auctions/internal/api/middleware"
	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// ListingService is the auction engine surface the listing endpoints use.
type ListingService interface {
	CreateListing(ctx context.Context, req domain.NewListing) (*domain.Listing, error)
	ListListings(ctx context.Context, filter domain.ListingFilter) iter.Seq2[*domain.Listing, error]
	CloseAuction(ctx context.Context, listingID, requester string) error
	GetWinner(ctx context.Context, listingID string) (string, bool, error)
	BidHistory(ctx context.Context, listingID string) (iter.Seq2[*domain.Bid, error], error)
}

// ListingReader serves single listing reads, typically through a cache.
type ListingReader interface {
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
}

type ListingHandler struct {
	engine ListingService
	reader ListingReader
	log    logger.Logger
}

type CreateListingRequest struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	ImageURL      string          `json:"image_url"`
	StartingPrice decimal.Decimal `json:"starting_price"`
}

func NewListingHandler(engine ListingService, reader ListingReader, log logger.Logger) *ListingHandler {
	return &ListingHandler{
		engine: engine,
		reader: reader,
		log:    log,
	}
}

func (h *ListingHandler) Register(g *echo.Group) {
	g.POST("/listings", h.CreateListing, middleware.RequireUser)
	g.GET("/listings", h.ListListings)
	g.GET("/listings/:id", h.GetListing)
	g.POST("/listings/:id/close", h.CloseAuction, middleware.RequireUser)
	g.GET("/listings/:id/winner", h.GetWinner)
	g.GET("/listings/:id/bids", h.BidHistory)
}

func (h *ListingHandler) CreateListing(c echo.Context) error {
	var req CreateListingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_input"})
	}

	l, err := h.engine.CreateListing(c.Request().Context(), domain.NewListing{
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Owner:         middleware.CurrentUser(c),
		ImageURL:      req.ImageURL,
		StartingPrice: req.StartingPrice,
	})
	if err != nil {
		return respondError(c, h.log, "create listing", err)
	}
	return c.JSON(http.StatusCreated, NewListingResponse(l))
}

func (h *ListingHandler) GetListing(c echo.Context) error {
	l, err := h.reader.GetListing(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, "get listing", err)
	}
	return c.JSON(http.StatusOK, NewListingResponse(l))
}

// ListListings accepts state, category and owner filters plus a limit.
func (h *ListingHandler) ListListings(c echo.Context) error {
	var filter domain.ListingFilter
	if s := c.QueryParam("state"); s != "" {
		state, err := domain.ParseListingState(s)
		if err != nil {
			return respondError(c, h.log, "list listings", err)
		}
		filter.State = &state
	}
	filter.Category = c.QueryParam("category")
	filter.Owner = c.QueryParam("owner")

	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return respondError(c, h.log, "list listings", err)
	}

	listings := make([]ListingResponse, 0)
	for l, err := range h.engine.ListListings(c.Request().Context(), filter) {
		if err != nil {
			return respondError(c, h.log, "list listings", err)
		}
		listings = append(listings, NewListingResponse(l))
		if len(listings) == limit {
			break
		}
	}
	return c.JSON(http.StatusOK, listings)
}

func (h *ListingHandler) CloseAuction(c echo.Context) error {
	ctx := c.Request().Context()
	listingID := c.Param("id")

	if err := h.engine.CloseAuction(ctx, listingID, middleware.CurrentUser(c)); err != nil {
		return respondError(c, h.log, "close auction", err)
	}

	l, err := h.reader.GetListing(ctx, listingID)
	if err != nil {
		return respondError(c, h.log, "close auction", err)
	}
	return c.JSON(http.StatusOK, NewListingResponse(l))
}

func (h *ListingHandler) GetWinner(c echo.Context) error {
	listingID := c.Param("id")
	winner, ok, err := h.engine.GetWinner(c.Request().Context(), listingID)
	if err != nil {
		return respondError(c, h.log, "get winner", err)
	}
	return c.JSON(http.StatusOK, WinnerResponse{ListingID: listingID, HasWinner: ok, Winner: winner})
}

func (h *ListingHandler) BidHistory(c echo.Context) error {
	history, err := h.engine.BidHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, "bid history", err)
	}

	bids := make([]BidResponse, 0)
	for b, err := range history {
		if err != nil {
			return respondError(c, h.log, "bid history", err)
		}
		bids = append(bids, NewBidResponse(b))
	}
	return c.JSON(http.StatusOK, bids)
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultPageLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, domain.ErrInvalidInput
	}
	if n > maxPageLimit {
		n = maxPageLimit
	}
	return n, nil
}
