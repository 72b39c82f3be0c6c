package handlers

import (
	"net/http"

	"commerce-auctions/internal/api/middleware"
	"commerce-auctions/internal/services"
	"commerce-auctions/pkg/logger"

	"github.com/labstack/echo/v4"
)

type CommunityHandler struct {
	community *services.CommunityService
	log       logger.Logger
}

type AddCommentRequest struct {
	Text string `json:"text"`
}

func NewCommunityHandler(community *services.CommunityService, log logger.Logger) *CommunityHandler {
	return &CommunityHandler{community: community, log: log}
}

func (h *CommunityHandler) Register(g *echo.Group) {
	g.GET("/listings/:id/comments", h.Comments)
	g.POST("/listings/:id/comments", h.AddComment, middleware.RequireUser)
	g.POST("/comments/:id/like", h.LikeComment, middleware.RequireUser)

	g.GET("/watchlist", h.Watchlist, middleware.RequireUser)
	g.GET("/watchlist/:id", h.WatchStatus, middleware.RequireUser)
	g.PUT("/watchlist/:id", h.Watch, middleware.RequireUser)
	g.DELETE("/watchlist/:id", h.Unwatch, middleware.RequireUser)

	g.GET("/categories", h.Categories)
}

func (h *CommunityHandler) Comments(c echo.Context) error {
	comments, err := h.community.Comments(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, "list comments", err)
	}
	return c.JSON(http.StatusOK, comments)
}

func (h *CommunityHandler) AddComment(c echo.Context) error {
	var req AddCommentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_input"})
	}

	comment, err := h.community.AddComment(c.Request().Context(), c.Param("id"), middleware.CurrentUser(c), req.Text)
	if err != nil {
		return respondError(c, h.log, "add comment", err)
	}
	return c.JSON(http.StatusCreated, comment)
}

func (h *CommunityHandler) LikeComment(c echo.Context) error {
	comment, err := h.community.LikeComment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, "like comment", err)
	}
	return c.JSON(http.StatusOK, comment)
}

func (h *CommunityHandler) Watchlist(c echo.Context) error {
	listings, err := h.community.Watchlist(c.Request().Context(), middleware.CurrentUser(c))
	if err != nil {
		return respondError(c, h.log, "watchlist", err)
	}

	out := make([]ListingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, NewListingResponse(l))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CommunityHandler) WatchStatus(c echo.Context) error {
	listingID := c.Param("id")
	watching, err := h.community.IsWatching(c.Request().Context(), middleware.CurrentUser(c), listingID)
	if err != nil {
		return respondError(c, h.log, "watch status", err)
	}
	return c.JSON(http.StatusOK, WatchStatusResponse{ListingID: listingID, Watching: watching})
}

func (h *CommunityHandler) Watch(c echo.Context) error {
	listingID := c.Param("id")
	if err := h.community.Watch(c.Request().Context(), middleware.CurrentUser(c), listingID); err != nil {
		return respondError(c, h.log, "watch", err)
	}
	return c.JSON(http.StatusOK, WatchStatusResponse{ListingID: listingID, Watching: true})
}

func (h *CommunityHandler) Unwatch(c echo.Context) error {
	listingID := c.Param("id")
	if err := h.community.Unwatch(c.Request().Context(), middleware.CurrentUser(c), listingID); err != nil {
		return respondError(c, h.log, "unwatch", err)
	}
	return c.JSON(http.StatusOK, WatchStatusResponse{ListingID: listingID, Watching: false})
}

func (h *CommunityHandler) Categories(c echo.Context) error {
	categories, err := h.community.Categories(c.Request().Context())
	if err != nil {
		return respondError(c, h.log, "categories", err)
	}
	return c.JSON(http.StatusOK, categories)
}
