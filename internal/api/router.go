package api

import (
	"net/http"
	"time"

	"commerce-auctions/internal/api/handlers"
	apimw "commerce-auctions/internal/api/middleware"
	"commerce-auctions/internal/services"
	"commerce-auctions/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewListingServer builds the echo server for listings, closing, winners,
// comments and watchlists.
func NewListingServer(
	engine handlers.ListingService,
	reader handlers.ListingReader,
	community *services.CommunityService,
	log logger.Logger,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			echo.GET, echo.HEAD, echo.PUT, echo.PATCH,
			echo.POST, echo.DELETE, echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			echo.HeaderXRequestedWith,
			apimw.UserIDHeader,
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			log.Info("Request handled",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"latency", time.Since(start).String())
			return err
		}
	})

	g := e.Group("/api/v1")
	handlers.NewListingHandler(engine, reader, log).Register(g)
	handlers.NewCommunityHandler(community, log).Register(g)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "listing-service",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	return e
}

// NewBiddingRouter builds the mux router for bid placement over HTTP and
// websocket.
func NewBiddingRouter(bids *handlers.BidHandler, log logger.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(apimw.CORS)
	router.Use(apimw.RequestLogger(log))

	bids.Register(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return router
}
