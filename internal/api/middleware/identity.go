package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// UserIDHeader carries the caller identity established by the auth layer in
// front of these services. It is trusted as-is.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

// UserID reads the caller identity from the header, falling back to the
// user_id query parameter for websocket clients that cannot set headers.
func UserID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

// RequireUser rejects requests without a caller identity and stores it in
// the echo context for CurrentUser.
func RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := UserID(c.Request())
		if id == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": UserIDHeader + " header required",
				"code":  "unauthenticated",
			})
		}
		c.Set(userIDKey, id)
		return next(c)
	}
}

func CurrentUser(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

// RequireUserHTTP is RequireUser for net/http handlers.
func RequireUserHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"` + UserIDHeader + ` header required","code":"unauthenticated"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
