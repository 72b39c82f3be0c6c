package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestUserID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		target string
		want   string
	}{
		{name: "header", header: "bob", target: "/", want: "bob"},
		{name: "query fallback", target: "/?user_id=carol", want: "carol"},
		{name: "header wins", header: "bob", target: "/?user_id=carol", want: "bob"},
		{name: "blank header", header: "  ", target: "/", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set(UserIDHeader, tc.header)
			}
			require.Equal(t, tc.want, UserID(req))
		})
	}
}

func TestRequireUser(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, CurrentUser(c))
	}, RequireUser)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "unauthenticated")

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserIDHeader, "bob")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bob", rec.Body.String())
}

func TestRequireUserHTTP(t *testing.T) {
	t.Parallel()

	h := RequireUserHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/?user_id=bob", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORS(t *testing.T) {
	t.Parallel()

	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, called)
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), UserIDHeader)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
