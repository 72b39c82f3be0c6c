package handlers

import (
	"encoding/json"
	"net/http"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusForError maps a domain error kind to its HTTP status.
func StatusForError(err error) int {
	switch domain.ErrorCode(err) {
	case "not_found", "comment_not_found":
		return http.StatusNotFound
	case "invalid_input":
		return http.StatusBadRequest
	case "self_bid", "not_owner":
		return http.StatusForbidden
	case "auction_closed", "bid_too_low", "already_closed", "conflict", "not_closed":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) (int, ErrorResponse) {
	status := StatusForError(err)
	body := ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)}
	if status == http.StatusInternalServerError {
		body.Error = "internal server error"
	}
	return status, body
}

func respondError(c echo.Context, log logger.Logger, op string, err error) error {
	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "op", op, "error", err)
	}
	return c.JSON(status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log logger.Logger, op string, err error) {
	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "op", op, "error", err)
	}
	writeJSON(w, status, body)
}
