package web

// errors.go turns errors into JSON responses.
//
// The technical error is logged with the request id; the client only sees
// the mapped user message from core.MapError.

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/boardsheet/internal/core"
	"github.com/JonMunkholm/boardsheet/internal/logging"
)

// ErrorResponse is the JSON body of every error response.
// Code is machine-readable; Message and Action are meant for people.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// respondError logs err and writes the user-facing message with statusCode.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	writeJSON(w, statusCode, ErrorResponse{
		Error:     userMsg.Message,
		Message:   userMsg.Message,
		Action:    userMsg.Action,
		Code:      userMsg.Code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// fail responds with the status core assigns to err.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := core.HTTPStatus(err)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		err, status = core.ErrFileTooLarge, http.StatusBadRequest
	}
	respondError(w, r, err, status)
}
