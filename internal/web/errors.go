package web

// errors.go turns service errors into JSON responses.
//
// The technical error is logged with the request ID; the client receives
// the mapped user message and support code from core.MapError.

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/JonMunkholm/cdmtriage/internal/core"
	"github.com/JonMunkholm/cdmtriage/internal/logging"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
	errFileTooBig  = errors.New("file too large")
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrEventNotFound), errors.Is(err, core.ErrImportNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyImports), errors.Is(err, core.ErrTooManySimulations):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidPolicy), errors.Is(err, core.ErrInvalidSampleCount),
		errors.Is(err, errNoFile):
		return http.StatusBadRequest
	case errors.Is(err, errFileTooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped message with statusFor(err).
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondErrorStatus(w, r, err, statusFor(err))
}

func (s *Server) respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	respondErrorJSON(w, msg, status)
}

// respondBadRequest reports a malformed request parameter. These are
// client mistakes with no support code of their own.
func respondBadRequest(w http.ResponseWriter, message string) {
	respondErrorJSON(w, core.UserMessage{
		Message: message,
		Action:  "Check the request parameters",
		Code:    "REQ001",
	}, http.StatusBadRequest)
}

func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// clientIP strips the port from a RemoteAddr.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
