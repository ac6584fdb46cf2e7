package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/scmrelay/internal/domain"
	"github.com/Strob0t/scmrelay/internal/resilience"
	"github.com/Strob0t/scmrelay/internal/signature"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit. An empty body
// decodes to the zero value when allowEmpty is set.
func readJSON[T any](w http.ResponseWriter, r *http.Request, allowEmpty bool) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case allowEmpty && errors.Is(err, io.EOF):
			return v, true
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if strings.TrimSpace(value) == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps service errors to HTTP statuses. notFoundMsg is
// returned for domain.ErrNotFound. Upstream failures are logged with their
// status and body and answered with a generic 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	ctx := r.Context()
	var upstreamErr *resilience.UpstreamError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, conflictMessage(err))
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimSuffix(err.Error(), ": "+domain.ErrValidation.Error())
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, signature.ErrSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.As(err, &upstreamErr):
		slog.ErrorContext(ctx, "upstream request failed",
			"method", upstreamErr.Method,
			"path", upstreamErr.Path,
			"status", upstreamErr.Status,
			"attempts", upstreamErr.Attempts,
			"body", truncate(string(upstreamErr.Body), 512),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeInternalError(w, r, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func conflictMessage(err error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+domain.ErrConflict.Error())
	if msg == err.Error() {
		return "resource already exists"
	}
	return msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
