// Package middleware provides HTTP middleware for scmrelay.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/scmrelay/internal/logger"
)

const headerRequestID = "X-Request-ID"

// maxRequestIDLen caps client-supplied IDs before they reach logs.
const maxRequestIDLen = 128

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
