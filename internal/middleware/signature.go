package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/scmrelay/internal/adapter/otel"
	"github.com/Strob0t/scmrelay/internal/signature"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 5 << 20

// SignatureOptions configures the Signature middleware.
type SignatureOptions struct {
	// Secret is read on every request so rotated secrets apply at once.
	Secret  func() string
	Header  string // header carrying the signature
	Scheme  signature.Scheme
	Message string // error message returned with the 401
	Metrics *cfotel.Metrics
}

// Signature returns middleware that verifies an HMAC-SHA256 signature over
// the raw request body. On success the body is restored for the next
// handler; on failure the request is rejected with 401 and next is not called.
func Signature(opts SignatureOptions) func(http.Handler) http.Handler {
	if opts.Message == "" {
		opts.Message = "invalid signature"
	}
	if opts.Secret == nil {
		opts.Secret = func() string { return "" }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = signature.Verify(body, r.Header.Get(opts.Header), []byte(opts.Secret()), opts.Scheme)
			if err != nil {
				reason := failureReason(err)
				slog.WarnContext(r.Context(), "signature verification failed",
					"path", r.URL.Path,
					"header", opts.Header,
					"reason", reason,
				)
				countFailure(r.Context(), opts.Metrics, opts.Header, reason)
				writeError(w, http.StatusUnauthorized, opts.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, signature.ErrMissingSignature):
		return "missing"
	case errors.Is(err, signature.ErrMalformedSignature):
		return "malformed"
	case errors.Is(err, signature.ErrNoSecret):
		return "no_secret"
	default:
		return "mismatch"
	}
}

func countFailure(ctx context.Context, m *cfotel.Metrics, header, reason string) {
	if m == nil {
		return
	}
	m.SignatureFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("header", header),
		attribute.String("reason", reason),
	))
}

// RequireHeader rejects requests that lack the named header with 400.
func RequireHeader(name, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(name) == "" {
				writeError(w, http.StatusBadRequest, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
