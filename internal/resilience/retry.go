package resilience

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// RetryPolicy decides whether and when a failed attempt is retried.
// Zero-valued function fields fall back to the defaults below.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// Backoff returns the wait before retry n (n starts at 1).
	Backoff func(n int, base time.Duration) time.Duration
	// Retryable classifies an attempt result. status is 0 when err is a
	// transport failure.
	Retryable func(status int, err error) bool
}

// DefaultRetryPolicy retries three times with 2s, 4s, 8s waits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
}

// Delay returns the wait before retry n.
func (p RetryPolicy) Delay(n int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(n, p.BaseDelay)
	}
	return ExponentialBackoff(n, p.BaseDelay)
}

// ShouldRetry reports whether an attempt with the given result may be retried.
func (p RetryPolicy) ShouldRetry(status int, err error) bool {
	if p.Retryable != nil {
		return p.Retryable(status, err)
	}
	return IsRetryable(status, err)
}

// ExponentialBackoff returns 2^n * base.
func ExponentialBackoff(n int, base time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	return base << uint(n) //nolint:gosec // G115: n is small and non-negative
}

// retryableStatus holds the rate-limit and transient server statuses.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryable is the default classification: 429, 500, 502, 503, 504 and
// transport failures (reset, timeout, DNS) are retryable. Cancellation of
// the caller's context is not.
func IsRetryable(status int, err error) bool {
	if err != nil {
		return isTransportError(err)
	}
	return retryableStatus[status]
}

// isTransportError reports whether err is a transient network failure.
// *url.Error wraps every Do failure and is itself a net.Error, so the
// classification looks at the error inside it.
func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	// Certificate problems do not heal on retry.
	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &authErr) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
