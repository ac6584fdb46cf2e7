// Package signature verifies HMAC-SHA256 signatures on inbound callbacks.
//
// The MAC is always computed over the exact bytes received on the wire,
// never over a re-encoded form of the payload.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Scheme selects how the signature header value is encoded.
type Scheme int

const (
	// SchemePrefixed expects "sha256=<hex>" (upstream event callbacks).
	SchemePrefixed Scheme = iota
	// SchemeBare expects "<hex>" with no prefix (SCM webhook deliveries).
	SchemeBare
)

const prefix = "sha256="

func (s Scheme) String() string {
	switch s {
	case SchemePrefixed:
		return "prefixed"
	case SchemeBare:
		return "bare"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// ErrSignature is the parent of every verification failure.
var ErrSignature = errors.New("invalid signature")

var (
	ErrMissingSignature   = fmt.Errorf("%w: missing", ErrSignature)
	ErrMalformedSignature = fmt.Errorf("%w: malformed", ErrSignature)
	ErrSignatureMismatch  = fmt.Errorf("%w: mismatch", ErrSignature)
	ErrNoSecret           = fmt.Errorf("%w: no secret configured", ErrSignature)
)

// Sign returns the signature for payload encoded according to scheme.
func Sign(payload, secret []byte, scheme Scheme) string {
	sum := hex.EncodeToString(compute(payload, secret))
	if scheme == SchemePrefixed {
		return prefix + sum
	}
	return sum
}

// Verify checks provided against the HMAC-SHA256 of payload under secret.
// Any failure wraps ErrSignature.
func Verify(payload []byte, provided string, secret []byte, scheme Scheme) error {
	if len(secret) == 0 {
		return ErrNoSecret
	}
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return ErrMissingSignature
	}

	encoded := provided
	if scheme == SchemePrefixed {
		if !strings.HasPrefix(provided, prefix) {
			return ErrMalformedSignature
		}
		encoded = provided[len(prefix):]
	}

	got, err := hex.DecodeString(encoded)
	if err != nil {
		return ErrMalformedSignature
	}

	want := compute(payload, secret)
	if len(got) != len(want) {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(got, want) {
		return ErrSignatureMismatch
	}
	return nil
}

func compute(payload, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
