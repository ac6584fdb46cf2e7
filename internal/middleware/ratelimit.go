package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/scmrelay/internal/config"
)

const rateLimitMessage = "Too many requests, please try again later."

// RateLimiter is per-IP token bucket rate limiting middleware.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       float64 // tokens per second
	burst      int
	maxBuckets int
	exempt     []string // path prefixes never limited
	now        func() time.Time
}

type bucket struct {
	tokens    float64
	updatedAt time.Time
}

// NewRateLimiter creates a rate limiter with the given sustained rate
// (requests per second) and burst size. Requests whose path starts with
// one of exempt bypass the limiter.
func NewRateLimiter(rate float64, burst int, exempt ...string) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		burst:      burst,
		maxBuckets: 100000,
		exempt:     exempt,
		now:        time.Now,
	}
}

// NewRateLimiterFromConfig builds a limiter from the rate section.
func NewRateLimiterFromConfig(cfg config.Rate, exempt ...string) *RateLimiter {
	return NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, exempt...)
}

// Handler returns HTTP middleware that enforces per-IP rate limiting.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		remaining, retryAfter, allowed := rl.allow(clientIP(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(time.Duration(retryAfter*float64(time.Second))).Unix(), 10))

		if !allowed {
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
			writeError(w, http.StatusTooManyRequests, rateLimitMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isExempt(path string) bool {
	for _, p := range rl.exempt {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// allow takes one token from the bucket of ip. It returns the tokens left,
// the seconds until the next token and whether the request may proceed.
func (rl *RateLimiter) allow(ip string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[ip]
	if !ok {
		if len(rl.buckets) >= rl.maxBuckets {
			return 0, 1.0 / rl.rate, false
		}
		b = &bucket{tokens: float64(rl.burst), updatedAt: now}
		rl.buckets[ip] = b
	}

	b.tokens = math.Min(float64(rl.burst), b.tokens+now.Sub(b.updatedAt).Seconds()*rl.rate)
	b.updatedAt = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup spawns a goroutine that drops buckets idle for longer than
// maxIdle, checking every interval. The returned function stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for ip, b := range rl.buckets {
		if b.updatedAt.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// Len returns the number of tracked IP buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientIP uses RemoteAddr, which chi's RealIP middleware has already
// rewritten when the server sits behind a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
