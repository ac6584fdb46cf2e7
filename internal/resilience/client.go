package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 10 << 20

// Doer is the single send primitive the client decorates.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Request is one logical upstream call. Path is appended to the client base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a successful (2xx/3xx) upstream response with its body read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// UpstreamError is returned for terminal statuses and after retries are
// exhausted. Status is 0 when the last attempt failed at the transport level.
type UpstreamError struct {
	Method   string
	Path     string
	Status   int
	Body     []byte
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream %s %s: %v (after %d attempts)", e.Method, e.Path, e.Err, e.Attempts)
	}
	return fmt.Sprintf("upstream %s %s: status %d (after %d attempts)", e.Method, e.Path, e.Status, e.Attempts)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusOf returns the upstream status carried by err, or 0.
func StatusOf(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}

// Attempt describes one try of a logical call. Retry is the retry number
// (0 for the first try).
type Attempt struct {
	Method    string
	Path      string
	Retry     int
	Status    int
	Err       error
	Duration  time.Duration
	WillRetry bool
}

// AttemptObserver is notified after every attempt.
type AttemptObserver interface {
	ObserveAttempt(ctx context.Context, a Attempt)
}

// Client sends requests to one upstream base URL, retrying transient
// failures according to its policy. It is safe for concurrent use.
type Client struct {
	baseURL  string
	doer     Doer
	policy   RetryPolicy
	timeout  time.Duration
	header   http.Header
	breaker  *Breaker
	observer AttemptObserver
	sleep    func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPolicy overrides the retry policy.
func WithPolicy(p RetryPolicy) ClientOption { return func(c *Client) { c.policy = p } }

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) ClientOption { return func(c *Client) { c.timeout = d } }

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.header.Set(key, value) }
}

// WithBreaker guards every logical call with b. Only retryable-class
// failures count against it.
func WithBreaker(b *Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b.CountOnly(func(err error) bool {
			var ue *UpstreamError
			if errors.As(err, &ue) {
				return ue.Status == 0 || retryableStatus[ue.Status]
			}
			return !errors.Is(err, context.Canceled)
		})
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o AttemptObserver) ClientOption { return func(c *Client) { c.observer = o } }

// NewClient creates a Client. doer is usually an *http.Client; a nil doer
// uses http.DefaultClient.
func NewClient(baseURL string, doer Doer, opts ...ClientOption) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		doer:    doer,
		policy:  DefaultRetryPolicy(),
		timeout: 10 * time.Second,
		header:  make(http.Header),
		sleep:   sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured upstream base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// BreakerState reports the breaker state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State()
}

// Send performs req, retrying retryable failures with exponential backoff.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if c.breaker == nil {
		return c.send(ctx, req)
	}
	var resp *Response
	err := c.breaker.Execute(func() error {
		var err error
		resp, err = c.send(ctx, req)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, &UpstreamError{Method: req.Method, Path: req.Path, Err: err}
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	var (
		lastStatus int
		lastBody   []byte
		lastErr    error
	)
	for retry := 0; ; retry++ {
		if retry > 0 {
			if err := c.sleep(ctx, c.policy.Delay(retry)); err != nil {
				return nil, &UpstreamError{Method: req.Method, Path: req.Path, Status: lastStatus, Body: lastBody, Attempts: retry, Err: err}
			}
		}

		start := time.Now()
		resp, err := c.attempt(ctx, req)
		a := Attempt{Method: req.Method, Path: req.Path, Retry: retry, Duration: time.Since(start), Err: err}
		if resp != nil {
			a.Status = resp.Status
		}

		if err == nil && a.Status < 400 {
			c.observe(ctx, a)
			return resp, nil
		}

		lastStatus, lastErr, lastBody = a.Status, err, nil
		if resp != nil {
			lastBody = resp.Body
		}

		a.WillRetry = retry < c.policy.MaxRetries && c.policy.ShouldRetry(a.Status, err) && ctx.Err() == nil
		c.observe(ctx, a)

		if !a.WillRetry {
			return nil, &UpstreamError{
				Method:   req.Method,
				Path:     req.Path,
				Status:   lastStatus,
				Body:     lastBody,
				Attempts: retry + 1,
				Err:      lastErr,
			}
		}
	}
}

// attempt performs a single try bounded by the per-attempt timeout.
// Error statuses are returned as a Response with a nil error.
func (c *Client) attempt(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.header {
		httpReq.Header[k] = v
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	httpResp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) observe(ctx context.Context, a Attempt) {
	attrs := []any{
		"method", a.Method,
		"path", a.Path,
		"retry", a.Retry,
		"status", a.Status,
		"duration_ms", a.Duration.Milliseconds(),
	}
	switch {
	case a.Err != nil:
		slog.WarnContext(ctx, "upstream attempt failed", append(attrs, "error", a.Err, "will_retry", a.WillRetry)...)
	case a.Status >= 400:
		slog.WarnContext(ctx, "upstream error status", append(attrs, "will_retry", a.WillRetry)...)
	default:
		slog.DebugContext(ctx, "upstream call", attrs...)
	}
	if c.observer != nil {
		c.observer.ObserveAttempt(ctx, a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
