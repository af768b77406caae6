// Package fetch is the resilient HTTP layer shared by market source
// adapters: bounded retries with exponential backoff and jitter, optional
// request pacing, and a failure-ratio circuit breaker.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Policy controls retry behaviour for one call site.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is doubled on every retry.
	BaseDelay time.Duration
	// Jitter is the exclusive upper bound of the random delay added to
	// each backoff.
	Jitter time.Duration
}

// DefaultPolicy retries three times starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, Jitter: time.Second}
}

// Backoff returns the delay before retry number attempt (0-based),
// excluding jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<attempt)
}

// Result is the outcome of Client.Do. When Exhausted is true, Response is
// the last failing response and the caller owns its body.
type Result struct {
	Response  *http.Response
	Attempts  int
	Exhausted bool
}

// Retryable reports whether a status code warrants another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Client wraps an http.Client with a retry policy and an optional limiter.
type Client struct {
	httpClient *http.Client
	policy     Policy
	limiter    *rate.Limiter
	logger     *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy overrides the default retry policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLimiter paces every attempt through l.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client with DefaultPolicy and a 30s timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     DefaultPolicy(),
		logger:     slog.Default(),
		sleep:      sleepCtx,
		jitter:     randomJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the client's retry policy.
func (c *Client) Policy() Policy { return c.policy }

// PrepareFunc mutates each attempt's request just before it is sent, e.g.
// to stamp time-bound auth headers.
type PrepareFunc func(req *http.Request) error

// Do sends req, retrying on 429, 5xx and transport errors. A 2xx or any
// other 4xx is returned immediately. If every attempt yields a retryable
// status, the last response is returned with Exhausted set and a nil error.
// An error is returned only for transport failures on the final attempt,
// limiter failures, or context cancellation.
func (c *Client) Do(ctx context.Context, req *http.Request) (Result, error) {
	return c.DoWith(ctx, req, nil)
}

// DoWith is Do with prepare applied to every attempt. A prepare error
// aborts without sending.
func (c *Client) DoWith(ctx context.Context, req *http.Request, prepare PrepareFunc) (Result, error) {
	var res Result
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		res.Attempts = attempt + 1
		last := attempt == c.policy.MaxRetries

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return res, fmt.Errorf("fetch: rate limiter: %w", err)
			}
		}

		attemptReq := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return res, fmt.Errorf("fetch: %s %s: rewind body: %w", req.Method, req.URL.Path, err)
			}
			attemptReq.Body = body
		}
		if prepare != nil {
			if err := prepare(attemptReq); err != nil {
				return res, fmt.Errorf("fetch: %s %s: prepare: %w", req.Method, req.URL.Path, err)
			}
		}

		resp, err := c.httpClient.Do(attemptReq)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return res, fmt.Errorf("fetch: %s %s: %w", req.Method, req.URL.Path, ctx.Err())
			}
			if last {
				return res, fmt.Errorf("fetch: %s %s after %d attempts: %w", req.Method, req.URL.Path, res.Attempts, err)
			}
			c.logger.DebugContext(ctx, "fetch: transport error, retrying",
				slog.String("path", req.URL.Path),
				slog.Int("attempt", res.Attempts),
				slog.String("error", err.Error()),
			)
		case !Retryable(resp.StatusCode):
			res.Response = resp
			return res, nil
		case last:
			res.Response = resp
			res.Exhausted = true
			return res, nil
		default:
			c.logger.DebugContext(ctx, "fetch: retryable status",
				slog.String("path", req.URL.Path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", res.Attempts),
			)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		delay := c.policy.Backoff(attempt) + c.jitter(c.policy.Jitter)
		if err := c.sleep(ctx, delay); err != nil {
			return res, fmt.Errorf("fetch: %s %s: %w", req.Method, req.URL.Path, err)
		}
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
