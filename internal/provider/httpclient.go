package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client is the outbound HTTP client shared by the adapters. It
// enforces the per-vendor timeout, paces requests with a client-side
// rate limiter and bounds in-flight concurrency.
type Client struct {
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	sem     chan struct{}
}

// NewClient builds a client from the vendor config.
func NewClient(cfg VendorConfig) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Response is the raw result of a vendor call.
type Response struct {
	Status    int
	Body      []byte
	LatencyMS int
}

// Do executes one request. Any external fault comes back as a
// FailureKind; a zero kind means the HTTP exchange completed and the
// adapter should interpret the status code.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, FailureKind) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, FailureTimeout
	}
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, FailureTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, FailureTransport
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, FailureTimeout
		}
		return nil, FailureTransport
	}
	defer resp.Body.Close()

	// 1 MiB cap; vendor decisions are small JSON documents.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, FailureTransport
	}

	return &Response{
		Status:    resp.StatusCode,
		Body:      raw,
		LatencyMS: int(time.Since(start).Milliseconds()),
	}, ""
}

// ClassifyStatus maps a completed exchange's status code to a failure
// kind, or "" for 2xx.
func ClassifyStatus(status int) FailureKind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureUnauthorized
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status >= 400 && status < 500:
		return FailureBadRequest
	default:
		return FailureTransport
	}
}
