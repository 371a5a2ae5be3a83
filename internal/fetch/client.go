// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package fetch is the download transport behind plugin fetch hooks.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Defaults for the HTTP client.
const (
	DefaultRetries   = 3
	DefaultBackoff   = 500 * time.Millisecond
	DefaultUserAgent = "cyrene"
	// MaxBodySize bounds in-memory responses returned by Get.
	MaxBodySize = 16 << 20
)

// Client downloads over HTTP, retrying transient failures with exponential backoff.
type Client struct {
	http      *http.Client
	retries   uint64
	backoff   time.Duration
	userAgent string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

// WithBackoff sets the base delay of the exponential backoff.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 10 * time.Minute},
		retries:   DefaultRetries,
		backoff:   DefaultBackoff,
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download streams url into the file dest and returns the bytes written.
// The body goes to a temp file beside dest that is renamed into place, so
// dest either holds a complete download or does not exist.
func (c *Client) Download(ctx context.Context, url, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // cache dirs are shared with the user
		return 0, oops.In("fetch").With("url", url).Wrapf(err, "prepare download dir")
	}

	var written int64
	err := c.do(ctx, url, func(body io.Reader) error {
		tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		committed := false
		defer func() {
			if !committed {
				_ = os.Remove(tmpName)
			}
		}()

		n, err := io.Copy(tmp, body)
		if err != nil {
			tmp.Close()
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmpName, dest); err != nil {
			return fmt.Errorf("commit download: %w", err)
		}
		committed = true
		written = n
		return nil
	})
	if err != nil {
		return 0, oops.In("fetch").With("url", url).With("dest", dest).Wrapf(err, "download %s", url)
	}
	return written, nil
}

// Get returns the body of url. Bodies above MaxBodySize are rejected.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := c.do(ctx, url, func(body io.Reader) error {
		b, err := io.ReadAll(io.LimitReader(body, MaxBodySize+1))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}
		if len(b) > MaxBodySize {
			return fmt.Errorf("response larger than %d bytes", MaxBodySize)
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, oops.In("fetch").With("url", url).Wrapf(err, "get %s", url)
	}
	return data, nil
}

// do performs a GET with retries and hands a 2xx body to consume.
func (c *Client) do(ctx context.Context, url string, consume func(io.Reader) error) error {
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("request failed, retrying", "url", url, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if Retryable(resp.StatusCode) {
			c.logger.Debug("transient status, retrying", "url", url, "attempt", attempt, "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("unexpected status %s", resp.Status))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		return consume(resp.Body)
	})
}

// Retryable reports whether an HTTP status is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
