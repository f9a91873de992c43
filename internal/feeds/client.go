package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
)

const maxBodyBytes = 32 << 20

// httpClient is the rate-limited transport shared by the HTTP adapters. It maps
// transport and status failures onto the feed error taxonomy.
type httpClient struct {
	source    string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	headers   map[string]string
}

func newHTTPClient(source string, opts Options, headers map[string]string) *httpClient {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpClient{
		source:    source,
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		userAgent: opts.UserAgent,
		headers:   headers,
	}
}

// get performs a GET and returns the body of a 2xx response
func (c *httpClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.SourceUnavailable(c.source, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.SourceUnavailable(c.source, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.RateLimited(c.source, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.SourceUnavailable(c.source, fmt.Errorf("authentication rejected: status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.SourceUnavailable(c.source, fmt.Errorf("status %d: %s", resp.StatusCode, string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.SourceUnavailable(c.source, fmt.Errorf("failed to read response: %w", err))
	}
	return body, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date; zero means no hint
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
