// Package tmdb is the extraction layer: authenticated HTTP against the movie
// catalog API, envelope decoding, and pagination metadata.
//
// Retry policy lives here at the attempt level (bounded exponential backoff
// for transport errors and 5xx/429); the orchestrator decides what a page
// failure means for the run. Credential failures are never retried.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"movietl/internal/config"
	"movietl/internal/metrics"
)

// ErrUnauthorized marks credential failures (401/403). Retrying cannot help;
// the orchestrator aborts the run on this error.
var ErrUnauthorized = errors.New("api rejected credentials")

// ExtractionError reports a failed extraction with enough context to be
// actionable from logs alone. Page is 0 for the taxonomy endpoint.
type ExtractionError struct {
	Endpoint string
	Page     int
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("extract %s page %d: %v", e.Endpoint, e.Page, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Endpoint, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Client issues authenticated requests against the catalog API.
//
// Construct with New; the zero value is not usable. Safe for concurrent use:
// the orchestrator fetches multiple pages at once through one Client.
type Client struct {
	httpc *http.Client
	log   *zap.Logger

	baseURL      string
	token        string
	genrePath    string
	discoverPath string
	sortBy       string
	job          string

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	// sleep is a seam so tests can skip real backoff waits. It returns false
	// when the context was cancelled during the wait.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New builds a Client from the API and runtime sections of the config.
func New(api config.API, rt config.Runtime, job string, log *zap.Logger) *Client {
	transport := &http.Transport{
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
	}
	return &Client{
		httpc: &http.Client{
			Timeout:   api.RequestTimeout.Std(),
			Transport: transport,
		},
		log: log,

		baseURL:      strings.TrimRight(api.BaseURL, "/"),
		token:        api.AccessToken,
		genrePath:    api.GenrePath,
		discoverPath: api.DiscoverPath,
		sortBy:       api.SortBy,
		job:          job,

		maxAttempts: rt.MaxAttempts,
		baseBackoff: rt.BaseBackoff.Std(),
		maxBackoff:  rt.MaxBackoff.Std(),

		sleep: sleepContext,
	}
}

// FetchGenres retrieves the full genre taxonomy.
//
// A non-success, non-credential status yields an empty slice and nil error:
// the taxonomy may legitimately be unavailable and the run proceeds.
func (c *Client) FetchGenres(ctx context.Context) ([]RawGenre, error) {
	env, ok, err := c.get(ctx, c.genrePath, nil, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var genres []RawGenre
	if err := decodeField(env, "genres", &genres); err != nil {
		return nil, &ExtractionError{Endpoint: c.genrePath, Err: err}
	}
	return genres, nil
}

// FetchMoviePage retrieves one page of the movie listing plus the total page
// count reported by the API (defaulting to 1 when the field is absent).
//
// A non-success, non-credential status yields (nil, 0, nil), matching the
// "empty result" contract; the caller decides whether that ends the run.
func (c *Client) FetchMoviePage(ctx context.Context, page int) ([]RawMovie, int, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("sort_by", c.sortBy)

	env, ok, err := c.get(ctx, c.discoverPath, q, page)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, nil
	}

	var results []RawMovie
	if err := decodeField(env, "results", &results); err != nil {
		return nil, 0, &ExtractionError{Endpoint: c.discoverPath, Page: page, Err: err}
	}

	totalPages := 1
	var tp int
	if err := decodeField(env, "total_pages", &tp); err == nil && tp > 0 {
		totalPages = tp
	}

	c.log.Debug("page fetched",
		zap.Int("page", page),
		zap.Int("results", len(results)),
		zap.Int("total_pages", totalPages))
	return results, totalPages, nil
}

// get performs one GET with bounded retries and decodes the JSON envelope.
//
// Returns ok=false (and nil error) for non-success statuses that are neither
// credential failures nor retryable, mirroring the extraction contract: the
// status is logged and the result is empty.
func (c *Client) get(ctx context.Context, path string, query url.Values, page int) (map[string]json.RawMessage, bool, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		env, ok, retryable, err := c.attempt(ctx, endpoint, page)
		if err == nil && !retryable {
			return env, ok, nil
		}
		if err != nil && !retryable {
			return nil, false, &ExtractionError{Endpoint: path, Page: page, Err: err}
		}

		lastErr = err
		if lastErr == nil {
			lastErr = errors.New("retryable status")
		}
		if attempt == c.maxAttempts {
			break
		}

		wait := nextRetryDelay(attempt, c.baseBackoff, c.maxBackoff)
		c.log.Debug("retrying request",
			zap.String("endpoint", path),
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(lastErr))
		if !c.sleep(ctx, wait) {
			return nil, false, &ExtractionError{Endpoint: path, Page: page, Err: ctx.Err()}
		}
	}

	return nil, false, &ExtractionError{
		Endpoint: path,
		Page:     page,
		Err:      fmt.Errorf("giving up after %d attempts: %w", c.maxAttempts, lastErr),
	}
}

// attempt performs a single request. retryable reports whether the caller
// should try again (transport error, 5xx, 429).
func (c *Client) attempt(ctx context.Context, endpoint string, page int) (env map[string]json.RawMessage, ok bool, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("accept", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.RecordHTTP(c.job, 0, err, time.Since(start))
		if ctx.Err() != nil {
			return nil, false, false, ctx.Err()
		}
		return nil, false, true, err
	}
	defer resp.Body.Close()

	metrics.RecordHTTP(c.job, resp.StatusCode, nil, time.Since(start))
	c.log.Debug("api response",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode))

	switch {
	case statusSuccess(resp.StatusCode):
		env := map[string]json.RawMessage{}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, false, false, fmt.Errorf("decode response: %w", err)
		}
		return env, true, false, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		drain(resp.Body)
		return nil, false, false, fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnauthorized)

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		drain(resp.Body)
		return nil, false, true, nil

	default:
		// Any other non-success status is an empty result, not an error.
		drain(resp.Body)
		c.log.Warn("non-success status, treating as empty result",
			zap.String("endpoint", endpoint),
			zap.Int("page", page),
			zap.Int("status", resp.StatusCode))
		return nil, false, false, nil
	}
}

// statusSuccess implements the "first two digits are 20" success rule, so
// 200..209 count and everything else does not.
func statusSuccess(code int) bool { return code/10 == 20 }

// decodeField unmarshals one named envelope field into out. A missing or
// null field leaves out untouched.
func decodeField(env map[string]json.RawMessage, name string, out any) error {
	raw, found := env[name]
	if !found || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	return nil
}

// drain discards a response body so the connection can be reused.
func drain(r io.Reader) { _, _ = io.Copy(io.Discard, r) }

// nextRetryDelay is base * 2^(attempt-1), clamped to max.
func nextRetryDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
