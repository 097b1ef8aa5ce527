// Package nvd collects recent vulnerabilities from the NVD CVE API 2.0 and
// reads and writes the JSON dataset that ingestion consumes.
package nvd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vulnsight/cverag/pkg/fn"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public CVE API 2.0 endpoint.
const DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// DefaultPageSize is the largest page the API serves.
const DefaultPageSize = 2000

const timeLayout = "2006-01-02T15:04:05.000Z"

// ErrStatus is returned for non-200 responses.
var ErrStatus = errors.New("nvd: unexpected status")

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("%s %d", ErrStatus, e.code) }
func (e *statusError) Unwrap() error { return ErrStatus }

// retryable treats throttling (NVD answers 403 or 429) and server errors as
// transient. Any other status will not change on a second attempt.
func retryable(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return true
	}
	return se.code == http.StatusForbidden || se.code == http.StatusTooManyRequests || se.code >= 500
}

// Client pages through the CVE API. Requests are spaced by a rate limiter and
// failed pages are retried.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      fn.RetryOpts
	logger     *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }
func WithLimiter(l *rate.Limiter) Option { return func(c *Client) { c.limiter = l } }
func WithRetry(r fn.RetryOpts) Option { return func(c *Client) { c.retry = r } }
func WithPageSize(n int) Option { return func(c *Client) { c.pageSize = n } }
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient creates a client. apiKey may be empty; NVD then applies its
// stricter anonymous quota.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		pageSize:   DefaultPageSize,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(6*time.Second), 1),
		retry:      fn.DefaultRetry,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns every vulnerability published in [start, end].
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]Entry, error) {
	retry := c.retry
	if retry.Retryable == nil {
		retry.Retryable = retryable
	}

	var out []Entry
	index := 0
	for {
		c.logger.Info("nvd: requesting page", "start_index", index)
		page, err := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[cveResponse] {
			r := c.fetchPage(ctx, start, end, index)
			if _, err := r.Unwrap(); err != nil {
				c.logger.Warn("nvd: page failed", "start_index", index, "err", err)
			}
			return r
		}).Unwrap()
		if err != nil {
			return nil, fmt.Errorf("nvd: fetch page at %d: %w", index, err)
		}
		if len(page.Vulnerabilities) == 0 {
			break
		}
		for _, v := range page.Vulnerabilities {
			if v.CVE.ID == "" {
				continue
			}
			out = append(out, v.CVE.toEntry())
		}

		next := index + c.pageSize
		if next >= page.TotalResults {
			break
		}
		index = next
	}
	c.logger.Info("nvd: fetch done", "entries", len(out))
	return out, nil
}

// FetchRecent returns vulnerabilities published in the last days days.
func (c *Client) FetchRecent(ctx context.Context, days int) ([]Entry, error) {
	end := time.Now().UTC()
	return c.Fetch(ctx, end.AddDate(0, 0, -days), end)
}

func (c *Client) fetchPage(ctx context.Context, start, end time.Time, index int) fn.Result[cveResponse] {
	if err := c.limiter.Wait(ctx); err != nil {
		return fn.Err[cveResponse](err)
	}

	params := url.Values{
		"pubStartDate":   {start.UTC().Format(timeLayout)},
		"pubEndDate":     {end.UTC().Format(timeLayout)},
		"startIndex":     {strconv.Itoa(index)},
		"resultsPerPage": {strconv.Itoa(c.pageSize)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fn.Err[cveResponse](err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fn.Err[cveResponse](err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fn.Err[cveResponse](&statusError{code: resp.StatusCode})
	}

	var page cveResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return fn.Err[cveResponse](fmt.Errorf("nvd: decode page: %w", err))
	}
	return fn.Ok(page)
}
