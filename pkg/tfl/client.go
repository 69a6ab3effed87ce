// Package tfl fetches line status, station disruption and station detail data
// from the TfL unified API.
package tfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nicktill/tubestatus/pkg/document"
)

// Defaults for the feed client.
const (
	DefaultBaseURL       = "https://api.tfl.gov.uk"
	DefaultTimeout       = 10 * time.Second
	DefaultRetryInterval = 500 * time.Millisecond

	// maxBodyBytes caps a single response; the stop point list is the largest.
	maxBodyBytes = 64 << 20
)

// DefaultLineModes are the modes whose line statuses are tracked.
var DefaultLineModes = []string{"tube", "dlr", "overground", "elizabeth-line"}

// Config configures the feed client.
type Config struct {
	BaseURL       string
	APIKey        string
	LineModes     []string
	StationModes  []string
	Timeout       time.Duration
	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retrying.
	MaxRetries    uint64
	RetryInterval time.Duration
}

// FetchError reports a failed request to the feed.
type FetchError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

var errUnexpectedStatus = errors.New("unexpected response status")

// Client is an HTTP client for the feed endpoints.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a feed client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.LineModes) == 0 {
		cfg.LineModes = DefaultLineModes
	}
	if len(cfg.StationModes) == 0 {
		cfg.StationModes = cfg.LineModes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// endpoint builds the URL for path, adding app_key when configured.
func (c *Client) endpoint(path string) string {
	u := c.cfg.BaseURL + path
	if c.cfg.APIKey != "" {
		u += "?" + url.Values{"app_key": {c.cfg.APIKey}}.Encode()
	}
	return u
}

// getDocument fetches path and decodes the body as a Document. Transport
// errors and 5xx responses are retried with exponential backoff.
func (c *Client) getDocument(ctx context.Context, path string) (document.Document, error) {
	var doc document.Document
	var lastStatus int

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastStatus = 0
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		lastStatus = resp.StatusCode
		if resp.StatusCode >= 500 {
			return errUnexpectedStatus
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(errUnexpectedStatus)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}

		parsed, err := document.Parse(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		doc = parsed
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return document.Document{}, &FetchError{Endpoint: path, StatusCode: lastStatus, Err: err}
	}
	return doc, nil
}

func joinModes(modes []string) string {
	return strings.Join(modes, ",")
}
