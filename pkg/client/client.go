// Package client provides the Langfuse public API client: a single
// authenticated GET with bounded retries that honours Retry-After hints.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Langfuse cloud public API.
const DefaultBaseURL = "https://cloud.langfuse.com/api/public"

// Prometheus metrics for Langfuse client operations.
var (
	langfuseRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "langfuse_requests_total",
		Help: "Total Langfuse API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	langfuseRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "langfuse_request_duration_seconds",
		Help:    "Langfuse API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	langfuseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "langfuse_errors_total",
		Help: "Total Langfuse API errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents 2xx responses that are not a page envelope.
	ErrorClassDecode ErrorClass = "decode"
)

// PageResponse is one decoded API page.
type PageResponse struct {
	StatusCode int
	// Data holds the records of the page's "data" array, undecoded.
	Data []json.RawMessage
	// RetryAfter is the raw Retry-After header, if the server sent one.
	RetryAfter string
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the public API, without trailing slash.
	BaseURL string

	// Credentials for Basic auth (REQUIRED).
	Credentials Credentials

	// Timeout applies to every attempt separately.
	Timeout time.Duration

	// Retry policy for transient failures.
	Retry RetryPolicy

	// UserAgent header.
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(creds Credentials) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Credentials: creds,
		Timeout:     10 * time.Second,
		Retry:       DefaultRetryPolicy(),
		UserAgent:   "langfuse-etl/0.1.0",
	}
}

// Client fetches single pages from the Langfuse API. It holds no mutable
// state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	config     Config
	authHeader string
	logger     zerolog.Logger
	sleep      sleepFunc
}

// New creates a new Langfuse client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.Credentials.IsZero() {
		return nil, fmt.Errorf("credentials are required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{},
		config:     cfg,
		authHeader: cfg.Credentials.AuthorizationHeader(),
		logger:     log.With().Str("component", "langfuse-client").Logger(),
		sleep:      sleepContext,
	}, nil
}

// Fetch performs a GET on path with the given query parameters. Transient
// failures are retried according to the retry policy; the returned error is
// either a *FatalRequestError, or wraps ErrRetryExhausted around the last
// *TransientRequestError, or wraps ErrContextCancelled.
func (c *Client) Fetch(ctx context.Context, path string, params url.Values) (*PageResponse, error) {
	endpoint := strings.Trim(path, "/")
	reqURL := c.config.BaseURL + "/" + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	logger := c.logger.With().Str("endpoint", endpoint).Logger()

	var page *PageResponse
	err := retryWithBackoff(ctx, c.config.Retry, c.sleep, logger, func() error {
		var attemptErr error
		page, attemptErr = c.attempt(ctx, endpoint, reqURL)
		return attemptErr
	})
	if err != nil {
		logger.Warn().
			Err(err).
			Str("params", params.Encode()).
			Msg("Request failed")
		return nil, err
	}

	return page, nil
}

// attempt issues one request bounded by the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, endpoint, reqURL string) (*PageResponse, error) {
	startTime := time.Now()
	defer func() {
		langfuseRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FatalRequestError{ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", reqURL).
		Msg("Executing Langfuse request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		langfuseErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		langfuseRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &TransientRequestError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	langfuseRequestsTotal.WithLabelValues(endpoint, status).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		langfuseErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &TransientRequestError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errClass := classifyStatus(resp.StatusCode)
		langfuseErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Langfuse request error")

		if shouldRetry(errClass) {
			return nil, &TransientRequestError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				RetryAfter: resp.Header.Get("Retry-After"),
				Message:    resp.Status,
			}
		}
		return nil, &FatalRequestError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
			Body:       truncateBody(body),
		}
	}

	data, err := decodePage(body)
	if err != nil {
		langfuseErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &FatalRequestError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode page",
			Body:       truncateBody(body),
			Err:        err,
		}
	}

	return &PageResponse{
		StatusCode: resp.StatusCode,
		Data:       data,
		RetryAfter: resp.Header.Get("Retry-After"),
	}, nil
}

// decodePage extracts the "data" array of a page envelope. A null array is an
// empty page; a missing one is an error.
func decodePage(body []byte) ([]json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	raw, ok := envelope["data"]
	if !ok {
		return nil, fmt.Errorf("response has no data field")
	}

	var data []json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return data, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
