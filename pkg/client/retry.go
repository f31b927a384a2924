package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	langfuseRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "langfuse_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	langfuseRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "langfuse_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{1, 2, 4, 5, 8, 15, 30, 60},
	}, []string{"error_class"})

	langfuseRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "langfuse_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Decision is the outcome of classifying a failed attempt.
type Decision int

const (
	// DecisionFatal stops retrying and returns the error.
	DecisionFatal Decision = iota
	// DecisionRetry sleeps and tries again.
	DecisionRetry
)

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BaseBackoff is the wait after the first failed attempt; it doubles per attempt.
	BaseBackoff time.Duration

	// DefaultRetryAfter is used for a 429 whose Retry-After header cannot be used.
	DefaultRetryAfter time.Duration
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		BaseBackoff:       1 * time.Second,
		DefaultRetryAfter: 5 * time.Second,
	}
}

// Classify decides whether a failed attempt is retried.
func (p RetryPolicy) Classify(err error) Decision {
	var transient *TransientRequestError
	if errors.As(err, &transient) && shouldRetry(transient.ErrorClass) {
		return DecisionRetry
	}
	return DecisionFatal
}

// Wait computes how long to sleep after the given failed attempt (1-based).
// A 429 carrying Retry-After waits that many seconds, rounded up; any other
// failure waits BaseBackoff * 2^(attempt-1).
func (p RetryPolicy) Wait(attempt int, err error) time.Duration {
	var transient *TransientRequestError
	if errors.As(err, &transient) &&
		transient.StatusCode == http.StatusTooManyRequests &&
		transient.RetryAfter != "" {
		if wait, ok := parseRetryAfter(transient.RetryAfter); ok {
			return wait
		}
		return p.DefaultRetryAfter
	}
	return p.backoff(attempt)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseBackoff) * math.Pow(2, float64(attempt-1)))
}

// parseRetryAfter reads a Retry-After value in seconds (integer or float).
// Non-positive values are treated as unusable.
func parseRetryAfter(value string) (time.Duration, bool) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, false
	}
	return time.Duration(math.Ceil(seconds)) * time.Second, true
}

// RetryState describes the attempt in progress. It lives for one Fetch call.
type RetryState struct {
	Attempt int
	Err     error
	Wait    time.Duration
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff executes fn until it succeeds, fails fatally, or the policy's
// attempts are spent. Sleeps are local to the calling goroutine.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, sleep sleepFunc, logger zerolog.Logger, fn func() error) error {
	var state RetryState

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		state.Attempt = attempt

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		state.Err = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
		}

		if policy.Classify(err) == DecisionFatal {
			return err
		}

		if attempt >= policy.MaxAttempts {
			break
		}

		state.Wait = policy.Wait(attempt, err)
		errorClass := string(errorClassOf(err))
		langfuseRetriesTotal.WithLabelValues(errorClass).Inc()
		langfuseRetryBackoffSeconds.WithLabelValues(errorClass).Observe(state.Wait.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", errorClass).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Dur("wait", state.Wait).
			Msgf("Request failed. Attempt %d/%d. Waiting %s before retry", attempt, policy.MaxAttempts, state.Wait)

		if err := sleep(ctx, state.Wait); err != nil {
			logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	errorClass := string(errorClassOf(state.Err))
	langfuseRetryExhaustedTotal.WithLabelValues(errorClass).Inc()
	logger.Warn().
		Str("error_class", errorClass).
		Int("max_attempts", policy.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, policy.MaxAttempts, state.Err)
}
