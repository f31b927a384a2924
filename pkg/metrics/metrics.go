// Package metrics exposes the Prometheus metrics of the Langfuse ETL.
// All metrics are defined in their respective packages (client, pagination,
// sink, ledger, pipeline) to maintain modularity and avoid circular dependencies.
//
// This package documents the catalogue and serves it over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - langfuse_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - langfuse_request_duration_seconds{endpoint} (Histogram): Attempt duration by endpoint
//   - langfuse_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - langfuse_retries_total{error_class} (Counter): Retry attempts by error class
//   - langfuse_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - langfuse_retry_exhausted_total{error_class} (Counter): Requests that used all attempts
//
// Pagination Metrics (pkg/pagination):
//   - langfuse_pages_fetched_total{entity} (Counter): Non-empty pages fetched
//   - langfuse_records_fetched_total{entity} (Counter): Records fetched
//   - langfuse_gather_traces_total{outcome} (Counter): Per-trace observation queries (ok, failed, cancelled)
//
// Sink Metrics (pkg/sink):
//   - langfuse_rows_upserted_total{table} (Counter): Rows written per table
//
// Pipeline Metrics (pkg/pipeline):
//   - langfuse_pipeline_runs_total{project, entity, outcome} (Counter): Entity loads by outcome
//   - langfuse_pipeline_run_duration_seconds{entity} (Histogram): Load plus export duration
//
// Ledger Metrics (pkg/ledger):
//   - langfuse_ledger_writes_total{status} (Counter): Run records written by status
//   - langfuse_ledger_errors_total{operation} (Counter): Ledger operation errors
//
// Example Prometheus Queries:
//
//   # Rate-limited share of requests
//   sum(rate(langfuse_requests_total{status="429"}[5m])) / sum(rate(langfuse_requests_total[5m]))
//
//   # Failed runs
//   increase(langfuse_ledger_writes_total{status="failed"}[1d])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(langfuse_request_duration_seconds_bucket[5m]))
