package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/langfuse-etl/pkg/window"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds gatherer configuration.
type Config struct {
	// Workers is the number of trace queries in flight at once.
	Workers int
	// ProgressEvery logs progress after this many completed traces.
	ProgressEvery int
}

// DefaultConfig returns the default gatherer configuration.
func DefaultConfig() Config {
	return Config{
		Workers:       8,
		ProgressEvery: 100,
	}
}

// BatchAbortError is returned when one trace query of a batch fails. The whole
// batch is abandoned.
type BatchAbortError struct {
	TraceID string
	Err     error
}

// Error implements the error interface.
func (e *BatchAbortError) Error() string {
	return fmt.Sprintf("observation batch aborted at trace %s: %v", e.TraceID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BatchAbortError) Unwrap() error {
	return e.Err
}

// Gatherer fetches observations for many traces in parallel.
type Gatherer struct {
	paginator *Paginator
	config    Config
	logger    zerolog.Logger
}

// NewGatherer creates a gatherer driving paginator.
func NewGatherer(paginator *Paginator, config Config) *Gatherer {
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 100
	}

	return &Gatherer{
		paginator: paginator,
		config:    config,
		logger:    log.With().Str("component", "observation-gatherer").Logger(),
	}
}

// FetchObservations runs one observations query per trace id within win and
// merges the results in completion order. Records of one trace keep their page
// order. The first failing trace cancels the remaining queries and is returned
// as a *BatchAbortError; no partial result is returned.
func (g *Gatherer) FetchObservations(ctx context.Context, traceIDs []string, win window.Window) ([]json.RawMessage, error) {
	if len(traceIDs) == 0 {
		return []json.RawMessage{}, nil
	}

	start := time.Now()
	g.logger.Info().
		Int("traces", len(traceIDs)).
		Int("workers", g.config.Workers).
		Str("window", win.String()).
		Msg("Starting observation fan-out")

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.config.Workers)

	var (
		mu        sync.Mutex
		results   = []json.RawMessage{}
		completed int
	)

	for _, traceID := range traceIDs {
		traceID := traceID
		if groupCtx.Err() != nil {
			break
		}

		group.Go(func() error {
			params := url.Values{}
			params.Set("traceId", traceID)

			records, err := g.paginator.FetchAllPages(groupCtx, EntityObservations, win, params)
			if err != nil {
				if groupCtx.Err() != nil && errors.Is(err, context.Canceled) {
					gatherTracesTotal.WithLabelValues("cancelled").Inc()
					return err
				}
				gatherTracesTotal.WithLabelValues("failed").Inc()
				g.logger.Error().
					Err(err).
					Str("trace_id", traceID).
					Msg("Error fetching observations for trace")
				return &BatchAbortError{TraceID: traceID, Err: err}
			}
			gatherTracesTotal.WithLabelValues("ok").Inc()

			mu.Lock()
			results = append(results, records...)
			completed++
			done := completed
			mu.Unlock()

			if done%g.config.ProgressEvery == 0 {
				g.logger.Info().
					Int("completed", done).
					Int("total", len(traceIDs)).
					Float64("progress_pct", float64(done)/float64(len(traceIDs))*100).
					Msg("Observation fan-out progress")
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		var abort *BatchAbortError
		if !errors.As(err, &abort) {
			// The parent context was cancelled before any trace failed.
			return nil, fmt.Errorf("observation fan-out cancelled: %w", err)
		}
		return nil, err
	}

	g.logger.Info().
		Int("traces", len(traceIDs)).
		Int("observations", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Observation fan-out complete")

	return results, nil
}
