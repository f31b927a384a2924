package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/langfuse-etl/pkg/client"
	"github.com/Sternrassler/langfuse-etl/pkg/window"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PageSize is the Langfuse maximum and is fixed for every query.
const PageSize = 100

// progressEveryPages controls the debug progress log of long queries.
const progressEveryPages = 10

// ErrUnknownEntity is returned for an entity type without a filter mapping.
var ErrUnknownEntity = errors.New("unknown entity type")

// EntityType is a Langfuse list resource.
type EntityType string

const (
	EntityTraces       EntityType = "traces"
	EntityScores       EntityType = "scores"
	EntityObservations EntityType = "observations"
)

// ParseEntity validates an entity name.
func ParseEntity(name string) (EntityType, error) {
	entity := EntityType(name)
	if _, _, err := entity.filterKeys(); err != nil {
		return "", err
	}
	return entity, nil
}

// filterKeys returns the query parameter pair that bounds the entity's time window.
func (e EntityType) filterKeys() (from, to string, err error) {
	switch e {
	case EntityTraces, EntityScores:
		return "fromTimestamp", "toTimestamp", nil
	case EntityObservations:
		return "fromStartTime", "toStartTime", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownEntity, string(e))
	}
}

// PageFetcher is the single-page fetch the paginator drives. *client.Client
// implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, path string, params url.Values) (*client.PageResponse, error)
}

// Paginator walks the pages of one query. It keeps no state between calls
// and is safe for concurrent use.
type Paginator struct {
	fetcher PageFetcher
	logger  zerolog.Logger
}

// NewPaginator creates a paginator over fetcher.
func NewPaginator(fetcher PageFetcher) *Paginator {
	return &Paginator{
		fetcher: fetcher,
		logger:  log.With().Str("component", "paginator").Logger(),
	}
}

// FetchAllPages requests pages 1, 2, ... of entity within win until a page
// returns no records, and returns the records of all non-empty pages in page
// order. extra is copied into every request and never modified. Any page error
// aborts the query; no partial result is returned.
func (p *Paginator) FetchAllPages(ctx context.Context, entity EntityType, win window.Window, extra url.Values) ([]json.RawMessage, error) {
	fromKey, toKey, err := entity.filterKeys()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	params := make(url.Values, len(extra)+4)
	for k, v := range extra {
		params[k] = append([]string(nil), v...)
	}
	params.Set(fromKey, win.From)
	params.Set(toKey, win.To)
	params.Set("limit", strconv.Itoa(PageSize))

	logger := p.logger.With().Str("entity", string(entity)).Logger()
	if traceID := extra.Get("traceId"); traceID != "" {
		logger = logger.With().Str("trace_id", traceID).Logger()
	}

	var records []json.RawMessage
	for page := 1; ; page++ {
		params.Set("page", strconv.Itoa(page))

		resp, err := p.fetcher.Fetch(ctx, string(entity), params)
		if err != nil {
			logger.Error().
				Err(err).
				Int("page", page).
				Int("records_so_far", len(records)).
				Msg("Page fetch failed")
			return nil, fmt.Errorf("fetch %s page %d: %w", entity, page, err)
		}

		if len(resp.Data) == 0 {
			logger.Info().
				Int("pages", page-1).
				Int("records", len(records)).
				Str("window", win.String()).
				Dur("duration", time.Since(start)).
				Msg("Fetch complete")
			if records == nil {
				records = []json.RawMessage{}
			}
			return records, nil
		}

		records = append(records, resp.Data...)
		pagesFetchedTotal.WithLabelValues(string(entity)).Inc()
		recordsFetchedTotal.WithLabelValues(string(entity)).Add(float64(len(resp.Data)))

		if page%progressEveryPages == 0 {
			logger.Debug().
				Int("page", page).
				Int("records", len(records)).
				Msg("Fetch progress")
		}
	}
}
