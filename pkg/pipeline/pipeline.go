// Package pipeline runs the Langfuse load tasks of one project: it fetches
// every configured entity over the run window, flattens the records and
// upserts them into the warehouse.
//
// A run loads its entities strictly in order. Each entity is written only
// after its complete fetch succeeded; the first failure ends the run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/langfuse-etl/pkg/ledger"
	"github.com/Sternrassler/langfuse-etl/pkg/logging"
	"github.com/Sternrassler/langfuse-etl/pkg/pagination"
	"github.com/Sternrassler/langfuse-etl/pkg/records"
	"github.com/Sternrassler/langfuse-etl/pkg/window"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sink writes rows with conflict resolution on the key column.
// *sink.Sink implements it.
type Sink interface {
	Upsert(ctx context.Context, schema string, table records.Table, rows []records.Row) (int, error)
}

// Ledger records run outcomes. *ledger.Store and ledger.Nop implement it.
type Ledger interface {
	Record(ctx context.Context, rec *ledger.RunRecord) error
	Get(ctx context.Context, key ledger.RunKey) (*ledger.RunRecord, error)
}

// Options configures the pipeline of one project.
type Options struct {
	Project  string
	DaysBack int
	// Entities are loaded in this order; traces must precede observations.
	Entities []string
	// Tables overrides the table name per entity.
	Tables map[string]string
	Schema string
	Gather pagination.Config
}

// EntityResult summarizes the load of one entity.
type EntityResult struct {
	Entity   string
	Table    string
	Records  int
	Rows     int
	Duration time.Duration
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Window   window.Window
	Entities []EntityResult
}

// Pipeline loads Langfuse entities into the warehouse.
type Pipeline struct {
	paginator *pagination.Paginator
	gatherer  *pagination.Gatherer
	sink      Sink
	ledger    Ledger
	opts      Options
	logger    zerolog.Logger

	now      func() time.Time
	newRunID func() string
}

// New creates a pipeline. A nil ledger disables run records.
func New(fetcher pagination.PageFetcher, sink Sink, runLedger Ledger, opts Options) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if opts.Project == "" {
		return nil, errors.New("project is required")
	}
	if opts.DaysBack < 0 {
		return nil, fmt.Errorf("days back must not be negative, got %d", opts.DaysBack)
	}
	if err := validateEntities(opts.Entities); err != nil {
		return nil, err
	}
	if runLedger == nil {
		runLedger = ledger.Nop{}
	}

	paginator := pagination.NewPaginator(fetcher)
	return &Pipeline{
		paginator: paginator,
		gatherer:  pagination.NewGatherer(paginator, opts.Gather),
		sink:      sink,
		ledger:    runLedger,
		opts:      opts,
		logger:    logging.NewLogger("pipeline").With().Str("project", opts.Project).Logger(),
		now:       time.Now,
		newRunID:  uuid.NewString,
	}, nil
}

func validateEntities(entities []string) error {
	if len(entities) == 0 {
		return errors.New("at least one entity is required")
	}
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		if _, err := pagination.ParseEntity(e); err != nil {
			return err
		}
		if seen[e] {
			return fmt.Errorf("entity %q listed twice", e)
		}
		if e == string(pagination.EntityObservations) && !seen[string(pagination.EntityTraces)] && contains(entities, string(pagination.EntityTraces)) {
			return errors.New("traces must be loaded before observations")
		}
		seen[e] = true
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LoadTraces fetches all traces within win.
func (p *Pipeline) LoadTraces(ctx context.Context, win window.Window) ([]json.RawMessage, error) {
	return p.paginator.FetchAllPages(ctx, pagination.EntityTraces, win, nil)
}

// LoadScores fetches all scores within win.
func (p *Pipeline) LoadScores(ctx context.Context, win window.Window) ([]json.RawMessage, error) {
	return p.paginator.FetchAllPages(ctx, pagination.EntityScores, win, nil)
}

// LoadObservations fetches the observations of traceIDs within win. Without
// trace ids there is nothing to query and no request is made.
func (p *Pipeline) LoadObservations(ctx context.Context, traceIDs []string, win window.Window) ([]json.RawMessage, error) {
	if len(traceIDs) == 0 {
		p.logger.Warn().
			Str("window", win.String()).
			Msg("No traces in window, skipping observations")
		return []json.RawMessage{}, nil
	}
	return p.gatherer.FetchObservations(ctx, traceIDs, win)
}

// Export flattens raw records of entity and upserts them keyed by Id. It
// returns the number of rows written.
func (p *Pipeline) Export(ctx context.Context, entity string, raw []json.RawMessage) (int, error) {
	table, err := records.ForEntity(entity, p.opts.Tables[entity])
	if err != nil {
		return 0, err
	}

	rows, err := table.Flatten(raw)
	if err != nil {
		return 0, fmt.Errorf("flatten %s: %w", entity, err)
	}

	n, err := p.sink.Upsert(ctx, p.opts.Schema, table, rows)
	if err != nil {
		return 0, fmt.Errorf("export %s to %s: %w", entity, table.Name, err)
	}
	return n, nil
}

// Run loads every configured entity over the window ending on asOf. A zero
// asOf means today. The window is resolved once and shared by all entities.
//
// Observations use the trace ids of the same run. When traces are not among
// the configured entities they are fetched for their ids but not exported.
func (p *Pipeline) Run(ctx context.Context, asOf time.Time) (*Result, error) {
	win := window.Resolve(p.opts.DaysBack, asOf)
	result := &Result{RunID: p.newRunID(), Window: win}
	logger := logging.ForRun("pipeline", result.RunID, p.opts.Project)

	logger.Info().
		Strs("entities", p.opts.Entities).
		Str("window", win.String()).
		Msg("Starting run")

	var traceIDs []string
	for _, entity := range p.opts.Entities {
		er, ids, err := p.runEntity(ctx, logger, result.RunID, entity, win, traceIDs)
		if err != nil {
			logger.Error().
				Err(err).
				Str("entity", entity).
				Msg("Run failed")
			return result, fmt.Errorf("run %s: %s: %w", result.RunID, entity, err)
		}
		if ids != nil {
			traceIDs = ids
		}
		result.Entities = append(result.Entities, er)
	}

	logger.Info().
		Int("entities", len(result.Entities)).
		Msg("Run complete")
	return result, nil
}

// runEntity loads and exports one entity. For traces it also returns the
// loaded trace ids.
func (p *Pipeline) runEntity(ctx context.Context, logger zerolog.Logger, runID, entity string, win window.Window, traceIDs []string) (EntityResult, []string, error) {
	start := p.now()
	rec := &ledger.RunRecord{
		RunID:     runID,
		Project:   p.opts.Project,
		Entity:    entity,
		From:      win.From,
		To:        win.To,
		Status:    ledger.StatusRunning,
		StartedAt: start,
	}
	p.record(ctx, logger, rec)

	er := EntityResult{Entity: entity}
	raw, ids, err := p.load(ctx, entity, win, traceIDs)
	if err == nil {
		er.Records = len(raw)
		er.Rows, err = p.Export(ctx, entity, raw)
	}

	er.Duration = p.now().Sub(start)
	rec.Finish(p.now(), er.Rows, err)
	// The final record must be written even when ctx was cancelled.
	p.record(context.WithoutCancel(ctx), logger, rec)

	runDuration.WithLabelValues(entity).Observe(er.Duration.Seconds())
	if err != nil {
		runsTotal.WithLabelValues(p.opts.Project, entity, string(ledger.StatusFailed)).Inc()
		return er, nil, err
	}
	runsTotal.WithLabelValues(p.opts.Project, entity, string(ledger.StatusSucceeded)).Inc()

	if table, tErr := records.ForEntity(entity, p.opts.Tables[entity]); tErr == nil {
		er.Table = table.Name
	}
	logger.Info().
		Str("entity", entity).
		Str("table", er.Table).
		Int("records", er.Records).
		Int("rows", er.Rows).
		Dur("duration", er.Duration).
		Msg("Entity loaded")
	return er, ids, nil
}

func (p *Pipeline) load(ctx context.Context, entity string, win window.Window, traceIDs []string) ([]json.RawMessage, []string, error) {
	switch pagination.EntityType(entity) {
	case pagination.EntityTraces:
		raw, err := p.LoadTraces(ctx, win)
		if err != nil {
			return nil, nil, err
		}
		ids, err := records.IDs(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("trace ids: %w", err)
		}
		return raw, ids, nil

	case pagination.EntityScores:
		raw, err := p.LoadScores(ctx, win)
		return raw, nil, err

	case pagination.EntityObservations:
		if traceIDs == nil && !contains(p.opts.Entities, string(pagination.EntityTraces)) {
			traces, err := p.LoadTraces(ctx, win)
			if err != nil {
				return nil, nil, fmt.Errorf("load traces for observations: %w", err)
			}
			if traceIDs, err = records.IDs(traces); err != nil {
				return nil, nil, fmt.Errorf("trace ids: %w", err)
			}
		}
		raw, err := p.LoadObservations(ctx, traceIDs, win)
		return raw, nil, err

	default:
		return nil, nil, fmt.Errorf("%w: %q", pagination.ErrUnknownEntity, entity)
	}
}

// record writes rec to the ledger. Ledger failures never fail a run.
func (p *Pipeline) record(ctx context.Context, logger zerolog.Logger, rec *ledger.RunRecord) {
	if err := p.ledger.Record(ctx, rec); err != nil {
		logger.Warn().
			Err(err).
			Str("entity", rec.Entity).
			Str("status", string(rec.Status)).
			Msg("Failed to write run record")
	}
}

// LastRun returns the ledger record of entity for the window ending on asOf.
func (p *Pipeline) LastRun(ctx context.Context, entity string, asOf time.Time) (*ledger.RunRecord, error) {
	if _, err := pagination.ParseEntity(entity); err != nil {
		return nil, err
	}
	win := window.Resolve(p.opts.DaysBack, asOf)
	return p.ledger.Get(ctx, ledger.RunKey{
		Project: p.opts.Project,
		Entity:  entity,
		From:    win.From,
		To:      win.To,
	})
}
