package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/langfuse-etl/pkg/client"
	"github.com/Sternrassler/langfuse-etl/pkg/config"
	"github.com/Sternrassler/langfuse-etl/pkg/ledger"
	"github.com/Sternrassler/langfuse-etl/pkg/logging"
	"github.com/Sternrassler/langfuse-etl/pkg/metrics"
	"github.com/Sternrassler/langfuse-etl/pkg/pagination"
	"github.com/Sternrassler/langfuse-etl/pkg/pipeline"
	"github.com/Sternrassler/langfuse-etl/pkg/sink"
	"github.com/Sternrassler/langfuse-etl/pkg/window"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const (
	flagConfig      = "config"
	flagLogLevel    = "log-level"
	flagMetricsAddr = "metrics-addr"
	flagDotenv      = "dotenv"
	flagProject     = "project"
	flagAsOf        = "as-of"
	flagDaysBack    = "days-back"
	flagEntity      = "entity"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("langfuse-etl failed")
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "langfuse-etl",
		Usage: "load Langfuse traces, scores and observations into the warehouse",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "path of the YAML config; built-in defaults when empty",
				EnvVars: []string{"LANGFUSE_ETL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "log level (debug, info, warn, error); overrides the config",
			},
			&cli.StringFlag{
				Name:  flagMetricsAddr,
				Usage: "serve /metrics on this address while running, e.g. :9090",
			},
			&cli.StringFlag{
				Name:  flagDotenv,
				Value: ".env",
				Usage: "dotenv file with credentials, skipped when missing",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "load the configured entities of a project",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagProject, Aliases: []string{"p"}, Required: true, Usage: "project to load"},
					&cli.StringFlag{Name: flagAsOf, Usage: "execution date (YYYY-MM-DD or RFC 3339), default today"},
					&cli.IntFlag{Name: flagDaysBack, Usage: "window length in days; overrides the project config"},
					&cli.StringSliceFlag{Name: flagEntity, Aliases: []string{"e"}, Usage: "entities to load; overrides the project config"},
				},
				Action: runAction,
			},
			{
				Name:  "status",
				Usage: "show the ledger record of the last run of an entity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagProject, Aliases: []string{"p"}, Required: true, Usage: "project"},
					&cli.StringFlag{Name: flagEntity, Aliases: []string{"e"}, Required: true, Usage: "entity"},
					&cli.StringFlag{Name: flagAsOf, Usage: "execution date of the run, default today"},
					&cli.IntFlag{Name: flagDaysBack, Usage: "window length in days; overrides the project config"},
				},
				Action: statusAction,
			},
			{
				Name:   "projects",
				Usage:  "list the configured projects",
				Action: projectsAction,
			},
		},
	}
}

// loadConfig reads the config and sets up logging.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig), os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if lvl := c.String(flagLogLevel); lvl != "" {
		if !logging.IsValidLevel(lvl) {
			return nil, fmt.Errorf("invalid log level %q", lvl)
		}
		cfg.Log.Level = lvl
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: c.App.ErrWriter,
	})
	return cfg, nil
}

// deps holds the resources behind one pipeline.
type deps struct {
	pipeline *pipeline.Pipeline
	closers  []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
}

// projectOptions returns the pipeline options of the --project flag.
func projectOptions(c *cli.Context, cfg *config.Config) (config.ProjectConfig, pipeline.Options, error) {
	name := c.String(flagProject)
	project, err := cfg.Project(name)
	if err != nil {
		return project, pipeline.Options{}, err
	}

	opts := pipeline.Options{
		Project:  name,
		DaysBack: project.DaysBack,
		Entities: project.Entities,
		Tables:   project.Tables,
		Schema:   cfg.WarehouseFor(project).Schema,
		Gather:   pagination.Config{Workers: cfg.Langfuse.Workers},
	}
	if c.IsSet(flagDaysBack) {
		opts.DaysBack = c.Int(flagDaysBack)
	}
	return project, opts, nil
}

// openLedger connects the run ledger. Without a Redis address, or when Redis
// does not answer, runs are not recorded.
func openLedger(ctx context.Context, cfg *config.Config) (pipeline.Ledger, func() error) {
	if cfg.Redis.Addr == "" {
		return ledger.Nop{}, func() error { return nil }
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	if err := rc.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, run ledger disabled")
		return ledger.Nop{}, rc.Close
	}
	return ledger.NewStore(rc, cfg.Redis.LedgerTTL), rc.Close
}

func buildPipeline(c *cli.Context, cfg *config.Config) (*deps, error) {
	project, opts, err := projectOptions(c, cfg)
	if err != nil {
		return nil, err
	}
	if c.IsSet(flagEntity) {
		opts.Entities = c.StringSlice(flagEntity)
	}

	secrets, err := config.NewEnvSecretSource(c.String(flagDotenv))
	if err != nil {
		return nil, err
	}
	profile := cfg.Profile(project)
	raw, err := secrets.Secret(c.Context, profile.SecretName)
	if err != nil {
		return nil, fmt.Errorf("credentials of %s (%s): %w", opts.Project, cfg.Env, err)
	}
	creds, err := client.ParseCredentials(raw)
	if err != nil {
		return nil, fmt.Errorf("credentials %s: %w", profile.SecretName, err)
	}

	clientCfg := client.DefaultConfig(creds)
	clientCfg.BaseURL = cfg.Langfuse.BaseURL
	clientCfg.Timeout = cfg.Langfuse.Timeout
	clientCfg.Retry.MaxAttempts = cfg.Langfuse.MaxAttempts
	langfuse, err := client.New(clientCfg)
	if err != nil {
		return nil, err
	}

	d := &deps{}
	wh := cfg.WarehouseFor(project)
	warehouse, err := sink.Open(wh.Driver, wh.DSN)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, warehouse.Close)

	runLedger, closeLedger := openLedger(c.Context, cfg)
	d.closers = append(d.closers, closeLedger)

	p, err := pipeline.New(langfuse, warehouse, runLedger, opts)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.pipeline = p
	return d, nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	asOf, err := window.ParseAsOf(c.String(flagAsOf))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if addr := c.String(flagMetricsAddr); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	d, err := buildPipeline(c, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	log.Info().
		Str("project", c.String(flagProject)).
		Str("env", cfg.Env).
		Msg("Starting Langfuse load")

	result, err := d.pipeline.Run(ctx, asOf)
	if err != nil {
		return err
	}

	for _, er := range result.Entities {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d rows\t%s\n", er.Entity, er.Table, er.Rows, er.Duration.Round(time.Millisecond))
	}
	return nil
}

func statusAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	asOf, err := window.ParseAsOf(c.String(flagAsOf))
	if err != nil {
		return err
	}

	_, opts, err := projectOptions(c, cfg)
	if err != nil {
		return err
	}
	entity := c.String(flagEntity)
	if _, err := pagination.ParseEntity(entity); err != nil {
		return err
	}

	runLedger, closeLedger := openLedger(c.Context, cfg)
	defer closeLedger()

	win := window.Resolve(opts.DaysBack, asOf)
	rec, err := runLedger.Get(c.Context, ledger.RunKey{Project: opts.Project, Entity: entity, From: win.From, To: win.To})
	if errors.Is(err, ledger.ErrNotFound) {
		fmt.Fprintln(c.App.Writer, "no run recorded")
		return nil
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func projectsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	for _, name := range cfg.ProjectNames() {
		p := cfg.Projects[name]
		fmt.Fprintf(c.App.Writer, "%s\tdaysBack=%d\tentities=%v\tsecret=%s\n",
			name, p.DaysBack, p.Entities, cfg.Profile(p).SecretName)
	}
	return nil
}
