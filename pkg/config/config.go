// Package config loads the ETL configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment profiles. Any ENV other than live selects integration.
const (
	EnvLive        = "live"
	EnvIntegration = "integration"
)

const defaultBaseURL = "https://cloud.langfuse.com/api/public"

// knownEntities lists the loadable entities in their required load order.
var knownEntities = []string{"traces", "scores", "observations"}

type (
	Config struct {
		// Env selects the profile of every project (live or integration).
		Env string `yaml:"env"`

		// Langfuse is the upstream API config.
		Langfuse LangfuseConfig `yaml:"langfuse"`

		// Warehouse is the default sink of all projects.
		Warehouse WarehouseConfig `yaml:"warehouse"`

		// Redis holds the run ledger connection. An empty address disables the ledger.
		Redis RedisConfig `yaml:"redis"`

		// Log is the logging config.
		Log LogConfig `yaml:"log"`

		// Projects maps a project name to its pipeline.
		Projects map[string]ProjectConfig `yaml:"projects"`
	}

	LangfuseConfig struct {
		BaseURL string `yaml:"baseURL"`
		// Timeout bounds each attempt.
		Timeout     time.Duration `yaml:"timeout"`
		MaxAttempts int           `yaml:"maxAttempts"`
		// Workers is the observation fan-out width.
		Workers int `yaml:"workers"`
	}

	WarehouseConfig struct {
		// Driver is postgres or sqlite3.
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
		Schema string `yaml:"schema"`
	}

	RedisConfig struct {
		Addr      string        `yaml:"addr"`
		DB        int           `yaml:"db"`
		LedgerTTL time.Duration `yaml:"ledgerTTL"`
	}

	LogConfig struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	}

	ProjectConfig struct {
		// DaysBack is the window length ending on the run date.
		DaysBack int `yaml:"daysBack"`
		// Entities are loaded in this order.
		Entities []string `yaml:"entities"`
		// Tables overrides the table name per entity.
		Tables map[string]string `yaml:"tables"`
		// Profiles holds per-environment settings, keyed by live / integration.
		Profiles map[string]ProfileConfig `yaml:"profiles"`
	}

	ProfileConfig struct {
		// SecretName names the "public:secret" credential in the secret source.
		SecretName string `yaml:"secretName"`
		// Warehouse overrides the global warehouse for this profile.
		Warehouse *WarehouseConfig `yaml:"warehouse"`
	}
)

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	if err := c.ValidateAndSetDefaults(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return c
}

// Load reads the YAML file at path, applies environment overrides from
// lookup and validates the result. An empty path uses the built-in defaults.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	c := &Config{}

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		d := yaml.NewDecoder(file)
		d.KnownFields(true)
		if err := d.Decode(c); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if lookup != nil {
		c.ApplyEnv(lookup)
	}

	if err := c.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("ENV"); ok {
		c.Env = v
	}
	if v, ok := lookup("LANGFUSE_BASE_URL"); ok && v != "" {
		c.Langfuse.BaseURL = v
	}
	if v, ok := lookup("WAREHOUSE_DRIVER"); ok && v != "" {
		c.Warehouse.Driver = v
	}
	if v, ok := lookup("WAREHOUSE_DSN"); ok && v != "" {
		c.Warehouse.DSN = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// ValidateAndSetDefaults fills unset fields and rejects invalid ones.
func (c *Config) ValidateAndSetDefaults() error {
	if c.Env != EnvLive {
		c.Env = EnvIntegration
	}

	if c.Langfuse.BaseURL == "" {
		c.Langfuse.BaseURL = defaultBaseURL
	}
	if c.Langfuse.Timeout == 0 {
		c.Langfuse.Timeout = 10 * time.Second
	}
	if c.Langfuse.MaxAttempts == 0 {
		c.Langfuse.MaxAttempts = 5
	}
	if c.Langfuse.Workers == 0 {
		c.Langfuse.Workers = 8
	}
	if c.Langfuse.Timeout < 0 || c.Langfuse.MaxAttempts < 0 || c.Langfuse.Workers < 0 {
		return fmt.Errorf("langfuse timeout, maxAttempts and workers must be positive")
	}

	if err := c.Warehouse.setDefaults(); err != nil {
		return err
	}

	if c.Redis.LedgerTTL == 0 {
		c.Redis.LedgerTTL = 30 * 24 * time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if len(c.Projects) == 0 {
		c.Projects = defaultProjects()
	}
	for name, p := range c.Projects {
		if err := p.validate(); err != nil {
			return fmt.Errorf("project %s: %w", name, err)
		}
		for env, profile := range p.Profiles {
			if profile.Warehouse != nil {
				if err := profile.Warehouse.setDefaults(); err != nil {
					return fmt.Errorf("project %s profile %s: %w", name, env, err)
				}
			}
		}
	}
	return nil
}

func (w *WarehouseConfig) setDefaults() error {
	if w.Driver == "" {
		w.Driver = "sqlite3"
	}
	switch w.Driver {
	case "postgres":
		if w.DSN == "" {
			return fmt.Errorf("warehouse dsn is required for postgres")
		}
		if w.Schema == "" {
			w.Schema = "public"
		}
	case "sqlite3":
		if w.DSN == "" {
			w.DSN = "file:langfuse.db"
		}
	default:
		return fmt.Errorf("unsupported warehouse driver %q", w.Driver)
	}
	return nil
}

func (p ProjectConfig) validate() error {
	if p.DaysBack < 0 {
		return fmt.Errorf("daysBack must not be negative")
	}
	if len(p.Entities) == 0 {
		return fmt.Errorf("no entities configured")
	}

	seen := map[string]bool{}
	for _, e := range p.Entities {
		if !isKnownEntity(e) {
			return fmt.Errorf("unknown entity %q", e)
		}
		if seen[e] {
			return fmt.Errorf("entity %q listed twice", e)
		}
		if e == "observations" && !seen["traces"] {
			return fmt.Errorf("observations need traces loaded before them")
		}
		seen[e] = true
	}

	for _, env := range []string{EnvLive, EnvIntegration} {
		if p.Profiles[env].SecretName == "" {
			return fmt.Errorf("profile %s has no secretName", env)
		}
	}
	return nil
}

func isKnownEntity(e string) bool {
	for _, k := range knownEntities {
		if e == k {
			return true
		}
	}
	return false
}

// IsLive reports whether the live profile is selected.
func (c *Config) IsLive() bool {
	return c.Env == EnvLive
}

// Project returns the named project.
func (c *Config) Project(name string) (ProjectConfig, error) {
	p, ok := c.Projects[name]
	if !ok {
		return ProjectConfig{}, fmt.Errorf("unknown project %q (configured: %s)", name, strings.Join(c.ProjectNames(), ", "))
	}
	return p, nil
}

// ProjectNames returns the configured project names in sorted order.
func (c *Config) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects))
	for n := range c.Projects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Profile returns the project settings for the selected environment.
func (c *Config) Profile(p ProjectConfig) ProfileConfig {
	return p.Profiles[c.Env]
}

// WarehouseFor returns the warehouse a project writes to.
func (c *Config) WarehouseFor(p ProjectConfig) WarehouseConfig {
	if w := c.Profile(p).Warehouse; w != nil {
		return *w
	}
	return c.Warehouse
}

// TableFor returns the configured table name of entity, or "" for the default.
func (p ProjectConfig) TableFor(entity string) string {
	return p.Tables[entity]
}

func defaultProjects() map[string]ProjectConfig {
	return map[string]ProjectConfig{
		"ai_assistant": {
			DaysBack: 1,
			Entities: []string{"traces", "scores"},
			Profiles: map[string]ProfileConfig{
				EnvLive:        {SecretName: "langfuse_ai_assistant_live_credentials"},
				EnvIntegration: {SecretName: "langfuse_ai_assistant_live_credentials"},
			},
		},
		"ai_tools": {
			DaysBack: 2,
			Entities: []string{"traces", "observations"},
			Profiles: map[string]ProfileConfig{
				EnvLive:        {SecretName: "langfuse_ai_tools_live_credentials"},
				EnvIntegration: {SecretName: "langfuse_ai_tools_integration_credentials"},
			},
		},
	}
}
