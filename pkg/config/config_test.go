package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	if c.Env != EnvIntegration {
		t.Errorf("Env = %q, want integration", c.Env)
	}
	if c.Langfuse.BaseURL != "https://cloud.langfuse.com/api/public" {
		t.Errorf("BaseURL = %q", c.Langfuse.BaseURL)
	}
	if c.Langfuse.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", c.Langfuse.Timeout)
	}
	if c.Langfuse.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", c.Langfuse.MaxAttempts)
	}
	if c.Langfuse.Workers != 8 {
		t.Errorf("Workers = %d, want 8", c.Langfuse.Workers)
	}
	if c.Warehouse.Driver != "sqlite3" || c.Warehouse.DSN == "" {
		t.Errorf("Warehouse = %+v, want sqlite3 default", c.Warehouse)
	}
	if c.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty (ledger disabled)", c.Redis.Addr)
	}

	tests := []struct {
		project     string
		daysBack    int
		entities    string
		liveSecret  string
		integSecret string
	}{
		{"ai_assistant", 1, "traces,scores", "langfuse_ai_assistant_live_credentials", "langfuse_ai_assistant_live_credentials"},
		{"ai_tools", 2, "traces,observations", "langfuse_ai_tools_live_credentials", "langfuse_ai_tools_integration_credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.project, func(t *testing.T) {
			p, err := c.Project(tt.project)
			if err != nil {
				t.Fatalf("Project() error = %v", err)
			}
			if p.DaysBack != tt.daysBack {
				t.Errorf("DaysBack = %d, want %d", p.DaysBack, tt.daysBack)
			}
			if got := strings.Join(p.Entities, ","); got != tt.entities {
				t.Errorf("Entities = %s, want %s", got, tt.entities)
			}
			if got := p.Profiles[EnvLive].SecretName; got != tt.liveSecret {
				t.Errorf("live secret = %s, want %s", got, tt.liveSecret)
			}
			if got := c.Profile(p).SecretName; got != tt.integSecret {
				t.Errorf("integration secret = %s, want %s", got, tt.integSecret)
			}
		})
	}
}

func TestLoad_EnvSelectsProfile(t *testing.T) {
	tests := []struct {
		env     string
		want    string
		present bool
	}{
		{env: "live", want: EnvLive, present: true},
		{env: "integration", want: EnvIntegration, present: true},
		{env: "staging", want: EnvIntegration, present: true},
		{want: EnvIntegration},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			env := map[string]string{}
			if tt.present {
				env["ENV"] = tt.env
			}
			c, err := Load("", envMap(env))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if c.Env != tt.want {
				t.Errorf("Env = %q, want %q", c.Env, tt.want)
			}
			if c.IsLive() != (tt.want == EnvLive) {
				t.Errorf("IsLive() = %v", c.IsLive())
			}
		})
	}
}

func TestLoad_YAMLAndOverrides(t *testing.T) {
	path := writeConfig(t, `
env: live
langfuse:
  baseURL: https://eu.langfuse.example/api/public
  timeout: 3s
  workers: 4
warehouse:
  driver: postgres
  dsn: postgres://localhost/warehouse
redis:
  addr: localhost:6379
  ledgerTTL: 24h
log:
  level: debug
projects:
  support_bot:
    daysBack: 3
    entities: [traces, scores, observations]
    tables:
      traces: SupportTraces
    profiles:
      live:
        secretName: support_live
        warehouse:
          driver: postgres
          dsn: postgres://live/warehouse
          schema: analytics
      integration:
        secretName: support_integration
`)

	c, err := Load(path, envMap(map[string]string{"REDIS_ADDR": "redis:6380"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.Langfuse.BaseURL != "https://eu.langfuse.example/api/public" {
		t.Errorf("BaseURL = %q", c.Langfuse.BaseURL)
	}
	if c.Langfuse.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", c.Langfuse.Timeout)
	}
	if c.Langfuse.Workers != 4 {
		t.Errorf("Workers = %d, want 4", c.Langfuse.Workers)
	}
	if c.Langfuse.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", c.Langfuse.MaxAttempts)
	}
	if c.Warehouse.Schema != "public" {
		t.Errorf("Schema = %q, want public default", c.Warehouse.Schema)
	}
	if c.Redis.Addr != "redis:6380" {
		t.Errorf("Redis.Addr = %q, want env override", c.Redis.Addr)
	}
	if c.Redis.LedgerTTL != 24*time.Hour {
		t.Errorf("LedgerTTL = %v, want 24h", c.Redis.LedgerTTL)
	}
	if c.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", c.Log.Level)
	}

	if _, err := c.Project("ai_tools"); err == nil {
		t.Error("built-in projects should be replaced by configured ones")
	}
	p, err := c.Project("support_bot")
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}
	if p.TableFor("traces") != "SupportTraces" || p.TableFor("scores") != "" {
		t.Errorf("Tables = %v", p.Tables)
	}
	if got := c.Profile(p).SecretName; got != "support_live" {
		t.Errorf("secret = %q, want support_live", got)
	}
	w := c.WarehouseFor(p)
	if w.DSN != "postgres://live/warehouse" || w.Schema != "analytics" {
		t.Errorf("WarehouseFor() = %+v, want live override", w)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "langfuse:\n  baseUrl: x\n",
			wantErr: "decode config",
		},
		{
			name:    "postgres without dsn",
			yaml:    "warehouse:\n  driver: postgres\n",
			wantErr: "dsn is required",
		},
		{
			name:    "unsupported driver from env",
			env:     map[string]string{"WAREHOUSE_DRIVER": "oracle"},
			wantErr: `unsupported warehouse driver "oracle"`,
		},
		{
			name: "observations before traces",
			yaml: `
projects:
  p:
    daysBack: 1
    entities: [observations, traces]
    profiles:
      live: {secretName: a}
      integration: {secretName: b}
`,
			wantErr: "observations need traces",
		},
		{
			name: "unknown entity",
			yaml: `
projects:
  p:
    entities: [sessions]
    profiles:
      live: {secretName: a}
      integration: {secretName: b}
`,
			wantErr: `unknown entity "sessions"`,
		},
		{
			name: "missing secret",
			yaml: `
projects:
  p:
    entities: [traces]
    profiles:
      live: {secretName: a}
`,
			wantErr: "profile integration has no secretName",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}
			_, err := Load(path, envMap(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestProject_Unknown(t *testing.T) {
	_, err := Default().Project("nope")
	if err == nil || !strings.Contains(err.Error(), `unknown project "nope"`) {
		t.Errorf("Project() error = %v", err)
	}
}

func TestProjectNames_Sorted(t *testing.T) {
	got := strings.Join(Default().ProjectNames(), ",")
	if got != "ai_assistant,ai_tools" {
		t.Errorf("ProjectNames() = %q, want ai_assistant,ai_tools", got)
	}
}
