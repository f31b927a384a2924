package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/langfuse-etl/internal/testutil"
	"github.com/Sternrassler/langfuse-etl/pkg/records"
	"github.com/Sternrassler/langfuse-etl/pkg/sink"
)

const inWindow = "2024-03-14T10:00:00Z"

type cliEnv struct {
	mock   *testutil.MockLangfuse
	config string
	dbPath string
	dotenv string
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()

	for _, key := range []string{"ENV", "LANGFUSE_BASE_URL", "WAREHOUSE_DRIVER", "WAREHOUSE_DSN", "REDIS_ADDR", "LOG_LEVEL", "LANGFUSE_ETL_CONFIG"} {
		t.Setenv(key, "")
	}
	t.Setenv("CLI_TEST_INTEGRATION", "pk-lf-1:sk-lf-1")

	mock := testutil.NewMockLangfuse()
	t.Cleanup(mock.Close)
	mock.RequireAuth("pk-lf-1", "sk-lf-1")

	dir := t.TempDir()
	env := &cliEnv{
		mock:   mock,
		config: filepath.Join(dir, "config.yaml"),
		dbPath: filepath.Join(dir, "warehouse.db"),
		dotenv: filepath.Join(dir, "missing.env"),
	}

	content := fmt.Sprintf(`
langfuse:
  baseURL: %s
  maxAttempts: 2
warehouse:
  driver: sqlite3
  dsn: file:%s
projects:
  cli_test:
    daysBack: 2
    entities: [traces, observations]
    profiles:
      live:
        secretName: cli_test_live
      integration:
        secretName: cli_test_integration
`, mock.URL(), env.dbPath)
	if err := os.WriteFile(env.config, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func (e *cliEnv) run(args ...string) (string, error) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard

	full := append([]string{"langfuse-etl", "--config", e.config, "--dotenv", e.dotenv}, args...)
	err := app.RunContext(context.Background(), full)
	return out.String(), err
}

func (e *cliEnv) count(t *testing.T, table string) int {
	t.Helper()

	s, err := sink.Open(sink.DriverSQLite, "file:"+e.dbPath)
	if err != nil {
		t.Fatalf("sink.Open() failed: %v", err)
	}
	defer s.Close()

	n, err := s.CountRows(context.Background(), "", table)
	if err != nil {
		t.Fatalf("CountRows(%s) failed: %v", table, err)
	}
	return n
}

func TestRunCommand(t *testing.T) {
	env := setupCLI(t)
	env.mock.AddTraces(testutil.NewTrace("t1", inWindow), testutil.NewTrace("t2", inWindow))
	env.mock.AddObservations(testutil.NewObservation("o1", "t1", inWindow))

	out, err := env.run("run", "--project", "cli_test", "--as-of", "2024-03-15")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !strings.Contains(out, "traces\tLangfuseTraces\t2 rows") {
		t.Errorf("output = %q, want traces summary", out)
	}
	if got := env.count(t, records.TracesTable); got != 2 {
		t.Errorf("traces rows = %d, want 2", got)
	}
	if got := env.count(t, records.ObservationsTable); got != 1 {
		t.Errorf("observations rows = %d, want 1", got)
	}
}

func TestRunCommand_EntityOverride(t *testing.T) {
	env := setupCLI(t)
	env.mock.AddScores(testutil.NewScore("s1", "t1", inWindow))

	if _, err := env.run("run", "--project", "cli_test", "--as-of", "2024-03-15", "--entity", "scores"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := env.count(t, records.ScoresTable); got != 1 {
		t.Errorf("scores rows = %d, want 1", got)
	}
	if got := len(env.mock.Requests("traces")); got != 0 {
		t.Errorf("trace requests = %d, want 0", got)
	}
}

func TestRunCommand_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *cliEnv)
		args  []string
		want  string
	}{
		{
			name: "unknown project",
			args: []string{"run", "--project", "nope"},
			want: `unknown project "nope"`,
		},
		{
			name: "bad as-of",
			args: []string{"run", "--project", "cli_test", "--as-of", "yesterday"},
			want: "invalid as-of date",
		},
		{
			name:  "missing credentials",
			setup: func(e *cliEnv) { os.Unsetenv("CLI_TEST_INTEGRATION") },
			args:  []string{"run", "--project", "cli_test"},
			want:  "secret not found",
		},
		{
			name: "failing trace",
			setup: func(e *cliEnv) {
				e.mock.AddTraces(testutil.NewTrace("t1", inWindow))
				e.mock.FailTrace("t1", testutil.NewServerErrorResponse())
			},
			args: []string{"run", "--project", "cli_test", "--as-of", "2024-03-15"},
			want: "observation batch aborted at trace t1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupCLI(t)
			if tt.setup != nil {
				tt.setup(env)
			}

			_, err := env.run(tt.args...)
			if err == nil {
				t.Fatal("run expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestStatusCommand_WithoutLedger(t *testing.T) {
	env := setupCLI(t)

	out, err := env.run("status", "--project", "cli_test", "--entity", "traces")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if strings.TrimSpace(out) != "no run recorded" {
		t.Errorf("output = %q, want no run recorded", out)
	}

	if _, err := env.run("status", "--project", "cli_test", "--entity", "sessions"); err == nil {
		t.Error("status with unknown entity expected error")
	}
}

func TestProjectsCommand(t *testing.T) {
	env := setupCLI(t)

	out, err := env.run("projects")
	if err != nil {
		t.Fatalf("projects failed: %v", err)
	}
	if !strings.Contains(out, "cli_test\tdaysBack=2\tentities=[traces observations]\tsecret=cli_test_integration") {
		t.Errorf("output = %q", out)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	env := setupCLI(t)

	if _, err := env.run("--log-level", "loud", "projects"); err == nil {
		t.Error("expected error for invalid log level")
	}
}
