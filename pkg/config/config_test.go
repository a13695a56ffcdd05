package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/blockbench/pkg/config"
	bberrors "github.com/odvcencio/blockbench/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Benchmark.NumTests != 50 || cfg.Benchmark.RestartInterval != 223 {
		t.Fatalf("unexpected trial defaults: %+v", cfg.Benchmark)
	}
	if cfg.Benchmark.PageLoadTimeout != 60*time.Second {
		t.Fatalf("page load timeout = %s, want 60s", cfg.Benchmark.PageLoadTimeout)
	}
	if len(cfg.Sites) != len(config.DefaultSites) || cfg.Sites[len(cfg.Sites)-1] != "letu.edu" {
		t.Fatalf("default sites not populated: %d entries", len(cfg.Sites))
	}
	for _, site := range cfg.Sites {
		if strings.HasPrefix(site, "google.com") || site == "paypal.com" {
			t.Fatalf("disabled site %q present in defaults", site)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.Sites[0] = "mutated"
	if config.DefaultSites[0] == "mutated" {
		t.Fatal("DefaultConfig must copy the default site list")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(home, ".blockbench", "config.yaml"), `
benchmark:
  num_tests: 10
  restart_interval: 5
browser:
  headless: true
output:
  dir: /tmp/user-out
`)
	writeFile(t, filepath.Join(project, config.ProjectConfigFile), `
sites:
  - example.com
  - example.org/search?q=x
benchmark:
  num_tests: 3
browser:
  headless: false
`)

	t.Chdir(project)
	t.Setenv("BLOCKBENCH_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Benchmark.NumTests != 3 {
		t.Fatalf("expected project num_tests, got %d", cfg.Benchmark.NumTests)
	}
	if cfg.Benchmark.RestartInterval != 5 {
		t.Fatalf("expected user restart_interval, got %d", cfg.Benchmark.RestartInterval)
	}
	if cfg.Browser.Headless {
		t.Fatal("explicit project headless: false should override user true")
	}
	if cfg.Output.Dir != "/tmp/user-out" {
		t.Fatalf("expected user output dir, got %s", cfg.Output.Dir)
	}
	if len(cfg.Sites) != 2 || cfg.Sites[1] != "example.org/search?q=x" {
		t.Fatalf("expected project sites, got %v", cfg.Sites)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level, got %s", cfg.Logging.Level)
	}
}

func TestLoadFromPathZeroRestartInterval(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "bench.yaml")
	writeFile(t, path, `
benchmark:
  restart_interval: 0
ledger:
  enabled: false
`)

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Benchmark.RestartInterval != 0 {
		t.Fatalf("explicit 0 should disable periodic restarts, got %d", cfg.Benchmark.RestartInterval)
	}
	if cfg.Ledger.Enabled {
		t.Fatal("explicit ledger.enabled false should be honored")
	}
	if cfg.Benchmark.NumTests != 50 {
		t.Fatalf("unset num_tests should keep default, got %d", cfg.Benchmark.NumTests)
	}
}

func TestLoadFromPathErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	if _, err := config.LoadFromPath(filepath.Join(dir, "missing.yaml")); !bberrors.IsCode(err, bberrors.ErrCodeConfigLoad) {
		t.Fatalf("missing file: got %v, want CONFIG_LOAD", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "benchmark: [unterminated")
	if _, err := config.LoadFromPath(bad); !bberrors.IsCode(err, bberrors.ErrCodeConfigParse) {
		t.Fatalf("bad yaml: got %v, want CONFIG_PARSE", err)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "benchmark:\n  num_tests: 0\n")
	if _, err := config.LoadFromPath(invalid); !bberrors.IsCode(err, bberrors.ErrCodeConfigInvalid) {
		t.Fatalf("num_tests 0: got %v, want CONFIG_INVALID", err)
	}
}

func TestLoadReadsConfigEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeFile(t, filepath.Join(home, ".blockbench", "config.env"), `
# comment
export BLOCKBENCH_NUM_TESTS=7
BLOCKBENCH_SITES="a.com, b.com"
`)
	t.Setenv("BLOCKBENCH_NUM_TESTS", "9")

	path := filepath.Join(t.TempDir(), "bench.yaml")
	writeFile(t, path, "{}\n")

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Benchmark.NumTests != 9 {
		t.Fatalf("process env should win over config.env, got %d", cfg.Benchmark.NumTests)
	}
	if len(cfg.Sites) != 2 || cfg.Sites[0] != "a.com" || cfg.Sites[1] != "b.com" {
		t.Fatalf("expected sites from config.env, got %v", cfg.Sites)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BLOCKBENCH_HEADLESS", "yes")
	t.Setenv("BLOCKBENCH_PAGE_LOAD_TIMEOUT", "45")
	t.Setenv("BLOCKBENCH_RESET_TIMEOUT", "5s")
	t.Setenv("BLOCKBENCH_EXTENSION_PATH", "/opt/ublock")
	t.Setenv("BLOCKBENCH_LEDGER_ENABLED", "off")
	t.Setenv("BLOCKBENCH_METRICS_ADDR", "127.0.0.1:9464")
	t.Setenv("BLOCKBENCH_TRACE_FILE", "~/trace.jsonl")

	path := filepath.Join(t.TempDir(), "bench.yaml")
	writeFile(t, path, "{}\n")

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if !cfg.Browser.Headless {
		t.Error("BLOCKBENCH_HEADLESS=yes should enable headless")
	}
	if cfg.Benchmark.PageLoadTimeout != 45*time.Second {
		t.Errorf("page load timeout = %s, want 45s", cfg.Benchmark.PageLoadTimeout)
	}
	if cfg.Benchmark.ResetTimeout != 5*time.Second {
		t.Errorf("reset timeout = %s, want 5s", cfg.Benchmark.ResetTimeout)
	}
	if cfg.Browser.ExtensionPath != "/opt/ublock" {
		t.Errorf("extension path = %s", cfg.Browser.ExtensionPath)
	}
	if cfg.Ledger.Enabled {
		t.Error("BLOCKBENCH_LEDGER_ENABLED=off should disable the ledger")
	}
	if cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Errorf("metrics addr = %s", cfg.Metrics.Addr)
	}
	if cfg.Tracing.File != "~/trace.jsonl" {
		t.Errorf("trace file = %s", cfg.Tracing.File)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*config.Config) {}},
		{name: "no sites", mutate: func(c *config.Config) { c.Sites = nil }, wantErr: "sites must not be empty"},
		{name: "blank site", mutate: func(c *config.Config) { c.Sites = []string{"a.com", " "} }, wantErr: "sites[1] is blank"},
		{name: "scheme in site", mutate: func(c *config.Config) { c.Sites = []string{"https://a.com"} }, wantErr: "must not include a scheme"},
		{name: "zero trials", mutate: func(c *config.Config) { c.Benchmark.NumTests = 0 }, wantErr: "num_tests"},
		{name: "negative interval", mutate: func(c *config.Config) { c.Benchmark.RestartInterval = -1 }, wantErr: "restart_interval"},
		{name: "zero timeout", mutate: func(c *config.Config) { c.Benchmark.PageLoadTimeout = 0 }, wantErr: "page_load_timeout"},
		{name: "no extension", mutate: func(c *config.Config) { c.Browser.ExtensionPath = "" }, wantErr: "extension_path"},
		{name: "no launch attempts", mutate: func(c *config.Config) { c.Browser.LaunchAttempts = 0 }, wantErr: "launch_attempts"},
		{name: "bad window", mutate: func(c *config.Config) { c.Browser.WindowHeight = 0 }, wantErr: "window size"},
		{name: "csv output", mutate: func(c *config.Config) { c.Output.File = "out.csv" }, wantErr: ".xlsx"},
		{name: "ledger without path", mutate: func(c *config.Config) { c.Ledger.Path = "" }, wantErr: "ledger.path"},
		{name: "ledger disabled without path", mutate: func(c *config.Config) { c.Ledger.Enabled = false; c.Ledger.Path = "" }},
		{name: "bad level", mutate: func(c *config.Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "bad metrics addr", mutate: func(c *config.Config) { c.Metrics.Addr = "9464" }, wantErr: "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !bberrors.IsCode(err, bberrors.ErrCodeConfigInvalid) {
				t.Fatalf("expected CONFIG_INVALID, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidationWarnings(t *testing.T) {
	ext := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Browser.ExtensionPath = ext
	cfg.Sites = []string{"a.com", "b.com"}
	if warnings := cfg.ValidationWarnings(); len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}

	cfg.Benchmark.RestartInterval = 0
	cfg.Metrics.Addr = "0.0.0.0:9464"
	cfg.Sites = []string{"a.com", "a.com"}
	cfg.Browser.ExtensionPath = filepath.Join(ext, "missing")

	joined := strings.Join(cfg.ValidationWarnings(), "\n")
	for _, want := range []string{"periodic restarts are disabled", "not loopback", "more than once", "does not exist"} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q:\n%s", want, joined)
		}
	}
}

func TestPathHelpers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := config.DefaultConfig()
	if got, want := cfg.LedgerPath(), filepath.Join(home, ".blockbench", "ledger.db"); got != want {
		t.Errorf("LedgerPath() = %s, want %s", got, want)
	}
	if got, want := cfg.LogDir(), filepath.Join(home, ".blockbench", "logs"); got != want {
		t.Errorf("LogDir() = %s, want %s", got, want)
	}

	cfg.Output.Dir = "~/results"
	if got, want := cfg.OutputPath("fallback.xlsx"), filepath.Join(home, "results", "fallback.xlsx"); got != want {
		t.Errorf("OutputPath() = %s, want %s", got, want)
	}
	cfg.Output.File = "/abs/run.xlsx"
	if got := cfg.OutputPath("fallback.xlsx"); got != "/abs/run.xlsx" {
		t.Errorf("absolute output.file should be used as-is, got %s", got)
	}

	if got := cfg.TraceFile(); got != "" {
		t.Errorf("TraceFile() = %q, want empty when tracing is off", got)
	}
	cfg.Tracing.File = "~/trace.jsonl"
	if got, want := cfg.TraceFile(), filepath.Join(home, "trace.jsonl"); got != want {
		t.Errorf("TraceFile() = %s, want %s", got, want)
	}
}
