package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bberrors "github.com/odvcencio/blockbench/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ProjectConfigFile is the per-directory config file name.
const ProjectConfigFile = "blockbench.yaml"

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.blockbench/config.yaml, ./blockbench.yaml, then environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".blockbench", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, wrapLoadError(err, userConfigPath)
		}
	}

	if err := loadAndMerge(cfg, ProjectConfigFile); err != nil && !os.IsNotExist(err) {
		return nil, wrapLoadError(err, ProjectConfigFile)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, wrapLoadError(err, path)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type parseError struct{ err error }

func (e *parseError) Error() string { return "parsing YAML: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func wrapLoadError(err error, path string) error {
	code := bberrors.ErrCodeConfigLoad
	if _, ok := err.(*parseError); ok {
		code = bberrors.ErrCodeConfigParse
	}
	return bberrors.Wrap(err, code, "load config").
		WithContext("path", path).
		WithUserMessage(fmt.Sprintf("Could not load config from %s", path))
}

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return &parseError{err: err}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &parseError{err: err}
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values leave base untouched
// except for booleans and integers explicitly present in raw.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if fieldSet(raw, "sites") {
		base.Sites = append([]string(nil), override.Sites...)
	}

	if fieldSet(raw, "benchmark", "num_tests") {
		base.Benchmark.NumTests = override.Benchmark.NumTests
	}
	if fieldSet(raw, "benchmark", "restart_interval") {
		base.Benchmark.RestartInterval = override.Benchmark.RestartInterval
	}
	if override.Benchmark.PageLoadTimeout != 0 {
		base.Benchmark.PageLoadTimeout = override.Benchmark.PageLoadTimeout
	}
	if fieldSet(raw, "benchmark", "reset_timeout") {
		base.Benchmark.ResetTimeout = override.Benchmark.ResetTimeout
	}

	if override.Browser.Bin != "" {
		base.Browser.Bin = override.Browser.Bin
	}
	if override.Browser.ExtensionPath != "" {
		base.Browser.ExtensionPath = override.Browser.ExtensionPath
	}
	if fieldSet(raw, "browser", "headless") {
		base.Browser.Headless = override.Browser.Headless
	}
	if fieldSet(raw, "browser", "leakless") {
		base.Browser.Leakless = override.Browser.Leakless
	}
	if override.Browser.UserDataRoot != "" {
		base.Browser.UserDataRoot = override.Browser.UserDataRoot
	}
	if override.Browser.WindowWidth != 0 {
		base.Browser.WindowWidth = override.Browser.WindowWidth
	}
	if override.Browser.WindowHeight != 0 {
		base.Browser.WindowHeight = override.Browser.WindowHeight
	}
	if fieldSet(raw, "browser", "place_windows") {
		base.Browser.PlaceWindows = override.Browser.PlaceWindows
	}
	if override.Browser.LaunchAttempts != 0 {
		base.Browser.LaunchAttempts = override.Browser.LaunchAttempts
	}
	if fieldSet(raw, "browser", "launch_backoff") {
		base.Browser.LaunchBackoff = override.Browser.LaunchBackoff
	}

	if override.Output.Dir != "" {
		base.Output.Dir = override.Output.Dir
	}
	if override.Output.File != "" {
		base.Output.File = override.Output.File
	}
	if override.Output.TreatmentLabel != "" {
		base.Output.TreatmentLabel = override.Output.TreatmentLabel
	}
	if override.Output.BaselineLabel != "" {
		base.Output.BaselineLabel = override.Output.BaselineLabel
	}
	if override.Output.TreatmentName != "" {
		base.Output.TreatmentName = override.Output.TreatmentName
	}
	if override.Output.BaselineName != "" {
		base.Output.BaselineName = override.Output.BaselineName
	}

	if fieldSet(raw, "ledger", "enabled") {
		base.Ledger.Enabled = override.Ledger.Enabled
	}
	if override.Ledger.Path != "" {
		base.Ledger.Path = override.Ledger.Path
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if fieldSet(raw, "metrics", "addr") {
		base.Metrics.Addr = override.Metrics.Addr
	}
	if fieldSet(raw, "tracing", "file") {
		base.Tracing.File = override.Tracing.File
	}
}

// fieldSet reports whether path is present in the raw YAML document, so an
// explicit false or 0 can override a non-zero default.
func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

// applyEnvOverrides applies BLOCKBENCH_* environment variables. Values in the
// process environment win over ~/.blockbench/config.env.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	getenv := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}

	if v := getenv("BLOCKBENCH_SITES"); v != "" {
		if sites := splitCommaList(v); len(sites) > 0 {
			cfg.Sites = sites
		}
	}
	if n, ok := envInt(getenv("BLOCKBENCH_NUM_TESTS")); ok {
		cfg.Benchmark.NumTests = n
	}
	if n, ok := envInt(getenv("BLOCKBENCH_RESTART_INTERVAL")); ok {
		cfg.Benchmark.RestartInterval = n
	}
	if d, ok := envDuration(getenv("BLOCKBENCH_PAGE_LOAD_TIMEOUT")); ok {
		cfg.Benchmark.PageLoadTimeout = d
	}
	if d, ok := envDuration(getenv("BLOCKBENCH_RESET_TIMEOUT")); ok {
		cfg.Benchmark.ResetTimeout = d
	}

	if v := getenv("BLOCKBENCH_EXTENSION_PATH"); v != "" {
		cfg.Browser.ExtensionPath = v
	}
	if v := getenv("BLOCKBENCH_BROWSER_BIN"); v != "" {
		cfg.Browser.Bin = v
	}
	if val, ok := envBool(getenv("BLOCKBENCH_HEADLESS")); ok {
		cfg.Browser.Headless = val
	}
	if v := getenv("BLOCKBENCH_USER_DATA_ROOT"); v != "" {
		cfg.Browser.UserDataRoot = v
	}

	if v := getenv("BLOCKBENCH_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := getenv("BLOCKBENCH_OUTPUT_FILE"); v != "" {
		cfg.Output.File = v
	}

	if val, ok := envBool(getenv("BLOCKBENCH_LEDGER_ENABLED")); ok {
		cfg.Ledger.Enabled = val
	}
	if v := getenv("BLOCKBENCH_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}

	if v := getenv("BLOCKBENCH_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := getenv("BLOCKBENCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("BLOCKBENCH_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := getenv("BLOCKBENCH_TRACE_FILE"); v != "" {
		cfg.Tracing.File = v
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(val string) (bool, bool) {
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func envInt(val string) (int, bool) {
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

// envDuration accepts Go durations ("45s") or bare seconds ("45").
func envDuration(val string) (time.Duration, bool) {
	if val == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d, true
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// loadConfigEnvVars reads KEY=value lines from ~/.blockbench/config.env.
func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	return readEnvFile(filepath.Join(home, ".blockbench", "config.env"))
}

func readEnvFile(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
