package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	bberrors "github.com/odvcencio/blockbench/pkg/errors"
	"github.com/odvcencio/blockbench/pkg/logging"
)

// Config represents the complete blockbench configuration
type Config struct {
	Sites     []string        `yaml:"sites"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Browser   BrowserConfig   `yaml:"browser"`
	Output    OutputConfig    `yaml:"output"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// BenchmarkConfig controls the trial loop.
type BenchmarkConfig struct {
	NumTests        int           `yaml:"num_tests"`
	RestartInterval int           `yaml:"restart_interval"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout"`
	ResetTimeout    time.Duration `yaml:"reset_timeout"`
}

// BrowserConfig controls how the two chromium sessions are launched.
type BrowserConfig struct {
	Bin            string        `yaml:"bin"`
	ExtensionPath  string        `yaml:"extension_path"`
	Headless       bool          `yaml:"headless"`
	Leakless       bool          `yaml:"leakless"`
	UserDataRoot   string        `yaml:"user_data_root"`
	WindowWidth    int           `yaml:"window_width"`
	WindowHeight   int           `yaml:"window_height"`
	PlaceWindows   bool          `yaml:"place_windows"`
	LaunchAttempts int           `yaml:"launch_attempts"`
	LaunchBackoff  time.Duration `yaml:"launch_backoff"`
}

// OutputConfig controls the workbook and console labels.
type OutputConfig struct {
	Dir string `yaml:"dir"`
	// File overrides the load_times_details_iteration_<n>.xlsx name.
	File           string `yaml:"file"`
	TreatmentLabel string `yaml:"treatment_label"`
	BaselineLabel  string `yaml:"baseline_label"`
	TreatmentName  string `yaml:"treatment_name"`
	BaselineName   string `yaml:"baseline_name"`
}

// LedgerConfig controls the sqlite sample ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls the JSONL run logs.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// MetricsConfig controls the optional prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TracingConfig controls the optional OpenTelemetry span export.
type TracingConfig struct {
	// File receives one JSON span per line. Empty disables tracing.
	File string `yaml:"file"`
}

// DefaultSites is the site list the benchmark was first run against.
var DefaultSites = []string{
	"bing.com/search?q=tacos+near+me",
	"pinterest.com/search/pins/?q=tacos",
	"duckduckgo.com/?va=q&t=hc&q=tacos+near+me",
	"youtube.com",
	"amazon.com",
	"target.com/s?searchTerm=tacos&tref=typeahead%7Cterm%7Ctacos%7C%7C%7Chistory",
	"walmart.com/search?q=tacos",
	"yahoo.com",
	"reddit.com",
	"imdb.com",
	"tripadvisor.com/Search?q=tacos&ssrc=e&search",
	"etsy.com/search?q=tacos%20near%20me",
	"quora.com/search?q=tacos%20near%20me",
	"zillow.com/homes/for_sale/tacos-near-me_rb/",
	"booking.com/searchresults.html?ss=Las+Vegas%2C+United+States+of+America",
	"weather.com",
	"apple.com",
	"stackoverflow.com/search?q=tacos+near+me&s=8bc580a2-5ea6-47ff-98f5-1c2eeba95440",
	"webmd.com",
	"store.steampowered.com",
	"msn.com/en-us/news",
	"cnn.com",
	"breitbart.com",
	"foxnews.com",
	"nytimes.com",
	"cnet.com",
	"bbc.com/news",
	"theguardian.com",
	"aljazeera.com",
	"reuters.com",
	"washingtonpost.com",
	"bloomberg.com",
	"wsj.com",
	"theatlantic.com",
	"npr.org",
	"news.vice.com",
	"politico.com",
	"axios.com",
	"espn.com",
	"nfl.com",
	"xda-developers.com",
	"techcrunch.com",
	"engadget.com",
	"investopedia.com/young-adults-are-running-out-of-cash-to-pay-emergency-expenses-8391317",
	"apnews.com/article/israel-hamas-war-news-11-6-2023-51286d15dddd77ae0dd7ea76ee52bc71",
	"wikipedia.org",
	"linkedin.com",
	"spotify.com",
	"netflix.com",
	"protonmail.com",
	"github.com",
	"medium.com",
	"coursera.org",
	"signal.org",
	"vimeo.com",
	"trello.com",
	"basecamp.com",
	"discord.com",
	"weather.jaedynchilton.com",
	"edx.org",
	"khanacademy.org",
	"letu.edu",
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Sites: append([]string(nil), DefaultSites...),
		Benchmark: BenchmarkConfig{
			NumTests:        50,
			RestartInterval: 223,
			PageLoadTimeout: 60 * time.Second,
			ResetTimeout:    30 * time.Second,
		},
		Browser: BrowserConfig{
			ExtensionPath:  "extensions/ublock0.chromium",
			Leakless:       true,
			WindowWidth:    1280,
			WindowHeight:   800,
			PlaceWindows:   true,
			LaunchAttempts: 3,
			LaunchBackoff:  2 * time.Second,
		},
		Output: OutputConfig{
			Dir:            ".",
			TreatmentLabel: "Load Time With uBlock (ms)",
			BaselineLabel:  "Load Time Without uBlock (ms)",
			TreatmentName:  "uBlock client",
			BaselineName:   "Non-uBlock client",
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "~/.blockbench/ledger.db",
		},
		Logging: LoggingConfig{
			Dir:   "~/.blockbench/logs",
			Level: string(logging.LevelInfo),
		},
	}
}

// Validate checks the configuration and returns a CONFIG_INVALID error
// describing the first problem found.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeConfigInvalid, "invalid configuration").
			WithUserMessage(err.Error())
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Sites) == 0 {
		return fmt.Errorf("sites must not be empty")
	}
	for i, site := range c.Sites {
		site = strings.TrimSpace(site)
		if site == "" {
			return fmt.Errorf("sites[%d] is blank", i)
		}
		if strings.Contains(site, "://") {
			return fmt.Errorf("sites[%d] %q must not include a scheme; https:// is added automatically", i, site)
		}
	}

	if c.Benchmark.NumTests < 1 {
		return fmt.Errorf("benchmark.num_tests must be >= 1, got %d", c.Benchmark.NumTests)
	}
	if c.Benchmark.RestartInterval < 0 {
		return fmt.Errorf("benchmark.restart_interval must be >= 0, got %d", c.Benchmark.RestartInterval)
	}
	if c.Benchmark.PageLoadTimeout <= 0 {
		return fmt.Errorf("benchmark.page_load_timeout must be positive, got %s", c.Benchmark.PageLoadTimeout)
	}
	if c.Benchmark.ResetTimeout < 0 {
		return fmt.Errorf("benchmark.reset_timeout must be >= 0, got %s", c.Benchmark.ResetTimeout)
	}

	if strings.TrimSpace(c.Browser.ExtensionPath) == "" {
		return fmt.Errorf("browser.extension_path is required")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window size must be positive, got %dx%d", c.Browser.WindowWidth, c.Browser.WindowHeight)
	}
	if c.Browser.LaunchAttempts < 1 {
		return fmt.Errorf("browser.launch_attempts must be >= 1, got %d", c.Browser.LaunchAttempts)
	}
	if c.Browser.LaunchBackoff < 0 {
		return fmt.Errorf("browser.launch_backoff must be >= 0, got %s", c.Browser.LaunchBackoff)
	}

	if strings.TrimSpace(c.Output.File) != "" && !strings.EqualFold(filepath.Ext(c.Output.File), ".xlsx") {
		return fmt.Errorf("output.file must end in .xlsx, got %q", c.Output.File)
	}

	if c.Ledger.Enabled && strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path is required when the ledger is enabled")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if addr := strings.TrimSpace(c.Metrics.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("metrics.addr %q is not host:port: %w", addr, err)
		}
	}

	return nil
}

// ValidationWarnings returns non-fatal configuration issues.
func (c *Config) ValidationWarnings() []string {
	var warnings []string

	if c.Benchmark.RestartInterval == 0 {
		warnings = append(warnings, "benchmark.restart_interval is 0: periodic restarts are disabled")
	}
	if c.Benchmark.ResetTimeout == 0 {
		warnings = append(warnings, "benchmark.reset_timeout is 0: state resets inherit the run deadline")
	}
	if path := c.ExtensionPath(); path != "" {
		if info, err := os.Stat(path); err != nil {
			warnings = append(warnings, fmt.Sprintf("browser.extension_path %q does not exist", path))
		} else if !info.IsDir() {
			warnings = append(warnings, fmt.Sprintf("browser.extension_path %q is not a directory; chromium loads unpacked extensions only", path))
		}
	}
	if addr := strings.TrimSpace(c.Metrics.Addr); addr != "" && !isLoopbackBindAddress(addr) {
		warnings = append(warnings, fmt.Sprintf("metrics.addr %q is not loopback: metrics are exposed without authentication", addr))
	}
	seen := make(map[string]bool, len(c.Sites))
	for _, site := range c.Sites {
		if seen[site] {
			warnings = append(warnings, fmt.Sprintf("site %q is listed more than once; its sheet will be replaced", site))
		}
		seen[site] = true
	}

	return warnings
}

// ExtensionPath returns the extension directory with ~ expanded.
func (c *Config) ExtensionPath() string {
	return expandHomeDir(c.Browser.ExtensionPath)
}

// LedgerPath returns the sqlite ledger path with ~ expanded.
func (c *Config) LedgerPath() string {
	return expandHomeDir(c.Ledger.Path)
}

// LogDir returns the run log directory with ~ expanded.
func (c *Config) LogDir() string {
	return expandHomeDir(c.Logging.Dir)
}

// TraceFile returns the span output file with ~ expanded, or "".
func (c *Config) TraceFile() string {
	return expandHomeDir(strings.TrimSpace(c.Tracing.File))
}

// UserDataRoot returns the browser profile root with ~ expanded.
func (c *Config) UserDataRoot() string {
	return expandHomeDir(c.Browser.UserDataRoot)
}

// OutputPath returns where the workbook is written. fallback names the file
// when output.file is unset.
func (c *Config) OutputPath(fallback string) string {
	name := strings.TrimSpace(c.Output.File)
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(expandHomeDir(c.Output.Dir), name)
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
}
