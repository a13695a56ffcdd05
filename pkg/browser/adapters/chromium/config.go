package chromium

import (
	"errors"
	"strings"
	"time"
)

// Config controls how the Chromium adapter launches browsers.
type Config struct {
	// Bin is the browser binary. Empty lets rod locate or download one.
	Bin          string
	Headless     bool
	UserDataRoot string
	Leakless     bool
	WindowWidth  int
	WindowHeight int
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Leakless:     true,
		WindowWidth:  1280,
		WindowHeight: 800,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	defaults.Headless = c.Headless
	defaults.Leakless = c.Leakless
	if strings.TrimSpace(c.Bin) != "" {
		defaults.Bin = c.Bin
	}
	if strings.TrimSpace(c.UserDataRoot) != "" {
		defaults.UserDataRoot = c.UserDataRoot
	}
	if c.WindowWidth != 0 {
		defaults.WindowWidth = c.WindowWidth
	}
	if c.WindowHeight != 0 {
		defaults.WindowHeight = c.WindowHeight
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		return errors.New("window size must be positive")
	}
	return nil
}

// closeGrace bounds how long Close waits for the browser to exit cleanly.
const closeGrace = 10 * time.Second
