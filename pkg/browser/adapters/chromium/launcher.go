// Package chromium implements the browser driver port with go-rod.
package chromium

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/odvcencio/blockbench/pkg/browser"
)

// Launcher starts one Chromium process per session, each with its own
// throwaway profile so sessions never share cache or cookies.
type Launcher struct {
	cfg Config
}

// NewLauncher creates a Chromium launcher.
func NewLauncher(cfg Config) (*Launcher, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Launcher{cfg: merged}, nil
}

// Launch implements browser.Launcher. Chromium only loads unpacked extensions
// from command-line flags, so the extension is installed here rather than
// after startup.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.cfg.UserDataRoot != "" {
		if err := os.MkdirAll(l.cfg.UserDataRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create user data root: %w", err)
		}
	}
	dataDir, err := os.MkdirTemp(l.cfg.UserDataRoot, "blockbench-"+string(opts.Role)+"-")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	// ctx bounds the binary download and the wait for the devtools URL; rod
	// kills the process when it is cancelled mid-launch.
	lc := launcher.New().
		Context(ctx).
		UserDataDir(dataDir).
		Leakless(l.cfg.Leakless).
		Headless(l.cfg.Headless).
		Set("window-size", fmt.Sprintf("%d,%d", l.cfg.WindowWidth, l.cfg.WindowHeight))
	if l.cfg.Bin != "" {
		lc = lc.Bin(l.cfg.Bin)
	}

	var extension string
	if opts.ExtensionPath != "" {
		extension, err = filepath.Abs(opts.ExtensionPath)
		if err != nil {
			_ = os.RemoveAll(dataDir)
			return nil, fmt.Errorf("resolve extension path: %w", err)
		}
		if _, err := os.Stat(extension); err != nil {
			_ = os.RemoveAll(dataDir)
			return nil, fmt.Errorf("extension: %w", err)
		}
		lc = lc.
			Set("load-extension", extension).
			Set("disable-extensions-except", extension)
		if l.cfg.Headless {
			// the legacy headless mode ignores extensions
			lc = lc.Headless(false).Set("headless", "new")
		}
	}

	controlURL, err := lc.Launch()
	if err != nil {
		lc.Cleanup()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lc.Kill()
		lc.Cleanup()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("connect chromium: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		lc.Kill()
		lc.Cleanup()
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &Handle{
		browser:   b,
		page:      page,
		launcher:  lc,
		extension: extension,
	}, nil
}
