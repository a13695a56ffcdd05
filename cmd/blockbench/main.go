package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odvcencio/blockbench/pkg/config"
	"github.com/odvcencio/blockbench/pkg/terminal"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var loadConfigFn = config.Load
var loadConfigFromPathFn = config.LoadFromPath

type rootOptions struct {
	configPath string
	quiet      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(terminal.New()).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	stop()
	os.Exit(exitCodeForError(err))
}

func newRootCmd(out *terminal.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "blockbench",
		Short:         "Measure page load times with and without a content blocker",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default ~/.blockbench/config.yaml then ./blockbench.yaml)")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress config warnings")

	root.AddCommand(
		newRunCmd(opts, out),
		newSitesCmd(opts, out),
		newRunsCmd(opts, out),
		newDoctorCmd(opts, out),
	)
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = loadConfigFromPathFn(o.configPath)
	} else {
		cfg, err = loadConfigFn()
	}
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	return cfg, nil
}

func (o *rootOptions) warn(out *terminal.Writer, cfg *config.Config) {
	if o.quiet || out == nil {
		return
	}
	for _, w := range cfg.ValidationWarnings() {
		out.Warn("warning: %s", w)
	}
}
