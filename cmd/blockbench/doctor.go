package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/odvcencio/blockbench/pkg/config"
	bberrors "github.com/odvcencio/blockbench/pkg/errors"
	"github.com/odvcencio/blockbench/pkg/setup"
	"github.com/odvcencio/blockbench/pkg/terminal"
)

func newDoctorCmd(root *rootOptions, out *terminal.Writer) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that chromium, the extension and the output directory are ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			root.warn(out, cfg)

			checker := setup.NewChecker(cfg).WithIO(cmd.InOrStdin(), cmd.OutOrStdout())
			missing := checker.CheckAll()
			missingNames := make(map[string]bool, len(missing))
			for _, dep := range missing {
				missingNames[dep.Name] = true
			}
			for _, dep := range checker.Dependencies() {
				if missingNames[dep.Name] {
					out.Failure("✗ %s", dep.Name)
					continue
				}
				out.Success("✓ %s", dep.Name)
			}

			if fix && len(missing) > 0 {
				if err := checker.RunWizard(missing); err != nil {
					return withExitCode(err, exitConfig)
				}
				return nil
			}
			if blocking := setup.Blocking(missing); len(blocking) > 0 {
				return withExitCode(preflightError(blocking), exitConfig)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "Walk through setting up missing dependencies")
	return cmd
}

// preflight fails fast on missing required dependencies and warns on the rest.
// On an interactive terminal it offers the setup wizard first.
func preflight(cfg *config.Config, out *terminal.Writer) error {
	checker := setup.NewChecker(cfg)
	missing := checker.CheckAll()
	if len(missing) == 0 {
		return nil
	}
	if len(setup.Blocking(missing)) > 0 && term.IsTerminal(int(os.Stdin.Fd())) {
		if err := checker.RunWizard(missing); err != nil {
			return err
		}
		missing = checker.CheckAll()
	}
	for _, dep := range missing {
		if !dep.Required {
			out.Warn("warning: %s not found. %s", dep.Name, dep.Prompt)
		}
	}
	if blocking := setup.Blocking(missing); len(blocking) > 0 {
		return preflightError(blocking)
	}
	return nil
}

func preflightError(blocking []setup.Dependency) error {
	names := make([]string, 0, len(blocking))
	var tips []string
	for _, dep := range blocking {
		names = append(names, dep.Name)
		if dep.Prompt != "" {
			tips = append(tips, dep.Prompt)
		}
	}
	tips = append(tips, "run `blockbench doctor --fix` to set them up")
	return bberrors.New(bberrors.ErrCodeConfigInvalid, fmt.Sprintf("missing %s", strings.Join(names, ", "))).
		WithRemediation(tips...)
}
