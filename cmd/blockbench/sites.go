package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/blockbench/pkg/benchmark"
	"github.com/odvcencio/blockbench/pkg/config"
	"github.com/odvcencio/blockbench/pkg/results"
	"github.com/odvcencio/blockbench/pkg/terminal"
)

func newSitesCmd(root *rootOptions, out *terminal.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the configured sites with their URLs and sheet names",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			root.warn(out, cfg)
			return out.Markdown(sitesMarkdown(cfg))
		},
	}
}

func sitesMarkdown(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d sites, %d trials each, output `%s`\n\n",
		len(cfg.Sites), cfg.Benchmark.NumTests, cfg.OutputPath(results.FileName(cfg.Benchmark.NumTests)))
	b.WriteString("| # | URL | Sheet |\n")
	b.WriteString("|---|-----|-------|\n")
	for i, raw := range cfg.Sites {
		site := benchmark.Site(strings.TrimSpace(raw))
		fmt.Fprintf(&b, "| %d | %s | %s |\n", i+1, escapeCell(site.URL()), escapeCell(results.SheetName(site.Domain())))
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
