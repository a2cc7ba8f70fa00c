package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newAuditCmd audits a set of URLs, optionally crawling them for more pages
// first.
func newAuditCmd() *cobra.Command {
	var (
		jsonOut     bool
		crawlDepth  int
		parallelism int
		statusAddr  string
	)

	cmd := &cobra.Command{
		Use:   "audit [url ...]",
		Short: "Audit pages across the configured device profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("crawl") {
				state.cfg.Discover.MaxDepth = crawlDepth
			}
			if cmd.Flags().Changed("parallelism") {
				state.cfg.Audit.Parallelism = parallelism
			}
			state.statusAddr = statusAddr

			seeds := args
			if len(seeds) == 0 {
				seeds = state.cfg.Audit.URLs
			}
			if len(seeds) == 0 {
				return fmt.Errorf("no URLs given: pass them as arguments or set audit.urls")
			}

			tasks, err := buildTasks(cmd.Context(), state, seeds)
			if err != nil {
				return err
			}
			return executeRun(cmd.Context(), state, tasks, cmd.OutOrStdout(), jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the run summary as JSON")
	cmd.Flags().IntVar(&crawlDepth, "crawl", 0, "crawl the seed hosts this many levels deep for more pages")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "worker count (0 = auto)")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve the status API on this address for the duration of the run")
	return cmd
}
