package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/discover"
)

// newFolderCmd serves a local directory of static pages and audits every
// HTML file in it.
func newFolderCmd() *cobra.Command {
	var (
		jsonOut    bool
		statusAddr string
	)

	cmd := &cobra.Command{
		Use:   "folder <dir>",
		Short: "Audit every HTML page under a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			state.statusAddr = statusAddr

			dir := args[0]
			routes, err := discover.FolderRoutes(dir)
			if err != nil {
				return err
			}
			srv, err := discover.ServeFolder(dir, state.logger)
			if err != nil {
				return err
			}
			defer srv.Close()

			urls := make([]string, 0, len(routes))
			for _, route := range routes {
				urls = append(urls, srv.BaseURL+route)
			}
			state.logger.Info("serving folder",
				zap.String("dir", dir),
				zap.String("base_url", srv.BaseURL),
				zap.Int("pages", len(urls)),
			)

			tasks := discover.Tasks(urls, state.cfg.Audit.Devices, state.cfg.TaskTimeout())
			return executeRun(cmd.Context(), state, tasks, cmd.OutOrStdout(), jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the run summary as JSON")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve the status API on this address for the duration of the run")
	return cmd
}
