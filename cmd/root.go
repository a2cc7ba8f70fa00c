// Package cmd defines and implements the CLI commands for the signaler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/config"
	"github.com/signaler-dev/signaler/internal/logging"
)

// appKeyType is the key for storing the app state in the context.
type appKeyType string

const appKey appKeyType = "app"

// appState carries the loaded configuration and logger into subcommands.
type appState struct {
	cfg     config.Config
	cfgPath string
	logger  *zap.Logger

	// statusAddr overrides the configured status server address for one run.
	statusAddr string
}

func resolveApp(ctx context.Context) (*appState, error) {
	state, ok := ctx.Value(appKey).(*appState)
	if !ok || state == nil {
		return nil, errors.New("application services not initialized")
	}
	return state, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "signaler",
		Short: "Batch web-page auditor",
		Long: `signaler audits web pages in batches: for each (url, device) pair it
drives a browser over the DevTools protocol, collects timing and page-shape
metrics (or delegates to the external analysis engine), and aggregates the
results into a run report.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, &appState{cfg: cfg, cfgPath: cfgFile, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if state, ok := cmd.Context().Value(appKey).(*appState); ok && state != nil {
				_ = state.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults + SIGNALER_ env)")

	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newFolderCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newEngineCmd())
	cmd.AddCommand(newWorkerCmd())

	return cmd
}

// Execute is the main entry point.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
