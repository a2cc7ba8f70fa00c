package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signaler-dev/signaler/internal/engine"
)

// newEngineCmd groups the analysis-engine inspection subcommands.
func newEngineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Inspect the external analysis engine installation",
	}
	cmd.AddCommand(newEnginePathCmd())
	cmd.AddCommand(newEngineResolveCmd())
	return cmd
}

// newEnginePathCmd prints the resolved engine entry script path.
func newEnginePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved engine entry path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := engine.Resolve()
			if err != nil {
				return err
			}
			entry, err := info.EntryPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry)
			return nil
		},
	}
}

// newEngineResolveCmd prints the full resolution report.
func newEngineResolveCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show where the engine manifest and cache were found",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := engine.Resolve()
			if err != nil {
				return err
			}
			report, err := info.Report()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encode resolution report: %w", err)
				}
				return nil
			}

			fmt.Fprintf(out, "manifest: %s (%s)\n", report.ManifestPath, report.ManifestSource)
			fmt.Fprintf(out, "entry:    %s\n", report.EntryPath)
			fmt.Fprintf(out, "engine:   %s (%s)\n", report.CacheLayout.ManifestEngineVersion, report.CacheLayout.SelectionState)
			fmt.Fprintf(out, "cache:    %s\n", report.CacheLayout.CacheDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the report as JSON")
	return cmd
}
