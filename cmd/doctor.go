package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signaler-dev/signaler/internal/engine"
)

// newDoctorCmd probes the environment the engine pathway depends on.
func newDoctorCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that Node and a browser are available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := engine.Doctor(engine.RunCommandOutput)
			out := cmd.OutOrStdout()

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encode doctor report: %w", err)
				}
			} else {
				fmt.Fprintf(out, "node:    %s %s\n", mark(report.Node.OK), report.Node.Detail)
				fmt.Fprintf(out, "browser: %s %s\n", mark(report.Browser.OK), report.Browser.Detail)
			}

			if !report.OK {
				return fmt.Errorf("environment checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the report as JSON")
	return cmd
}

func mark(ok bool) string {
	if ok {
		return "ok "
	}
	return "FAIL"
}
