package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/signaler-dev/signaler/internal/clock/system"
	"github.com/signaler-dev/signaler/internal/procpool"
	"github.com/signaler-dev/signaler/internal/scheduler"
)

// newWorkerCmd runs the child side of the process pool: it reads task
// envelopes from stdin and writes replies to stdout. The coordinator spawns
// it; it is not meant to be invoked by hand.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run as a process-pool worker (spawned by the coordinator)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := state.cfg

			factory, err := buildFactory(state)
			if err != nil {
				return err
			}
			exec := scheduler.NewExecutor(factory, scheduler.ExecConfig{
				MaxRetries:  cfg.Audit.MaxRetries,
				RotateEvery: cfg.Audit.RotateEvery,
				Backoff:     cfg.Backoff(),
			}, system.New(), state.logger, &scheduler.Counters{}, nil)
			defer exec.Close()

			return procpool.RunWorker(cmd.Context(), os.Stdin, os.Stdout, exec.Do, state.logger)
		},
	}
}
