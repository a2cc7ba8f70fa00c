// Command signaler audits web pages in batches over the DevTools protocol
// or via the external analysis engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/signaler-dev/signaler/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
