// Command sampleindex plans variant queries against the sample index and
// manages the study metadata the planner reads.
//
// Logging:
//   - Base logger is created by the root command from --log-level and --log-format
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/wychytu/opencga/cmd/sampleindex/cli"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := cli.NewRootCommand(version).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
