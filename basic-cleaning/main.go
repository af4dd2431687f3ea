package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/basic-cleaning/internal/cleaning"
)

func main() {
	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit status: 0 on success,
// 2 for configuration errors and 1 for everything else.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := newCLI(stdout)
	cmd := c.command()
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	logger := c.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(stdout, nil))
	}
	attrs := []any{"error", err}
	if phase, ok := cleaning.PhaseOf(err); ok {
		attrs = append(attrs, "phase", string(phase))
	}
	logger.Error("basic cleaning failed", attrs...)
	return exitCode(err, c.started)
}
