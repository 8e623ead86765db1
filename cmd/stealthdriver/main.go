// File: cmd/stealthdriver/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/stealthdriver/cmd"
)

// osExit is a variable so tests can observe the exit code.
var osExit = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx)
	stop()
	osExit(code)
}

func run(ctx context.Context) int {
	if err := cmd.Execute(ctx); err != nil {
		// Ctrl+C is a normal way to end a launched session.
		if errors.Is(err, context.Canceled) {
			return 0
		}
		return 1
	}
	return 0
}
