// forkhost - a pre-forking network service host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"forkhost/cmd"
	"forkhost/internal/errors"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "forkhost: %v\n", err)
		cancel()
		os.Exit(errors.ExitCode(err))
	}
}
