package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run(os.Args))
}

// run executes the CLI and returns the process exit code. An interrupt
// cancels in-flight requests; months already fetched stay cached.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "jdata: %v\n", err)
		return 1
	}
	return 0
}
