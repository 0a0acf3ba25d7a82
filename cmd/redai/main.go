// redai runs the conversational speech pipeline outside Lambda.
//
// Usage:
//
//	redai run --user=<id> --prompt=<text> [--repeat=N]
//	redai serve [--addr=:9090]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
