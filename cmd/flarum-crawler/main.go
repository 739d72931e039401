// Command flarum-crawler crawls a Flarum forum's public API into Postgres
// and serves the crawled data back over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flarum-crawler: %v\n", err)
		os.Exit(1)
	}
}
