// Command relay runs the dispatch worker: command orchestration, outbox
// delivery, notification sending and the ops endpoint.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/relay/app/relay"
	"github.com/dmitrymomot/relay/core/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := relay.NewApp(ctx)
	if err != nil {
		slog.Error("start relay", logger.Error(err))
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		slog.Error("relay stopped", logger.Error(err))
		os.Exit(1)
	}
}
