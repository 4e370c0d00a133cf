package relay

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Run starts the queue service, the redis pollers and the ops server, and
// blocks until ctx is cancelled or one of them fails. Resources the app
// opened are released on return.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	a.logger.InfoContext(ctx, "relay starting",
		slog.String("jobs_backend", a.config.JobsBackend),
		slog.Int("pollers", len(a.pollers)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.queue.Run(ctx) })
	for _, p := range a.pollers {
		g.Go(p.Run(ctx))
	}
	g.Go(a.server.Run(ctx, a.Router()))

	err := g.Wait()
	a.logger.InfoContext(context.WithoutCancel(ctx), "relay stopped")
	return err
}
