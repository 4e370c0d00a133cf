// Package server runs the operational HTTP endpoint of a worker process:
// health probes and statistics. It wraps http.Server with graceful shutdown
// and fits an errgroup-managed lifecycle:
//
//	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	g.Go(srv.Run(ctx, router))
//
// Run returns nil when ctx is cancelled, after in-flight requests finished
// or the shutdown timeout passed.
package server
