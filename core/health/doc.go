// Package health provides liveness and readiness probe handlers for
// net/http routers.
//
//	r.Get("/health/live", health.Liveness)
//	r.Get("/health/ready", health.Readiness(log,
//		health.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
//		health.Check{Name: "queue", Fn: svc.Healthcheck},
//	))
//
// Liveness always answers ALIVE. Readiness runs every check and answers
// READY, or 503 naming the failed checks.
package health
