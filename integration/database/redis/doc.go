// Package redis connects go-redis clients with retry and exposes a health
// check.
//
// Connect parses a redis:// or rediss:// URL, then pings until the server
// answers, backing off exponentially from RetryInterval. The whole attempt is
// bounded by ConnectTimeout:
//
//	client, err := redis.Connect(ctx, redis.Config{
//		ConnectionURL: "redis://localhost:6379/0",
//		RetryAttempts: 3,
//		RetryInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Healthcheck(client) returns a probe suitable for readiness endpoints.
//
// Errors are package sentinels wrapped around the go-redis cause; match them
// with errors.Is:
//
//   - ErrEmptyConnectionURL when no URL is configured
//   - ErrFailedToParseRedisConnString when the URL is malformed
//   - ErrRedisNotReady when the server never answered
//   - ErrHealthcheckFailed when a probe ping fails
package redis
