// Package async runs functions concurrently behind a counting gate and
// collects their results.
//
//	gate := async.NewGate(4)
//	futures := make([]*async.Future[Outcome], len(handlers))
//	for i, h := range handlers {
//		futures[i] = async.Go(ctx, gate, func(ctx context.Context) (Outcome, error) {
//			return run(ctx, h)
//		})
//	}
//	for _, r := range async.AwaitAll(futures...) {
//		// every future is awaited, failures included
//	}
//
// Panics inside a function are recovered and surfaced as *PanicError with
// the goroutine stack attached.
package async
