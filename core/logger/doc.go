// Package logger builds slog loggers and provides attribute helpers.
//
//	log := logger.New(
//		logger.WithProduction("relay"),
//		logger.WithContextExtractors(command.LogAttrs),
//	)
//
//	log.InfoContext(ctx, "envelope completed",
//		logger.EnvelopeID(env.ID),
//		logger.CommandType(env.CommandType),
//		logger.Duration(time.Since(start)),
//	)
//
// Helpers return an empty slog.Attr for nil or empty values, so they can be
// passed unconditionally:
//
//	log.ErrorContext(ctx, "delivery failed", logger.Error(err))
package logger
