// Package logging decouples the application from a concrete logging
// backend. Services depend on the Logger interface; the entrypoint decides
// what actually handles the records.
package logging

import "context"

// Logger is a leveled, context-aware structured logger. Variadic args are
// alternating key-value pairs:
//
//	log.Warn(ctx, "unlock rejected", "username", name, "reason", reason)
type Logger interface {
	// Debug logs diagnostics that are too chatty for normal operation.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs normal operational events.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger carrying the given key-value pairs on
	// every record.
	With(args ...any) Logger
}
