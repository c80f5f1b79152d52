package types

// Logger is the structured logger every jobline component writes to.
//
// Fields are passed as alternating key-value pairs, for example
// logger.Warn("dead-lettering message", "subject", subj, "reason", reason).
// Components default to a no-op logger; the CLI installs the slog adapter
// from internal/logging and tests use internal/logger. A zap SugaredLogger
// also satisfies the interface.
type Logger interface {
	// Debug records per-message detail such as ack decisions and gate waits.
	Debug(msg string, keysAndValues ...any)

	// Info records lifecycle events: pipeline start and stop, topology changes.
	Info(msg string, keysAndValues ...any)

	// Warn records recoverable problems: naks, retried publishes, config warnings.
	Warn(msg string, keysAndValues ...any)

	// Error records failures that lose work or need an operator, such as a
	// job whose failed status could not be persisted.
	Error(msg string, keysAndValues ...any)

	// Fatal records an unrecoverable error and exits the process.
	// Test and no-op implementations may return instead.
	Fatal(msg string, keysAndValues ...any)
}
