// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

// SLogger abstracts the [*slog.Logger] behavior.
//
// This package uses two log levels:
//   - Info for lifecycle events (batch, transfer, HTTP round trip,
//     body stream, connect, close)
//   - Debug for poll loop events (readiness waits, session checkout
//     and release)
//
// The [*slog.Logger] type satisfies this interface. Implementations must be
// safe for concurrent use because [*HTTPMultiplexer] logs from the goroutines
// running the transfers.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// DefaultSLogger returns the default [SLogger] to use.
//
// The default is a no-op logger that discards all output.
func DefaultSLogger() SLogger {
	return discardSLogger{}
}

type discardSLogger struct{}

var _ SLogger = discardSLogger{}

// Debug implements [SLogger].
func (discardSLogger) Debug(msg string, args ...any) {
	// nothing
}

// Info implements [SLogger].
func (discardSLogger) Info(msg string, args ...any) {
	// nothing
}
