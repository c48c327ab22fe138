// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"net"
	"time"
)

// Config holds common configuration for multihttp components.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*HTTPMultiplexer] through [*ObserveDialer].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// FirstWaitTimeout is the readiness timeout used by the first wait
	// of a poll loop, right after new transfers have been started.
	//
	// Set by [NewConfig] to 1 millisecond.
	FirstWaitTimeout time.Duration

	// MaxPooledSessions is the number of sessions a [*SessionPool]
	// keeps around after a release.
	//
	// Set by [NewConfig] to 3.
	MaxPooledSessions int

	// MaxRedirects is the maximum number of redirects followed by
	// a single transfer of [*HTTPMultiplexer].
	//
	// Set by [NewConfig] to 10.
	MaxRedirects int

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// WaitFailureSleep is how long the poll loop sleeps when the
	// readiness wait spuriously reports failure.
	//
	// Set by [NewConfig] to 150 microseconds.
	WaitFailureSleep time.Duration

	// WaitTimeout is the readiness timeout used by all waits
	// except the first one.
	//
	// Set by [NewConfig] to 1 second.
	WaitTimeout time.Duration
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:            &net.Dialer{},
		ErrClassifier:     DefaultErrClassifier,
		FirstWaitTimeout:  time.Millisecond,
		MaxPooledSessions: 3,
		MaxRedirects:      10,
		TimeNow:           time.Now,
		WaitFailureSleep:  150 * time.Microsecond,
		WaitTimeout:       time.Second,
	}
}
