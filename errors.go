// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParallelism indicates that [*Adapter.Batch] was called
	// with a parallelism bound smaller than one.
	ErrInvalidParallelism = errors.New("multihttp: parallelism must be positive")

	// ErrTransactionReused indicates that a [*Transaction] was submitted
	// again after having already been started.
	ErrTransactionReused = errors.New("multihttp: transaction already started")

	// ErrDuplicateTransaction indicates that a [*BatchContext] already
	// tracks a handle for the given [*Transaction].
	ErrDuplicateTransaction = errors.New("multihttp: transaction already in flight")

	// ErrNoResponse indicates that [*Adapter.Send] completed without errors
	// but the event pipeline left the transaction without a response.
	ErrNoResponse = errors.New("multihttp: transaction completed without a response")

	// ErrPoolClosed indicates that [*SessionPool.Checkout] was called
	// after [*SessionPool.Close].
	ErrPoolClosed = errors.New("multihttp: session pool closed")

	// ErrSessionClosed is returned by [Session] methods after Close.
	ErrSessionClosed = errors.New("multihttp: session closed")

	// ErrUnknownHandle is returned by [Session] methods given a
	// [*TransferHandle] the session does not know about.
	ErrUnknownHandle = errors.New("multihttp: unknown transfer handle")
)

// TransferError describes a transport-level failure of a single transfer.
//
// It is what the error event receives when a completion carries a
// [ResultCode] that is not a success.
type TransferError struct {
	// Code is the transport result code.
	Code ResultCode

	// Reason is the human-readable reason for Code.
	Reason string

	// URL is the target URL of the failed transfer.
	URL string

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.
func (e *TransferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("multihttp: transfer failed: %s (code %d) for %s", e.Reason, int(e.Code), e.URL)
	}
	return fmt.Sprintf("multihttp: transfer failed: %s (code %d) for %s: %v", e.Reason, int(e.Code), e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// SessionError wraps an error returned by a [Session] or a [Multiplexer].
//
// Session errors are environment or programming errors and are always
// returned to the caller regardless of the throw-on-error policy.
type SessionError struct {
	// Op is the session operation that failed (e.g., "perform").
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *SessionError) Error() string {
	return fmt.Sprintf("multihttp: session %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}
