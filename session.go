// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"net/http"
	"time"
)

// Multiplexer creates [Session] instances.
//
// The [*SessionPool] uses a Multiplexer to create sessions on demand.
type Multiplexer interface {
	NewSession() (Session, error)
}

// Session drives many concurrent transfers within a single poll loop.
//
// A Session is used by a single [*BatchContext] at a time, hence
// implementations need not be safe for concurrent use by callers.
//
// Add registers a handle without starting it; Perform starts registered
// transfers and makes progress, returning the number of transfers still
// running and whether it should be called again right away. Completions
// returns (and forgets) the completions that became available. Wait blocks
// until at least one transfer has something to report or the timeout
// expires; a -1 ready count signals a spurious wait failure that the caller
// should survive with a short sleep. Remove detaches a handle, stopping its
// transfer if it is still running. Info returns introspection data about
// a handle. Close stops all transfers and releases the session.
//
// Every error returned by a Session is a session-level error.
type Session interface {
	Add(h *TransferHandle) error
	Remove(h *TransferHandle) error
	Perform() (running int, again bool, err error)
	Completions() []Completion
	Wait(timeout time.Duration) (ready int, err error)
	Info(h *TransferHandle) TransferInfo
	Close() error
}

// Completion is the outcome of a single transfer, as reported by a [Session].
type Completion struct {
	// Handle is the handle of the completed transfer.
	Handle *TransferHandle

	// Result is the transport-level result code.
	Result ResultCode

	// Response is the response, when Result indicates success.
	Response *http.Response

	// Err is the underlying error, when Result indicates failure.
	Err error
}
