// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// TransferHandle is the transport-level handle of a single transfer.
//
// Handles are created by a [HandleFactory], added to a [Session] and
// discarded once the transfer completes. Only sessions are pooled.
// Handle identity is pointer identity.
type TransferHandle struct {
	// Request is the request to send, bound to the transfer context.
	Request *http.Request

	// Transaction is the transaction this handle performs.
	Transaction *Transaction

	cancel context.CancelFunc
}

// Close releases the resources associated with the transfer context,
// interrupting the transfer if it is still running.
func (h *TransferHandle) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

// HandleFactory converts a [*Transaction] into a [*TransferHandle].
//
// Implementations must be synchronous and must not start the transfer.
type HandleFactory interface {
	CreateHandle(ctx context.Context, tx *Transaction) (*TransferHandle, error)
}

// HandleFactoryFunc adapts a function to the [HandleFactory] interface.
type HandleFactoryFunc func(ctx context.Context, tx *Transaction) (*TransferHandle, error)

var _ HandleFactory = HandleFactoryFunc(nil)

// CreateHandle implements [HandleFactory].
func (f HandleFactoryFunc) CreateHandle(ctx context.Context, tx *Transaction) (*TransferHandle, error) {
	return f(ctx, tx)
}

// DefaultHandleFactory is the default [HandleFactory].
//
// It clones the transaction request onto a context derived from the one
// passed to [*Adapter.Send] or [*Adapter.Batch], applying the transaction
// timeout, or DefaultTimeout when the transaction has none.
type DefaultHandleFactory struct {
	// DefaultTimeout is the timeout for transactions without one.
	// Zero means no timeout.
	DefaultTimeout time.Duration
}

// NewHandleFactory returns a new [*DefaultHandleFactory].
func NewHandleFactory() *DefaultHandleFactory {
	return &DefaultHandleFactory{}
}

var _ HandleFactory = &DefaultHandleFactory{}

// errNoRequest indicates a transaction without a request.
var errNoRequest = errors.New("multihttp: transaction has no request")

// CreateHandle implements [HandleFactory].
func (f *DefaultHandleFactory) CreateHandle(ctx context.Context, tx *Transaction) (*TransferHandle, error) {
	if tx.Request == nil || tx.Request.URL == nil {
		return nil, errNoRequest
	}

	timeout := tx.Timeout
	if timeout <= 0 {
		timeout = f.DefaultTimeout
	}

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	handle := &TransferHandle{
		Request:     tx.Request.Clone(ctx),
		Transaction: tx,
		cancel:      cancel,
	}
	return handle, nil
}
