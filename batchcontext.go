// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"iter"

	"github.com/bassosimone/runtimex"
)

// BatchContext tracks the transfers of one [*Adapter] invocation.
//
// It borrows a [Session] from the [*SessionPool] and keeps a bidirectional
// mapping between in-flight handles and transactions, the cursor over
// the pending (not-yet-started) transactions, and the throw-on-error policy.
//
// A BatchContext is owned by a single poll loop and is not safe
// for concurrent use.
type BatchContext struct {
	session      Session
	handles      map[*TransferHandle]*Transaction
	transactions map[*Transaction]*TransferHandle
	next         func() (*Transaction, bool)
	stop         func()
	exhausted    bool
	throwOnError bool
}

// NewBatchContext returns a new [*BatchContext].
//
// The pending argument is the lazy, possibly infinite, sequence of
// transactions to start as in-flight slots become free. A nil pending
// sequence means single mode: there is nothing to refill from.
func NewBatchContext(session Session, throwOnError bool, pending iter.Seq[*Transaction]) *BatchContext {
	bc := &BatchContext{
		session:      session,
		handles:      make(map[*TransferHandle]*Transaction),
		transactions: make(map[*Transaction]*TransferHandle),
		exhausted:    pending == nil,
		throwOnError: throwOnError,
	}
	if pending != nil {
		bc.next, bc.stop = iter.Pull(pending)
	}
	return bc
}

// Session returns the borrowed session.
func (bc *BatchContext) Session() Session {
	return bc.session
}

// ThrowOnError returns the throw-on-error policy.
func (bc *BatchContext) ThrowOnError() bool {
	return bc.throwOnError
}

// IsActive reports whether at least one transfer is in flight.
func (bc *BatchContext) IsActive() bool {
	return len(bc.handles) > 0
}

// InFlight returns the number of in-flight transfers.
func (bc *BatchContext) InFlight() int {
	return len(bc.handles)
}

// HasPending reports whether the pending sequence may yield more transactions.
//
// Exhaustion is only discovered by [*BatchContext.NextPending] and is permanent.
func (bc *BatchContext) HasPending() bool {
	return !bc.exhausted
}

// NextPending advances the pending sequence by one element.
func (bc *BatchContext) NextPending() (*Transaction, bool) {
	if bc.exhausted {
		return nil, false
	}
	tx, ok := bc.next()
	if !ok {
		bc.exhausted = true
		bc.stop()
		return nil, false
	}
	return tx, true
}

// AddTransaction registers the handle performing tx with the session.
func (bc *BatchContext) AddTransaction(tx *Transaction, h *TransferHandle) error {
	if _, found := bc.transactions[tx]; found {
		return ErrDuplicateTransaction
	}
	if err := bc.session.Add(h); err != nil {
		return &SessionError{Op: "add", Err: err}
	}
	bc.handles[h] = tx
	bc.transactions[tx] = h
	return nil
}

// TransactionFor returns the transaction performed by h.
func (bc *BatchContext) TransactionFor(h *TransferHandle) (*Transaction, bool) {
	tx, ok := bc.handles[h]
	return tx, ok
}

// RemoveTransaction detaches the handle of tx from the session and discards it.
//
// Removing a transaction that is not in flight is a no-op.
func (bc *BatchContext) RemoveTransaction(tx *Transaction) error {
	h, found := bc.transactions[tx]
	if !found {
		return nil
	}
	delete(bc.transactions, tx)
	delete(bc.handles, h)
	defer h.Close()
	if err := bc.session.Remove(h); err != nil {
		return &SessionError{Op: "remove", Err: err}
	}
	return nil
}

// Close detaches all in-flight transfers and stops the pending sequence.
//
// Close must be called before returning the session to the pool. Errors
// from detaching the transfers are ignored: the batch is already over and
// each handle is closed regardless, which stops its transfer.
func (bc *BatchContext) Close() {
	for tx, h := range bc.transactions {
		_ = bc.session.Remove(h)
		h.Close()
		delete(bc.transactions, tx)
		delete(bc.handles, h)
	}
	if !bc.exhausted {
		bc.exhausted = true
		bc.stop()
	}
	runtimex.Assert(len(bc.handles) == 0)
}
