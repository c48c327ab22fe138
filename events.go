// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"net/http"
	"slices"
	"sync"
)

// EventPipeline dispatches the lifecycle events of a [*Transaction].
//
// Each method may return an error, which the [*Adapter] handles according
// to its throw-on-error policy. EmitBeforeSend may cause the transaction to
// acquire a response as a side effect, in which case the adapter does not
// perform any transfer for it.
type EventPipeline interface {
	EmitBeforeSend(tx *Transaction) error
	EmitAfterSend(tx *Transaction, info TransferInfo) error
	EmitError(tx *Transaction, err error) error
}

// BeforeSendEvent is passed to [BeforeSendListener] before a transfer starts.
type BeforeSendEvent struct {
	// Transaction is the transaction about to be sent.
	Transaction *Transaction

	stopped bool
}

// Intercept sets the response of the transaction, so that no transfer
// happens, and stops the propagation of the event to other listeners.
func (ev *BeforeSendEvent) Intercept(resp *http.Response) {
	ev.Transaction.SetResponse(resp)
	ev.stopped = true
}

// AfterSendEvent is passed to [AfterSendListener] after a transfer succeeded.
type AfterSendEvent struct {
	// Transaction is the completed transaction.
	Transaction *Transaction

	// Info contains introspection data about the transfer.
	Info TransferInfo

	stopped bool
}

// StopPropagation prevents the remaining listeners from seeing the event.
func (ev *AfterSendEvent) StopPropagation() {
	ev.stopped = true
}

// ErrorEvent is passed to [ErrorListener] when a transaction fails.
type ErrorEvent struct {
	// Transaction is the failed transaction.
	Transaction *Transaction

	// Err is the error that caused the failure.
	Err error

	intercepted bool
}

// Intercept recovers from the error by setting the response of the
// transaction. The error is then not propagated further.
func (ev *ErrorEvent) Intercept(resp *http.Response) {
	ev.Transaction.SetResponse(resp)
	ev.intercepted = true
}

// BeforeSendListener observes a [*BeforeSendEvent].
type BeforeSendListener func(ev *BeforeSendEvent) error

// AfterSendListener observes an [*AfterSendEvent].
type AfterSendListener func(ev *AfterSendEvent) error

// ErrorListener observes an [*ErrorEvent].
type ErrorListener func(ev *ErrorEvent) error

// Emitter is the default [EventPipeline].
//
// Listeners run in registration order. A listener returning an error stops
// the dispatch and the error is returned to the [*Adapter]. An error event
// that no listener intercepts is returned as well, so that the adapter's
// throw-on-error policy decides what happens to it.
//
// The zero value is ready to use. Registering listeners is safe
// for concurrent use with dispatching events.
type Emitter struct {
	mu     sync.RWMutex
	before []BeforeSendListener
	after  []AfterSendListener
	errors []ErrorListener
}

// NewEmitter returns a new [*Emitter] without listeners.
func NewEmitter() *Emitter {
	return &Emitter{}
}

var _ EventPipeline = &Emitter{}

// OnBeforeSend registers a [BeforeSendListener].
func (e *Emitter) OnBeforeSend(fn BeforeSendListener) {
	e.mu.Lock()
	e.before = append(e.before, fn)
	e.mu.Unlock()
}

// OnAfterSend registers an [AfterSendListener].
func (e *Emitter) OnAfterSend(fn AfterSendListener) {
	e.mu.Lock()
	e.after = append(e.after, fn)
	e.mu.Unlock()
}

// OnError registers an [ErrorListener].
func (e *Emitter) OnError(fn ErrorListener) {
	e.mu.Lock()
	e.errors = append(e.errors, fn)
	e.mu.Unlock()
}

// EmitBeforeSend implements [EventPipeline].
func (e *Emitter) EmitBeforeSend(tx *Transaction) error {
	e.mu.RLock()
	listeners := slices.Clone(e.before)
	e.mu.RUnlock()

	ev := &BeforeSendEvent{Transaction: tx}
	for _, fn := range listeners {
		if err := fn(ev); err != nil {
			return err
		}
		if ev.stopped {
			break
		}
	}
	return nil
}

// EmitAfterSend implements [EventPipeline].
func (e *Emitter) EmitAfterSend(tx *Transaction, info TransferInfo) error {
	e.mu.RLock()
	listeners := slices.Clone(e.after)
	e.mu.RUnlock()

	ev := &AfterSendEvent{Transaction: tx, Info: info}
	for _, fn := range listeners {
		if err := fn(ev); err != nil {
			return err
		}
		if ev.stopped {
			break
		}
	}
	return nil
}

// EmitError implements [EventPipeline].
func (e *Emitter) EmitError(tx *Transaction, err error) error {
	e.mu.RLock()
	listeners := slices.Clone(e.errors)
	e.mu.RUnlock()

	ev := &ErrorEvent{Transaction: tx, Err: err}
	for _, fn := range listeners {
		if lerr := fn(ev); lerr != nil {
			return lerr
		}
		if ev.intercepted {
			return nil
		}
	}
	return ev.Err
}
