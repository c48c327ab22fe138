// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"net/http"
	"sync/atomic"
	"time"
)

// Transaction pairs an HTTP request with its eventual response.
//
// A Transaction is the unit of work of [*Adapter]. It is created by the caller
// before submission and it is started at most once: submitting it again,
// within the same batch or in another one, fails with [ErrTransactionReused].
//
// The response is set either by the [*Adapter], when the transfer succeeds
// at the transport level, or by an event listener that intercepts the
// transaction (see [*BeforeSendEvent.Intercept]).
type Transaction struct {
	// Client is the [*Client] that created the transaction, if any. Event
	// listeners may use it as context; the adapter itself does not.
	Client *Client

	// Request is the request to send. It must not be modified after
	// the transaction has been submitted.
	Request *http.Request

	// SpanID correlates the structured log events caused by this transaction.
	//
	// Set by [NewTransaction] using [NewSpanID].
	SpanID string

	// Timeout is the per-transaction timeout. Zero means no timeout other
	// than the one carried by the request context.
	Timeout time.Duration

	response *http.Response
	started  atomic.Bool
}

// NewTransaction creates a new [*Transaction] for the given request.
func NewTransaction(req *http.Request) *Transaction {
	return &Transaction{
		Request: req,
		SpanID:  NewSpanID(),
	}
}

// Response returns the response, or nil if there is none yet.
func (tx *Transaction) Response() *http.Response {
	return tx.response
}

// SetResponse sets the response.
func (tx *Transaction) SetResponse(resp *http.Response) {
	tx.response = resp
}

// start marks the transaction as started and reports whether
// this is the first time it happens.
func (tx *Transaction) start() bool {
	return tx.started.CompareAndSwap(false, true)
}

func (tx *Transaction) method() string {
	if tx.Request == nil {
		return ""
	}
	return tx.Request.Method
}

func (tx *Transaction) url() string {
	if tx.Request == nil || tx.Request.URL == nil {
		return ""
	}
	return tx.Request.URL.String()
}
