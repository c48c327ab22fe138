// SPDX-License-Identifier: GPL-3.0-or-later

// Package multihttp runs many HTTP transfers over a small pool of reusable
// multiplexing sessions, with an event pipeline around each request.
//
// # Core Abstractions
//
// A [*Transaction] pairs an [*http.Request] with its eventual response. The
// [*Adapter] runs transactions either one at a time ([*Adapter.Send]) or
// as a batch with bounded parallelism ([*Adapter.Batch]):
//
//	err := adapter.Batch(ctx, slices.Values(txs), 4)
//
// A batch consumes its transactions lazily from an [iter.Seq], so the
// sequence may be arbitrarily long or even infinite. Whenever a transfer
// completes, exactly one pending transaction is started in its place.
//
// # Sessions and Pooling
//
// Transfers run inside a [Session] created by a [Multiplexer]. Each
// invocation of the adapter checks out a session from a [*SessionPool],
// which keeps at most [Config.MaxPooledSessions] idle sessions around and
// closes the oldest ones on release. [*HTTPMultiplexer] is the production
// [Multiplexer]: its sessions share one [*http.Transport] configured for
// HTTP/2, so that concurrent transfers to the same origin share a
// connection when the server negotiates "h2".
//
// The adapter poll loop runs on the caller's goroutine. It never blocks
// except while waiting for session readiness.
//
// # Events
//
// An [EventPipeline] receives three events per transaction:
//
//   - before-send, where a listener may supply a response with
//     [*BeforeSendEvent.Intercept] and skip the network entirely
//   - after-send, with the [TransferInfo] of the completed transfer
//   - error, where a listener may recover with [*ErrorEvent.Intercept]
//
// [*Emitter] is the default [EventPipeline].
//
// # Error Handling
//
// Session-level failures are always returned as [*SessionError]. Transfer
// failures are reported as [*TransferError] carrying a [ResultCode], and
// listener errors are returned as-is. Whether these per-transaction errors
// abort a batch depends on [*Adapter.ThrowOnError]. When it is false,
// failing transactions are left without a response.
//
// # Observability
//
// All the components accept an [SLogger] and emit span-style events
// (batchStart/batchDone, transferStart/transferDone, connectStart/connectDone,
// httpRoundTripStart/httpRoundTripDone, ...) carrying the transaction span
// ID, timestamps and the error class computed by an [ErrClassifier].
//
// # Client
//
// [*Client] wires together an [*Emitter], a [*SessionPool] backed by an
// [*HTTPMultiplexer], and an [*Adapter]. Its [*Client.SendFunc] adapts
// [*Client.Send] to the [Func] interface.
package multihttp
