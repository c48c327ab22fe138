// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// AdapterStats contains cumulative [*Adapter] counters.
type AdapterStats struct {
	// Started counts the transactions that entered a batch.
	Started atomic.Int64

	// Intercepted counts the transactions that got a response
	// from a before-send listener without any transfer.
	Intercepted atomic.Int64

	// Succeeded counts the transfers that completed successfully.
	Succeeded atomic.Int64

	// Failed counts the transfers that completed with a transport failure.
	Failed atomic.Int64

	// Refilled counts the transfers started from the pending
	// sequence to replace a completed one.
	Refilled atomic.Int64
}

// Adapter drives HTTP transfers over sessions checked out from a [*SessionPool].
//
// The poll loop runs on the caller's goroutine: transfers make progress
// while the loop waits for the session readiness, and completions are
// dispatched synchronously, in the order the session reports them.
//
// The same Adapter may be used concurrently: each call checks out its
// own session from the pool.
//
// All fields are safe to modify after construction but before first use.
type Adapter struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewAdapter] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Events is the [EventPipeline] receiving lifecycle events.
	//
	// Set by [NewAdapter] to the user-provided pipeline.
	Events EventPipeline

	// Factory creates the handle of each transaction.
	//
	// Set by [NewAdapter] to [NewHandleFactory].
	Factory HandleFactory

	// FirstWaitTimeout is the timeout of the first readiness wait.
	//
	// Set by [NewAdapter] from [Config.FirstWaitTimeout].
	FirstWaitTimeout time.Duration

	// Logger is the [SLogger] to use.
	//
	// Set by [NewAdapter] to the user-provided logger.
	Logger SLogger

	// Pool provides the sessions.
	//
	// Set by [NewAdapter] to the user-provided pool.
	Pool *SessionPool

	// Sleep sleeps for the given duration (configurable for testing).
	//
	// Set by [NewAdapter] to [time.Sleep].
	Sleep func(d time.Duration)

	// Stats contains the cumulative counters.
	Stats AdapterStats

	// ThrowOnError is the throw-on-error policy of [*Adapter.Batch].
	// When true, the first failing transaction aborts the batch. When
	// false, failing transactions are left without a response and the
	// batch continues. [*Adapter.Send] always behaves as if true.
	//
	// Set by [NewAdapter] to true.
	ThrowOnError bool

	// TimeNow is the function to get the current time.
	//
	// Set by [NewAdapter] from [Config.TimeNow].
	TimeNow func() time.Time

	// WaitFailureSleep is the sleep after a spurious wait failure.
	//
	// Set by [NewAdapter] from [Config.WaitFailureSleep].
	WaitFailureSleep time.Duration

	// WaitTimeout is the timeout of all readiness waits but the first.
	//
	// Set by [NewAdapter] from [Config.WaitTimeout].
	WaitTimeout time.Duration
}

// NewAdapter returns a new [*Adapter].
func NewAdapter(cfg *Config, pool *SessionPool, events EventPipeline, logger SLogger) *Adapter {
	return &Adapter{
		ErrClassifier:    cfg.ErrClassifier,
		Events:           events,
		Factory:          NewHandleFactory(),
		FirstWaitTimeout: cfg.FirstWaitTimeout,
		Logger:           logger,
		Pool:             pool,
		Sleep:            time.Sleep,
		ThrowOnError:     true,
		TimeNow:          cfg.TimeNow,
		WaitFailureSleep: cfg.WaitFailureSleep,
		WaitTimeout:      cfg.WaitTimeout,
	}
}

// Send runs a single transaction to completion and returns its response.
//
// Any transport failure or pipeline error is returned. If the pipeline
// swallows everything but leaves tx without a response, Send returns
// [ErrNoResponse].
func (a *Adapter) Send(ctx context.Context, tx *Transaction) (*http.Response, error) {
	if err := a.run(ctx, tx, nil, 1, true); err != nil {
		return nil, err
	}
	resp := tx.Response()
	if resp == nil {
		return nil, ErrNoResponse
	}
	return resp, nil
}

// Batch runs all the transactions yielded by seq to completion, keeping
// at most parallelism transfers in flight.
//
// Batch does not return per-transaction results: inspect the response of
// each transaction once Batch returns. The [*Adapter.ThrowOnError] policy
// decides whether the first failure aborts the batch.
func (a *Adapter) Batch(ctx context.Context, seq iter.Seq[*Transaction], parallelism int) error {
	if parallelism < 1 {
		return ErrInvalidParallelism
	}
	return a.run(ctx, nil, seq, parallelism, a.ThrowOnError)
}

func (a *Adapter) run(ctx context.Context,
	single *Transaction, seq iter.Seq[*Transaction], parallelism int, throwOnError bool) (err error) {
	t0 := a.TimeNow()
	a.Logger.Info(
		"batchStart",
		slog.Int("parallelism", parallelism),
		slog.Bool("single", single != nil),
		slog.Bool("throwOnError", throwOnError),
		slog.Time("t", t0),
	)
	defer func() {
		a.Logger.Info(
			"batchDone",
			slog.Any("err", err),
			slog.String("errClass", a.ErrClassifier.Classify(err)),
			slog.Int("parallelism", parallelism),
			slog.Bool("single", single != nil),
			slog.Bool("throwOnError", throwOnError),
			slog.Time("t0", t0),
			slog.Time("t", a.TimeNow()),
		)
	}()

	session, err := a.Pool.Checkout()
	if err != nil {
		return err
	}
	defer a.Pool.Release(session)

	bc := NewBatchContext(session, throwOnError, seq)
	defer bc.Close()

	if single != nil {
		if _, err := a.add(ctx, bc, single); err != nil {
			return err
		}
	} else {
		for range parallelism {
			if !bc.HasPending() {
				break
			}
			if _, err := a.addNext(ctx, bc); err != nil {
				return err
			}
		}
	}

	return a.perform(ctx, bc)
}

// add starts tx and reports whether it is now in flight.
func (a *Adapter) add(ctx context.Context, bc *BatchContext, tx *Transaction) (bool, error) {
	if !tx.start() {
		return false, ErrTransactionReused
	}
	a.Stats.Started.Add(1)

	if err := a.Events.EmitBeforeSend(tx); err != nil {
		if err := a.handleError(bc, tx, err); err != nil {
			return false, err
		}
	}

	if tx.Response() != nil {
		a.Stats.Intercepted.Add(1)
		a.Logger.Info(
			"transferIntercepted",
			slog.String("httpMethod", tx.method()),
			slog.String("httpUrl", tx.url()),
			slog.String("spanID", tx.SpanID),
			slog.Time("t", a.TimeNow()),
		)
		return false, nil
	}

	h, err := a.Factory.CreateHandle(ctx, tx)
	if err != nil {
		a.Stats.Failed.Add(1)
		if err := a.Events.EmitError(tx, err); err != nil {
			return false, a.handleError(bc, tx, err)
		}
		return false, nil
	}
	if err := bc.AddTransaction(tx, h); err != nil {
		h.Close()
		return false, err
	}

	a.Logger.Info(
		"transferStart",
		slog.String("httpMethod", tx.method()),
		slog.String("httpUrl", tx.url()),
		slog.Int("inFlight", bc.InFlight()),
		slog.String("spanID", tx.SpanID),
		slog.Time("t", a.TimeNow()),
	)
	return true, nil
}

// addNext starts pending transactions until one of them is in flight
// or the pending sequence is exhausted. Intercepted transactions do not
// occupy an in-flight slot, so they do not stop the search.
func (a *Adapter) addNext(ctx context.Context, bc *BatchContext) (bool, error) {
	for {
		tx, ok := bc.NextPending()
		if !ok {
			return false, nil
		}
		inFlight, err := a.add(ctx, bc, tx)
		if err != nil || inFlight {
			return inFlight, err
		}
	}
}

// perform runs the poll loop until nothing is in flight or pending.
func (a *Adapter) perform(ctx context.Context, bc *BatchContext) error {
	session := bc.Session()
	timeout := a.FirstWaitTimeout
	for {
		var running int
		for {
			var (
				again bool
				err   error
			)
			running, again, err = session.Perform()
			if err != nil {
				return &SessionError{Op: "perform", Err: err}
			}
			if !again {
				break
			}
		}

		if err := a.processCompletions(ctx, bc); err != nil {
			return err
		}

		if !bc.IsActive() && bc.HasPending() {
			if _, err := a.addNext(ctx, bc); err != nil {
				return err
			}
			continue
		}

		if running <= 0 && !bc.IsActive() {
			return nil
		}

		ready, err := session.Wait(timeout)
		a.Logger.Debug(
			"pollWait",
			slog.Any("err", err),
			slog.Int("inFlight", bc.InFlight()),
			slog.Int("ready", ready),
			slog.Duration("timeout", timeout),
		)
		if err != nil {
			return &SessionError{Op: "wait", Err: err}
		}
		if ready < 0 {
			a.Sleep(a.WaitFailureSleep)
		}
		timeout = a.WaitTimeout
	}
}

// processCompletions dispatches the available completions and starts
// one pending transaction for each of them.
func (a *Adapter) processCompletions(ctx context.Context, bc *BatchContext) error {
	session := bc.Session()
	for _, c := range session.Completions() {
		tx, found := bc.TransactionFor(c.Handle)
		if !found {
			continue
		}
		info := session.Info(c.Handle)
		if err := bc.RemoveTransaction(tx); err != nil {
			return err
		}
		if err := a.complete(bc, tx, c, info); err != nil {
			return err
		}
		if bc.HasPending() {
			started, err := a.addNext(ctx, bc)
			if err != nil {
				return err
			}
			if started {
				a.Stats.Refilled.Add(1)
			}
		}
	}
	return nil
}

func (a *Adapter) complete(bc *BatchContext, tx *Transaction, c Completion, info TransferInfo) error {
	if c.Result.Success() {
		if c.Result != ResultOK {
			a.Logger.Info(
				"suspiciousResultCode",
				slog.Int("resultCode", int(c.Result)),
				slog.String("reason", c.Result.String()),
				slog.String("spanID", tx.SpanID),
			)
		}
		tx.SetResponse(c.Response)
		a.Stats.Succeeded.Add(1)
		a.logTransferDone(tx, info, nil)
		if err := a.Events.EmitAfterSend(tx, info); err != nil {
			return a.handleError(bc, tx, err)
		}
		return nil
	}

	terr := &TransferError{
		Code:   c.Result,
		Reason: c.Result.String(),
		URL:    tx.url(),
		Err:    c.Err,
	}
	a.Stats.Failed.Add(1)
	a.logTransferDone(tx, info, terr)
	if err := a.Events.EmitError(tx, terr); err != nil {
		return a.handleError(bc, tx, err)
	}
	return nil
}

// handleError applies the throw-on-error policy: it returns err when the
// policy is set and nil otherwise. The deferred release in run guarantees
// that the session returns to the pool before the caller sees the error.
func (a *Adapter) handleError(bc *BatchContext, tx *Transaction, err error) error {
	if bc.ThrowOnError() {
		return err
	}
	a.Logger.Info(
		"transferErrorSuppressed",
		slog.Any("err", err),
		slog.String("errClass", a.ErrClassifier.Classify(err)),
		slog.String("spanID", tx.SpanID),
	)
	return nil
}

func (a *Adapter) logTransferDone(tx *Transaction, info TransferInfo, err error) {
	a.Logger.Info(
		"transferDone",
		slog.Any("err", err),
		slog.String("errClass", a.ErrClassifier.Classify(err)),
		slog.String("httpMethod", tx.method()),
		slog.String("httpUrl", tx.url()),
		slog.String("httpEffectiveUrl", info.EffectiveURL),
		slog.Int("httpResponseStatusCode", info.StatusCode),
		slog.String("localAddr", info.LocalAddr),
		slog.String("remoteAddr", info.RemoteAddr),
		slog.String("spanID", tx.SpanID),
		slog.Duration("totalTime", info.TotalTime),
		slog.Time("t", a.TimeNow()),
	)
}
