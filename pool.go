// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"errors"
	"log/slog"
	"sync"
)

// SessionPool is a small cache of reusable [Session] instances.
//
// A session is either checked out, and owned by exactly one caller until
// released, or idle and available for reuse. The pool grows on demand at
// checkout time and shrinks back to MaxPooled sessions at release time by
// closing the oldest-inserted idle sessions. Checked-out sessions are never
// closed, so the MaxPooled bound only holds while at most MaxPooled
// sessions are checked out; the excess goes away on later releases.
//
// SessionPool is safe for concurrent use.
type SessionPool struct {
	// Logger is the [SLogger] to use.
	//
	// Set by [NewSessionPool] to the user-provided logger.
	Logger SLogger

	// MaxPooled is the number of sessions kept after a release.
	//
	// Set by [NewSessionPool] from [Config.MaxPooledSessions].
	MaxPooled int

	// Multiplexer creates new sessions.
	//
	// Set by [NewSessionPool] to the user-provided multiplexer.
	Multiplexer Multiplexer

	mu      sync.Mutex
	entries []*poolEntry // insertion order
	closed  bool
}

type poolEntry struct {
	session    Session
	checkedOut bool
}

// NewSessionPool returns a new [*SessionPool].
func NewSessionPool(cfg *Config, mux Multiplexer, logger SLogger) *SessionPool {
	return &SessionPool{
		Logger:      logger,
		MaxPooled:   cfg.MaxPooledSessions,
		Multiplexer: mux,
	}
}

// Checkout returns an idle session, creating a new one if none is available.
//
// The caller must eventually call [*SessionPool.Release].
func (p *SessionPool) Checkout() (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	for _, entry := range p.entries {
		if !entry.checkedOut {
			entry.checkedOut = true
			p.Logger.Debug("sessionCheckout", slog.Bool("reused", true), slog.Int("poolSize", len(p.entries)))
			return entry.session, nil
		}
	}

	session, err := p.Multiplexer.NewSession()
	if err != nil {
		return nil, &SessionError{Op: "create", Err: err}
	}
	p.entries = append(p.entries, &poolEntry{session: session, checkedOut: true})
	p.Logger.Debug("sessionCheckout", slog.Bool("reused", false), slog.Int("poolSize", len(p.entries)))
	return session, nil
}

// Release returns a checked-out session to the pool.
//
// Releasing an idle session or a session the pool does not know is a no-op.
func (p *SessionPool) Release(session Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range p.entries {
		if entry.session == session {
			entry.checkedOut = false
			break
		}
	}

	limit := p.MaxPooled
	if p.closed {
		limit = 0
	}
	err := p.prune(limit)
	p.Logger.Debug("sessionRelease", slog.Any("err", err), slog.Int("poolSize", len(p.entries)))
}

// prune closes idle sessions, oldest first, until at most limit sessions
// remain or only checked-out sessions are left in excess.
//
// Must be called with the mutex held.
func (p *SessionPool) prune(limit int) error {
	excess := len(p.entries) - max(limit, 0)
	if excess <= 0 {
		return nil
	}
	var errs []error
	kept := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		if excess > 0 && !entry.checkedOut {
			excess--
			if err := entry.session.Close(); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		kept = append(kept, entry)
	}
	p.entries = kept
	return errors.Join(errs...)
}

// Len returns the number of sessions in the pool, including checked-out ones.
func (p *SessionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Idle returns the number of sessions available for checkout.
func (p *SessionPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var count int
	for _, entry := range p.entries {
		if !entry.checkedOut {
			count++
		}
	}
	return count
}

// Close closes all idle sessions and prevents further checkouts. Sessions
// that are still checked out are closed when they are released.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.prune(0)
}
