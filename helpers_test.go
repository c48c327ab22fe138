// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
)

// newCapturingLogger returns a logger that captures all log records. The
// returned function returns a snapshot of the records captured so far. The
// logger is safe for concurrent use, since sessions log from goroutines.
func newCapturingLogger() (*slog.Logger, func() []slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record.Clone())
			mu.Unlock()
			return nil
		},
	}
	snapshot := func() []slog.Record {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(records)
	}
	return slog.New(handler), snapshot
}

// recordMessages returns the messages of the given records.
func recordMessages(records []slog.Record) []string {
	var out []string
	for _, record := range records {
		out = append(out, record.Message)
	}
	return out
}

// recordAttr returns the value of the attribute with the given key.
func recordAttr(record slog.Record, key string) (value slog.Value, found bool) {
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value, found = attr.Value, true
			return false
		}
		return true
	})
	return
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set, which is what [safeconn] needs.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// fakeSession is a deterministic [Session]. Each Perform completes at most
// one started transfer, in FIFO order (or LIFO when CompleteLast is set).
type fakeSession struct {
	// AddErr, when set, is returned by Add.
	AddErr error

	// CompleteLast completes the most recently added transfer first.
	CompleteLast bool

	// Outcome returns the completion of a handle. When nil,
	// every transfer succeeds with a 200 response.
	Outcome func(h *TransferHandle) Completion

	// PerformErr, when set, is returned by Perform.
	PerformErr error

	// WaitErr, when set, is returned by Wait.
	WaitErr error

	// WaitResults are the ready counts returned by successive Waits;
	// once consumed, Wait returns 1.
	WaitResults []int

	added        []*TransferHandle
	closed       bool
	completed    []Completion
	inSession    map[*TransferHandle]bool
	maxInSession int
	pending      []*TransferHandle
	removed      int
	waits        []time.Duration
}

func newFakeSession() *fakeSession {
	return &fakeSession{inSession: make(map[*TransferHandle]bool)}
}

var _ Session = &fakeSession{}

func (s *fakeSession) Add(h *TransferHandle) error {
	if s.AddErr != nil {
		return s.AddErr
	}
	if s.closed {
		return ErrSessionClosed
	}
	s.inSession[h] = true
	s.added = append(s.added, h)
	s.pending = append(s.pending, h)
	s.maxInSession = max(s.maxInSession, len(s.inSession))
	return nil
}

func (s *fakeSession) Remove(h *TransferHandle) error {
	if !s.inSession[h] {
		return ErrUnknownHandle
	}
	delete(s.inSession, h)
	s.removed++
	s.pending = slices.DeleteFunc(s.pending, func(p *TransferHandle) bool { return p == h })
	return nil
}

func (s *fakeSession) Perform() (int, bool, error) {
	if s.PerformErr != nil {
		return 0, false, s.PerformErr
	}
	if len(s.pending) > 0 {
		var h *TransferHandle
		if s.CompleteLast {
			h, s.pending = s.pending[len(s.pending)-1], s.pending[:len(s.pending)-1]
		} else {
			h, s.pending = s.pending[0], s.pending[1:]
		}
		s.completed = append(s.completed, s.outcome(h))
	}
	return len(s.pending), false, nil
}

func (s *fakeSession) outcome(h *TransferHandle) Completion {
	if s.Outcome != nil {
		return s.Outcome(h)
	}
	return successfulCompletion(h)
}

func (s *fakeSession) Completions() []Completion {
	out := s.completed
	s.completed = nil
	return out
}

func (s *fakeSession) Wait(timeout time.Duration) (int, error) {
	s.waits = append(s.waits, timeout)
	if s.WaitErr != nil {
		return 0, s.WaitErr
	}
	if len(s.WaitResults) > 0 {
		ready := s.WaitResults[0]
		s.WaitResults = s.WaitResults[1:]
		return ready, nil
	}
	return 1, nil
}

func (s *fakeSession) Info(h *TransferHandle) TransferInfo {
	return TransferInfo{
		EffectiveURL: h.Request.URL.String(),
		StatusCode:   200,
		Protocol:     "HTTP/2.0",
	}
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// successfulCompletion returns a successful [Completion] for h.
func successfulCompletion(h *TransferHandle) Completion {
	return Completion{
		Handle:   h,
		Result:   ResultOK,
		Response: &http.Response{StatusCode: 200, Request: h.Request},
	}
}

// fakeMultiplexer is a [Multiplexer] returning [*fakeSession] instances.
type fakeMultiplexer struct {
	// Err, when set, is returned by NewSession.
	Err error

	// Configure, when set, is called on each new session.
	Configure func(s *fakeSession)

	mu       sync.Mutex
	sessions []*fakeSession
}

var _ Multiplexer = &fakeMultiplexer{}

func (m *fakeMultiplexer) NewSession() (Session, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	sess := newFakeSession()
	if m.Configure != nil {
		m.Configure(sess)
	}
	m.mu.Lock()
	m.sessions = append(m.sessions, sess)
	m.mu.Unlock()
	return sess, nil
}

// session returns the idx-th session created so far.
func (m *fakeMultiplexer) session(idx int) *fakeSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[idx]
}

// newTestAdapter returns an [*Adapter] using a [*fakeMultiplexer] and a
// new [*Emitter]. The adapter Sleep records the requested durations.
func newTestAdapter(mux *fakeMultiplexer, logger SLogger) (*Adapter, *Emitter, *[]time.Duration) {
	cfg := NewConfig()
	pool := NewSessionPool(cfg, mux, logger)
	emitter := NewEmitter()
	adapter := NewAdapter(cfg, pool, emitter, logger)
	var sleeps []time.Duration
	adapter.Sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return adapter, emitter, &sleeps
}

// newTestTransactions returns count transactions for distinct URLs.
func newTestTransactions(count int) []*Transaction {
	var txs []*Transaction
	for idx := range count {
		req, err := http.NewRequest("GET", fmt.Sprintf("https://example.com/%d", idx), nil)
		if err != nil {
			panic(err)
		}
		txs = append(txs, NewTransaction(req))
	}
	return txs
}

// transactionIndex returns the index of tx within txs or -1.
func transactionIndex(txs []*Transaction, tx *Transaction) int {
	return slices.Index(txs, tx)
}
