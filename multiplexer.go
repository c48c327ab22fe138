//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/bassosimone/nop/blob/main/httpconn.go
// Adapted from: https://github.com/bassosimone/nop/blob/main/httpbody.go
//

package multihttp

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"slices"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// HTTPMultiplexer is the [Multiplexer] backed by [net/http].
//
// All the sessions it creates share the same [*http.Transport], which is
// configured for HTTP/2 using [http2.ConfigureTransports]. Concurrent
// transfers towards the same origin are thus multiplexed over a single
// connection when the server negotiates "h2", and connections are reused
// across sessions and batches.
//
// Each session starts its transfers on Perform and delivers their
// completions through Completions once the response body has been fully
// read. The adapter poll loop never blocks except in Wait.
type HTTPMultiplexer struct {
	// Client performs the transfers. Its CheckRedirect enforces
	// [Config.MaxRedirects].
	//
	// Set by [NewHTTPMultiplexer].
	Client *http.Client

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewHTTPMultiplexer] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewHTTPMultiplexer] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Set by [NewHTTPMultiplexer] from [Config.TimeNow].
	TimeNow func() time.Time

	// Transport is the transport used by Client.
	//
	// Set by [NewHTTPMultiplexer]. Tests may tweak its TLSClientConfig
	// before the first transfer.
	Transport *http.Transport
}

// NewHTTPMultiplexer returns a new [*HTTPMultiplexer].
//
// The cfg argument contains the common configuration; connections are
// dialed through a [*ObserveDialer] wrapping [Config.Dialer].
//
// The logger argument is the [SLogger] to use for structured logging.
func NewHTTPMultiplexer(cfg *Config, logger SLogger) (*HTTPMultiplexer, error) {
	txp := &http.Transport{
		DialContext:           NewObserveDialer(cfg, logger).DialContext,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   16,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if _, err := http2.ConfigureTransports(txp); err != nil {
		return nil, err
	}
	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Transport: txp,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
	mux := &HTTPMultiplexer{
		Client:        client,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
		Transport:     txp,
	}
	return mux, nil
}

var _ Multiplexer = &HTTPMultiplexer{}

// NewSession implements [Multiplexer].
func (m *HTTPMultiplexer) NewSession() (Session, error) {
	sess := &httpSession{
		mux:       m,
		notify:    make(chan struct{}, 1),
		transfers: make(map[*TransferHandle]*httpTransfer),
	}
	return sess, nil
}

// CloseIdleConnections closes the idle connections of the shared transport.
func (m *HTTPMultiplexer) CloseIdleConnections() {
	m.Transport.CloseIdleConnections()
}

// httpSession is the [Session] returned by [*HTTPMultiplexer].
type httpSession struct {
	mux       *HTTPMultiplexer
	mu        sync.Mutex
	closed    bool
	completed []Completion
	notify    chan struct{}
	queued    []*TransferHandle
	running   int
	transfers map[*TransferHandle]*httpTransfer
}

// httpTransfer is the state of a transfer known to a session.
type httpTransfer struct {
	done    bool
	info    TransferInfo
	started bool
	trace   *transferTrace
}

var _ Session = &httpSession{}

// Add implements [Session].
func (s *httpSession) Add(h *TransferHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, found := s.transfers[h]; found {
		return fmt.Errorf("multihttp: handle already added")
	}
	s.transfers[h] = &httpTransfer{}
	s.queued = append(s.queued, h)
	return nil
}

// Remove implements [Session].
func (s *httpSession) Remove(h *TransferHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.transfers[h]
	if !found {
		return ErrUnknownHandle
	}
	delete(s.transfers, h)
	if t.started && !t.done {
		s.running--
		h.Close()
	}
	s.queued = slices.DeleteFunc(s.queued, func(queued *TransferHandle) bool { return queued == h })
	s.completed = slices.DeleteFunc(s.completed, func(c Completion) bool { return c.Handle == h })
	if len(s.completed) == 0 {
		select {
		case <-s.notify:
		default:
		}
	}
	return nil
}

// Perform implements [Session].
func (s *httpSession) Perform() (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, ErrSessionClosed
	}
	for _, h := range s.queued {
		t := s.transfers[h]
		t.started = true
		t.trace = newTransferTrace(s.mux.TimeNow)
		s.running++
		go s.transfer(h, t.trace)
	}
	s.queued = nil
	return s.running, false, nil
}

// Completions implements [Session].
func (s *httpSession) Completions() []Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.completed
	s.completed = nil
	return out
}

// Wait implements [Session].
func (s *httpSession) Wait(timeout time.Duration) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	if ready := len(s.completed); ready > 0 {
		s.mu.Unlock()
		return ready, nil
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.notify:
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.completed), nil
	case <-timer.C:
		return 0, nil
	}
}

// Info implements [Session].
func (s *httpSession) Info(h *TransferHandle) TransferInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.transfers[h]
	if !found {
		return TransferInfo{}
	}
	if !t.done && t.trace != nil {
		return t.trace.info(nil, 0)
	}
	return t.info
}

// Close implements [Session].
func (s *httpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for h := range s.transfers {
		h.Close()
	}
	clear(s.transfers)
	s.queued = nil
	s.completed = nil
	s.running = 0
	return nil
}

// transfer runs in its own goroutine and posts the completion.
func (s *httpSession) transfer(h *TransferHandle, trace *transferTrace) {
	resp, size, err := s.mux.roundTrip(h, trace)
	completion := Completion{
		Handle:   h,
		Result:   ClassifyResult(err),
		Response: resp,
		Err:      err,
	}

	s.mu.Lock()
	t, found := s.transfers[h]
	if !found || s.closed {
		// removed or closed while running
		s.mu.Unlock()
		return
	}
	t.done = true
	t.info = trace.info(resp, size)
	s.running--
	s.completed = append(s.completed, completion)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// roundTrip performs the transfer and reads the whole response body.
func (m *HTTPMultiplexer) roundTrip(h *TransferHandle, trace *transferTrace) (*http.Response, int64, error) {
	req := h.Request
	switch {
	case req.URL.Scheme != "http" && req.URL.Scheme != "https":
		return nil, 0, fmt.Errorf("%w: %q", errUnsupportedProtocol, req.URL.Scheme)
	case req.URL.Host == "":
		return nil, 0, fmt.Errorf("%w: %q", errMalformedURL, req.URL.String())
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace.clientTrace()))
	var spanID string
	if h.Transaction != nil {
		spanID = h.Transaction.SpanID
	}

	t0 := m.TimeNow()
	deadline, _ := req.Context().Deadline()
	m.Logger.Info(
		"httpRoundTripStart",
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)

	resp, err := m.Client.Do(req)
	if err != nil && resp != nil {
		// CheckRedirect failure: the body is already closed
		resp = nil
	}

	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	m.Logger.Info(
		"httpRoundTripDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", m.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", m.TimeNow()),
	)
	if err != nil {
		return nil, 0, err
	}

	body, err := m.readBody(resp, spanID)
	if err != nil {
		return nil, int64(len(body)), err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, int64(len(body)), nil
}

// readBody reads and closes the response body, emitting the
// httpBodyStreamStart and httpBodyStreamDone events.
func (m *HTTPMultiplexer) readBody(resp *http.Response, spanID string) ([]byte, error) {
	t0 := m.TimeNow()
	m.Logger.Info(
		"httpBodyStreamStart",
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)

	body, err := io.ReadAll(resp.Body)
	if cerr := resp.Body.Close(); err == nil {
		err = cerr
	}

	m.Logger.Info(
		"httpBodyStreamDone",
		slog.Any("err", err),
		slog.String("errClass", m.ErrClassifier.Classify(err)),
		slog.Int("httpBodyLength", len(body)),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", m.TimeNow()),
	)
	return body, err
}
