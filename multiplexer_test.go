// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMultiplexerAdapter returns an [*Adapter] backed by a real [*HTTPMultiplexer].
func newTestMultiplexerAdapter(t *testing.T, logger SLogger) (*Adapter, *HTTPMultiplexer, *Emitter) {
	cfg := NewConfig()
	mux, err := NewHTTPMultiplexer(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(mux.CloseIdleConnections)
	events := NewEmitter()
	adapter := NewAdapter(cfg, NewSessionPool(cfg, mux, logger), events, logger)
	return adapter, mux, events
}

// newEchoPathServer returns a server that echoes the request path.
func newEchoPathServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// NewHTTPMultiplexer populates all fields from Config and the provided logger.
func TestNewHTTPMultiplexer(t *testing.T) {
	mux, err := NewHTTPMultiplexer(NewConfig(), DefaultSLogger())

	require.NoError(t, err)
	require.NotNil(t, mux)
	assert.NotNil(t, mux.Client)
	assert.NotNil(t, mux.ErrClassifier)
	assert.NotNil(t, mux.Logger)
	assert.NotNil(t, mux.TimeNow)
	require.NotNil(t, mux.Transport)
	assert.Same(t, mux.Transport, mux.Client.Transport)
	require.NotNil(t, mux.Transport.TLSClientConfig)
	assert.Contains(t, mux.Transport.TLSClientConfig.NextProtos, "h2")
}

// A batch over a real server delivers fully-read responses for all transactions.
func TestHTTPMultiplexerBatch(t *testing.T) {
	srv := newEchoPathServer(t)
	logger, records := newCapturingLogger()
	adapter, _, events := newTestMultiplexerAdapter(t, logger)
	var (
		mu    sync.Mutex
		infos []TransferInfo
	)
	events.OnAfterSend(func(ev *AfterSendEvent) error {
		mu.Lock()
		infos = append(infos, ev.Info)
		mu.Unlock()
		return nil
	})

	var txs []*Transaction
	for idx := range 5 {
		req, err := http.NewRequest("GET", fmt.Sprintf("%s/%d", srv.URL, idx), nil)
		require.NoError(t, err)
		txs = append(txs, NewTransaction(req))
	}

	err := adapter.Batch(context.Background(), slices.Values(txs), 2)

	require.NoError(t, err)
	for idx, tx := range txs {
		resp := tx.Response()
		require.NotNil(t, resp)
		assert.Equal(t, 200, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("/%d", idx), string(body))
	}

	require.Len(t, infos, 5)
	for _, info := range infos {
		assert.Equal(t, 200, info.StatusCode)
		assert.Equal(t, "HTTP/1.1", info.Protocol)
		assert.Equal(t, int64(2), info.SizeDownload)
		assert.NotEmpty(t, info.RemoteAddr)
		assert.Positive(t, info.TotalTime)
	}

	messages := recordMessages(records())
	assert.Contains(t, messages, "connectStart")
	assert.Contains(t, messages, "httpRoundTripStart")
	assert.Contains(t, messages, "httpRoundTripDone")
	assert.Contains(t, messages, "httpBodyStreamStart")
	assert.Contains(t, messages, "httpBodyStreamDone")
	assert.Equal(t, 1, adapter.Pool.Idle())
}

// Concurrent transfers to a TLS server negotiating h2 use HTTP/2.
func TestHTTPMultiplexerHTTP2(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Proto)
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	t.Cleanup(srv.Close)

	adapter, mux, _ := newTestMultiplexerAdapter(t, DefaultSLogger())
	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	mux.Transport.TLSClientConfig.RootCAs = roots

	var txs []*Transaction
	for idx := range 4 {
		req, err := http.NewRequest("GET", fmt.Sprintf("%s/%d", srv.URL, idx), nil)
		require.NoError(t, err)
		txs = append(txs, NewTransaction(req))
	}

	err := adapter.Batch(context.Background(), slices.Values(txs), 4)

	require.NoError(t, err)
	for _, tx := range txs {
		resp := tx.Response()
		require.NotNil(t, resp)
		assert.Equal(t, "HTTP/2.0", resp.Proto)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "HTTP/2.0", string(body))
	}
}

// Transport failures map to the expected result codes.
func TestHTTPMultiplexerFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tests := []struct {
		// name describes what this test case verifies.
		name string

		// url is the URL to fetch.
		url string

		// timeout is the transaction timeout.
		timeout time.Duration

		// wantCode is the expected result code.
		wantCode ResultCode
	}{
		{
			name:     "redirect loop",
			url:      srv.URL + "/loop",
			wantCode: ResultTooManyRedirects,
		},

		{
			name:     "unsupported scheme",
			url:      "ftp://example.com/file.txt",
			wantCode: ResultUnsupportedProtocol,
		},

		{
			name:     "transaction timeout",
			url:      srv.URL + "/slow",
			timeout:  50 * time.Millisecond,
			wantCode: ResultOperationTimedOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, _, _ := newTestMultiplexerAdapter(t, DefaultSLogger())
			req, err := http.NewRequest("GET", tt.url, nil)
			require.NoError(t, err)
			tx := NewTransaction(req)
			tx.Timeout = tt.timeout

			resp, err := adapter.Send(context.Background(), tx)

			assert.Nil(t, resp)
			var terr *TransferError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.wantCode, terr.Code)
			assert.Equal(t, tt.url, terr.URL)
		})
	}
}

// Redirects are followed and the effective URL is the final one.
func TestHTTPMultiplexerRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/from", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/to", http.StatusFound)
	})
	mux.HandleFunc("/to", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "arrived")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	adapter, _, events := newTestMultiplexerAdapter(t, DefaultSLogger())
	var info TransferInfo
	events.OnAfterSend(func(ev *AfterSendEvent) error {
		info = ev.Info
		return nil
	})
	req, err := http.NewRequest("GET", srv.URL+"/from", nil)
	require.NoError(t, err)

	resp, err := adapter.Send(context.Background(), NewTransaction(req))

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, srv.URL+"/to", info.EffectiveURL)
}

// The session honors its contract independently of the adapter.
func TestHTTPSessionLifecycle(t *testing.T) {
	srv := newEchoPathServer(t)
	mux, err := NewHTTPMultiplexer(NewConfig(), DefaultSLogger())
	require.NoError(t, err)
	t.Cleanup(mux.CloseIdleConnections)

	sess, err := mux.NewSession()
	require.NoError(t, err)

	// waiting with nothing in flight times out
	ready, err := sess.Wait(time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, ready)

	newHandle := func(path string) *TransferHandle {
		req, err := http.NewRequest("GET", srv.URL+path, nil)
		require.NoError(t, err)
		h, err := NewHandleFactory().CreateHandle(context.Background(), NewTransaction(req))
		require.NoError(t, err)
		return h
	}

	removed := newHandle("/removed")
	kept := newHandle("/kept")
	require.NoError(t, sess.Add(removed))
	require.NoError(t, sess.Add(kept))
	require.Error(t, sess.Add(kept))

	// a handle removed before Perform never starts
	require.NoError(t, sess.Remove(removed))
	require.ErrorIs(t, sess.Remove(removed), ErrUnknownHandle)

	running, again, err := sess.Perform()
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, 1, running)

	var completions []Completion
	for len(completions) == 0 {
		_, err := sess.Wait(time.Second)
		require.NoError(t, err)
		completions = append(completions, sess.Completions()...)
	}
	require.Len(t, completions, 1)
	assert.Same(t, kept, completions[0].Handle)
	assert.Equal(t, ResultOK, completions[0].Result)

	info := sess.Info(kept)
	assert.Equal(t, srv.URL+"/kept", info.EffectiveURL)
	assert.Equal(t, TransferInfo{}, sess.Info(removed))

	running, _, err = sess.Perform()
	require.NoError(t, err)
	assert.Zero(t, running)

	require.NoError(t, sess.Remove(kept))
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	require.ErrorIs(t, sess.Add(newHandle("/late")), ErrSessionClosed)
	_, err = sess.Wait(time.Millisecond)
	require.ErrorIs(t, err, ErrSessionClosed)
}

// Removing a completed handle before polling forgets its completion too.
func TestHTTPSessionRemoveDropsCompletion(t *testing.T) {
	srv := newEchoPathServer(t)
	mux, err := NewHTTPMultiplexer(NewConfig(), DefaultSLogger())
	require.NoError(t, err)
	t.Cleanup(mux.CloseIdleConnections)
	sess, err := mux.NewSession()
	require.NoError(t, err)
	defer sess.Close()

	req, err := http.NewRequest("GET", srv.URL+"/done", nil)
	require.NoError(t, err)
	h, err := NewHandleFactory().CreateHandle(context.Background(), NewTransaction(req))
	require.NoError(t, err)
	require.NoError(t, sess.Add(h))
	_, _, err = sess.Perform()
	require.NoError(t, err)

	// wait for the completion without consuming it
	require.Eventually(t, func() bool {
		running, _, err := sess.Perform()
		return err == nil && running == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Remove(h))

	ready, err := sess.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Empty(t, sess.Completions())
}

// A session released after a throw-on-error abort carries nothing into the next batch.
func TestHTTPMultiplexerSessionReuseAfterAbort(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/fail", http.StatusFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	adapter, _, _ := newTestMultiplexerAdapter(t, DefaultSLogger())

	var txs []*Transaction
	for _, path := range []string{"/fail", "/a", "/b", "/c"} {
		req, err := http.NewRequest("GET", srv.URL+path, nil)
		require.NoError(t, err)
		txs = append(txs, NewTransaction(req))
	}

	err := adapter.Batch(context.Background(), slices.Values(txs), 4)

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ResultTooManyRedirects, terr.Code)
	require.Equal(t, 1, adapter.Pool.Len())

	// let the transfers of the aborted batch settle
	time.Sleep(100 * time.Millisecond)

	sess, err := adapter.Pool.Checkout()
	require.NoError(t, err)
	ready, err := sess.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Empty(t, sess.Completions())
	adapter.Pool.Release(sess)

	req, err := http.NewRequest("GET", srv.URL+"/next", nil)
	require.NoError(t, err)
	resp, err := adapter.Send(context.Background(), NewTransaction(req))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "/next", string(body))
}
