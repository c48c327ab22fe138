// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// TransferInfo contains introspection data about a completed transfer.
//
// Durations are measured from the beginning of the transfer. A zero duration
// means the corresponding phase did not happen (e.g., no DNS lookup because
// the connection was reused).
type TransferInfo struct {
	// EffectiveURL is the URL of the last request, after redirects.
	EffectiveURL string

	// StatusCode is the HTTP status code, or zero on failure.
	StatusCode int

	// Protocol is the response protocol (e.g., "HTTP/2.0").
	Protocol string

	// TotalTime is the time from start until the body was fully read.
	TotalTime time.Duration

	// NameLookupTime is the time until the DNS lookup completed.
	NameLookupTime time.Duration

	// ConnectTime is the time until the TCP connection was established.
	ConnectTime time.Duration

	// TLSHandshakeTime is the time until the TLS handshake completed.
	TLSHandshakeTime time.Duration

	// StartTransferTime is the time until the first response byte.
	StartTransferTime time.Duration

	// SizeDownload is the number of body bytes read.
	SizeDownload int64

	// LocalAddr is the local address of the connection used.
	LocalAddr string

	// RemoteAddr is the remote address of the connection used.
	RemoteAddr string

	// Reused is true if the connection was reused from a previous transfer.
	Reused bool
}

// transferTrace records [httptrace.ClientTrace] events for one transfer.
//
// The transport may invoke the hooks from its own goroutines, hence the mutex.
type transferTrace struct {
	mu              sync.Mutex
	t0              time.Time
	dnsDone         time.Time
	connectDone     time.Time
	tlsHandshakeEnd time.Time
	firstByte       time.Time
	laddr           string
	raddr           string
	reused          bool
	timeNow         func() time.Time
}

func newTransferTrace(timeNow func() time.Time) *transferTrace {
	return &transferTrace{t0: timeNow(), timeNow: timeNow}
}

func (tt *transferTrace) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSDone: func(httptrace.DNSDoneInfo) {
			tt.mark(&tt.dnsDone)
		},
		ConnectDone: func(network, addr string, err error) {
			tt.mark(&tt.connectDone)
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			tt.mark(&tt.tlsHandshakeEnd)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			tt.mu.Lock()
			tt.laddr = safeconn.LocalAddr(info.Conn)
			tt.raddr = safeconn.RemoteAddr(info.Conn)
			tt.reused = info.Reused
			tt.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			tt.mark(&tt.firstByte)
		},
	}
}

func (tt *transferTrace) mark(field *time.Time) {
	now := tt.timeNow()
	tt.mu.Lock()
	*field = now
	tt.mu.Unlock()
}

// info builds the [TransferInfo] given the final response, if any.
func (tt *transferTrace) info(resp *http.Response, size int64) TransferInfo {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	info := TransferInfo{
		TotalTime:         tt.timeNow().Sub(tt.t0),
		NameLookupTime:    tt.since(tt.dnsDone),
		ConnectTime:       tt.since(tt.connectDone),
		TLSHandshakeTime:  tt.since(tt.tlsHandshakeEnd),
		StartTransferTime: tt.since(tt.firstByte),
		SizeDownload:      size,
		LocalAddr:         tt.laddr,
		RemoteAddr:        tt.raddr,
		Reused:            tt.reused,
	}
	if resp != nil {
		info.StatusCode = resp.StatusCode
		info.Protocol = resp.Proto
		if resp.Request != nil && resp.Request.URL != nil {
			info.EffectiveURL = resp.Request.URL.String()
		}
	}
	return info
}

func (tt *transferTrace) since(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return t.Sub(tt.t0)
}
