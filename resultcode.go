// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strconv"
)

// ResultCode is the transport-level outcome of a single transfer.
type ResultCode int

const (
	// ResultCallMultiPerform means the transfer is still in progress. It
	// should never appear in a [Completion] but is tolerated as success.
	ResultCallMultiPerform ResultCode = iota - 1

	// ResultOK means the transfer completed at the transport level. The
	// HTTP status code may still indicate an application-level failure.
	ResultOK

	// ResultUnsupportedProtocol means the URL scheme is not http or https.
	ResultUnsupportedProtocol

	// ResultURLMalformed means the URL lacks the information to connect.
	ResultURLMalformed

	// ResultCouldNotResolveHost means the DNS lookup failed.
	ResultCouldNotResolveHost

	// ResultCouldNotConnect means the connection could not be established.
	ResultCouldNotConnect

	// ResultOperationTimedOut means the transfer exceeded its timeout.
	ResultOperationTimedOut

	// ResultSSLConnectError means the TLS handshake failed.
	ResultSSLConnectError

	// ResultSendError means sending the request failed.
	ResultSendError

	// ResultRecvError means receiving the response failed.
	ResultRecvError

	// ResultTooManyRedirects means the redirect limit was exceeded.
	ResultTooManyRedirects

	// ResultAbortedByCallback means the transfer's context was canceled.
	ResultAbortedByCallback

	// ResultGotNothing means the server closed the connection without replying.
	ResultGotNothing

	// ResultGeneric is any other failure.
	ResultGeneric
)

var resultReasons = map[ResultCode]string{
	ResultCallMultiPerform:    "transfer still in progress",
	ResultOK:                  "no error",
	ResultUnsupportedProtocol: "unsupported protocol",
	ResultURLMalformed:        "URL using bad or illegal format",
	ResultCouldNotResolveHost: "could not resolve host",
	ResultCouldNotConnect:     "could not connect to server",
	ResultOperationTimedOut:   "operation timed out",
	ResultSSLConnectError:     "TLS connect error",
	ResultSendError:           "failed sending data to the peer",
	ResultRecvError:           "failure when receiving data from the peer",
	ResultTooManyRedirects:    "number of redirects hit maximum amount",
	ResultAbortedByCallback:   "operation was aborted",
	ResultGotNothing:          "server returned nothing",
	ResultGeneric:             "generic transfer failure",
}

// String returns the human-readable reason for the code.
func (c ResultCode) String() string {
	if reason, ok := resultReasons[c]; ok {
		return reason
	}
	return "unknown result code " + strconv.Itoa(int(c))
}

// Success reports whether the code counts as a successful completion.
//
// [ResultCallMultiPerform] is included: it should not appear at completion
// time, but when it does the transfer is treated as successful.
func (c ResultCode) Success() bool {
	return c == ResultOK || c == ResultCallMultiPerform
}

var (
	errTooManyRedirects    = errors.New("too many redirects")
	errUnsupportedProtocol = errors.New("unsupported protocol scheme")
	errMalformedURL        = errors.New("malformed URL")
)

// ClassifyResult maps an error returned while performing a transfer
// to the corresponding [ResultCode]. A nil error maps to [ResultOK].
func ClassifyResult(err error) ResultCode {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, errTooManyRedirects):
		return ResultTooManyRedirects
	case errors.Is(err, errUnsupportedProtocol):
		return ResultUnsupportedProtocol
	case errors.Is(err, errMalformedURL):
		return ResultURLMalformed
	case errors.Is(err, context.Canceled):
		return ResultAbortedByCallback
	case errors.Is(err, context.DeadlineExceeded):
		return ResultOperationTimedOut
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ResultOperationTimedOut
		}
		return ResultCouldNotResolveHost
	}

	if isTLSError(err) {
		return ResultSSLConnectError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ResultOperationTimedOut
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return ResultCouldNotConnect
		case "write":
			return ResultSendError
		case "read":
			return ResultRecvError
		}
	}

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return ResultRecvError
	case errors.Is(err, io.EOF):
		return ResultGotNothing
	}
	return ResultGeneric
}

func isTLSError(err error) bool {
	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		authorityEr x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
	)
	return errors.As(err, &certErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &authorityEr) ||
		errors.As(err, &hostnameErr)
}
