//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/bassosimone/nop/blob/main/connect.go
// Adapted from: https://github.com/bassosimone/nop/blob/main/observeconn.go
//

package multihttp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewObserveDialer returns a new [*ObserveDialer].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewObserveDialer(cfg *Config, logger SLogger) *ObserveDialer {
	return &ObserveDialer{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveDialer is a [Dialer] that logs connectStart/connectDone around
// each dial and closeStart/closeDone when the returned connection is closed.
//
// Since transfers reuse connections, the connect and close events of
// a connection are usually far apart and unrelated to a single transfer.
//
// All fields are safe to modify after construction but before first use.
type ObserveDialer struct {
	// Dialer is the underlying [Dialer].
	//
	// Set by [NewObserveDialer] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewObserveDialer] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewObserveDialer] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Set by [NewObserveDialer] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Dialer = &ObserveDialer{}

// DialContext implements [Dialer].
func (d *ObserveDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	t0 := d.TimeNow()
	deadline, _ := ctx.Deadline()
	d.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", network),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)

	conn, err := d.Dialer.DialContext(ctx, network, address)

	d.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", d.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", network),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", d.TimeNow()),
	)

	if err != nil {
		return nil, err
	}
	return &observedConn{Conn: conn, dialer: d}, nil
}

// observedConn logs the closing of a connection.
type observedConn struct {
	net.Conn
	closeonce sync.Once
	dialer    *ObserveDialer
}

// Close implements [net.Conn].
//
// Subsequent calls return [net.ErrClosed].
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		laddr, raddr, protocol := safeconn.LocalAddr(c.Conn), safeconn.RemoteAddr(c.Conn), safeconn.Network(c.Conn)
		t0 := c.dialer.TimeNow()
		c.dialer.Logger.Info(
			"closeStart",
			slog.String("localAddr", laddr),
			slog.String("protocol", protocol),
			slog.String("remoteAddr", raddr),
			slog.Time("t", t0),
		)

		err = c.Conn.Close()

		c.dialer.Logger.Info(
			"closeDone",
			slog.Any("err", err),
			slog.String("errClass", c.dialer.ErrClassifier.Classify(err)),
			slog.String("localAddr", laddr),
			slog.String("protocol", protocol),
			slog.String("remoteAddr", raddr),
			slog.Time("t0", t0),
			slog.Time("t", c.dialer.TimeNow()),
		)
	})
	return
}
