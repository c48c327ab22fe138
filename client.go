// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"context"
	"net/http"
	"slices"
)

// Client wires together an [*Emitter], a [*SessionPool] backed by an
// [*HTTPMultiplexer] and an [*Adapter].
//
// The caller is responsible for calling [*Client.Close] when done.
type Client struct {
	// Adapter runs the transactions.
	Adapter *Adapter

	// Events receives the lifecycle events of the transactions.
	Events *Emitter

	// Multiplexer creates the sessions of Pool.
	Multiplexer *HTTPMultiplexer

	// Pool caches the sessions used by Adapter.
	Pool *SessionPool
}

// NewClient returns a new [*Client].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewClient(cfg *Config, logger SLogger) (*Client, error) {
	mux, err := NewHTTPMultiplexer(cfg, logger)
	if err != nil {
		return nil, err
	}
	pool := NewSessionPool(cfg, mux, logger)
	events := NewEmitter()
	client := &Client{
		Adapter:     NewAdapter(cfg, pool, events, logger),
		Events:      events,
		Multiplexer: mux,
		Pool:        pool,
	}
	return client, nil
}

// NewTransaction returns a new [*Transaction] owned by the client.
func (c *Client) NewTransaction(req *http.Request) *Transaction {
	tx := NewTransaction(req)
	tx.Client = c
	return tx
}

// Send sends a single request and returns its response.
//
// The response body has already been read and can be consumed without
// further network activity; closing it is still good practice.
func (c *Client) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.Adapter.Send(ctx, c.NewTransaction(req))
}

// SendAll sends all the requests keeping at most parallelism of them in
// flight and returns the corresponding transactions, in the same order as
// the requests, so that the caller can inspect their responses.
func (c *Client) SendAll(ctx context.Context, reqs []*http.Request, parallelism int) ([]*Transaction, error) {
	txs := make([]*Transaction, 0, len(reqs))
	for _, req := range reqs {
		txs = append(txs, c.NewTransaction(req))
	}
	err := c.Adapter.Batch(ctx, slices.Values(txs), parallelism)
	return txs, err
}

// SendFunc returns a [Func] sending requests with [*Client.Send].
func (c *Client) SendFunc() Func[*http.Request, *http.Response] {
	return FuncAdapter[*http.Request, *http.Response](c.Send)
}

// Close closes the pooled sessions and the idle connections.
func (c *Client) Close() error {
	err := c.Pool.Close()
	c.Multiplexer.CloseIdleConnections()
	return err
}
