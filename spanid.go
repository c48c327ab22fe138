// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// Every [*Transaction] gets its own span ID so that the transferStart,
// httpRoundTripStart and transferDone events it causes can be correlated
// even when many transfers are interleaved within the same batch.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
