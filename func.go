// SPDX-License-Identifier: GPL-3.0-or-later

package multihttp

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// This is the same abstraction used by github.com/bassosimone/nop, so that
// a [*Client] can be plugged into existing measurement pipelines (see
// [*Client.SendFunc]).
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
