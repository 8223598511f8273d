// Package stream defines the push-stream contract shared by caches and the
// operators that consume them.
package stream

import "context"

// Stream is a push stream of items. C is closed when the stream terminates;
// after that Err reports why: nil for a normal completion,
// errors.ErrSubscriptionClosed after Close, otherwise the terminal error (a
// writer fault, a subscriber fault or a policy violation).
//
// Implementations must be safe for use from multiple goroutines.
type Stream[T any] interface {
	// C returns the channel items are delivered on.
	C() <-chan T
	// Err returns the terminal error once C is closed. Before that it returns nil.
	Err() error
	// Done is closed once the stream has terminated for any reason.
	Done() <-chan struct{}
	// Close unsubscribes. It is idempotent and never affects other streams.
	Close()
	// Observe calls handler for every item until the stream terminates or ctx
	// is cancelled. A handler error or panic terminates only this stream with
	// a subscriber fault, which Observe returns.
	Observe(ctx context.Context, handler func(T) error) error
}
