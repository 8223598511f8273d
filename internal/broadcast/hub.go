// Package broadcast fans values out from a single publisher to many
// subscribers, each behind its own bounded queue.
//
// The hub never runs subscriber code on the publishing goroutine beyond the
// per-subscriber mapping function (used by filtered subscriptions); delivery
// is a channel send governed by the subscriber's overflow strategy.
package broadcast

import (
	"errors"
	"sync"

	"github.com/gxo-labs/livecache/internal/config"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
)

// Policy is the effective queueing policy for a subscription.
type Policy struct {
	BufferSize       int
	OverflowStrategy string
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{BufferSize: config.DefaultSubscriberBufferSize, OverflowStrategy: config.OverflowError}
}

// sanitize clamps invalid values to safe defaults, in the same way a
// validated configuration would have.
func (p Policy) sanitize() Policy {
	if p.BufferSize < 0 {
		p.BufferSize = 0
	}
	switch p.OverflowStrategy {
	case config.OverflowBlock, config.OverflowError:
	default:
		p.OverflowStrategy = config.OverflowError
	}
	return p
}

// Mapper turns a published value into what a particular subscriber
// receives, calling emit zero or more times. An error returned by emit is a
// queue overflow and should be returned as-is; any other error or a panic
// terminates the subscriber with a subscriber fault.
type Mapper[T, U any] func(v T, emit func(U) error) error

// Identity delivers every published value unchanged.
func Identity[T any](v T, emit func(T) error) error { return emit(v) }

// DetachFunc is called once for every subscriber that leaves the hub, with
// the error it terminated with (nil for a normal completion).
type DetachFunc func(subscriptionID string, err error)

// sink is a type-erased attached subscription.
type sink[T any] interface {
	id() string
	deliver(v T) error
	terminate(err error)
}

type mappedSink[T, U any] struct {
	sub *Subscription[U]
	fn  Mapper[T, U]
}

func (m *mappedSink[T, U]) id() string { return m.sub.id }

func (m *mappedSink[T, U]) deliver(v T) error {
	var sendErr error
	emit := func(u U) error {
		if sendErr != nil {
			return sendErr
		}
		sendErr = m.sub.send(u)
		return sendErr
	}
	err := safeMap(m.fn, v, emit)
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		return lcerrors.NewSubscriberFaultError(m.sub.id, err)
	}
	return nil
}

func (m *mappedSink[T, U]) terminate(err error) { m.sub.Terminate(err) }

func safeMap[T, U any](fn Mapper[T, U], v T, emit func(U) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()
	return fn(v, emit)
}

// Hub is a multicast point. Publish must not be called concurrently with
// itself; callers serialize it together with Attach so that an attaching
// subscriber sees a consistent snapshot followed by every later value.
type Hub[T any] struct {
	mu       sync.Mutex
	sinks    []sink[T]
	done     bool
	err      error
	onDetach DetachFunc
}

// NewHub creates a hub. onDetach may be nil.
func NewHub[T any](onDetach DetachFunc) *Hub[T] {
	return &Hub[T]{onDetach: onDetach}
}

// Attach registers sub with the hub; values published afterwards are passed
// through fn and queued on sub. If the hub has already terminated, sub is
// terminated immediately with the hub's terminal error. Attach reports
// whether the subscription is live.
func Attach[T, U any](h *Hub[T], sub *Subscription[U], fn Mapper[T, U]) bool {
	s := &mappedSink[T, U]{sub: sub, fn: fn}

	h.mu.Lock()
	if h.done {
		err := h.err
		h.mu.Unlock()
		sub.Terminate(err)
		return false
	}
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		h.mu.Unlock()
		return false
	}
	sub.detach = func() { h.remove(s.id(), sub.Err()) }
	sub.mu.Unlock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
	return true
}

// Publish delivers v to every attached subscriber in attach order. A
// subscriber whose delivery fails is terminated with that error; the others
// are unaffected.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	targets := make([]sink[T], len(h.sinks))
	copy(targets, h.sinks)
	h.mu.Unlock()

	for _, s := range targets {
		if err := s.deliver(v); err != nil {
			s.terminate(err)
		}
	}
}

// Complete terminates every subscriber normally. Later attaches receive an
// immediately completed subscription.
func (h *Hub[T]) Complete() { h.finish(nil) }

// Fail terminates every subscriber with err. Later attaches receive err too.
func (h *Hub[T]) Fail(err error) { h.finish(err) }

func (h *Hub[T]) finish(err error) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.err = err
	targets := h.sinks
	h.sinks = nil
	h.mu.Unlock()

	for _, s := range targets {
		s.terminate(err)
		h.notify(s.id(), err)
	}
}

// Count returns the number of attached subscribers.
func (h *Hub[T]) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// Terminated reports whether Complete or Fail has been called.
func (h *Hub[T]) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *Hub[T]) remove(id string, err error) {
	h.mu.Lock()
	found := false
	for i, s := range h.sinks {
		if s.id() == id {
			h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
			found = true
			break
		}
	}
	h.mu.Unlock()
	if found {
		h.notify(id, err)
	}
}

func (h *Hub[T]) notify(id string, err error) {
	if h.onDetach == nil {
		return
	}
	if errors.Is(err, lcerrors.ErrSubscriptionClosed) {
		err = nil
	}
	h.onDetach(id, err)
}
