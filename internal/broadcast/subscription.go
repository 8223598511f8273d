package broadcast

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/gxo-labs/livecache/internal/config"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

// Compile-time check.
var _ stream.Stream[int] = (*Subscription[int])(nil)

// Subscription is one subscriber's bounded queue. The publisher writes into it
// according to the overflow strategy of its Policy; the subscriber reads from
// C at its own pace. The queue holds BufferSize live items plus one slot
// reserved for the initial snapshot, so the snapshot never counts against the
// live budget.
//
// Operators switch their inputs to an unbounded mailbox with Unbound: a
// derived cache must keep up with any burst its source accepts.
type Subscription[T any] struct {
	id      string
	policy  Policy
	ch      chan T
	done    chan struct{}
	abandon chan struct{}

	// mu serializes sends against closing ch.
	mu     sync.Mutex
	closed bool
	// sent counts every item enqueued on ch, the primed snapshot included.
	sent   int
	primed bool

	// Set by Unbound. sends append to pending and forward moves them to out.
	pending []T
	wake    chan struct{}
	out     chan T

	once        sync.Once
	abandonOnce sync.Once
	err         error
	detach      func()
}

// NewSubscription creates an unattached subscription with a random id.
func NewSubscription[T any](policy Policy) *Subscription[T] {
	policy = policy.sanitize()
	return &Subscription[T]{
		id:      uuid.NewString(),
		policy:  policy,
		ch:      make(chan T, policy.BufferSize+1),
		done:    make(chan struct{}),
		abandon: make(chan struct{}),
	}
}

// ID returns the subscription's unique id.
func (s *Subscription[T]) ID() string { return s.id }

// C returns the delivery channel. It is closed when the subscription
// terminates and every queued item has been delivered.
func (s *Subscription[T]) C() <-chan T {
	if s.out != nil {
		return s.out
	}
	return s.ch
}

// Done is closed when the subscription terminates.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Err returns the terminal error once the subscription has terminated: nil
// for a normal completion, errors.ErrSubscriptionClosed after Close.
func (s *Subscription[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close unsubscribes. Items already queued on a bounded subscription stay
// readable on C; an unbounded one drops its mailbox.
func (s *Subscription[T]) Close() {
	s.abandonOnce.Do(func() { close(s.abandon) })
	s.Terminate(lcerrors.ErrSubscriptionClosed)
}

// Terminate ends the subscription with err and detaches it from its hub. Only
// the first call has an effect.
func (s *Subscription[T]) Terminate(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.signal()
		detach := s.detach
		s.mu.Unlock()
		if detach != nil {
			detach()
		}
	})
}

// Prime enqueues the initial snapshot. It must be called before the
// subscription is attached, when the reserved slot is guaranteed to be free.
func (s *Subscription[T]) Prime(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.out != nil {
		s.push(v)
		return
	}
	select {
	case s.ch <- v:
		s.sent++
		s.primed = true
	default:
		// Unreachable while the reserved slot is free.
		panic(fmt.Sprintf("subscription %s primed twice", s.id))
	}
}

// send enqueues v according to the overflow strategy.
func (s *Subscription[T]) send(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.out != nil {
		s.push(v)
		return nil
	}

	switch s.policy.OverflowStrategy {
	case config.OverflowBlock:
		// Blocks until there is room or the subscriber goes away.
		select {
		case s.ch <- v:
			s.sent++
		case <-s.done:
		}
		return nil

	default: // config.OverflowError
		if s.policy.BufferSize > 0 && s.liveQueued() >= s.policy.BufferSize {
			return s.overflow()
		}
		select {
		case s.ch <- v:
			s.sent++
			return nil
		default:
			return s.overflow()
		}
	}
}

// liveQueued returns the number of queued live items. The primed snapshot is
// always first in the queue, so it is unread until something is received.
func (s *Subscription[T]) liveQueued() int {
	n := len(s.ch)
	if s.primed && s.sent == n {
		n--
	}
	return n
}

// Unbound switches the subscription to an unbounded mailbox: later sends
// never block and never overflow. Items already queued keep their order. It
// must be called before the first receive from C.
func (s *Subscription[T]) Unbound() {
	var drained []T
	for !s.mu.TryLock() {
		// A publisher blocked in send holds mu until the queue has room.
		select {
		case v, ok := <-s.ch:
			if ok {
				drained = append(drained, v)
				continue
			}
			runtime.Gosched()
		default:
			runtime.Gosched()
		}
	}
	defer s.mu.Unlock()
	if s.out != nil {
		return
	}
	s.pending = drained
	for len(s.ch) > 0 {
		s.pending = append(s.pending, <-s.ch)
	}
	s.wake = make(chan struct{}, 1)
	s.out = make(chan T)
	go s.forward()
}

// push appends v to the mailbox. Callers hold mu.
func (s *Subscription[T]) push(v T) {
	s.pending = append(s.pending, v)
	s.signal()
}

// signal wakes forward. Callers hold mu.
func (s *Subscription[T]) signal() {
	if s.wake == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// forward delivers the mailbox on out until it is empty and the subscription
// has terminated, or until the subscriber closes.
func (s *Subscription[T]) forward() {
	defer close(s.out)
	var zero T
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.wake:
			case <-s.abandon:
				return
			}
			continue
		}
		v := s.pending[0]
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.abandon:
			return
		}
	}
}

// Unbound switches s to an unbounded mailbox when it is a Subscription.
// Operators call it on their inputs before consuming them.
func Unbound[T any](s stream.Stream[T]) {
	if u, ok := s.(interface{ Unbound() }); ok {
		u.Unbound()
	}
}

func (s *Subscription[T]) overflow() error {
	return lcerrors.NewPolicyViolationError("SubscriberPolicy",
		fmt.Sprintf("subscriber queue full (buffer_size %d), overflow strategy is 'error'", s.policy.BufferSize), nil)
}

// Observe drains the subscription, calling handler for every item until the
// subscription terminates or ctx is cancelled. A handler error or panic
// terminates only this subscription with an *errors.SubscriberFaultError,
// which Observe returns. A normal completion or Close returns nil.
func (s *Subscription[T]) Observe(ctx context.Context, handler func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case v, ok := <-s.C():
			if !ok {
				if err := s.Err(); err != nil && !errors.Is(err, lcerrors.ErrSubscriptionClosed) {
					return err
				}
				return nil
			}
			if err := safeHandle(handler, v); err != nil {
				fault := lcerrors.NewSubscriberFaultError(s.id, err)
				s.Terminate(fault)
				return fault
			}
		}
	}
}

func safeHandle[T any](handler func(T) error, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()
	return handler(v)
}
