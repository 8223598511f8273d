package events

import (
	"sync"

	"github.com/gxo-labs/livecache/pkg/livecache/v1/events"
	lclog "github.com/gxo-labs/livecache/pkg/livecache/v1/log"
)

// ChannelEventBus implements the public events.Bus interface using a buffered
// Go channel. Emission never blocks: caches emit while holding their write
// lock, so a full buffer drops the event and logs a warning instead.
type ChannelEventBus struct {
	channel chan events.Event
	log     lclog.Logger

	// mu guards closed, so Emit after Close drops instead of panicking.
	mu     sync.RWMutex
	closed bool
}

// NewChannelEventBus creates a new ChannelEventBus with the specified buffer
// size. A non-positive bufferSize selects the default of 100. Panics if log
// is nil.
func NewChannelEventBus(bufferSize int, log lclog.Logger) *ChannelEventBus {
	const defaultBufferSize = 100
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}

	bus := &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
	bus.log.Debugf("ChannelEventBus initialized with buffer size %d", bufferSize)
	return bus
}

// Emit sends an event onto the buffered channel without blocking.
func (c *ChannelEventBus) Emit(event events.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.channel <- event:
		c.log.Debugf("Emitted event type '%s' for cache '%s'", event.Type, event.CacheName)
	default:
		c.log.Warnf("Event channel buffer full, dropping event type '%s' for cache '%s'", event.Type, event.CacheName)
	}
}

// GetChannel returns the underlying event channel for in-process consumers
// such as MetricsEventListener. It is not part of the events.Bus interface.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close closes the underlying channel, signalling consumers that no more
// events will arrive. Later Emit calls are ignored.
func (c *ChannelEventBus) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.log.Debugf("Closing ChannelEventBus channel.")
	close(c.channel)
}

var _ events.Bus = (*ChannelEventBus)(nil)
